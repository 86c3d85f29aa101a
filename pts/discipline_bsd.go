// Copyright 2018-2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build darwin || freebsd || netbsd || openbsd

package pts

import (
	"os"

	"golang.org/x/sys/unix"
)

const (
	wantIflag = unix.ICRNL
	wantOflag = unix.OPOST | unix.ONLCR
	wantLflag = unix.ISIG | unix.ICANON | unix.ECHO | unix.ECHOE | unix.ECHOK
)

func disciplinePresent(slave *os.File) (bool, error) {
	t, err := unix.IoctlGetTermios(int(slave.Fd()), unix.TIOCGETA)
	if err != nil {
		return false, err
	}
	present := t.Iflag&wantIflag == wantIflag &&
		t.Oflag&wantOflag == wantOflag &&
		t.Lflag&wantLflag == wantLflag
	return present, nil
}

func disciplineAttach(slave *os.File) error {
	fd := int(slave.Fd())
	t, err := unix.IoctlGetTermios(fd, unix.TIOCGETA)
	if err != nil {
		return err
	}
	t.Iflag |= wantIflag
	t.Oflag |= wantOflag
	t.Lflag |= wantLflag
	return unix.IoctlSetTermios(fd, unix.TIOCSETA, t)
}
