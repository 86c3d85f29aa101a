// Copyright 2018-2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pts

import (
	"errors"
	"fmt"
	"os"

	"github.com/creack/pty"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"
)

var (
	// ErrAllocate indicates the OS could not produce a pty pair.
	ErrAllocate = errors.New("pty allocation failed")
	// ErrLineDiscipline indicates the slave could not be given a
	// usable terminal line discipline.
	ErrLineDiscipline = errors.New("slave line discipline setup failed")

	// v allows debug printing.
	v = func(string, ...interface{}) {}
)

// SetVerbose sets the debug print function.
func SetVerbose(f func(string, ...interface{})) {
	v = f
}

// Pair is one master/slave pseudo-terminal pair. The master belongs to
// the parent for the lifetime of the relay; the slave belongs to the
// spawned child once the session starts and is closed in the parent at
// that point.
type Pair struct {
	Master *os.File
	Slave  *os.File
	// Path is the slave device path, e.g. /dev/pts/4.
	Path string
}

// Allocate opens a fresh pty pair. On failure nothing is left open.
func Allocate() (*Pair, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllocate, err)
	}
	m, err := pollableCopy(master)
	master.Close()
	if err != nil {
		slave.Close()
		return nil, fmt.Errorf("%w: %v", ErrAllocate, err)
	}
	p := &Pair{Master: m, Slave: slave, Path: slave.Name()}
	v("pts: allocated %s", p.Path)
	return p, nil
}

// pollableCopy re-registers f with the runtime poller. pty.Open leaves
// the master in blocking mode, so a read of it could not be
// interrupted by Close or a deadline, and the relay needs exactly that
// to cancel a worker parked in a master read when the peer hangs up.
// Dup the descriptor, flip it to nonblocking, and wrap the copy fresh
// so os.NewFile sees the nonblocking state and registers it.
func pollableCopy(f *os.File) (*os.File, error) {
	fd, err := unix.Dup(int(f.Fd()))
	if err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return os.NewFile(uintptr(fd), f.Name()), nil
}

// PrepareSlave ensures the slave side has an interactive line
// discipline attached. It is idempotent: if the required processing is
// already present it does nothing, so calling it twice on the same
// slave is safe.
func (p *Pair) PrepareSlave() error {
	ok, err := disciplinePresent(p.Slave)
	if err != nil {
		return fmt.Errorf("%w: query %s: %v", ErrLineDiscipline, p.Path, err)
	}
	if ok {
		v("pts: line discipline already present on %s", p.Path)
		return nil
	}
	if err := disciplineAttach(p.Slave); err != nil {
		return fmt.Errorf("%w: attach on %s: %v", ErrLineDiscipline, p.Path, err)
	}
	v("pts: line discipline attached on %s", p.Path)
	return nil
}

// CloseSlave closes the parent's copy of the slave. Called once the
// child owns it.
func (p *Pair) CloseSlave() error {
	if p.Slave == nil {
		return nil
	}
	err := p.Slave.Close()
	p.Slave = nil
	return err
}

// CloseMaster closes the master. Closing it hangs up the slave side,
// so any shell still attached will see EOF and SIGHUP.
func (p *Pair) CloseMaster() error {
	if p.Master == nil {
		return nil
	}
	err := p.Master.Close()
	p.Master = nil
	return err
}

// Close releases whatever the pair still owns.
func (p *Pair) Close() error {
	var result error
	if err := p.CloseSlave(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := p.CloseMaster(); err != nil {
		result = multierror.Append(result, err)
	}
	return result
}
