// Copyright 2018-2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package ds

import "strconv"

// Only Linux exposes sysinfo; elsewhere the advertisement carries just
// the session count.
func updateSysInfo(txt map[string]string) {
	txt["sessions"] = strconv.Itoa(sessionCount())
}
