// Copyright 2018-2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ds

import (
	"fmt"
	"runtime"
	"strconv"

	"golang.org/x/sys/unix"
)

// updateSysInfo refreshes the advertisement's memory, load, and
// session records.
func updateSysInfo(txt map[string]string) {
	var sysinfo unix.Sysinfo_t
	if err := unix.Sysinfo(&sysinfo); err != nil {
		v("sysinfo call failed: %v", err)
		return
	}

	txt["mem_avail"] = strconv.FormatUint(uint64(sysinfo.Freeram), 10)
	txt["mem_total"] = strconv.FormatUint(uint64(sysinfo.Totalram), 10)
	txt["mem_unit"] = strconv.FormatUint(uint64(sysinfo.Unit), 10)
	txt["load1"] = strconv.FormatUint(uint64(sysinfo.Loads[0]), 10)
	txt["load5"] = strconv.FormatUint(uint64(sysinfo.Loads[1]), 10)
	txt["load15"] = strconv.FormatUint(uint64(sysinfo.Loads[2]), 10)
	txt["load_ratio"] = fmt.Sprintf("%.6f", float64(sysinfo.Loads[1])/float64(runtime.NumCPU()))
	txt["sessions"] = strconv.Itoa(sessionCount())

	v("updateSysInfo %v", txt)
}
