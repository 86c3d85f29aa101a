// Copyright 2018-2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pts allocates pseudo-terminal pairs and prepares the slave
// side for interactive use.
//
// Allocate returns a Pair holding the master and slave descriptors and
// the slave device path. The pair is created fresh for each session and
// is never reused. PrepareSlave ensures the slave has a usable terminal
// line discipline: on Linux and the BSDs the kernel attaches one
// implicitly when the slave is opened, so preparation reduces to
// verifying that the canonical-input, echo, and signal-generation bits
// are present and setting them if they are not. Preparation is
// idempotent: a slave that already has the bits is left alone.
package pts
