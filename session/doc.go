// Copyright 2018-2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package session spawns a login shell attached to the slave side of a
// pty pair and reaps it.
//
// The child is started in a new process session with the slave as its
// controlling terminal and as its standard input, output, and error.
// Those three are the only descriptors the child inherits, so the
// listening socket, the peer socket, and the pty master never leak into
// the shell. After a successful start the parent gives up its copy of
// the slave; the master stays with the parent for the relay.
package session
