// Copyright 2018-2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package client connects an interactive terminal to a ptysd daemon.
//
// The daemon's pty does all the terminal processing, so the client puts
// its own terminal into raw mode for the duration of the session and
// shuttles bytes verbatim in both directions. Any terminal control
// sequences the shell emits pass straight through.
package client

import (
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/u-root/u-root/pkg/termios"

	"github.com/ptysd/ptysd/ds"
)

var v = func(string, ...interface{}) {}

// SetVerbose sets the debug print function.
func SetVerbose(f func(string, ...interface{})) {
	v = f
	ds.SetVerbose(f)
}

// Cmd is one client session against a daemon.
type Cmd struct {
	// Addr is a network address or a dnssd: URI.
	Addr string

	Stdin  io.Reader
	Stdout io.Writer

	network string
	conn    net.Conn
	closers []func() error
}

// Command returns a Cmd for the given network ("tcp" or "unix") and
// address. An address with a dnssd: scheme is resolved at Dial time.
func Command(network, addr string) *Cmd {
	return &Cmd{
		Addr:    addr,
		network: network,
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
	}
}

// Dial resolves and connects. A dnssd: address browses for an
// advertised instance first.
func (c *Cmd) Dial() error {
	addr := c.Addr
	network := c.network
	if strings.HasPrefix(addr, "dnssd:") {
		q, err := ds.Parse(addr)
		if err != nil {
			return err
		}
		host, port, err := ds.Lookup(q)
		if err != nil {
			return err
		}
		addr = net.JoinHostPort(host, port)
		network = "tcp"
		v("client: resolved %s to %s", c.Addr, addr)
	}
	conn, err := net.Dial(network, addr)
	if err != nil {
		return fmt.Errorf("dial %s %s: %w", network, addr, err)
	}
	c.conn = conn
	c.closers = append(c.closers, conn.Close)
	v("client: connected to %v", conn.RemoteAddr())
	return nil
}

// SetupInteractive puts the local terminal into raw mode so every
// keystroke reaches the remote pty untouched. The previous state is
// restored by Close.
func (c *Cmd) SetupInteractive() error {
	t, err := termios.New()
	if err != nil {
		return err
	}
	restorer, err := t.Raw()
	if err != nil {
		return err
	}
	c.closers = append(c.closers, func() error {
		return t.Set(restorer)
	})
	return nil
}

// Run relays stdin to the daemon and daemon output to stdout until the
// remote side closes. It must be called after Dial.
func (c *Cmd) Run() error {
	if c.conn == nil {
		return fmt.Errorf("run before dial")
	}
	go func() {
		io.Copy(c.conn, c.Stdin) //nolint
		// Local input is done; half-close so the shell sees EOF
		// while remaining output drains.
		if cw, ok := c.conn.(interface{ CloseWrite() error }); ok {
			cw.CloseWrite() //nolint
		}
	}()
	_, err := io.Copy(c.Stdout, c.conn)
	return err
}

// Close ends the session, restoring whatever Dial and SetupInteractive
// changed.
func (c *Cmd) Close() error {
	var err error
	for _, f := range c.closers {
		if e := f(); e != nil {
			err = multierror.Append(err, e)
		}
	}
	return err
}
