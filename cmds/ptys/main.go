// Copyright 2018-2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command ptys connects a terminal to a ptysd daemon:
//
//	ptys host
//	ptys host:port
//	ptys dnssd:
//	ptys -net unix /run/ptysd.sock
//
// With a terminal on stdin it switches to raw mode for the session, so
// the remote pty is the one doing echo and line editing.
package main

import (
	"flag"
	"log"
	"net"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/ptysd/ptysd/client"
)

var (
	port    = flag.String("sp", "8080", "ptysd port")
	network = flag.String("net", "tcp", "network to use (tcp, unix)")
	debug   = flag.Bool("d", false, "enable debug prints")
)

func main() {
	flag.Parse()
	if *debug {
		client.SetVerbose(log.Printf)
	}

	addr := flag.Arg(0)
	switch {
	case len(addr) == 0:
		addr = net.JoinHostPort("localhost", *port)
	case *network == "tcp" && !strings.HasPrefix(addr, "dnssd:") && !strings.Contains(addr, ":"):
		addr = net.JoinHostPort(addr, *port)
	}

	c := client.Command(*network, addr)
	if err := c.Dial(); err != nil {
		log.Fatalf("ptys: %v", err)
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		if err := c.SetupInteractive(); err != nil {
			log.Fatalf("ptys: %v", err)
		}
	}

	err := c.Run()
	// Restore the terminal before reporting anything.
	if cerr := c.Close(); cerr != nil {
		log.Printf("ptys: close: %v", cerr)
	}
	if err != nil {
		log.Fatalf("ptys: %v", err)
	}
}
