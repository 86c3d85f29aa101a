// Copyright 2018-2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command ptysd listens on a port and gives every connection a login
// shell on a fresh pseudo-terminal, one session at a time. There is no
// authentication: run it only on links you already trust.
package main

import (
	"flag"
	"log"

	"github.com/u-root/u-root/pkg/ulog"

	"github.com/ptysd/ptysd/ds"
	"github.com/ptysd/ptysd/server"
)

var (
	port     = flag.String("sp", "8080", "ptysd port")
	network  = flag.String("net", "tcp", "network to use (tcp, unix, vsock)")
	debug    = flag.Bool("d", false, "enable debug prints")
	klog     = flag.Bool("klog", false, "log ptysd messages in kernel log, not stdout")
	shell    = flag.String("shell", "", "shell to spawn (default: auto-detect)")
	termName = flag.String("term", "xterm", "TERM value exported to the shell")

	// Some networks are not well behaved, and for them we implement
	// registration: dial out once after listen so the other side
	// knows we are up.
	registerAddr = flag.String("register", "", "address and port to register with after listen on the ptysd port")
	registerTO   = flag.Duration("registerTO", registerTimeout, "time.Duration for Dial address for registering")

	dsEnabled   = flag.Bool("dnssd", false, "advertise service using DNSSD")
	dsInstance  = flag.String("dsInstance", "", "DNSSD instance name")
	dsDomain    = flag.String("dsDomain", "local", "DNSSD domain")
	dsService   = flag.String("dsService", ds.DefaultService, "DNSSD service type")
	dsInterface = flag.String("dsInterface", "", "DNSSD interface")
	dsTxtStr    = flag.String("dsTxt", "", "DNSSD key-value pair string parameterizing advertisement")

	// v allows debug printing.
	// Do not call it directly, call verbose instead.
	v = func(string, ...interface{}) {}
)

func verbose(f string, a ...interface{}) {
	v("ptysd:"+f, a...)
}

func commonsetup() error {
	if *debug {
		v = log.Printf
		server.SetVerbose(log.Printf)
		ds.SetVerbose(log.Printf)
		if *klog {
			ulog.KernelLog.Reinit()
			v = ulog.KernelLog.Printf
		}
	}
	return nil
}

func main() {
	flag.Parse()
	if err := commonsetup(); err != nil {
		log.Fatal(err)
	}
	// Listener setup failure is the only exit with status 1; once we
	// are serving, even a fatal accept error cleans up and exits 0.
	if err := serve(); err != nil {
		log.Fatal(err)
	}
}
