// Copyright 2018-2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"log"
	"math"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mdlayher/vsock"

	"github.com/ptysd/ptysd/ds"
	"github.com/ptysd/ptysd/server"
)

const (
	any             = math.MaxUint32
	registerTimeout = 5 * time.Second
)

func listen(network, port string) (net.Listener, error) {
	// Sadly, vsock is not in the standard Go net package.
	// It should be but ...
	var (
		ln  net.Listener
		err error
	)

	switch network {
	case "vsock":
		var p uint64
		p, err = strconv.ParseUint(port, 0, 16)
		if err != nil {
			return nil, err
		}
		ln, err = vsock.ListenContextID(any, uint32(p), nil)

	case "unix", "unixgram", "unixpacket":
		// net.JoinHostPort really ought to work for UDS, but it's very naive.
		// It does not take the network type as a parameter.
		ln, err = net.Listen(network, port)

	default:
		ln, err = net.Listen(network, net.JoinHostPort("", port))
	}
	return ln, err
}

func register(network, addr string, timeout time.Duration) error {
	if len(addr) == 0 {
		return nil
	}
	// If registerAddr is not empty, dial it over the network and send
	// the string "ok". This may fail because the host incorrectly
	// requested a registration but is not listening, OR is just using
	// it as a cheap delay between listen and accept for networks that
	// are not well behaved.
	c, err := net.DialTimeout(network, addr, timeout)
	if err != nil {
		return err
	}
	defer c.Close()
	if _, err := c.Write([]byte("ok")); err != nil {
		return fmt.Errorf("writing ok to register address: %w", err)
	}
	return nil
}

func serve() error {
	opts := []server.Option{
		server.WithShell(*shell),
		server.WithTerm(*termName),
	}
	if *dsEnabled {
		opts = append(opts, server.WithNotify(ds.Session))
	}
	s := server.New(opts...)

	ln, err := listen(*network, *port)
	if err != nil {
		return fmt.Errorf("listen %s %s: %w", *network, *port, err)
	}
	log.Printf("ptysd: listening on %v", ln.Addr())

	// register can return an error, but it should not block serving.
	if err := register(*network, *registerAddr, *registerTO); err != nil {
		verbose("register(%v, %v, %v): %v", *network, *registerAddr, *registerTO, err)
	}

	if *dsEnabled {
		dsTxt := ds.ParseKv(*dsTxtStr)
		verbose("advertising w/dnssd %q", dsTxt)
		p, err := strconv.Atoi(*port)
		if err != nil {
			return fmt.Errorf("could not parse port %s: %w", *port, err)
		}
		if err := ds.Register(*dsInstance, *dsDomain, *dsService, *dsInterface, p, dsTxt); err != nil {
			return fmt.Errorf("could not advertise with dns-sd: %w", err)
		}
		defer ds.Unregister()
	}

	// On SIGHUP, stop accepting and drain the in-flight session.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP)
	go func() {
		sig := <-sigs
		log.Printf("ptysd: received %v, shutting down", sig)
		s.Shutdown()
	}()

	if err := s.Serve(ln); err != nil {
		// Accept failure ends the server; the listener is already
		// closed and the exit status is 0.
		log.Printf("ptysd: %v", err)
	}
	verbose("daemon returns")
	return nil
}
