// Copyright 2018-2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package server runs the ptysd accept loop: one shell session per
// connection, at most one session at a time.
//
// For each accepted connection the server allocates a fresh pty pair,
// prepares the slave line discipline, spawns a login shell on the
// slave, relays bytes between the peer and the master until one side
// closes, and reaps the shell. Session-scoped failures end that session
// and the loop continues; only an accept failure is fatal, and it
// closes the listener on the way out.
//
// Admission is an explicit gate rather than structural blocking: the
// loop takes a slot before accepting and the session returns it after
// the shell is reaped, so a new session can never overlap the previous
// one at the default width of one.
package server

import (
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/ptysd/ptysd/pts"
	"github.com/ptysd/ptysd/relay"
	"github.com/ptysd/ptysd/session"
)

var v = func(string, ...interface{}) {}

// SetVerbose sets the debug print function for this package and the
// session machinery under it.
func SetVerbose(f func(string, ...interface{})) {
	v = f
	pts.SetVerbose(f)
	session.SetVerbose(f)
	relay.SetVerbose(f)
}

// An Allocator produces the pty pair for one session. It exists as a
// seam so failure handling can be tested without exhausting real ptys.
type Allocator func() (*pts.Pair, error)

// Server accepts connections and runs shell sessions over them.
type Server struct {
	allocate Allocator
	shell    string
	term     string
	gate     chan struct{}
	notify   func(delta int)

	mu      sync.Mutex
	ln      net.Listener
	closing bool

	sessions sync.WaitGroup
}

// An Option configures a Server.
type Option func(*Server)

// WithAllocator replaces the pty allocator.
func WithAllocator(a Allocator) Option {
	return func(s *Server) { s.allocate = a }
}

// WithShell pins the shell instead of auto-detecting one.
func WithShell(shell string) Option {
	return func(s *Server) { s.shell = shell }
}

// WithTerm sets the TERM value exported to spawned shells.
func WithTerm(term string) Option {
	return func(s *Server) { s.term = term }
}

// WithMaxSessions widens the admission gate. The default of one keeps
// the daemon's original single-session-at-a-time behavior.
func WithMaxSessions(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.gate = make(chan struct{}, n)
		}
	}
}

// WithNotify installs a hook called with +1 when a session starts and
// -1 when it ends, for service advertisement.
func WithNotify(f func(delta int)) Option {
	return func(s *Server) { s.notify = f }
}

// New returns a Server. By default it allocates real ptys, detects the
// shell per session, and admits one session at a time.
func New(opts ...Option) *Server {
	s := &Server{
		allocate: pts.Allocate,
		gate:     make(chan struct{}, 1),
		notify:   func(int) {},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Serve accepts and runs sessions on ln until an accept failure or
// Shutdown. The listener is closed before Serve returns. A Shutdown
// return is nil; an accept failure is returned to the caller, with all
// in-flight sessions drained either way.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	for {
		// Take a session slot first: no new connection is
		// accepted while a prior session is still being reaped.
		s.gate <- struct{}{}
		conn, err := ln.Accept()
		if err != nil {
			<-s.gate
			ln.Close()
			s.sessions.Wait()
			if s.isClosing() {
				v("server: shut down")
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.sessions.Add(1)
		go func() {
			defer func() {
				<-s.gate
				s.sessions.Done()
			}()
			s.handle(conn)
		}()
	}
}

// Shutdown stops accepting and waits for the in-flight session.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closing = true
	ln := s.ln
	s.mu.Unlock()
	if ln != nil {
		ln.Close()
	}
	s.sessions.Wait()
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// handle runs one complete session: allocate, prepare, spawn, relay,
// reap. Every failure here is terminal for the session only; the
// connection is closed and the server keeps accepting.
func (s *Server) handle(conn net.Conn) {
	s.notify(1)
	defer s.notify(-1)

	pair, err := s.allocate()
	if err != nil {
		log.Printf("ptysd: session failed: %v", err)
		conn.Close()
		return
	}
	if err := pair.PrepareSlave(); err != nil {
		log.Printf("ptysd: session failed: %v", err)
		pair.Close()
		conn.Close()
		return
	}

	var opts []session.Option
	if len(s.shell) != 0 {
		opts = append(opts, session.WithShell(s.shell))
	}
	if len(s.term) != 0 {
		opts = append(opts, session.WithTerm(s.term))
	}
	sess := session.New(pair, opts...)
	log.Printf("ptysd: session %s: %v connected, pty %s", sess.ID, conn.RemoteAddr(), pair.Path)

	if err := sess.Spawn(); err != nil {
		log.Printf("ptysd: session %s: %v", sess.ID, err)
		pair.Close()
		conn.Close()
		return
	}

	res := relay.New(conn, pair.Master).Run()
	if err := res.Err(); err != nil {
		log.Printf("ptysd: session %s: relay: %v", sess.ID, err)
	}

	status, err := sess.Wait()
	if err != nil {
		log.Printf("ptysd: session %s: wait: %v", sess.ID, err)
	} else {
		log.Printf("ptysd: session %s: shell pid %d exited with status %d", sess.ID, sess.Pid(), status)
	}

	// The relay closed both endpoints; these are no-ops unless the
	// session failed between spawn and relay.
	conn.Close()
	pair.Close()
}
