// Copyright 2018-2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !windows && !plan9

package session

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/ptysd/ptysd/pts"
)

// ErrSpawn indicates the shell process could not be created.
var ErrSpawn = errors.New("session spawn failed")

var v = func(string, ...interface{}) {}

// SetVerbose sets the debug print function.
func SetVerbose(f func(string, ...interface{})) {
	v = f
}

// Session is one shell attached to one pty slave, serving one peer
// connection. A Session is created per connection and never reused.
type Session struct {
	// ID names the session in diagnostics.
	ID string

	pair  *pts.Pair
	shell string
	term  string
	cmd   *exec.Cmd
}

// An Option configures a Session.
type Option func(*Session)

// WithShell overrides shell auto-detection.
func WithShell(shell string) Option {
	return func(s *Session) {
		s.shell = shell
	}
}

// WithTerm sets the TERM value exported to the shell.
func WithTerm(term string) Option {
	return func(s *Session) {
		s.term = term
	}
}

// New returns a Session that will run on the given pair's slave.
func New(pair *pts.Pair, opts ...Option) *Session {
	s := &Session{
		ID:   uuid.New().String(),
		pair: pair,
		term: "xterm",
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Spawn starts the login shell. On return the child owns the slave and
// the parent's copy of it is closed. Any failure wraps ErrSpawn and
// leaves the pair for the caller to release.
func (s *Session) Spawn() error {
	shell := s.shell
	if len(shell) == 0 {
		sh, err := DetectShell()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSpawn, err)
		}
		shell = sh
	}

	c := exec.Command(shell, "-l")
	c.Stdin, c.Stdout, c.Stderr = s.pair.Slave, s.pair.Slave, s.pair.Slave
	c.Env = append(os.Environ(), "TERM="+s.term)
	// A new session, with the slave (the child's fd 0 after start)
	// as the controlling terminal. Any terminal inherited from the
	// daemon stays behind with the old session.
	c.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
		Ctty:    0,
	}
	// The shell should start in the invoking user's home directory,
	// but a missing home is not worth losing the session over.
	if home, err := os.UserHomeDir(); err != nil {
		v("session %s: no home directory: %v; shell starts in the daemon's directory", s.ID, err)
	} else {
		c.Dir = home
	}

	if err := c.Start(); err != nil {
		return fmt.Errorf("%w: start %q: %v", ErrSpawn, shell, err)
	}
	s.cmd = c
	v("session %s: spawned %s -l pid %d on %s", s.ID, shell, c.Process.Pid, s.pair.Path)

	// Ownership handoff: the child holds the slave now.
	if err := s.pair.CloseSlave(); err != nil {
		v("session %s: close parent slave copy: %v", s.ID, err)
	}
	return nil
}

// Pid returns the shell's process id, or 0 before Spawn.
func (s *Session) Pid() int {
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Wait reaps the shell and returns its exit status. A shell taken down
// by the pty hangup (client gone) reports a signal-derived status; that
// is an ordinary way for a session to end, not a wait failure.
func (s *Session) Wait() (int, error) {
	if s.cmd == nil {
		return 0, fmt.Errorf("%w: wait before spawn", ErrSpawn)
	}
	err := s.cmd.Wait()
	status := -1
	if s.cmd.ProcessState != nil {
		status = s.cmd.ProcessState.ExitCode()
	}
	if errval(err) != nil {
		var exit *exec.ExitError
		if errors.As(err, &exit) {
			// Non-zero exit is a status, not a wait failure.
			return status, nil
		}
		return status, err
	}
	return status, nil
}

// errval filters wait noise we do not consider an error: a process
// reaper elsewhere on the host can win the race for the exit status.
func errval(err error) error {
	if err == nil {
		return err
	}
	if strings.Contains(err.Error(), "no child process") {
		return nil
	}
	return err
}
