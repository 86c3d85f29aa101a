// Copyright 2018-2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package session

import (
	"bufio"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ptysd/ptysd/pts"
)

func TestDetectShell(t *testing.T) {
	shell, err := DetectShell()
	if err != nil {
		t.Skipf("DetectShell(): %v != nil; no shell on this system", err)
	}
	if !isExecutable(shell) {
		t.Fatalf("DetectShell() = %q; not executable", shell)
	}
}

func TestSpawnBadShell(t *testing.T) {
	p, err := pts.Allocate()
	if err != nil {
		t.Skipf("pts.Allocate(): %v != nil; no pty on this system", err)
	}
	defer p.Close()
	s := New(p, WithShell("/nonexistent/shell"))
	err = s.Spawn()
	if err == nil {
		t.Fatalf(`Spawn() with "/nonexistent/shell": nil; expected an error`)
	}
	if !errors.Is(err, ErrSpawn) {
		t.Fatalf("Spawn() error %v; expected it to wrap ErrSpawn", err)
	}
	if p.Slave == nil {
		t.Fatalf("failed Spawn() closed the slave; the pair must be left for the caller")
	}
}

func TestWaitBeforeSpawn(t *testing.T) {
	p, err := pts.Allocate()
	if err != nil {
		t.Skipf("pts.Allocate(): %v != nil; no pty on this system", err)
	}
	defer p.Close()
	s := New(p)
	if _, err := s.Wait(); !errors.Is(err, ErrSpawn) {
		t.Fatalf("Wait() before Spawn: %v; expected it to wrap ErrSpawn", err)
	}
}

// TestSpawnShellRuns attaches a real shell to a pty, runs one command
// through the master, and reaps it.
func TestSpawnShellRuns(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skipf("no /bin/sh: %v", err)
	}
	p, err := pts.Allocate()
	if err != nil {
		t.Skipf("pts.Allocate(): %v != nil; no pty on this system", err)
	}
	if err := p.PrepareSlave(); err != nil {
		t.Fatalf("p.PrepareSlave(): %v != nil", err)
	}

	s := New(p, WithShell("/bin/sh"))
	if err := s.Spawn(); err != nil {
		p.Close()
		t.Fatalf("s.Spawn(): %v != nil", err)
	}
	if s.Pid() == 0 {
		t.Fatalf("s.Pid(): 0 after successful Spawn")
	}
	if p.Slave != nil {
		t.Fatalf("parent still holds the slave after Spawn; the child owns it now")
	}

	if _, err := p.Master.WriteString("echo spawned-ok\nexit 0\n"); err != nil {
		t.Fatalf("master.WriteString(): %v != nil", err)
	}

	found := make(chan bool, 1)
	go func() {
		r := bufio.NewReader(p.Master)
		for {
			line, err := r.ReadString('\n')
			if strings.Contains(line, "spawned-ok") {
				found <- true
				return
			}
			if err != nil {
				found <- false
				return
			}
		}
	}()
	select {
	case ok := <-found:
		if !ok {
			t.Fatalf("shell output: %q never seen before EOF", "spawned-ok")
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("shell output: %q never seen in 10s", "spawned-ok")
	}

	status, err := s.Wait()
	if err != nil {
		t.Fatalf("s.Wait(): %v != nil", err)
	}
	if status != 0 {
		t.Fatalf("shell exit status %d != 0", status)
	}
	p.CloseMaster()
}
