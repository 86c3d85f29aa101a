// Copyright 2018-2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relay

import (
	"bytes"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"testing"
	"time"
)

// run starts r.Run in a goroutine and returns a channel that delivers
// its Result, so tests can bound how long teardown may take.
func run(r *Relay) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		ch <- r.Run()
	}()
	return ch
}

func waitResult(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatalf("relay did not terminate: 5s elapsed != both workers done")
		return Result{}
	}
}

func TestRelayPeerToTerm(t *testing.T) {
	peer, client := net.Pipe()
	term, shell := net.Pipe()
	ch := run(New(peer, term))

	msg := []byte("echo hi\n")
	go func() {
		client.Write(msg)
		client.Close()
	}()

	got := make([]byte, len(msg))
	if _, err := io.ReadFull(shell, got); err != nil {
		t.Fatalf("io.ReadFull(shell): %v != nil", err)
	}
	if !bytes.Equal(got, msg) {
		t.Fatalf("shell received %q != sent %q", got, msg)
	}
	shell.Close()

	res := waitResult(t, ch)
	if err := res.Err(); err != nil {
		t.Fatalf("res.Err(): %v != nil", err)
	}
}

func TestRelayTermToPeer(t *testing.T) {
	peer, client := net.Pipe()
	term, shell := net.Pipe()
	ch := run(New(peer, term))

	msg := []byte("hi\nprompt$ ")
	go func() {
		shell.Write(msg)
		shell.Close()
	}()

	got, err := io.ReadAll(client)
	if err != nil {
		t.Fatalf("io.ReadAll(client): %v != nil", err)
	}
	if !bytes.Equal(got, msg) {
		t.Fatalf("client received %q != shell wrote %q", got, msg)
	}
	client.Close()

	res := waitResult(t, ch)
	if err := res.Err(); err != nil {
		t.Fatalf("res.Err(): %v != nil", err)
	}
}

func TestRelayOrderAcrossChunks(t *testing.T) {
	peer, client := net.Pipe()
	term, shell := net.Pipe()
	ch := run(New(peer, term))

	// Much larger than one chunk so the worker must loop.
	msg := make([]byte, 17*ChunkSize+39)
	for i := range msg {
		msg[i] = byte(i % 251)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var got []byte
	var rerr error
	go func() {
		defer wg.Done()
		got, rerr = io.ReadAll(shell)
	}()

	if _, err := client.Write(msg); err != nil {
		t.Fatalf("client.Write(): %v != nil", err)
	}
	client.Close()
	wg.Wait()
	if rerr != nil {
		t.Fatalf("io.ReadAll(shell): %v != nil", rerr)
	}
	if !bytes.Equal(got, msg) {
		t.Fatalf("shell received %d bytes, sent %d; relay must preserve order and length", len(got), len(msg))
	}
	shell.Close()
	waitResult(t, ch)
}

func TestPeerCloseCancelsBothWorkers(t *testing.T) {
	peer, client := net.Pipe()
	term, shell := net.Pipe()
	ch := run(New(peer, term))

	// Close from the peer side with the term side idle: the term
	// reader is blocked and must be cancelled, not left behind.
	client.Close()
	res := waitResult(t, ch)
	if err := res.Err(); err != nil {
		t.Fatalf("res.Err(): %v != nil after peer close", err)
	}
	shell.Close()
}

func TestTermEOFHangsUpPeer(t *testing.T) {
	peer, client := net.Pipe()
	term, shell := net.Pipe()
	ch := run(New(peer, term))

	// Shell exits: its side of the terminal goes away.
	shell.Close()

	// The client must observe end of stream.
	if _, err := client.Read(make([]byte, 1)); err != io.EOF && !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("client.Read(): %v != EOF after shell exit", err)
	}
	client.Close()
	res := waitResult(t, ch)
	if err := res.Err(); err != nil {
		t.Fatalf("res.Err(): %v != nil", err)
	}
}

// brokenTerm blocks reads until closed and fails every write, standing
// in for a terminal whose descriptor was yanked mid-write.
type brokenTerm struct {
	werr   error
	closed chan struct{}
	once   sync.Once
}

func (b *brokenTerm) Read(p []byte) (int, error) {
	<-b.closed
	return 0, os.ErrClosed
}

func (b *brokenTerm) Write(p []byte) (int, error) { return 0, b.werr }

func (b *brokenTerm) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

func TestWriteErrorAbortsWorker(t *testing.T) {
	werr := errors.New("scribble failed")
	term := &brokenTerm{werr: werr, closed: make(chan struct{})}
	peer, client := net.Pipe()
	ch := run(New(peer, term))

	go client.Write([]byte("doomed bytes"))

	res := waitResult(t, ch)
	if !errors.Is(res.PeerToTerm, werr) {
		t.Fatalf("res.PeerToTerm: %v; expected it to wrap %v", res.PeerToTerm, werr)
	}
	if res.TermToPeer != nil {
		t.Fatalf("res.TermToPeer: %v != nil; cancelled worker must not report an error", res.TermToPeer)
	}
	if err := res.Err(); err == nil {
		t.Fatalf("res.Err(): nil; a write failure must surface")
	}
	client.Close()
}
