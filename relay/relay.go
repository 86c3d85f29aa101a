// Copyright 2018-2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package relay copies bytes in both directions between a network peer
// and a pty master until one side reaches end of stream.
//
// A Relay runs exactly two workers, one per direction. Each worker
// reads fixed-size chunks and writes them out whole, preserving byte
// order within its direction; the two directions are independent
// streams with no ordering between them. A worker that finishes, for
// any reason, cancels its opposite so a worker blocked on a read of a
// now-irrelevant source does not linger. There is no timeout: a silent
// peer blocks its worker until one side actually closes.
//
// The relay passes terminal control bytes through verbatim. Whether
// job-control characters such as ^Z act end-to-end depends entirely on
// the line disciplines at either end; the relay neither interprets nor
// synthesizes signals.
package relay

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"syscall"

	"github.com/hashicorp/go-multierror"
)

// ChunkSize is the per-read buffer size. Small keeps keystroke latency
// low and memory bounded; any fixed size preserves the contract.
const ChunkSize = 512

var v = func(string, ...interface{}) {}

// SetVerbose sets the debug print function.
func SetVerbose(f func(string, ...interface{})) {
	v = f
}

// Relay is the per-session relay state. All fields are set before the
// workers start and never written afterward; a Relay is used for one
// Run and discarded with its session.
type Relay struct {
	peer io.ReadWriteCloser
	term io.ReadWriteCloser

	done chan struct{}
	stop sync.Once
}

// Result reports how each direction ended. A nil error means the
// direction finished on a clean end of stream or was cancelled by its
// opposite; a non-nil error is a genuine read or write failure.
type Result struct {
	PeerToTerm error
	TermToPeer error
}

// Err folds both directions into one error, nil when both are clean.
func (r Result) Err() error {
	var result error
	if r.PeerToTerm != nil {
		result = multierror.Append(result, fmt.Errorf("peer->term: %w", r.PeerToTerm))
	}
	if r.TermToPeer != nil {
		result = multierror.Append(result, fmt.Errorf("term->peer: %w", r.TermToPeer))
	}
	return result
}

// New returns a Relay over the peer connection and the pty master.
func New(peer, term io.ReadWriteCloser) *Relay {
	return &Relay{
		peer: peer,
		term: term,
		done: make(chan struct{}),
	}
}

// Run starts both workers and blocks until they have terminated. Both
// endpoints are closed by the time Run returns.
func (r *Relay) Run() Result {
	var (
		res Result
		wg  sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		res.PeerToTerm = r.relayOne(r.peer, r.term, r.term.Close)
	}()
	go func() {
		defer wg.Done()
		res.TermToPeer = r.relayOne(r.term, r.peer, func() error { return closeWrite(r.peer) })
	}()
	wg.Wait()
	return res
}

// relayOne copies src to dst one chunk at a time. On clean end of
// stream it hangs up dst so the far end sees the close; on any exit it
// cancels the relay so the opposite worker stops at its next blocking
// point.
func (r *Relay) relayOne(src io.Reader, dst io.Writer, closeDst func() error) error {
	defer r.cancel()
	buf := make([]byte, ChunkSize)
	for {
		if r.stopped() {
			return nil
		}
		n, err := src.Read(buf)
		if n > 0 {
			if werr := writeChunk(dst, buf[:n]); werr != nil {
				if r.stopped() || closedErr(werr) {
					return nil
				}
				return fmt.Errorf("write: %w", werr)
			}
		}
		if err == nil {
			continue
		}
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, syscall.EIO):
			// End of stream. A pty master returns EIO, not EOF,
			// once the last slave descriptor is gone.
			if cerr := closeDst(); cerr != nil && !closedErr(cerr) {
				v("relay: close destination: %v", cerr)
			}
			return nil
		case r.stopped(), closedErr(err):
			// Cancelled by the opposite worker; not a failure.
			return nil
		default:
			return fmt.Errorf("read: %w", err)
		}
	}
}

// writeChunk flushes the whole chunk, retrying short writes, so bytes
// are never dropped or reordered within a direction.
func writeChunk(dst io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := dst.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// cancel stops the relay once: it marks it done and closes both
// endpoints so a worker blocked in a read wakes up.
func (r *Relay) cancel() {
	r.stop.Do(func() {
		close(r.done)
		if err := r.peer.Close(); err != nil && !closedErr(err) {
			v("relay: close peer: %v", err)
		}
		if err := r.term.Close(); err != nil && !closedErr(err) {
			v("relay: close term: %v", err)
		}
	})
}

func (r *Relay) stopped() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// closeWrite half-closes w when it supports it (TCP and Unix sockets
// do), so the peer can drain in-flight output; otherwise it closes.
func closeWrite(w io.Closer) error {
	if cw, ok := w.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return w.Close()
}

func closedErr(err error) bool {
	return errors.Is(err, os.ErrClosed) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.EBADF)
}
