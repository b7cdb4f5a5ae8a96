// Copyright 2026 the tbot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package shell

import (
	"io"
	"sync/atomic"
	"time"
)

// pump moves bytes from a blocking reader into a channel so Recv can
// support an optional deadline. This is internal plumbing only; the
// protocol itself stays a single blocking request/response loop.
type pump struct {
	chunks  chan []byte
	pending []byte
	timeout time.Duration
	done    atomic.Bool
}

func newPump(r io.Reader) *pump {
	p := &pump{chunks: make(chan []byte, 8)}
	go func() {
		for {
			b := make([]byte, 32*1024)
			n, err := r.Read(b)
			if n > 0 {
				p.chunks <- b[:n]
			}
			if err != nil {
				p.done.Store(true)
				close(p.chunks)
				return
			}
		}
	}()
	return p
}

// SetRecvTimeout bounds each Recv. Zero means block forever. When a Recv
// returns ErrPromptTimeout the session buffer is poisoned and the channel
// must be closed.
func (p *pump) SetRecvTimeout(d time.Duration) {
	p.timeout = d
}

// Recv blocks until at least one byte is available or the reader is done.
// It coalesces everything already buffered, up to max, so multi-byte
// sequences are rarely split across calls.
func (p *pump) Recv(max int) ([]byte, error) {
	if len(p.pending) == 0 {
		var expired <-chan time.Time
		if p.timeout > 0 {
			t := time.NewTimer(p.timeout)
			defer t.Stop()
			expired = t.C
		}
		select {
		case b, ok := <-p.chunks:
			if !ok {
				return nil, nil
			}
			p.pending = b
		case <-expired:
			return nil, ErrPromptTimeout
		}
	drain:
		for len(p.pending) < max {
			select {
			case b, ok := <-p.chunks:
				if !ok {
					break drain
				}
				p.pending = append(p.pending, b...)
			default:
				break drain
			}
		}
	}
	n := max
	if n > len(p.pending) {
		n = len(p.pending)
	}
	out := p.pending[:n]
	p.pending = p.pending[n:]
	return out, nil
}

// ExitStatusReady reports whether the remote side has closed its stream.
func (p *pump) ExitStatusReady() bool {
	return p.done.Load()
}
