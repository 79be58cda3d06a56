// Copyright (c) 2024 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package callfuture implements the per-Channel table of in-flight calls
// awaiting a response Frame, keyed by request ID and backed by a
// pkg/timingwheel for deadline expiry.
package callfuture

import (
	"sort"
	"sync"
	"time"

	"github.com/lwbtt0915/joyrpc/api/transport"
	"github.com/lwbtt0915/joyrpc/joyrpcerrors"
	"github.com/lwbtt0915/joyrpc/pkg/timingwheel"
)

// Result is delivered exactly once to a registered call's channel: either
// a response Frame, or the reason the call was abandoned instead —
// distinguishing a deadline (joyrpcerrors.TimeoutError) from the Registry
// itself having been closed out from under it (the err Close was given).
type Result struct {
	Frame transport.Frame
	Err   error
}

// entry is one pending call: the channel a waiting Refer blocks on, and
// the timer that will fail it on deadline.
type entry struct {
	done  chan Result
	timer timingwheel.Timer
}

// Registry tracks pending calls for a single Channel. It is safe for
// concurrent use: Register/Await is called from the caller's goroutine,
// Resolve from the Channel's read loop.
type Registry struct {
	mu      sync.Mutex
	pending map[uint64]*entry
	wheel   *timingwheel.Wheel
	closed  bool
}

// New returns a Registry that expires pending calls using wheel. Callers
// typically share one Wheel across every Channel in a ChannelManager.
func New(wheel *timingwheel.Wheel) *Registry {
	return &Registry{
		pending: make(map[uint64]*entry),
		wheel:   wheel,
	}
}

// Register records a pending call under id and arms its deadline. It
// returns a channel that receives exactly one Result: a Frame on
// success, or the reason the call was abandoned (expiry, or whatever
// error Close was given) otherwise. Cancel delivers nothing at all,
// since its caller has already stopped waiting.
func (r *Registry) Register(id uint64, deadline time.Duration) (<-chan Result, error) {
	done := make(chan Result, 1)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, joyrpcerrors.ShutdownError("call future registry is closed")
	}
	e := &entry{done: done}
	r.pending[id] = e
	r.mu.Unlock()

	e.timer = r.wheel.Add(deadline, func() { r.expire(id) })
	return done, nil
}

// Resolve delivers f to the pending call with f's ID, if any is still
// outstanding. It is a no-op if the ID is unknown (already resolved,
// expired, or never registered — e.g. a duplicate or very late response).
func (r *Registry) Resolve(f transport.Frame) {
	r.mu.Lock()
	e, ok := r.pending[f.ID]
	if ok {
		delete(r.pending, f.ID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	e.timer.Stop()
	e.done <- Result{Frame: f}
}

// Cancel removes id's pending call without delivering a Frame, used when
// the caller's own context is done before a response arrives.
func (r *Registry) Cancel(id uint64) {
	r.mu.Lock()
	e, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if ok {
		e.timer.Stop()
	}
}

func (r *Registry) expire(id uint64) {
	r.mu.Lock()
	e, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	e.done <- Result{Err: joyrpcerrors.TimeoutError("call %d timed out waiting for response", id)}
}

// Pending returns the number of calls currently outstanding.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Close drains every pending call, delivering reason to each in
// ascending ID order so callers waiting the longest are unblocked first,
// and rejects any further Register. reason is surfaced to callers
// verbatim, so a Channel can distinguish an explicit Close from a
// heartbeat-detected death by passing a different error for each.
func (r *Registry) Close(reason error) {
	r.mu.Lock()
	r.closed = true
	ids := make([]uint64, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		r.mu.Lock()
		e, ok := r.pending[id]
		if ok {
			delete(r.pending, id)
		}
		r.mu.Unlock()
		if ok {
			e.timer.Stop()
			e.done <- Result{Err: reason}
		}
	}
}
