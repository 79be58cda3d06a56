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

// Package timingwheel implements a bucketed timer wheel for expiring large
// numbers of per-call deadlines cheaply. The Call Future Registry uses one
// per Channel instead of a time.Timer per in-flight call, so a channel with
// thousands of outstanding calls doesn't cost thousands of runtime timers.
package timingwheel

import (
	"sync"
	"time"
)

// Timer is a handle returned by Wheel.Add. Stop cancels the scheduled fire,
// returning false if it already fired or was already stopped.
type Timer interface {
	Stop() bool
}

// Wheel is a single-resolution timing wheel: time is divided into ticks of
// a fixed width, and each tick owns a bucket of callbacks due to fire in
// that tick. Advancing the wheel by one tick fires and clears exactly one
// bucket, bounding the cost of scheduling and expiring a deadline to O(1)
// at the cost of resolving deadlines only to the wheel's tick width.
type Wheel struct {
	tick    time.Duration
	buckets []*bucket
	mu      sync.Mutex
	current int
	ticker  *time.Ticker
	stopCh  chan struct{}
	closed  bool
}

type bucket struct {
	mu      sync.Mutex
	entries map[*timerEntry]struct{}
}

type timerEntry struct {
	mu      sync.Mutex
	bucket  *bucket
	fired   bool
	stopped bool
	fn      func()
}

// Stop cancels the timer. It returns false if the timer already fired or
// was already stopped.
func (e *timerEntry) Stop() bool {
	e.mu.Lock()
	if e.fired || e.stopped {
		e.mu.Unlock()
		return false
	}
	e.stopped = true
	b := e.bucket
	e.mu.Unlock()

	b.mu.Lock()
	delete(b.entries, e)
	b.mu.Unlock()
	return true
}

// New returns a Wheel with the given tick resolution and number of slots.
// slots*tick is the longest deadline the wheel can schedule directly;
// Add clamps a longer deadline to the last slot. Callers in this runtime
// only ever schedule call-timeout and heartbeat deadlines on the order of
// seconds, so a wheel sized in seconds with a handful of minutes of slots
// comfortably covers them.
func New(tick time.Duration, slots int) *Wheel {
	if slots < 1 {
		slots = 1
	}
	w := &Wheel{
		tick:    tick,
		buckets: make([]*bucket, slots),
		stopCh:  make(chan struct{}),
	}
	for i := range w.buckets {
		w.buckets[i] = &bucket{entries: make(map[*timerEntry]struct{})}
	}
	w.ticker = time.NewTicker(tick)
	go w.run()
	return w
}

// Add schedules fn to run, on its own goroutine, after d has elapsed (to
// the wheel's tick resolution). fn must not block the caller that stops or
// adds other timers; it runs independently of Add/Stop callers.
func (w *Wheel) Add(d time.Duration, fn func()) Timer {
	offset := int(d / w.tick)
	if offset < 1 {
		offset = 1
	}
	if offset >= len(w.buckets) {
		offset = len(w.buckets) - 1
	}

	w.mu.Lock()
	idx := (w.current + offset) % len(w.buckets)
	w.mu.Unlock()

	b := w.buckets[idx]
	e := &timerEntry{bucket: b, fn: fn}

	b.mu.Lock()
	b.entries[e] = struct{}{}
	b.mu.Unlock()

	return e
}

func (w *Wheel) run() {
	for {
		select {
		case <-w.ticker.C:
			w.advance()
		case <-w.stopCh:
			w.ticker.Stop()
			return
		}
	}
}

func (w *Wheel) advance() {
	w.mu.Lock()
	b := w.buckets[w.current]
	w.current = (w.current + 1) % len(w.buckets)
	w.mu.Unlock()

	b.mu.Lock()
	due := b.entries
	b.entries = make(map[*timerEntry]struct{})
	b.mu.Unlock()

	for e := range due {
		e.mu.Lock()
		if e.stopped {
			e.mu.Unlock()
			continue
		}
		e.fired = true
		fn := e.fn
		e.mu.Unlock()
		go fn()
	}
}

// Close stops the wheel's background goroutine. Pending entries neither
// fire nor get an explicit cancellation callback; callers that care should
// Stop() everything they own before calling Close.
func (w *Wheel) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()
	close(w.stopCh)
}
