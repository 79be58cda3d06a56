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

// Package heartbeat implements the keepalive trigger that detects a dead
// Channel faster than a stalled application call would: a ticking probe in
// TIMING mode, or one fired only after a configurable idle gap in IDLE mode.
package heartbeat

import (
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lwbtt0915/joyrpc/api/transport"
)

// Mode selects when the Engine sends a heartbeat Frame.
type Mode int

const (
	// ModeTiming sends a heartbeat on a fixed interval regardless of other
	// traffic on the Channel.
	ModeTiming Mode = iota
	// ModeIdle sends a heartbeat only after the Channel has been silent
	// (no frame written) for the configured interval, avoiding redundant
	// probes on a Channel that's already busy.
	ModeIdle
)

// heartbeatIDBase is the first ID in the range reserved for heartbeat
// Frames; a Channel never allocates a call ID at or above this value, so a
// heartbeat response can never collide with a pending call's ID.
const heartbeatIDBase = ^uint64(0) - 1024

// Target is the subset of Channel the Engine needs: sending a heartbeat
// Frame, being told about inbound ones, and tearing the Channel down
// once it's been declared dead.
type Target interface {
	SendHeartbeat(id uint64, payload []byte) error
	SetHeartbeatHandler(fn func(transport.Frame))
	// CloseDead tears the Target down after the Engine has declared it
	// dead, distinct from an operator-initiated Close so pending calls
	// surface a different error family than an explicit shutdown.
	CloseDead() error
}

// Options configures an Engine.
type Options struct {
	Mode Mode
	// Interval is the ping period in ModeTiming, or the idle gap that
	// triggers a ping in ModeIdle.
	Interval time.Duration
	// Timeout is how long the Engine waits for a pong before counting a
	// miss.
	Timeout time.Duration
	// MaxConsecutiveMisses is how many un-ponged heartbeats in a row mark
	// the Channel dead and trigger Close.
	MaxConsecutiveMisses int
	Logger               *zap.Logger
}

func (o *Options) setDefaults() {
	if o.Interval <= 0 {
		o.Interval = 15 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.MaxConsecutiveMisses <= 0 {
		o.MaxConsecutiveMisses = 3
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Engine drives heartbeats against one Channel. Grounded on
// HeartbeatTrigger's trigger()/strategy() split: Engine.trigger fires on a
// schedule determined by Mode, and reaching MaxConsecutiveMisses
// consecutive misses declares the channel dead.
type Engine struct {
	target Target
	opts   Options

	nextID  atomic.Uint64
	misses  atomic.Int32
	stopCh  chan struct{}
	stopped sync.Once

	mu           sync.Mutex
	lastActivity time.Time
	pending      map[uint64]struct{}
}

// New returns an Engine that is not yet started; call Start to begin
// ticking.
func New(target Target, opts Options) *Engine {
	opts.setDefaults()
	e := &Engine{
		target:       target,
		opts:         opts,
		stopCh:       make(chan struct{}),
		lastActivity: time.Now(),
		pending:      make(map[uint64]struct{}),
	}
	e.nextID.Store(heartbeatIDBase)
	target.SetHeartbeatHandler(e.onFrame)
	return e
}

// NoteActivity records non-heartbeat traffic on the Channel, used by
// ModeIdle to suppress redundant pings on an otherwise-busy connection.
func (e *Engine) NoteActivity() {
	e.mu.Lock()
	e.lastActivity = time.Now()
	e.mu.Unlock()
}

// Start begins the Engine's ticking goroutine.
func (e *Engine) Start() {
	go e.run()
}

func (e *Engine) run() {
	ticker := time.NewTicker(e.tickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.maybeTrigger()
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) tickInterval() time.Duration {
	if e.opts.Mode == ModeIdle {
		// Poll at a finer grain than Interval so an idle gap is detected
		// close to the configured threshold rather than up to a full
		// Interval late.
		if d := e.opts.Interval / 4; d > 0 {
			return d
		}
	}
	return e.opts.Interval
}

func (e *Engine) maybeTrigger() {
	if e.opts.Mode == ModeIdle {
		e.mu.Lock()
		idleFor := time.Since(e.lastActivity)
		e.mu.Unlock()
		if idleFor < e.opts.Interval {
			return
		}
	}
	e.trigger()
}

func (e *Engine) trigger() {
	id := e.nextID.Inc()
	if id <= heartbeatIDBase {
		// The counter ran past math.MaxUint64; start over inside the range.
		id = heartbeatIDBase + 1
		e.nextID.Store(id)
	}

	e.mu.Lock()
	e.pending[id] = struct{}{}
	e.mu.Unlock()

	if err := e.target.SendHeartbeat(id, nil); err != nil {
		e.recordMiss()
		return
	}

	timer := time.NewTimer(e.opts.Timeout)
	go func() {
		defer timer.Stop()
		<-timer.C
		e.mu.Lock()
		_, stillPending := e.pending[id]
		if stillPending {
			delete(e.pending, id)
		}
		e.mu.Unlock()
		if stillPending {
			e.recordMiss()
		}
	}()
}

func (e *Engine) onFrame(f transport.Frame) {
	e.mu.Lock()
	_, ok := e.pending[f.ID]
	if ok {
		delete(e.pending, f.ID)
	}
	e.mu.Unlock()

	if ok {
		e.misses.Store(0)
	}
}

func (e *Engine) recordMiss() {
	misses := e.misses.Inc()
	e.opts.Logger.Debug("heartbeat miss", zap.Int32("consecutiveMisses", misses))
	if int(misses) >= e.opts.MaxConsecutiveMisses {
		e.opts.Logger.Warn("channel declared dead after consecutive heartbeat misses",
			zap.Int32("misses", misses))
		_ = e.target.CloseDead()
	}
}

// Stop halts the Engine's ticking goroutine. It does not close the
// underlying Target.
func (e *Engine) Stop() {
	e.stopped.Do(func() { close(e.stopCh) })
}
