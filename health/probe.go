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

// Package health aggregates a process's own view of its well-being: a set
// of Doctor extensions, each diagnosing one concern (a Cluster's eligible-
// node ratio, a set of Channels' dead ratio), polled on a ticker and
// rolled up by worst-observed State the way a single external health
// check endpoint expects to read one number.
package health

import (
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// State is a Doctor's diagnosis, ordered worst-last so a Probe can take
// the maximum across every Doctor with a plain comparison.
type State int32

const (
	// Healthy means the diagnosed concern is operating normally.
	Healthy State = iota
	// Sick means the concern is degraded but still serving some traffic.
	Sick
	// Dead means the concern is not serving any traffic.
	Dead
)

// String renders s for logging.
func (s State) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Sick:
		return "sick"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Doctor diagnoses one concern's health.
type Doctor interface {
	Name() string
	Diagnose() State
}

// Options configures a Probe.
type Options struct {
	// Interval is the polling period between successive diagnoses.
	// Defaults to 5 seconds, the same cadence the probe this package is
	// grounded on polls at.
	Interval time.Duration
	Logger   *zap.Logger
}

func (o *Options) setDefaults() {
	if o.Interval <= 0 {
		o.Interval = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Probe polls a fixed set of Doctors on a ticker and holds the worst
// State any of them most recently reported. Diagnose runs every Doctor
// in registration order and stops early the moment one reports Dead,
// since nothing can report worse.
type Probe struct {
	doctors []Doctor
	opts    Options

	state   atomic.Int32
	stopCh  chan struct{}
	stopped sync.Once
	done    chan struct{}
}

// New returns a Probe over doctors, initially reporting Healthy until its
// first poll runs. Start begins polling.
func New(opts Options, doctors ...Doctor) *Probe {
	opts.setDefaults()
	p := &Probe{
		doctors: doctors,
		opts:    opts,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	p.state.Store(int32(Healthy))
	return p
}

// Start begins the Probe's polling goroutine.
func (p *Probe) Start() {
	go p.run()
}

// Stop ends polling. Stop is idempotent.
func (p *Probe) Stop() {
	p.stopped.Do(func() { close(p.stopCh) })
	<-p.done
}

// State returns the most recently computed aggregate State.
func (p *Probe) State() State {
	return State(p.state.Load())
}

// Diagnose runs every Doctor once and returns the worst State observed,
// without waiting for the next tick — useful for an on-demand health
// check endpoint layered over the same Doctor set a polling Probe uses.
func (p *Probe) Diagnose() State {
	worst := Healthy
	for _, d := range p.doctors {
		s := d.Diagnose()
		if s > worst {
			worst = s
		}
		if s == Dead {
			break
		}
	}
	return worst
}

func (p *Probe) run() {
	defer close(p.done)
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s := p.Diagnose()
			if s != p.State() {
				p.opts.Logger.Info("health state changed", zap.Stringer("state", s))
			}
			p.state.Store(int32(s))
		case <-p.stopCh:
			return
		}
	}
}
