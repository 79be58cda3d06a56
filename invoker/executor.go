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

package invoker

import (
	"context"
	"time"

	"github.com/uber-go/tally"
	"golang.org/x/sync/semaphore"

	"github.com/lwbtt0915/joyrpc/api/transport"
	"github.com/lwbtt0915/joyrpc/joyrpcerrors"
)

// RejectionPolicy decides what an Executor does with a task that arrives
// while it is already running MaxConcurrency others: wait for a slot,
// drop it outright, or run it inline on the caller's own goroutine.
type RejectionPolicy int

const (
	// RejectionReject fails a task immediately with OverloadError when the
	// Executor is saturated.
	RejectionReject RejectionPolicy = iota

	// RejectionCallerRuns runs a saturated task on the calling goroutine
	// instead of a pooled one, shedding concurrency control but never
	// dropping work — the same trade-off java.util.concurrent's
	// CallerRunsPolicy makes.
	RejectionCallerRuns

	// RejectionWaitBounded blocks up to WaitTimeout for a slot to free up
	// before failing with OverloadError.
	RejectionWaitBounded
)

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	// MaxConcurrency bounds how many tasks may run at once. Zero or
	// negative means unbounded.
	MaxConcurrency int64

	// Rejection decides what happens when MaxConcurrency is reached.
	Rejection RejectionPolicy

	// WaitTimeout bounds RejectionWaitBounded's wait. Zero means wait
	// until the caller's own context is done.
	WaitTimeout time.Duration

	// Scope records admitted/rejected/callerRuns counts. Defaults to
	// tally.NoopScope.
	Scope tally.Scope
}

// Executor bounds how many Exporter dispatches run concurrently, using a
// golang.org/x/sync/semaphore rather than a rate.Limiter since the limit
// here is on concurrency, not rate.
type Executor struct {
	opts ExecutorOptions
	sem  *semaphore.Weighted
}

// NewExecutor returns an Executor configured by opts.
func NewExecutor(opts ExecutorOptions) *Executor {
	e := &Executor{opts: opts}
	if opts.MaxConcurrency > 0 {
		e.sem = semaphore.NewWeighted(opts.MaxConcurrency)
	}
	return e
}

// Submit runs task, applying the Executor's RejectionPolicy if it is
// already at MaxConcurrency. An unbounded Executor (MaxConcurrency <= 0)
// always runs task directly.
func (e *Executor) Submit(ctx context.Context, task func() (*transport.Response, error)) (*transport.Response, error) {
	if e.sem == nil {
		return task()
	}

	switch e.opts.Rejection {
	case RejectionCallerRuns:
		if !e.sem.TryAcquire(1) {
			e.scope().Counter("callerRuns").Inc(1)
			return task()
		}
		defer e.sem.Release(1)
		e.scope().Counter("admitted").Inc(1)
		return task()

	case RejectionWaitBounded:
		waitCtx := ctx
		if e.opts.WaitTimeout > 0 {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(ctx, e.opts.WaitTimeout)
			defer cancel()
		}
		if err := e.sem.Acquire(waitCtx, 1); err != nil {
			e.scope().Counter("rejected").Inc(1)
			return nil, joyrpcerrors.OverloadError("executor: no slot available within wait bound: %v", err)
		}
		defer e.sem.Release(1)
		e.scope().Counter("admitted").Inc(1)
		return task()

	default: // RejectionReject
		if !e.sem.TryAcquire(1) {
			e.scope().Counter("rejected").Inc(1)
			return nil, joyrpcerrors.OverloadError("executor: saturated at %d concurrent calls", e.opts.MaxConcurrency)
		}
		defer e.sem.Release(1)
		e.scope().Counter("admitted").Inc(1)
		return task()
	}
}

func (e *Executor) scope() tally.Scope {
	if e.opts.Scope == nil {
		return tally.NoopScope
	}
	return e.opts.Scope
}
