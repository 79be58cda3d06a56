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

// Package shutdown implements the process-wide graceful termination
// pipeline: hooks register with an integer priority, lower priorities
// complete strictly before higher ones begin, and hooks at the same
// priority run concurrently as one group.
package shutdown

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultPriority is used by hooks registered through AddFunc without an
// explicit priority.
const DefaultPriority = int(^uint(0) >> 1) // max int, same convention as Shutdown.DEFAULT_PRIORITY

// Hook is a unit of graceful-shutdown work. Run should respect ctx's
// deadline; the Coordinator logs and moves on if it doesn't.
type Hook interface {
	Run(ctx context.Context) error
	Priority() int
}

type funcHook struct {
	fn       func(ctx context.Context) error
	priority int
}

func (f funcHook) Run(ctx context.Context) error { return f.fn(ctx) }
func (f funcHook) Priority() int                 { return f.priority }

// Coordinator is a process-scoped, priority-grouped shutdown pipeline. The
// zero value is not usable; construct with New.
type Coordinator struct {
	mu       sync.Mutex
	hooks    []Hook
	shutdown atomic.Bool
	logger   *zap.Logger
}

// New returns a Coordinator. logger may be nil, in which case shutdown
// activity is not logged.
func New(logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{logger: logger}
}

// Global is the process-wide shutdown coordinator. A binary's main
// function is expected to register it against os.Signal itself (the
// library keeps no hidden signal-handling state, per the Design Notes'
// "avoid hidden module-level state" guidance).
var Global = New(nil)

// AddHook registers hook for execution on shutdown.
func (c *Coordinator) AddHook(hook Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hook)
}

// AddFunc registers fn as a hook at the given priority.
func (c *Coordinator) AddFunc(priority int, fn func(ctx context.Context) error) {
	c.AddHook(funcHook{fn: fn, priority: priority})
}

// IsShuttingDown reports whether Shutdown has been called, so other
// components can refuse new work without needing their own flag.
func (c *Coordinator) IsShuttingDown() bool {
	return c.shutdown.Load()
}

// Shutdown runs every registered hook, grouped and ordered by ascending
// priority, enforcing an overall deadline. Groups run serially; hooks
// within a group run concurrently and a slow one cannot block a sibling in
// the same group, only the next group. Shutdown is idempotent: calling it
// again after the first call returns immediately.
func (c *Coordinator) Shutdown(ctx context.Context, deadline time.Duration) error {
	if !c.shutdown.CAS(false, true) {
		return nil
	}

	c.mu.Lock()
	hooks := make([]Hook, len(c.hooks))
	copy(hooks, c.hooks)
	c.mu.Unlock()

	if len(hooks) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	c.logger.Info("shutdown starting", zap.Int("hooks", len(hooks)))

	for _, group := range groupByPriority(hooks) {
		if err := c.runGroup(ctx, group); err != nil {
			c.logger.Warn("shutdown group finished with errors",
				zap.Int("priority", group[0].Priority()), zap.Error(err))
		}
		if ctx.Err() != nil {
			c.logger.Warn("shutdown deadline exceeded, proceeding best-effort",
				zap.Int("remainingGroups", remainingGroups(hooks, group)))
		}
	}

	c.logger.Info("shutdown complete")
	return nil
}

func (c *Coordinator) runGroup(ctx context.Context, group []Hook) error {
	eg, gctx := errgroup.WithContext(ctx)
	for _, h := range group {
		h := h
		eg.Go(func() error {
			return h.Run(gctx)
		})
	}
	return eg.Wait()
}

// groupByPriority sorts hooks ascending by priority and splits them into
// consecutive runs of equal priority, preserving registration order within
// a group.
func groupByPriority(hooks []Hook) [][]Hook {
	sorted := make([]Hook, len(hooks))
	copy(sorted, hooks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})

	var groups [][]Hook
	for _, h := range sorted {
		if len(groups) == 0 || groups[len(groups)-1][0].Priority() != h.Priority() {
			groups = append(groups, []Hook{h})
		} else {
			groups[len(groups)-1] = append(groups[len(groups)-1], h)
		}
	}
	return groups
}

func remainingGroups(all []Hook, current []Hook) int {
	groups := groupByPriority(all)
	for i, g := range groups {
		if len(g) == len(current) && g[0].Priority() == current[0].Priority() {
			return len(groups) - i - 1
		}
	}
	return 0
}
