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

// Package filter implements an ordered chain of call interceptors run
// around each call attempt (a Refer builds it per attempt, after its
// Route has picked a Node; an Exporter runs it around its Handler):
// caching, metrics, and tracing wrap the terminal call, composed as a
// priority-ordered chain rather than a fixed middleware stack.
package filter

import (
	"context"
	"sort"

	"github.com/lwbtt0915/joyrpc/api/transport"
)

// Invoker is the next step in a Chain — either the next Filter's Invoke,
// or the terminal NetworkFilter's call onto a Channel.
type Invoker func(ctx context.Context, req *transport.Request) (*transport.Response, error)

// Filter is one link in a Chain. Lower Priority values run closer to the
// caller (outermost); ties are broken by Name so a Chain's effective
// order is deterministic regardless of registration order.
type Filter interface {
	Name() string
	Priority() int
	Invoke(ctx context.Context, req *transport.Request, next Invoker) (*transport.Response, error)
}

// Chain is an ordered, immutable stack of Filters.
type Chain struct {
	filters []Filter
}

// NewChain sorts filters by Priority (ascending), breaking ties by Name,
// and returns the resulting Chain.
func NewChain(filters ...Filter) *Chain {
	ordered := make([]Filter, len(filters))
	copy(ordered, filters)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Priority() != ordered[j].Priority() {
			return ordered[i].Priority() < ordered[j].Priority()
		}
		return ordered[i].Name() < ordered[j].Name()
	})
	return &Chain{filters: ordered}
}

// Filters returns the Chain's Filters in their effective call order.
func (c *Chain) Filters() []Filter {
	out := make([]Filter, len(c.filters))
	copy(out, c.filters)
	return out
}

// Build composes the Chain around terminal, so invoking the returned
// Invoker runs every Filter in order and finally terminal.
func (c *Chain) Build(terminal Invoker) Invoker {
	next := terminal
	for i := len(c.filters) - 1; i >= 0; i-- {
		f := c.filters[i]
		prevNext := next
		next = func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			return f.Invoke(ctx, req, prevNext)
		}
	}
	return next
}
