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

// Package random implements loadbalance.LoadBalance by picking a
// uniformly random node out of the eligible set on every call.
package random

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/lwbtt0915/joyrpc/api/transport"
	"github.com/lwbtt0915/joyrpc/cluster"
	"github.com/lwbtt0915/joyrpc/loadbalance"
)

// LoadBalance is a random loadbalance.LoadBalance.
type LoadBalance struct {
	mu   sync.Mutex
	rand *rand.Rand
}

// New returns a LoadBalance seeded from the current time.
func New() *LoadBalance {
	return &LoadBalance{rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

var _ loadbalance.LoadBalance = (*LoadBalance)(nil)

// Pick returns a uniformly random node out of eligible.
func (lb *LoadBalance) Pick(_ context.Context, eligible []*cluster.Node, _ *transport.Request) (*cluster.Node, error) {
	if len(eligible) == 0 {
		return nil, loadbalance.ErrNoEligibleNode
	}

	lb.mu.Lock()
	idx := lb.rand.Intn(len(eligible))
	lb.mu.Unlock()

	return eligible[idx], nil
}
