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

// Package weightedrandom implements loadbalance.LoadBalance by picking a
// node with probability proportional to its cluster.Node.Weight, the
// weighted counterpart to loadbalance/random's uniform pick.
package weightedrandom

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/lwbtt0915/joyrpc/api/transport"
	"github.com/lwbtt0915/joyrpc/cluster"
	"github.com/lwbtt0915/joyrpc/loadbalance"
)

// LoadBalance is a weighted-random loadbalance.LoadBalance.
type LoadBalance struct {
	mu   sync.Mutex
	rand *rand.Rand
}

// New returns a LoadBalance seeded from the current time.
func New() *LoadBalance {
	return &LoadBalance{rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

var _ loadbalance.LoadBalance = (*LoadBalance)(nil)

// Pick returns a node out of eligible with probability proportional to
// its Weight. A node with Weight <= 0 is treated as Weight 1 rather than
// excluded outright, since a misconfigured weight shouldn't silently
// remove a node from rotation.
func (lb *LoadBalance) Pick(_ context.Context, eligible []*cluster.Node, _ *transport.Request) (*cluster.Node, error) {
	if len(eligible) == 0 {
		return nil, loadbalance.ErrNoEligibleNode
	}

	total := 0
	for _, n := range eligible {
		total += weightOf(n)
	}

	lb.mu.Lock()
	target := lb.rand.Intn(total)
	lb.mu.Unlock()

	for _, n := range eligible {
		target -= weightOf(n)
		if target < 0 {
			return n, nil
		}
	}
	return eligible[len(eligible)-1], nil
}

func weightOf(n *cluster.Node) int {
	if w := n.Weight(); w > 0 {
		return w
	}
	return 1
}
