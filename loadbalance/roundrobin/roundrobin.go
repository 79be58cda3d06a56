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

// Package roundrobin implements loadbalance.LoadBalance by rotating
// through the eligible set in a stable order, one node per Pick call.
package roundrobin

import (
	"context"
	"sort"

	"go.uber.org/atomic"

	"github.com/lwbtt0915/joyrpc/api/transport"
	"github.com/lwbtt0915/joyrpc/cluster"
	"github.com/lwbtt0915/joyrpc/loadbalance"
)

// LoadBalance is a round-robin loadbalance.LoadBalance. cluster.Cluster
// hands Pick a freshly-built eligible slice on every call whose order
// isn't guaranteed stable across calls, so LoadBalance sorts by node
// identity before indexing with its cursor — the same net effect as the
// teacher's peerRing tracking Add/Remove against a list it owns, without
// needing its own membership bookkeeping.
type LoadBalance struct {
	cursor atomic.Uint64
}

// New returns a LoadBalance starting at an arbitrary position in the
// rotation.
func New() *LoadBalance {
	return &LoadBalance{}
}

var _ loadbalance.LoadBalance = (*LoadBalance)(nil)

// Pick returns the next node in rotation order.
func (lb *LoadBalance) Pick(_ context.Context, eligible []*cluster.Node, _ *transport.Request) (*cluster.Node, error) {
	if len(eligible) == 0 {
		return nil, loadbalance.ErrNoEligibleNode
	}

	ordered := make([]*cluster.Node, len(eligible))
	copy(ordered, eligible)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].URL().Identifier() < ordered[j].URL().Identifier()
	})

	idx := lb.cursor.Inc() - 1
	return ordered[idx%uint64(len(ordered))], nil
}
