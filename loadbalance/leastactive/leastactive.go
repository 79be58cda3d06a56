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

// Package leastactive implements loadbalance.LoadBalance by scoring each
// node by its Channel's in-flight call count, the same scoring pendingheap
// uses for its peers, and breaking ties round-robin.
package leastactive

import (
	"context"
	"sort"

	"go.uber.org/atomic"

	"github.com/lwbtt0915/joyrpc/api/transport"
	"github.com/lwbtt0915/joyrpc/cluster"
	"github.com/lwbtt0915/joyrpc/loadbalance"
)

// LoadBalance is a least-pending-load loadbalance.LoadBalance.
type LoadBalance struct {
	cursor atomic.Uint64
}

// New returns a LoadBalance with an empty tie-break cursor.
func New() *LoadBalance {
	return &LoadBalance{}
}

var _ loadbalance.LoadBalance = (*LoadBalance)(nil)

type scoredNode struct {
	node    *cluster.Node
	pending int
}

// Pick returns the node with the fewest in-flight calls, breaking ties
// round-robin among the nodes tied for the minimum.
func (lb *LoadBalance) Pick(_ context.Context, eligible []*cluster.Node, _ *transport.Request) (*cluster.Node, error) {
	if len(eligible) == 0 {
		return nil, loadbalance.ErrNoEligibleNode
	}

	scores := make([]scoredNode, len(eligible))
	for i, n := range eligible {
		pending := 0
		if ch := n.Channel(); ch != nil {
			pending = ch.Pending()
		}
		scores[i] = scoredNode{node: n, pending: pending}
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].pending != scores[j].pending {
			return scores[i].pending < scores[j].pending
		}
		return scores[i].node.URL().Identifier() < scores[j].node.URL().Identifier()
	})

	min := scores[0].pending
	tied := scores[:1]
	for _, s := range scores[1:] {
		if s.pending != min {
			break
		}
		tied = append(tied, s)
	}

	idx := lb.cursor.Inc() - 1
	return tied[idx%uint64(len(tied))].node, nil
}
