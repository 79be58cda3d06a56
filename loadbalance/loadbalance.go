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

// Package loadbalance picks one cluster.Node out of a Cluster's eligible
// set for a single outbound call. Every strategy in this package is
// stateful per instance but stateless with respect to the candidate
// list: a Route owns one LoadBalance per Cluster and calls Pick with
// whatever cluster.Cluster.Eligible returns for that attempt.
package loadbalance

import (
	"context"
	"errors"

	"github.com/lwbtt0915/joyrpc/api/transport"
	"github.com/lwbtt0915/joyrpc/cluster"
)

// ErrNoEligibleNode is returned by a LoadBalance when it is handed an
// empty candidate list.
var ErrNoEligibleNode = errors.New("loadbalance: no eligible node")

// LoadBalance picks one node out of eligible to carry req. eligible is
// never mutated by a LoadBalance implementation; it reflects whatever
// cluster.Cluster.Eligible returned for this attempt.
type LoadBalance interface {
	Pick(ctx context.Context, eligible []*cluster.Node, req *transport.Request) (*cluster.Node, error)
}
