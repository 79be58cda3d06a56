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

// Package route picks which cluster.Node carries one call and, on a
// retriable failure, which node carries the next attempt: it narrows a
// Cluster's eligible set through a chain of AddressFilters, honors a
// sticky-routing header ahead of the LoadBalance, and drives the retry
// loop itself against a RetryPolicy.
package route

import (
	"context"
	"hash/fnv"

	"github.com/lwbtt0915/joyrpc/api/transport"
	"github.com/lwbtt0915/joyrpc/cluster"
	"github.com/lwbtt0915/joyrpc/joyrpcerrors"
	"github.com/lwbtt0915/joyrpc/loadbalance"
)

// AddressFilter narrows nodes before a LoadBalance sees them — e.g.
// excluding a node by address tag, or restricting to a single
// availability zone. A filter that would empty the set should instead
// leave it unchanged, since an empty eligible set always fails the call
// with ErrNoEligibleNode regardless of which filter caused it.
type AddressFilter func(nodes []*cluster.Node) []*cluster.Node

// RegionFilter keeps only nodes whose Region matches region, falling
// back to the full set when that would otherwise empty it, so a region
// outage degrades to cross-region traffic instead of NoAvailableNode.
func RegionFilter(region string) AddressFilter {
	return func(nodes []*cluster.Node) []*cluster.Node {
		out := make([]*cluster.Node, 0, len(nodes))
		for _, n := range nodes {
			if n.Region() == region {
				out = append(out, n)
			}
		}
		if len(out) == 0 {
			return nodes
		}
		return out
	}
}

// DatacenterFilter is RegionFilter's datacenter-grained counterpart.
func DatacenterFilter(datacenter string) AddressFilter {
	return func(nodes []*cluster.Node) []*cluster.Node {
		out := make([]*cluster.Node, 0, len(nodes))
		for _, n := range nodes {
			if n.Datacenter() == datacenter {
				out = append(out, n)
			}
		}
		if len(out) == 0 {
			return nodes
		}
		return out
	}
}

// Invoke is the call a Route drives its retry loop against, supplied by
// whatever orchestrates the Refer (invoker.Refer in the full runtime).
type Invoke func(ctx context.Context, node *cluster.Node) (*transport.Response, error)

// StickyHeader is the Attachments key whose value, when present and
// non-empty, pins every call for that value to the same node out of the
// eligible set, implemented with a plain hash rather than a consistent
// hashing ring.
const StickyHeader = "sticky-key"

// Route composes a Cluster's address filters, sticky routing, LoadBalance,
// and RetryPolicy into one call path.
type Route struct {
	Filters []AddressFilter
	Balance loadbalance.LoadBalance
	Retry   RetryPolicy
}

// Pick narrows eligible through Filters, honors a sticky key on req if
// present, and otherwise defers to Balance.
func (r *Route) Pick(ctx context.Context, eligible []*cluster.Node, req *transport.Request) (*cluster.Node, error) {
	for _, f := range r.Filters {
		eligible = f(eligible)
	}
	if len(eligible) == 0 {
		return nil, loadbalance.ErrNoEligibleNode
	}

	if key, ok := req.Attachments.Get(StickyHeader); ok && key != "" {
		return stickyPick(eligible, key), nil
	}

	return r.Balance.Pick(ctx, eligible, req)
}

// excludeNodes returns the members of nodes whose identifier is not in
// excluded. If doing so would empty the result, it returns nodes
// unchanged instead — a single remaining (already-failed) node is still
// a better retry target than ErrNoEligibleNode.
func excludeNodes(nodes []*cluster.Node, excluded map[string]struct{}) []*cluster.Node {
	if len(excluded) == 0 {
		return nodes
	}
	out := make([]*cluster.Node, 0, len(nodes))
	for _, n := range nodes {
		if _, skip := excluded[n.URL().Identifier()]; !skip {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nodes
	}
	return out
}

// stickyPick deterministically maps key onto one member of eligible.
// eligible's order isn't stable across calls, so the index is computed
// from a stable sort by node identity first.
func stickyPick(eligible []*cluster.Node, key string) *cluster.Node {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	idx := int(h.Sum32()) % len(eligible)
	if idx < 0 {
		idx += len(eligible)
	}

	ordered := sortedByIdentifier(eligible)
	return ordered[idx]
}

func sortedByIdentifier(nodes []*cluster.Node) []*cluster.Node {
	out := make([]*cluster.Node, len(nodes))
	copy(out, nodes)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].URL().Identifier() < out[j-1].URL().Identifier(); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Execute runs invoke against whatever eligible returns, retrying on a
// retriable error per Retry until it succeeds, exhausts its attempt
// budget, or the call's own context is done. Callers pass a
// cluster.Cluster's Eligible method as eligible so every attempt sees
// the node set as of that attempt, not a snapshot taken before the
// first one.
func (r *Route) Execute(ctx context.Context, eligible func() []*cluster.Node, req *transport.Request, invoke Invoke) (*transport.Response, error) {
	var lastErr error
	attempts := r.Retry.attempts()
	var excluded map[string]struct{}

	for attempt := uint(0); attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, joyrpcerrors.TimeoutError("route: call cancelled: %v", err)
		}

		node, err := r.Pick(ctx, excludeNodes(eligible(), excluded), req)
		if err != nil {
			return nil, err
		}

		resp, err := invoke(ctx, node)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !joyrpcerrors.IsRetriable(err) {
			return nil, err
		}
		if attempt+1 >= attempts {
			break
		}
		if excluded == nil {
			excluded = make(map[string]struct{}, 1)
		}
		excluded[node.URL().Identifier()] = struct{}{}
		if !r.Retry.wait(ctx, attempt) {
			return nil, lastErr
		}
	}
	return nil, lastErr
}
