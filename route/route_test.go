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

package route

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwbtt0915/joyrpc/api/transport"
	"github.com/lwbtt0915/joyrpc/cluster"
	"github.com/lwbtt0915/joyrpc/joyrpcerrors"
	"github.com/lwbtt0915/joyrpc/joyurl"
	"github.com/lwbtt0915/joyrpc/loadbalance/roundrobin"
)

func nodeAt(host string) *cluster.Node {
	return cluster.NewNode(joyurl.NewBuilder("tcp", host, 80).Interface("svc").Build())
}

func nodeAtWithTags(host, region, datacenter string) *cluster.Node {
	return cluster.NewNode(joyurl.NewBuilder("tcp", host, 80).Interface("svc").
		Param("region", region).Param("datacenter", datacenter).Build())
}

func TestPickUsesStickyHeaderWhenPresent(t *testing.T) {
	n1 := nodeAt("10.0.0.1")
	n2 := nodeAt("10.0.0.2")
	r := &Route{Balance: roundrobin.New()}

	req := &transport.Request{
		Interface:   "svc",
		Method:      "m",
		Attachments: transport.NewHeaders().With(StickyHeader, "user-42"),
	}

	first, err := r.Pick(context.Background(), []*cluster.Node{n1, n2}, req)
	require.NoError(t, err)
	second, err := r.Pick(context.Background(), []*cluster.Node{n2, n1}, req)
	require.NoError(t, err)

	assert.Equal(t, first.URL().Identifier(), second.URL().Identifier())
}

func TestPickFallsBackToBalanceWithoutStickyHeader(t *testing.T) {
	n1 := nodeAt("10.0.0.1")
	r := &Route{Balance: roundrobin.New()}

	req := &transport.Request{Interface: "svc", Method: "m"}
	picked, err := r.Pick(context.Background(), []*cluster.Node{n1}, req)
	require.NoError(t, err)
	assert.Equal(t, n1.URL().Identifier(), picked.URL().Identifier())
}

func TestPickAppliesFiltersBeforeBalance(t *testing.T) {
	n1 := nodeAt("10.0.0.1")
	n2 := nodeAt("10.0.0.2")
	keepN2 := func(nodes []*cluster.Node) []*cluster.Node {
		out := nodes[:0]
		for _, n := range nodes {
			if n.URL().Host() == "10.0.0.2" {
				out = append(out, n)
			}
		}
		return out
	}
	r := &Route{Filters: []AddressFilter{keepN2}, Balance: roundrobin.New()}

	req := &transport.Request{Interface: "svc", Method: "m"}
	picked, err := r.Pick(context.Background(), []*cluster.Node{n1, n2}, req)
	require.NoError(t, err)
	assert.Equal(t, n2.URL().Identifier(), picked.URL().Identifier())
}

func TestPickErrorsWhenFiltersEmptyTheSet(t *testing.T) {
	n1 := nodeAt("10.0.0.1")
	dropAll := func([]*cluster.Node) []*cluster.Node { return nil }
	r := &Route{Filters: []AddressFilter{dropAll}, Balance: roundrobin.New()}

	req := &transport.Request{Interface: "svc", Method: "m"}
	_, err := r.Pick(context.Background(), []*cluster.Node{n1}, req)
	assert.Error(t, err)
}

func TestExecuteRetriesRetriableErrorsAndSucceeds(t *testing.T) {
	n1 := nodeAt("10.0.0.1")
	r := &Route{Balance: roundrobin.New(), Retry: RetryPolicy{MaxAttempts: 3}}

	var calls int32
	invoke := func(ctx context.Context, node *cluster.Node) (*transport.Response, error) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return nil, joyrpcerrors.TimeoutError("attempt %d timed out", n)
		}
		return &transport.Response{Result: "ok"}, nil
	}

	eligible := func() []*cluster.Node { return []*cluster.Node{n1} }
	resp, err := r.Execute(context.Background(), eligible, &transport.Request{Interface: "svc", Method: "m"}, invoke)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Result)
	assert.EqualValues(t, 3, calls)
}

func TestExecuteStopsOnNonRetriableError(t *testing.T) {
	n1 := nodeAt("10.0.0.1")
	r := &Route{Balance: roundrobin.New(), Retry: RetryPolicy{MaxAttempts: 5}}

	var calls int32
	invoke := func(ctx context.Context, node *cluster.Node) (*transport.Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, joyrpcerrors.ConfigError("bad argument")
	}

	eligible := func() []*cluster.Node { return []*cluster.Node{n1} }
	_, err := r.Execute(context.Background(), eligible, &transport.Request{Interface: "svc", Method: "m"}, invoke)
	assert.Error(t, err)
	assert.EqualValues(t, 1, calls)
}

// firstNodeBalance always picks eligible[0], so a test using it proves
// nothing about exclusion unless Execute itself narrows eligible between
// attempts — round-robin would alternate naturally and mask the bug.
type firstNodeBalance struct{}

func (firstNodeBalance) Pick(ctx context.Context, eligible []*cluster.Node, req *transport.Request) (*cluster.Node, error) {
	return eligible[0], nil
}

func TestExecuteExcludesTheNodeThatFailedOnRetry(t *testing.T) {
	bad := nodeAt("10.0.0.1")
	good := nodeAt("10.0.0.2")
	r := &Route{Balance: firstNodeBalance{}, Retry: RetryPolicy{MaxAttempts: 2}}

	var badCalls, goodCalls int32
	invoke := func(ctx context.Context, node *cluster.Node) (*transport.Response, error) {
		if node.URL().Identifier() == bad.URL().Identifier() {
			atomic.AddInt32(&badCalls, 1)
			return nil, joyrpcerrors.TimeoutError("bad node timed out")
		}
		atomic.AddInt32(&goodCalls, 1)
		return &transport.Response{Result: "ok"}, nil
	}

	eligible := func() []*cluster.Node { return []*cluster.Node{bad, good} }
	resp, err := r.Execute(context.Background(), eligible, &transport.Request{Interface: "svc", Method: "m"}, invoke)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Result)
	assert.EqualValues(t, 1, badCalls)
	assert.EqualValues(t, 1, goodCalls)
}

func TestRegionFilterKeepsOnlyMatchingRegion(t *testing.T) {
	east := nodeAtWithTags("10.0.0.1", "us-east", "dc1")
	west := nodeAtWithTags("10.0.0.2", "us-west", "dc2")

	out := RegionFilter("us-east")([]*cluster.Node{east, west})
	require.Len(t, out, 1)
	assert.Equal(t, east.URL().Identifier(), out[0].URL().Identifier())
}

func TestRegionFilterDegradesToFullSetWhenNoMatch(t *testing.T) {
	east := nodeAtWithTags("10.0.0.1", "us-east", "dc1")
	west := nodeAtWithTags("10.0.0.2", "us-west", "dc2")

	out := RegionFilter("eu-central")([]*cluster.Node{east, west})
	assert.Len(t, out, 2)
}

func TestDatacenterFilterKeepsOnlyMatchingDatacenter(t *testing.T) {
	dc1 := nodeAtWithTags("10.0.0.1", "us-east", "dc1")
	dc2 := nodeAtWithTags("10.0.0.2", "us-east", "dc2")

	out := DatacenterFilter("dc2")([]*cluster.Node{dc1, dc2})
	require.Len(t, out, 1)
	assert.Equal(t, dc2.URL().Identifier(), out[0].URL().Identifier())
}

func TestDatacenterFilterDegradesToFullSetWhenNoMatch(t *testing.T) {
	dc1 := nodeAtWithTags("10.0.0.1", "us-east", "dc1")
	dc2 := nodeAtWithTags("10.0.0.2", "us-east", "dc2")

	out := DatacenterFilter("dc9")([]*cluster.Node{dc1, dc2})
	assert.Len(t, out, 2)
}

func TestExecuteExhaustsAttemptsAndReturnsLastError(t *testing.T) {
	n1 := nodeAt("10.0.0.1")
	r := &Route{Balance: roundrobin.New(), Retry: RetryPolicy{MaxAttempts: 2}}

	var calls int32
	invoke := func(ctx context.Context, node *cluster.Node) (*transport.Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, joyrpcerrors.TimeoutError("always times out")
	}

	eligible := func() []*cluster.Node { return []*cluster.Node{n1} }
	_, err := r.Execute(context.Background(), eligible, &transport.Request{Interface: "svc", Method: "m"}, invoke)
	assert.Error(t, err)
	assert.EqualValues(t, 2, calls)
}
