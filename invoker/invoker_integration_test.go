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

// These tests wire a real invoker.Refer to a real invoker.Exporter over
// transport/tcp and encoding/gobcodec, discovering nodes through a
// registry/static Registry, exercising the runtime end to end rather than
// against fakes.
package invoker

import (
	"context"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwbtt0915/joyrpc/api/transport"
	"github.com/lwbtt0915/joyrpc/cluster"
	"github.com/lwbtt0915/joyrpc/encoding/gobcodec"
	"github.com/lwbtt0915/joyrpc/filter"
	"github.com/lwbtt0915/joyrpc/joyurl"
	"github.com/lwbtt0915/joyrpc/loadbalance/roundrobin"
	"github.com/lwbtt0915/joyrpc/pkg/backoff"
	"github.com/lwbtt0915/joyrpc/registry/static"
	"github.com/lwbtt0915/joyrpc/route"
	"github.com/lwbtt0915/joyrpc/transport/channel"
	"github.com/lwbtt0915/joyrpc/transport/tcp"
)

const integrationIface = "com.example.Echo"

// startEchoServer starts a tcp.Listener bound to an ephemeral port,
// exported through an Exporter whose Handler echoes req.Args[0] back as
// Result, optionally after waiting on block (used to simulate a slow or
// wedged server). It returns the bound node URL and a cleanup func.
func startEchoServer(t *testing.T, block <-chan struct{}) (*joyurl.URL, *Exporter) {
	t.Helper()
	handler := transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		if block != nil {
			select {
			case <-block:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		var arg interface{}
		if len(req.Args) > 0 {
			arg = req.Args[0]
		}
		return &transport.Response{Result: arg}, nil
	})

	listener := &tcp.Listener{Address: "127.0.0.1:0", Codec: gobcodec.Codec{}}
	exporter := NewExporter(integrationIface, "", handler, nil, nil, listener)
	require.NoError(t, exporter.Open())
	t.Cleanup(func() { exporter.Close() })

	host, portStr, err := net.SplitHostPort(listener.ListenAddress())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return joyurl.NewBuilder("tcp", host, port).Interface(integrationIface).Build(), exporter
}

func newIntegrationRefer(t *testing.T, reg *static.Registry, retry route.RetryPolicy) *Refer {
	t.Helper()
	strategy, err := backoff.NewExponential(backoff.BaseJump(5*time.Millisecond), backoff.MaxBackoff(50*time.Millisecond))
	require.NoError(t, err)

	manager := channel.NewManager(tcp.Dialer{Timeout: time.Second}, gobcodec.Codec{}, strategy, channel.Options{})
	rt := &route.Route{Balance: roundrobin.New(), Retry: retry}

	refer := NewRefer(integrationIface, "", manager, reg, cluster.Options{DialTimeout: time.Second}, filter.NewChain(), rt)
	require.NoError(t, refer.Open())
	t.Cleanup(func() { refer.Close() })
	return refer
}

func echoRequest(arg string) *transport.Request {
	return &transport.Request{Method: "echo", Args: []interface{}{arg}}
}

// waitForEligible blocks until refer's Cluster reports at least n eligible
// Nodes, bounding the race between Open returning and its background
// connect goroutines finishing their dial.
func waitForEligible(t *testing.T, refer *Refer, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(refer.cluster.Eligible()) >= n
	}, 2*time.Second, 5*time.Millisecond)
}

// TestHappyCallRoundTrips exercises a single call against a single live
// node discovered through the static Registry.
func TestHappyCallRoundTrips(t *testing.T) {
	node, _ := startEchoServer(t, nil)
	reg := static.New(static.WithNodes(integrationIface, "", node))
	refer := newIntegrationRefer(t, reg, route.RetryPolicy{})
	waitForEligible(t, refer, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := refer.Call(ctx, echoRequest("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Result)
}

// TestFailoverRetriesAgainstTheSurvivingNode brings up two nodes, kills
// one node's listener outright, and checks a call still succeeds by
// retrying onto the node that is still reachable.
func TestFailoverRetriesAgainstTheSurvivingNode(t *testing.T) {
	deadNode, deadExporter := startEchoServer(t, nil)
	liveNode, _ := startEchoServer(t, nil)
	require.NoError(t, deadExporter.Close())

	reg := static.New(static.WithNodes(integrationIface, "", deadNode, liveNode))
	refer := newIntegrationRefer(t, reg, route.RetryPolicy{MaxAttempts: 4})
	waitForEligible(t, refer, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	resp, err := refer.Call(ctx, echoRequest("failover"))
	require.NoError(t, err)
	assert.Equal(t, "failover", resp.Result)
}

// TestCallTimesOutAgainstAWedgedServer checks a call whose ctx deadline
// expires while a single reachable-but-unresponsive node is still
// "processing" returns a timeout rather than hanging.
func TestCallTimesOutAgainstAWedgedServer(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	node, _ := startEchoServer(t, block)

	reg := static.New(static.WithNodes(integrationIface, "", node))
	refer := newIntegrationRefer(t, reg, route.RetryPolicy{})
	waitForEligible(t, refer, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := refer.Call(ctx, echoRequest("slow"))
	require.Error(t, err)
}

// TestGracefulShutdownStopsAcceptingAndReleasesChannels checks that
// closing a Refer releases its Cluster's Channels, and a closed Exporter
// stops accepting new connections, without either Close call hanging or
// erroring.
func TestGracefulShutdownStopsAcceptingAndReleasesChannels(t *testing.T) {
	node, exporter := startEchoServer(t, nil)
	reg := static.New(static.WithNodes(integrationIface, "", node))
	refer := newIntegrationRefer(t, reg, route.RetryPolicy{})
	waitForEligible(t, refer, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := refer.Call(ctx, echoRequest("before-shutdown"))
	require.NoError(t, err)

	require.NoError(t, refer.Close())
	require.NoError(t, exporter.Close())

	_, err = refer.Call(context.Background(), echoRequest("after-shutdown"))
	assert.Error(t, err)
}

// TestRegistryFlapWithAnUnchangedNodeSetCausesNoChurn registers the same
// node repeatedly (the static Registry's own idempotent Register, which
// still bumps a version each call) and checks calls keep succeeding
// throughout without a node ever dropping mid-flight.
func TestRegistryFlapWithAnUnchangedNodeSetCausesNoChurn(t *testing.T) {
	node, _ := startEchoServer(t, nil)
	reg := static.New(static.WithNodes(integrationIface, "", node))
	refer := newIntegrationRefer(t, reg, route.RetryPolicy{})
	waitForEligible(t, refer, 1)

	var failures atomic.Int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			reg.Register(context.Background(), integrationIface, "", node)
			time.Sleep(2 * time.Millisecond)
		}
	}()

	for i := 0; i < 20; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, err := refer.Call(ctx, echoRequest("flap"))
		cancel()
		if err != nil {
			failures.Add(1)
		}
		time.Sleep(2 * time.Millisecond)
	}
	<-done

	assert.Equal(t, int64(0), failures.Load())
}

// TestDeadConnectionRemovesANodeFromEligibility connects to two nodes,
// then closes one Node's Channel out from under it, the same transition
// a missed-heartbeat detection or a severed TCP connection would drive.
// The Channel's Close marks itself Unavailable and fires its Subscriber
// callback, which Cluster uses to exclude the Node from Eligible without
// any new snapshot from the Registry telling it to.
func TestDeadConnectionRemovesANodeFromEligibility(t *testing.T) {
	dyingNode, _ := startEchoServer(t, nil)
	healthyNode, _ := startEchoServer(t, nil)

	reg := static.New(static.WithNodes(integrationIface, "", dyingNode, healthyNode))
	refer := newIntegrationRefer(t, reg, route.RetryPolicy{})
	waitForEligible(t, refer, 2)

	var dying *cluster.Node
	for _, n := range refer.cluster.Nodes() {
		if n.URL().Identifier() == dyingNode.Identifier() {
			dying = n
		}
	}
	require.NotNil(t, dying)
	require.NoError(t, dying.Channel().Close())

	require.Eventually(t, func() bool {
		return len(refer.cluster.Eligible()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := refer.Call(ctx, echoRequest("past-the-dead-node"))
	require.NoError(t, err)
	assert.Equal(t, "past-the-dead-node", resp.Result)
}
