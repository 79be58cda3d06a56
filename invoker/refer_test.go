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

package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwbtt0915/joyrpc/api/registry"
	"github.com/lwbtt0915/joyrpc/api/transport"
	"github.com/lwbtt0915/joyrpc/cluster"
	"github.com/lwbtt0915/joyrpc/filter"
	"github.com/lwbtt0915/joyrpc/joyrpcerrors"
	"github.com/lwbtt0915/joyrpc/joyurl"
	"github.com/lwbtt0915/joyrpc/loadbalance/roundrobin"
	"github.com/lwbtt0915/joyrpc/pkg/backoff"
	"github.com/lwbtt0915/joyrpc/pkg/shutdown"
	"github.com/lwbtt0915/joyrpc/route"
	"github.com/lwbtt0915/joyrpc/transport/channel"
)

// loopbackConn echoes every written request Frame back as a response
// Frame with the same ID, mirroring transport/channel's own test double
// so Refer's integration test can exercise a real Channel round trip
// without a socket.
type loopbackConn struct {
	mu      sync.Mutex
	inbound chan transport.Frame
	closed  bool
}

func newLoopbackConn() *loopbackConn {
	return &loopbackConn{inbound: make(chan transport.Frame, 16)}
}

func (c *loopbackConn) WriteFrame(f transport.Frame) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("closed")
	}
	c.mu.Unlock()
	c.inbound <- transport.Frame{ID: f.ID, Dir: transport.DirectionResponse, Payload: f.Payload}
	return nil
}

func (c *loopbackConn) ReadFrame() (transport.Frame, error) {
	f, ok := <-c.inbound
	if !ok {
		return transport.Frame{}, errors.New("connection closed")
	}
	return f, nil
}

func (c *loopbackConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.inbound)
	return nil
}

func (c *loopbackConn) RemoteAddress() string { return "loopback" }

type echoCodec struct{}

func (echoCodec) Name() string { return "echo-test" }

func (echoCodec) EncodeRequest(req *transport.Request) ([]byte, error) {
	return json.Marshal(req.Method)
}

func (echoCodec) DecodeRequest(data []byte) (*transport.Request, error) {
	var method string
	if err := json.Unmarshal(data, &method); err != nil {
		return nil, err
	}
	return &transport.Request{Method: method}, nil
}

func (echoCodec) EncodeResponse(resp *transport.Response) ([]byte, error) {
	return json.Marshal(resp.Result)
}

func (echoCodec) DecodeResponse(data []byte) (*transport.Response, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &transport.Response{Result: v}, nil
}

type loopbackDialer struct{}

func (loopbackDialer) Dial(ctx context.Context, address string) (transport.Connection, error) {
	return newLoopbackConn(), nil
}

type fakeRegistry struct {
	ch        chan registry.ClusterSnapshot
	closeOnce sync.Once
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{ch: make(chan registry.ClusterSnapshot, 8)}
}

func (r *fakeRegistry) Register(context.Context, string, string, *joyurl.URL) error   { return nil }
func (r *fakeRegistry) Deregister(context.Context, string, string, *joyurl.URL) error { return nil }

func (r *fakeRegistry) SubscribeCluster(ctx context.Context, iface, alias string) (<-chan registry.ClusterSnapshot, error) {
	go func() {
		<-ctx.Done()
		r.closeOnce.Do(func() { close(r.ch) })
	}()
	return r.ch, nil
}

func (r *fakeRegistry) SubscribeConfig(context.Context, string, string) (<-chan registry.ConfigSnapshot, error) {
	return nil, nil
}

func (r *fakeRegistry) Close() error {
	r.closeOnce.Do(func() { close(r.ch) })
	return nil
}

func newTestManager(t *testing.T) *channel.Manager {
	t.Helper()
	strategy, err := backoff.NewExponential(backoff.BaseJump(time.Millisecond), backoff.MaxBackoff(10*time.Millisecond))
	require.NoError(t, err)
	return channel.NewManager(loopbackDialer{}, echoCodec{}, strategy, channel.Options{})
}

func newTestRoute() *route.Route {
	return &route.Route{Balance: roundrobin.New(), Retry: route.RetryPolicy{MaxAttempts: 1}}
}

func TestReferCallRoundTripsThroughAnEligibleNode(t *testing.T) {
	reg := newFakeRegistry()
	mgr := newTestManager(t)
	r := NewRefer("svc", "", mgr, reg, cluster.Options{}, filter.NewChain(), newTestRoute())
	require.NoError(t, r.Open())
	defer r.Close()

	u := joyurl.NewBuilder("tcp", "10.0.0.1", 8080).Interface("svc").Build()
	reg.ch <- registry.ClusterSnapshot{Version: 1, Nodes: []*joyurl.URL{u}}

	require.Eventually(t, func() bool { return len(r.cluster.Eligible()) == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := r.Call(ctx, &transport.Request{Method: "find"})
	require.NoError(t, err)
	assert.Equal(t, "find", resp.Result)
}

func TestReferCallFailsValidationBeforeWaitingForOpen(t *testing.T) {
	reg := newFakeRegistry()
	mgr := newTestManager(t)
	r := NewRefer("", "", mgr, reg, cluster.Options{}, filter.NewChain(), newTestRoute())

	_, err := r.Call(context.Background(), &transport.Request{Method: "find"})
	assert.Error(t, err)
}

func TestReferRegistersCloseWithShutdownCoordinator(t *testing.T) {
	reg := newFakeRegistry()
	mgr := newTestManager(t)
	coordinator := shutdown.New(nil)
	r := NewRefer("svc", "", mgr, reg, cluster.Options{}, filter.NewChain(), newTestRoute())
	r.Shutdown = coordinator
	require.NoError(t, r.Open())

	require.NoError(t, coordinator.Shutdown(context.Background(), time.Second))

	_, err := r.Call(context.Background(), &transport.Request{Method: "find"})
	assert.Error(t, err)
}

func TestReferCallFailsWhenNoEligibleNode(t *testing.T) {
	reg := newFakeRegistry()
	mgr := newTestManager(t)
	r := NewRefer("svc", "", mgr, reg, cluster.Options{}, filter.NewChain(), newTestRoute())
	require.NoError(t, r.Open())
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := r.Call(ctx, &transport.Request{Method: "find"})
	assert.Error(t, err)
}

func TestReferCallWaitsForOpenBeforeDispatching(t *testing.T) {
	reg := newFakeRegistry()
	mgr := newTestManager(t)
	r := NewRefer("svc", "", mgr, reg, cluster.Options{}, filter.NewChain(), newTestRoute())

	u := joyurl.NewBuilder("tcp", "10.0.0.1", 8080).Interface("svc").Build()

	go func() {
		time.Sleep(20 * time.Millisecond)
		require.NoError(t, r.Open())
		reg.ch <- registry.ClusterSnapshot{Version: 1, Nodes: []*joyurl.URL{u}}
	}()
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.Eventually(t, func() bool {
		resp, err := r.Call(ctx, &transport.Request{Method: "find"})
		return err == nil && resp.Result == "find"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReferCallRejectsOnceCloseHasStarted(t *testing.T) {
	reg := newFakeRegistry()
	mgr := newTestManager(t)
	r := NewRefer("svc", "", mgr, reg, cluster.Options{}, filter.NewChain(), newTestRoute())
	require.NoError(t, r.Open())

	require.NoError(t, r.Close())

	_, err := r.Call(context.Background(), &transport.Request{Method: "find"})
	require.Error(t, err)
	assert.Equal(t, joyrpcerrors.CodeUnavailable, joyrpcerrors.ErrorCode(err))
}

func TestReferCallTimesOutWaitingForOpenAfterOpenWait(t *testing.T) {
	reg := newFakeRegistry()
	mgr := newTestManager(t)
	r := NewRefer("svc", "", mgr, reg, cluster.Options{}, filter.NewChain(), newTestRoute())
	r.OpenWait = 20 * time.Millisecond
	defer r.Close()

	_, err := r.Call(context.Background(), &transport.Request{Method: "find"})
	assert.Error(t, err)
}
