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

package static

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwbtt0915/joyrpc/joyurl"
)

func testNode(host string) *joyurl.URL {
	return joyurl.NewBuilder("tcp", host, 9000).Interface("svc").Build()
}

func TestSubscribeClusterReceivesSeedOnAttach(t *testing.T) {
	n1 := testNode("10.0.0.1")
	r := New(WithNodes("svc", "", n1))
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := r.SubscribeCluster(ctx, "svc", "")
	require.NoError(t, err)

	snap := <-ch
	assert.Equal(t, int64(1), snap.Version)
	require.Len(t, snap.Nodes, 1)
	assert.True(t, snap.Nodes[0].Equal(n1))
}

func TestSubscribeClusterReceivesEmptySnapshotWhenNothingRegistered(t *testing.T) {
	r := New()
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := r.SubscribeCluster(ctx, "svc", "")
	require.NoError(t, err)

	snap := <-ch
	assert.Equal(t, int64(0), snap.Version)
	assert.Empty(t, snap.Nodes)
}

func TestRegisterPushesANewVersionedSnapshot(t *testing.T) {
	r := New()
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := r.SubscribeCluster(ctx, "svc", "")
	require.NoError(t, err)
	<-ch // seed snapshot, version 0

	n1 := testNode("10.0.0.1")
	require.NoError(t, r.Register(ctx, "svc", "", n1))

	select {
	case snap := <-ch:
		assert.Equal(t, int64(1), snap.Version)
		require.Len(t, snap.Nodes, 1)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cluster snapshot")
	}
}

func TestDeregisterOnUnknownNodeIsANoop(t *testing.T) {
	r := New()
	defer r.Close()
	assert.NoError(t, r.Deregister(context.Background(), "svc", "", testNode("10.0.0.9")))
}

func TestRegisterIsIdempotent(t *testing.T) {
	r := New()
	defer r.Close()
	n1 := testNode("10.0.0.1")
	ctx := context.Background()
	require.NoError(t, r.Register(ctx, "svc", "", n1))
	require.NoError(t, r.Register(ctx, "svc", "", n1))

	ch, err := r.SubscribeCluster(ctx, "svc", "")
	require.NoError(t, err)
	snap := <-ch
	assert.Len(t, snap.Nodes, 1, "registering the same node twice must not duplicate it")
}

func TestSetConfigPushesANewVersionedSnapshot(t *testing.T) {
	r := New(WithConfig("svc", "", map[string]string{"timeout": "500ms"}))
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := r.SubscribeConfig(ctx, "svc", "")
	require.NoError(t, err)

	seed := <-ch
	assert.Equal(t, int64(1), seed.Version)
	assert.Equal(t, "500ms", seed.Params["timeout"])

	r.SetConfig("svc", "", map[string]string{"timeout": "1s"})
	select {
	case snap := <-ch:
		assert.Equal(t, int64(2), snap.Version)
		assert.Equal(t, "1s", snap.Params["timeout"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for config snapshot")
	}
}

func TestCloseClosesEverySubscriberChannel(t *testing.T) {
	r := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := r.SubscribeCluster(ctx, "svc", "")
	require.NoError(t, err)
	<-ch

	require.NoError(t, r.Close())
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after Close")
}

func TestContextCancelUnsubscribesWithoutPanicking(t *testing.T) {
	r := New()
	defer r.Close()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := r.SubscribeCluster(ctx, "svc", "")
	require.NoError(t, err)
	<-ch

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestOperationsAfterCloseAreNoops(t *testing.T) {
	r := New()
	require.NoError(t, r.Close())
	assert.NoError(t, r.Register(context.Background(), "svc", "", testNode("10.0.0.1")))
	r.SetConfig("svc", "", map[string]string{"a": "b"})
}
