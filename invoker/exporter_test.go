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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwbtt0915/joyrpc/api/transport"
	"github.com/lwbtt0915/joyrpc/filter"
	"github.com/lwbtt0915/joyrpc/joyrpcerrors"
	"github.com/lwbtt0915/joyrpc/pkg/shutdown"
)

// fakeBinder is a Binder that records whatever Handler Open binds into it
// and lets the test drive calls through that Handler directly, the same
// way a real tcp.Listener would after accepting a connection.
type fakeBinder struct {
	mu       sync.Mutex
	handler  transport.Handler
	started  bool
	stopped  bool
	startErr error
}

func (b *fakeBinder) SetHandler(h transport.Handler) {
	b.mu.Lock()
	b.handler = h
	b.mu.Unlock()
}

func (b *fakeBinder) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.startErr != nil {
		return b.startErr
	}
	b.started = true
	return nil
}

func (b *fakeBinder) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	return nil
}

func (b *fakeBinder) ListenAddress() string { return "fake:0" }

func (b *fakeBinder) dispatch(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	return h.Handle(ctx, req)
}

type handlerFunc func(ctx context.Context, req *transport.Request) (*transport.Response, error)

func (f handlerFunc) Handle(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	return f(ctx, req)
}

func TestExporterOpenBindsHandlerAndStartsTransport(t *testing.T) {
	binder := &fakeBinder{}
	handler := handlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		return &transport.Response{Result: req.Method}, nil
	})
	e := NewExporter("svc", "", handler, filter.NewChain(), nil, binder)

	require.NoError(t, e.Open())
	assert.True(t, binder.started)

	resp, err := binder.dispatch(context.Background(), &transport.Request{Interface: "svc", Method: "find"})
	require.NoError(t, err)
	assert.Equal(t, "find", resp.Result)
}

func TestExporterOpenFailsWithoutHandler(t *testing.T) {
	binder := &fakeBinder{}
	e := NewExporter("svc", "", nil, filter.NewChain(), nil, binder)

	err := e.Open()
	assert.Error(t, err)
	assert.False(t, binder.started)
}

func TestExporterDispatchRecoversHandlerPanic(t *testing.T) {
	binder := &fakeBinder{}
	handler := handlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		panic("boom")
	})
	e := NewExporter("svc", "", handler, filter.NewChain(), nil, binder)
	require.NoError(t, e.Open())

	_, err := binder.dispatch(context.Background(), &transport.Request{Interface: "svc", Method: "find"})
	assert.Error(t, err)
}

func TestExporterDispatchRunsThroughChain(t *testing.T) {
	binder := &fakeBinder{}
	handler := handlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		return &transport.Response{Result: "handled"}, nil
	})
	var ran bool
	chain := filter.NewChain(&recordingFilter{name: "record", onInvoke: func() { ran = true }})
	e := NewExporter("svc", "", handler, chain, nil, binder)
	require.NoError(t, e.Open())

	resp, err := binder.dispatch(context.Background(), &transport.Request{Interface: "svc", Method: "find"})
	require.NoError(t, err)
	assert.Equal(t, "handled", resp.Result)
	assert.True(t, ran)
}

func TestExporterDispatchRejectsWhenExecutorSaturated(t *testing.T) {
	binder := &fakeBinder{}
	release := make(chan struct{})
	started := make(chan struct{})
	handler := handlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		close(started)
		<-release
		return &transport.Response{}, nil
	})
	executor := NewExecutor(ExecutorOptions{MaxConcurrency: 1, Rejection: RejectionReject})
	e := NewExporter("svc", "", handler, filter.NewChain(), executor, binder)
	require.NoError(t, e.Open())

	go func() {
		_, _ = binder.dispatch(context.Background(), &transport.Request{Interface: "svc", Method: "find"})
	}()
	<-started

	_, err := binder.dispatch(context.Background(), &transport.Request{Interface: "svc", Method: "find"})
	assert.Error(t, err)
	close(release)
}

func TestExporterCloseStopsTransport(t *testing.T) {
	binder := &fakeBinder{}
	handler := handlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		return &transport.Response{}, nil
	})
	e := NewExporter("svc", "", handler, filter.NewChain(), nil, binder)
	require.NoError(t, e.Open())

	require.NoError(t, e.Close())
	assert.True(t, binder.stopped)
}

func TestExporterRegistersCloseWithShutdownCoordinator(t *testing.T) {
	binder := &fakeBinder{}
	handler := handlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		return &transport.Response{}, nil
	})
	coordinator := shutdown.New(nil)
	e := NewExporter("svc", "", handler, filter.NewChain(), nil, binder)
	e.Shutdown = coordinator
	require.NoError(t, e.Open())

	require.NoError(t, coordinator.Shutdown(context.Background(), time.Second))
	assert.True(t, binder.stopped)
}

func TestExporterDispatchRejectsUnregisteredAlias(t *testing.T) {
	binder := &fakeBinder{}
	handler := handlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		return &transport.Response{}, nil
	})
	e := NewExporter("svc", "primary", handler, filter.NewChain(), nil, binder)
	require.NoError(t, e.Open())

	_, err := binder.dispatch(context.Background(), &transport.Request{Interface: "svc", Alias: "other", Method: "find"})
	assert.Error(t, err)
	assert.Equal(t, joyrpcerrors.CodeNotFound, joyrpcerrors.ErrorCode(err))
}

type fakeExportedService interface {
	Find(id string) (string, error)
}

type fakeExportedServiceImpl struct{}

func (fakeExportedServiceImpl) Find(id string) (string, error) { return id, nil }

func TestExporterDispatchRejectsUnknownMethod(t *testing.T) {
	binder := &fakeBinder{}
	handler := handlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		return &transport.Response{Result: req.Method}, nil
	})
	e := NewExporter("svc", "", handler, filter.NewChain(), nil, binder)
	e.Impl = fakeExportedServiceImpl{}
	require.NoError(t, e.Open())

	_, err := binder.dispatch(context.Background(), &transport.Request{Interface: "svc", Method: "Missing"})
	assert.Error(t, err)
	assert.Equal(t, joyrpcerrors.CodeNotFound, joyrpcerrors.ErrorCode(err))

	resp, err := binder.dispatch(context.Background(), &transport.Request{Interface: "svc", Method: "Find"})
	require.NoError(t, err)
	assert.Equal(t, "Find", resp.Result)
}

func TestExporterDispatchRejectsOnceCloseHasStarted(t *testing.T) {
	binder := &fakeBinder{}
	handler := handlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		return &transport.Response{}, nil
	})
	e := NewExporter("svc", "", handler, filter.NewChain(), nil, binder)
	require.NoError(t, e.Open())
	require.NoError(t, e.Close())

	_, err := binder.dispatch(context.Background(), &transport.Request{Interface: "svc", Method: "find"})
	require.Error(t, err)
	assert.Equal(t, joyrpcerrors.CodeUnavailable, joyrpcerrors.ErrorCode(err))
}

func TestExporterOpenPropagatesTransportStartError(t *testing.T) {
	binder := &fakeBinder{startErr: errors.New("listen failed")}
	handler := handlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		return &transport.Response{}, nil
	})
	e := NewExporter("svc", "", handler, filter.NewChain(), nil, binder)

	err := e.Open()
	assert.Error(t, err)
}

// recordingFilter is a minimal filter.Filter calling onInvoke before
// delegating to next, for asserting an Exporter's Chain actually ran.
type recordingFilter struct {
	name     string
	onInvoke func()
}

func (f *recordingFilter) Name() string  { return f.name }
func (f *recordingFilter) Priority() int { return 0 }

func (f *recordingFilter) Invoke(ctx context.Context, req *transport.Request, next filter.Invoker) (*transport.Response, error) {
	if f.onInvoke != nil {
		f.onInvoke()
	}
	return next(ctx, req)
}
