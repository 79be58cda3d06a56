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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"

	"github.com/lwbtt0915/joyrpc/api/transport"
)

func TestExecutorUnboundedRunsDirectly(t *testing.T) {
	e := NewExecutor(ExecutorOptions{})
	resp, err := e.Submit(context.Background(), func() (*transport.Response, error) {
		return &transport.Response{Result: "ok"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Result)
}

func TestExecutorRejectRejectsWhenSaturated(t *testing.T) {
	e := NewExecutor(ExecutorOptions{MaxConcurrency: 1, Rejection: RejectionReject})

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = e.Submit(context.Background(), func() (*transport.Response, error) {
			close(started)
			<-release
			return &transport.Response{}, nil
		})
	}()
	<-started

	_, err := e.Submit(context.Background(), func() (*transport.Response, error) {
		return &transport.Response{}, nil
	})
	assert.Error(t, err)
	close(release)
}

func TestExecutorCallerRunsRunsInlineWhenSaturated(t *testing.T) {
	e := NewExecutor(ExecutorOptions{MaxConcurrency: 1, Rejection: RejectionCallerRuns})

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = e.Submit(context.Background(), func() (*transport.Response, error) {
			close(started)
			<-release
			return &transport.Response{}, nil
		})
	}()
	<-started

	var ran atomic.Bool
	resp, err := e.Submit(context.Background(), func() (*transport.Response, error) {
		ran.Store(true)
		return &transport.Response{Result: "inline"}, nil
	})
	require.NoError(t, err)
	assert.True(t, ran.Load())
	assert.Equal(t, "inline", resp.Result)
	close(release)
}

func TestExecutorWaitBoundedTimesOutWhenSaturated(t *testing.T) {
	e := NewExecutor(ExecutorOptions{
		MaxConcurrency: 1,
		Rejection:      RejectionWaitBounded,
		WaitTimeout:    20 * time.Millisecond,
	})

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = e.Submit(context.Background(), func() (*transport.Response, error) {
			close(started)
			<-release
			return &transport.Response{}, nil
		})
	}()
	<-started

	_, err := e.Submit(context.Background(), func() (*transport.Response, error) {
		return &transport.Response{}, nil
	})
	assert.Error(t, err)
	close(release)
}

func TestExecutorWaitBoundedAdmitsOnceSlotFrees(t *testing.T) {
	e := NewExecutor(ExecutorOptions{
		MaxConcurrency: 1,
		Rejection:      RejectionWaitBounded,
		WaitTimeout:    time.Second,
	})

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = e.Submit(context.Background(), func() (*transport.Response, error) {
			close(started)
			<-release
			return &transport.Response{}, nil
		})
	}()
	<-started

	done := make(chan struct{})
	go func() {
		resp, err := e.Submit(context.Background(), func() (*transport.Response, error) {
			return &transport.Response{Result: "second"}, nil
		})
		assert.NoError(t, err)
		assert.Equal(t, "second", resp.Result)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second Submit never admitted after slot freed")
	}
}

func TestExecutorRecordsMetrics(t *testing.T) {
	scope := tally.NewTestScope("", nil)
	e := NewExecutor(ExecutorOptions{MaxConcurrency: 1, Rejection: RejectionReject, Scope: scope})

	_, err := e.Submit(context.Background(), func() (*transport.Response, error) {
		return &transport.Response{}, nil
	})
	require.NoError(t, err)

	snapshot := scope.Snapshot()
	found := false
	for _, c := range snapshot.Counters() {
		if c.Name() == "admitted" {
			found = true
			assert.EqualValues(t, 1, c.Value())
		}
	}
	assert.True(t, found)
}
