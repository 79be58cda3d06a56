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

package filter

import (
	"context"
	"time"

	"github.com/uber-go/tally"

	"github.com/lwbtt0915/joyrpc/api/transport"
	"github.com/lwbtt0915/joyrpc/joyrpcerrors"
)

// MetricsFilter records call counters and latency against a tally.Scope:
// calls, successes, and failures tagged by error code.
type MetricsFilter struct {
	Scope tally.Scope
}

var _ Filter = (*MetricsFilter)(nil)

// Name identifies this Filter in logs and Chain ordering.
func (f *MetricsFilter) Name() string { return "metrics" }

// Priority runs MetricsFilter close to the caller, ahead of tracing and
// the network hop, so its latency measurement covers everything beneath
// it in the Chain.
func (f *MetricsFilter) Priority() int { return 0 }

// Invoke times the call through next and records it against Scope.
func (f *MetricsFilter) Invoke(ctx context.Context, req *transport.Request, next Invoker) (*transport.Response, error) {
	scope := f.scope()
	methodScope := scope.Tagged(map[string]string{
		"interface": req.Interface,
		"method":    req.Method,
	})
	methodScope.Counter("calls").Inc(1)

	start := time.Now()
	resp, err := next(ctx, req)
	methodScope.Timer("latency").Record(time.Since(start))

	if err != nil {
		methodScope.Tagged(map[string]string{"code": joyrpcerrors.ErrorCode(err).String()}).Counter("failures").Inc(1)
		return resp, err
	}
	methodScope.Counter("successes").Inc(1)
	return resp, nil
}

func (f *MetricsFilter) scope() tally.Scope {
	if f.Scope == nil {
		return tally.NoopScope
	}
	return f.Scope
}
