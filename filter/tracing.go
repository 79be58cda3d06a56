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
	"io"

	"github.com/opentracing/opentracing-go"
	otlog "github.com/opentracing/opentracing-go/log"
	"github.com/uber/jaeger-client-go"

	"github.com/lwbtt0915/joyrpc/api/transport"
)

// NewJaegerTracer returns a const-sampled jaeger-client-go Tracer for
// service, the Tracer TracingFilter defaults to when the caller wires one
// up explicitly instead of relying on opentracing.GlobalTracer. The
// returned io.Closer flushes buffered spans and must be closed on
// shutdown.
func NewJaegerTracer(service string, reporter jaeger.Reporter) (opentracing.Tracer, io.Closer) {
	if reporter == nil {
		reporter = jaeger.NewNullReporter()
	}
	return jaeger.NewTracer(service, jaeger.NewConstSampler(true), reporter)
}

// TracingFilter starts a span for every call and injects it into the
// request's Attachments so the server side can continue the same trace,
// using an opentracing-go Tracer backed by a jaeger-client-go reporter.
type TracingFilter struct {
	Tracer opentracing.Tracer
}

var _ Filter = (*TracingFilter)(nil)

// Name identifies this Filter in logs and Chain ordering.
func (f *TracingFilter) Name() string { return "tracing" }

// Priority runs TracingFilter just inside MetricsFilter, ahead of the
// network hop, so the span's lifetime matches the call it describes.
func (f *TracingFilter) Priority() int { return 10 }

// Invoke starts a child span for req, injects it into req.Attachments,
// and tags the span with the call's outcome.
func (f *TracingFilter) Invoke(ctx context.Context, req *transport.Request, next Invoker) (*transport.Response, error) {
	tracer := f.tracer()
	span, ctx := opentracing.StartSpanFromContextWithTracer(ctx, tracer, req.Interface+"."+req.Method)
	defer span.Finish()

	span.SetTag("joyrpc.interface", req.Interface)
	span.SetTag("joyrpc.method", req.Method)
	if req.Alias != "" {
		span.SetTag("joyrpc.alias", req.Alias)
	}

	_ = tracer.Inject(span.Context(), opentracing.TextMap, headersCarrier{headers: &req.Attachments})

	resp, err := next(ctx, req)
	if err != nil {
		span.SetTag("error", true)
		span.LogFields(otlog.Error(err))
	}
	return resp, err
}

func (f *TracingFilter) tracer() opentracing.Tracer {
	if f.Tracer == nil {
		return opentracing.GlobalTracer()
	}
	return f.Tracer
}

// headersCarrier adapts transport.Headers to opentracing.TextMapWriter so
// a Tracer can inject span context straight into a Request's Attachments.
type headersCarrier struct {
	headers *transport.Headers
}

func (c headersCarrier) Set(key, val string) {
	*c.headers = c.headers.With(key, val)
}
