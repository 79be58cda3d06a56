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

package transport

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
)

// Handler answers a single Request with a Response. It is what an Exporter
// ultimately dispatches to, and what a server-side NetworkFilter terminates
// a Filter Chain into.
type Handler interface {
	Handle(ctx context.Context, req *Request) (*Response, error)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, req *Request) (*Response, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// DispatchHandler calls h, recovering a panic into an error so one bad
// method implementation cannot take down the accept loop that invoked it.
func DispatchHandler(ctx context.Context, h Handler, req *Request, logger *zap.Logger) (resp *Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			if logger != nil {
				logger.Error("handler panicked",
					zap.Any("recovered", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("interface", req.Interface),
					zap.String("method", req.Method))
			}
			err = fmt.Errorf("panic in handler for %s.%s: %v", req.Interface, req.Method, r)
		}
	}()
	return h.Handle(ctx, req)
}
