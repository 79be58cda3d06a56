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
	"math"

	"github.com/lwbtt0915/joyrpc/api/transport"
	"github.com/lwbtt0915/joyrpc/transport/channel"
)

// NetworkFilter is the terminal Filter in every Chain: it places the call
// on a Channel and never calls next. Its Priority is the maximum int so a
// NewChain sort always keeps it innermost regardless of what else is
// registered.
type NetworkFilter struct {
	Channel *channel.Channel
}

var _ Filter = (*NetworkFilter)(nil)

// Name identifies this Filter in logs and Chain ordering.
func (f *NetworkFilter) Name() string { return "network" }

// Priority is math.MaxInt32, keeping NetworkFilter innermost.
func (f *NetworkFilter) Priority() int { return math.MaxInt32 }

// Invoke places req on the Channel; next is ignored since there is
// nothing after the network hop.
func (f *NetworkFilter) Invoke(ctx context.Context, req *transport.Request, _ Invoker) (*transport.Response, error) {
	return f.Channel.Call(ctx, req)
}
