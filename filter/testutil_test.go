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
	"errors"
	"sync"

	"github.com/lwbtt0915/joyrpc/api/transport"
	"github.com/lwbtt0915/joyrpc/encoding/jsoncodec"
)

// echoConn is an in-memory transport.Connection that answers every
// request with a Response whose Result is the request's Method.
type echoConn struct {
	codec   jsoncodec.Codec
	mu      sync.Mutex
	closed  bool
	replies chan transport.Frame
}

func newLoopbackConnForFilterTest() *echoConn {
	return &echoConn{replies: make(chan transport.Frame, 16)}
}

func (c *echoConn) WriteFrame(f transport.Frame) error {
	req, err := c.codec.DecodeRequest(f.Payload)
	if err != nil {
		return err
	}
	payload, err := c.codec.EncodeResponse(&transport.Response{Result: req.Method})
	if err != nil {
		return err
	}
	c.replies <- transport.Frame{ID: f.ID, Dir: transport.DirectionResponse, Payload: payload}
	return nil
}

func (c *echoConn) ReadFrame() (transport.Frame, error) {
	f, ok := <-c.replies
	if !ok {
		return transport.Frame{}, errors.New("connection closed")
	}
	return f, nil
}

func (c *echoConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.replies)
	return nil
}

func (c *echoConn) RemoteAddress() string { return "loopback" }
