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

// Package tcp implements the runtime's concrete transport.ClientTransport
// and transport.ServerTransport over a plain net.Conn, framing each
// transport.Frame with a fixed-size header rather than negotiating an
// HTTP/2 or TChannel envelope.
package tcp

import (
	"context"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/lwbtt0915/joyrpc/api/transport"
	"github.com/lwbtt0915/joyrpc/joyrpcerrors"
)

// Listener is a transport.ServerTransport that accepts plain TCP
// connections and dispatches the Frames read from each to Handler.
type Listener struct {
	// Address is the address to listen on, e.g. ":0" or "127.0.0.1:7000".
	Address string

	// Handler processes decoded Requests. Required.
	Handler transport.Handler

	// Codec encodes/decodes Frame payloads. Required.
	Codec transport.Codec

	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
	stopped  bool
}

var _ transport.ServerTransport = (*Listener)(nil)

// Start opens the listening socket and begins accepting connections in the
// background. Start is idempotent: calling it again while already started
// is a no-op.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.listener != nil {
		return nil
	}
	if l.Handler == nil {
		return joyrpcerrors.ConfigError("tcp listener requires a Handler")
	}
	if l.Codec == nil {
		return joyrpcerrors.ConfigError("tcp listener requires a Codec")
	}
	if l.Logger == nil {
		l.Logger = zap.NewNop()
	}

	ln, err := net.Listen("tcp", l.Address)
	if err != nil {
		return joyrpcerrors.TransportError("tcp listen %s: %v", l.Address, err)
	}
	l.listener = ln

	l.wg.Add(1)
	go l.acceptLoop(ln)

	l.Logger.Info("started tcp listener", zap.String("address", ln.Addr().String()))
	return nil
}

// SetHandler replaces Handler. Safe to call before Start, or while the
// Listener is running — in-flight requests keep using whichever Handler
// was current when they were read, future ones see the new value. This
// lets an invoker.Exporter wire its own dispatch chain into a Listener it
// did not construct.
func (l *Listener) SetHandler(h transport.Handler) {
	l.mu.Lock()
	l.Handler = h
	l.mu.Unlock()
}

func (l *Listener) handler() transport.Handler {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Handler
}

// ListenAddress returns the address the Listener is bound to. Valid only
// once Start has returned successfully.
func (l *Listener) ListenAddress() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return ""
	}
	return l.listener.Addr().String()
}

func (l *Listener) acceptLoop(ln net.Listener) {
	defer l.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			l.mu.Lock()
			stopped := l.stopped
			l.mu.Unlock()
			if stopped {
				return
			}
			l.Logger.Warn("tcp accept failed", zap.Error(err))
			return
		}
		l.wg.Add(1)
		go l.serve(conn)
	}
}

func (l *Listener) serve(conn net.Conn) {
	defer l.wg.Done()
	fc := newFrameConn(conn)
	defer fc.Close()

	for {
		frame, err := fc.ReadFrame()
		if err != nil {
			return
		}
		if frame.Dir != transport.DirectionRequest {
			continue
		}
		go l.handleRequest(fc, frame)
	}
}

func (l *Listener) handleRequest(fc *frameConn, frame transport.Frame) {
	req, err := l.Codec.DecodeRequest(frame.Payload)
	if err != nil {
		l.Logger.Warn("failed to decode request frame", zap.Error(err))
		return
	}

	ctx := context.Background()
	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}
	resp, err := transport.DispatchHandler(ctx, l.handler(), req, l.Logger)
	if frame.Flags&transport.FlagOneway != 0 {
		return
	}
	if err != nil {
		resp = &transport.Response{Exception: err}
	}

	payload, encErr := l.Codec.EncodeResponse(resp)
	if encErr != nil {
		l.Logger.Warn("failed to encode response frame", zap.Error(encErr))
		return
	}
	respFrame := transport.Frame{ID: frame.ID, Dir: transport.DirectionResponse, Payload: payload}
	if resp.Exception != nil {
		respFrame.Flags |= transport.FlagException
	}
	if writeErr := fc.WriteFrame(respFrame); writeErr != nil {
		l.Logger.Warn("failed to write response frame", zap.Error(writeErr))
	}
}

// Stop closes the listening socket and waits for in-flight connections to
// finish being served. Stop is idempotent.
func (l *Listener) Stop() error {
	l.mu.Lock()
	if l.listener == nil || l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.stopped = true
	ln := l.listener
	l.mu.Unlock()

	err := ln.Close()
	l.wg.Wait()
	if err != nil {
		return joyrpcerrors.TransportError("tcp listener close: %v", err)
	}
	return nil
}
