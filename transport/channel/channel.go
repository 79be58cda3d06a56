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

// Package channel implements a single duplex, multiplexed connection: a
// Channel serializes writes onto one Connection, allocates request IDs,
// tracks pending calls in a callfuture.Registry, and notifies subscribers
// (ChannelManager, Cluster) when its status changes.
package channel

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lwbtt0915/joyrpc/api/transport"
	"github.com/lwbtt0915/joyrpc/joyrpcerrors"
	"github.com/lwbtt0915/joyrpc/pkg/timingwheel"
	"github.com/lwbtt0915/joyrpc/transport/callfuture"
)

// Status mirrors a connection's availability, notified to every
// registered Subscriber on change.
type Status int

const (
	// StatusConnecting means Open has been called but the Connection isn't
	// ready for traffic yet.
	StatusConnecting Status = iota
	// StatusAvailable means the Channel can carry calls.
	StatusAvailable
	// StatusUnavailable means the Channel's Connection is down; a
	// ChannelManager with a reconnect loop will typically replace it.
	StatusUnavailable
)

// Subscriber receives Channel status change notifications, the role
// ChannelManager and Cluster play against a Channel. The Heartbeat Engine
// is not a Subscriber; it attaches through SetHeartbeatHandler.
type Subscriber interface {
	NotifyStatusChanged(c *Channel)
}

// Options configures a Channel.
type Options struct {
	// MaxPayloadSize caps the size of a single Frame's Payload; writes
	// exceeding it fail fast with an OverloadError instead of silently
	// fragmenting or blocking forever on a slow peer.
	MaxPayloadSize int
	// SendQueueDepth bounds how many writes can be queued on the
	// channel's serialized send loop before Send returns an OverloadError.
	SendQueueDepth int
	// DefaultCallTimeout is used by Call when the caller's context has no
	// deadline.
	DefaultCallTimeout time.Duration
	Logger             *zap.Logger
	Wheel              *timingwheel.Wheel
}

func (o *Options) setDefaults() {
	if o.MaxPayloadSize <= 0 {
		o.MaxPayloadSize = 4 << 20
	}
	if o.SendQueueDepth <= 0 {
		o.SendQueueDepth = 256
	}
	if o.DefaultCallTimeout <= 0 {
		o.DefaultCallTimeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// writeRequest is one queued outbound Frame plus the result channel Send
// uses to report a write-side failure back to its caller.
type writeRequest struct {
	frame transport.Frame
	errCh chan error
}

// Channel wraps a transport.Connection with request-ID allocation, a
// serialized write path, and a callfuture.Registry of pending calls. Its
// read loop runs on its own goroutine for the life of the Connection.
type Channel struct {
	id     string
	conn   transport.Connection
	codec  transport.Codec
	opts   Options
	wheel  *timingwheel.Wheel
	wheelOwned bool

	nextID  atomic.Uint64
	futures *callfuture.Registry

	writeCh chan writeRequest
	status  atomic.Int32

	mu               sync.Mutex
	subscribers      map[Subscriber]struct{}
	heartbeatHandler func(transport.Frame)

	closeOnce sync.Once
	closed    chan struct{}
}

// New wraps conn as a Channel. conn is assumed already connected; New
// starts the channel's write and read loops immediately.
func New(conn transport.Connection, codec transport.Codec, opts Options) *Channel {
	opts.setDefaults()

	wheel := opts.Wheel
	owned := false
	if wheel == nil {
		wheel = timingwheel.New(50*time.Millisecond, 600)
		owned = true
	}

	c := &Channel{
		id:          uuid.NewString(),
		conn:        conn,
		codec:       codec,
		opts:        opts,
		wheel:       wheel,
		wheelOwned:  owned,
		futures:     callfuture.New(wheel),
		writeCh:     make(chan writeRequest, opts.SendQueueDepth),
		subscribers: make(map[Subscriber]struct{}),
		closed:      make(chan struct{}),
	}
	c.status.Store(int32(StatusAvailable))

	go c.writeLoop()
	go c.readLoop()

	return c
}

// AddSubscriber registers sub for status change notifications. sub is kept
// as a map key, so its dynamic type must be comparable (a pointer type
// such as *Manager or *cluster.Cluster is); an unhashable type such as a
// func panics.
func (c *Channel) AddSubscriber(sub Subscriber) {
	c.mu.Lock()
	c.subscribers[sub] = struct{}{}
	c.mu.Unlock()
}

// RemoveSubscriber unregisters sub.
func (c *Channel) RemoveSubscriber(sub Subscriber) {
	c.mu.Lock()
	delete(c.subscribers, sub)
	c.mu.Unlock()
}

// Status returns the Channel's current status.
func (c *Channel) Status() Status {
	return Status(c.status.Load())
}

func (c *Channel) setStatus(s Status) {
	if Status(c.status.Swap(int32(s))) == s {
		return
	}
	c.mu.Lock()
	subs := make([]Subscriber, 0, len(c.subscribers))
	for sub := range c.subscribers {
		subs = append(subs, sub)
	}
	c.mu.Unlock()
	for _, sub := range subs {
		sub.NotifyStatusChanged(c)
	}
}

// Pending returns the number of calls awaiting a response.
func (c *Channel) Pending() int {
	return c.futures.Pending()
}

// RemoteAddress returns the address of the Connection this Channel wraps.
func (c *Channel) RemoteAddress() string {
	return c.conn.RemoteAddress()
}

// ID returns a value unique to this Channel instance, distinct from its
// RemoteAddress: a reconnect replaces the Channel but keeps the address,
// so correlating log lines against a specific TCP connection's lifetime
// needs an identifier that changes across reconnects too.
func (c *Channel) ID() string {
	return c.id
}

// Call sends req and blocks until its response arrives, ctx is done, or
// the Channel closes, mapping each outcome to the matching error family.
func (c *Channel) Call(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if err := transport.ValidateRequest(req); err != nil {
		return nil, err
	}

	payload, err := c.codec.EncodeRequest(req)
	if err != nil {
		return nil, joyrpcerrors.SerializationError("encode request: %v", err)
	}
	if len(payload) > c.opts.MaxPayloadSize {
		return nil, joyrpcerrors.OverloadError("request payload of %d bytes exceeds max %d", len(payload), c.opts.MaxPayloadSize)
	}

	timeout := c.opts.DefaultCallTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	id := c.nextID.Inc()
	done, err := c.futures.Register(id, timeout)
	if err != nil {
		return nil, err
	}

	if err := c.send(transport.Frame{ID: id, Dir: transport.DirectionRequest, Payload: payload}); err != nil {
		c.futures.Cancel(id)
		return nil, err
	}

	select {
	case res := <-done:
		if res.Err != nil {
			return nil, res.Err
		}
		resp, err := c.codec.DecodeResponse(res.Frame.Payload)
		if err != nil {
			return nil, joyrpcerrors.SerializationError("decode response: %v", err)
		}
		return resp, nil
	case <-ctx.Done():
		c.futures.Cancel(id)
		return nil, joyrpcerrors.TimeoutError("call %d cancelled: %v", id, ctx.Err())
	}
}

// SendHeartbeat writes a heartbeat Frame using an ID from the reserved
// heartbeat range, bypassing the Call Future Registry entirely — the
// Heartbeat Engine tracks its own outstanding pings.
func (c *Channel) SendHeartbeat(id uint64, payload []byte) error {
	return c.send(transport.Frame{ID: id, Dir: transport.DirectionHeartbeat, Payload: payload})
}

// send enqueues f on the serialized write loop, returning an OverloadError
// if the queue is full and a TransportError if the write itself fails.
func (c *Channel) send(f transport.Frame) error {
	errCh := make(chan error, 1)
	select {
	case c.writeCh <- writeRequest{frame: f, errCh: errCh}:
	case <-c.closed:
		return joyrpcerrors.TransportError("channel is closed")
	default:
		return joyrpcerrors.OverloadError("channel send queue is full")
	}
	select {
	case err := <-errCh:
		return err
	case <-c.closed:
		return joyrpcerrors.TransportError("channel closed while flushing write")
	}
}

func (c *Channel) writeLoop() {
	for {
		select {
		case wr := <-c.writeCh:
			err := c.conn.WriteFrame(wr.frame)
			if err != nil {
				c.opts.Logger.Warn("channel write failed", zap.String("channelID", c.id), zap.Error(err), zap.Uint64("frameID", wr.frame.ID))
				c.setStatus(StatusUnavailable)
				wr.errCh <- joyrpcerrors.TransportError("write frame %d: %v", wr.frame.ID, err)
				continue
			}
			wr.errCh <- nil
		case <-c.closed:
			return
		}
	}
}

func (c *Channel) readLoop() {
	for {
		f, err := c.conn.ReadFrame()
		if err != nil {
			c.opts.Logger.Info("channel read loop exiting", zap.String("channelID", c.id), zap.Error(err))
			c.setStatus(StatusUnavailable)
			c.Close()
			return
		}
		if f.Dir == transport.DirectionHeartbeat {
			c.dispatchHeartbeat(f)
			continue
		}
		c.futures.Resolve(f)
	}
}

// dispatchHeartbeat forwards an inbound heartbeat Frame to whatever the
// Heartbeat Engine installed via SetHeartbeatHandler; the Channel itself
// knows nothing about heartbeat semantics.
func (c *Channel) dispatchHeartbeat(f transport.Frame) {
	c.mu.Lock()
	h := c.heartbeatHandler
	c.mu.Unlock()
	if h != nil {
		h(f)
	}
}

// SetHeartbeatHandler installs fn to receive inbound heartbeat Frames.
func (c *Channel) SetHeartbeatHandler(fn func(transport.Frame)) {
	c.mu.Lock()
	c.heartbeatHandler = fn
	c.mu.Unlock()
}

// Close closes the underlying Connection and fails every pending Call
// with a TransportClosedError. Close is idempotent.
func (c *Channel) Close() error {
	return c.closeWithReason(joyrpcerrors.TransportClosedError("channel %s closed", c.id))
}

// CloseDead closes the underlying Connection the same way Close does,
// but fails every pending Call with a TransportDeadError instead — used
// by the Heartbeat Engine when a peer stops answering, so a caller can
// tell a deliberate shutdown apart from a detected failure.
func (c *Channel) CloseDead() error {
	return c.closeWithReason(joyrpcerrors.TransportDeadError("channel %s missed too many heartbeats", c.id))
}

func (c *Channel) closeWithReason(reason error) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.setStatus(StatusUnavailable)
		c.futures.Close(reason)
		err = c.conn.Close()
		if c.wheelOwned {
			c.wheel.Close()
		}
	})
	return err
}
