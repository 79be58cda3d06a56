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

package channel

import (
	"context"
	"sync"
	"time"

	"github.com/lwbtt0915/joyrpc/api/transport"
	"github.com/lwbtt0915/joyrpc/joyrpcerrors"
	"github.com/lwbtt0915/joyrpc/pkg/backoff"
)

// managedChannel couples a Channel to its reconnect bookkeeping.
type managedChannel struct {
	mu       sync.Mutex
	channel  *Channel
	refs     int
	attempts uint
	address  string
}

// Manager pools one Channel per remote address, ref-counted across
// however many Refers address the same endpoint, and reconnects a
// Channel that goes unavailable using an exponential backoff.Strategy.
type Manager struct {
	dial     transport.ClientTransport
	codec    transport.Codec
	strategy backoff.Strategy
	opts     Options

	mu       sync.Mutex
	channels map[string]*managedChannel
	closed   bool
}

// NewManager returns a Manager that dials new Channels through dial, using
// codec to encode/decode Frames, reconnecting with strategy.
func NewManager(dial transport.ClientTransport, codec transport.Codec, strategy backoff.Strategy, opts Options) *Manager {
	opts.setDefaults()
	return &Manager{
		dial:     dial,
		codec:    codec,
		strategy: strategy,
		opts:     opts,
		channels: make(map[string]*managedChannel),
	}
}

// Acquire returns the pooled Channel for address, dialing one if none
// exists yet, and increments its reference count. Callers must call
// Release exactly once per successful Acquire.
func (m *Manager) Acquire(ctx context.Context, address string) (*Channel, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, joyrpcerrors.ShutdownError("channel manager is closed")
	}
	mc, ok := m.channels[address]
	if !ok {
		mc = &managedChannel{address: address}
		m.channels[address] = mc
	}
	m.mu.Unlock()

	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.channel != nil && mc.channel.Status() != StatusUnavailable {
		mc.refs++
		return mc.channel, nil
	}

	conn, err := m.dial.Dial(ctx, address)
	if err != nil {
		return nil, joyrpcerrors.TransportError("dial %s: %v", address, err)
	}

	ch := New(conn, m.codec, m.opts)
	ch.AddSubscriber(m)
	mc.channel = ch
	mc.attempts = 0
	mc.refs++
	return ch, nil
}

// Release decrements address's reference count. It does not close the
// Channel immediately — idle Channels are reaped by the caller's own
// policy (ChannelManager keeps the most recently used Channel warm rather
// than tearing down and re-dialing on every call).
func (m *Manager) Release(address string) {
	m.mu.Lock()
	mc, ok := m.channels[address]
	m.mu.Unlock()
	if !ok {
		return
	}
	mc.mu.Lock()
	if mc.refs > 0 {
		mc.refs--
	}
	mc.mu.Unlock()
}

// NotifyStatusChanged implements Subscriber. When a pooled Channel goes
// unavailable, the Manager schedules a reconnect with backoff instead of
// waiting for the next Acquire to notice.
func (m *Manager) NotifyStatusChanged(ch *Channel) {
	if ch.Status() != StatusUnavailable {
		return
	}

	m.mu.Lock()
	var mc *managedChannel
	for _, candidate := range m.channels {
		candidate.mu.Lock()
		same := candidate.channel == ch
		candidate.mu.Unlock()
		if same {
			mc = candidate
			break
		}
	}
	closed := m.closed
	m.mu.Unlock()

	if mc == nil || closed {
		return
	}

	go m.reconnect(mc)
}

func (m *Manager) reconnect(mc *managedChannel) {
	mc.mu.Lock()
	attempt := mc.attempts
	mc.attempts++
	address := mc.address
	mc.mu.Unlock()

	delay := m.strategy.Backoff().Duration(attempt)
	time.Sleep(delay)

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := m.dial.Dial(ctx, address)
	if err != nil {
		go m.reconnect(mc)
		return
	}

	ch := New(conn, m.codec, m.opts)
	ch.AddSubscriber(m)

	mc.mu.Lock()
	mc.channel = ch
	mc.attempts = 0
	mc.mu.Unlock()
}

// Close closes every pooled Channel and rejects further Acquire calls.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	channels := m.channels
	m.channels = nil
	m.mu.Unlock()

	var firstErr error
	for _, mc := range channels {
		mc.mu.Lock()
		ch := mc.channel
		mc.mu.Unlock()
		if ch == nil {
			continue
		}
		if err := ch.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
