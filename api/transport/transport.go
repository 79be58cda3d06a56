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

import "context"

// Direction distinguishes a request Frame from its response on the wire.
type Direction uint8

const (
	// DirectionRequest marks a Frame carrying a call's arguments.
	DirectionRequest Direction = iota
	// DirectionResponse marks a Frame carrying a call's result.
	DirectionResponse
	// DirectionHeartbeat marks a Frame belonging to the Heartbeat Engine,
	// not an application call; its ID is drawn from the reserved heartbeat
	// ID range and never reaches the Call Future Registry.
	DirectionHeartbeat
)

// Flag bits carried on a Frame.
type Flag uint8

const (
	// FlagOneway indicates the sender does not expect a Response Frame.
	FlagOneway Flag = 1 << iota
	// FlagException indicates the Frame's Payload decodes to an
	// application-level exception rather than a normal result.
	FlagException
)

// Frame is the literal unit a Channel reads and writes: an ID used to
// correlate a response to its request in the Call Future Registry, a
// Direction, a Flags bitset, and an already-encoded Payload produced by a
// Codec.
type Frame struct {
	ID      uint64
	Dir     Direction
	Flags   Flag
	Payload []byte
}

// Codec turns application-level Requests/Responses into wire Payload bytes
// and back. Implementations register themselves in the plugin registry
// under kind "codec".
type Codec interface {
	Name() string
	EncodeRequest(req *Request) ([]byte, error)
	DecodeRequest(data []byte) (*Request, error)
	EncodeResponse(resp *Response) ([]byte, error)
	DecodeResponse(data []byte) (*Response, error)
}

// Connection is a single duplex stream of Frames, e.g. a TCP connection.
// It is the thing a Channel wraps with request-tracking and heartbeats.
type Connection interface {
	WriteFrame(f Frame) error
	ReadFrame() (Frame, error)
	Close() error
	RemoteAddress() string
}

// ClientTransport dials outbound Connections to a remote address.
type ClientTransport interface {
	Dial(ctx context.Context, address string) (Connection, error)
}

// ServerTransport accepts inbound Connections on a listen address and
// dispatches the Frames read from them to a Handler.
type ServerTransport interface {
	Lifecycle

	// ListenAddress returns the address the transport is bound to, valid
	// only once Start has returned.
	ListenAddress() string
}
