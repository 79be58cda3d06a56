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

package tcp

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/lwbtt0915/joyrpc/api/transport"
	"github.com/lwbtt0915/joyrpc/joyrpcerrors"
)

// frameHeaderSize is ID(8) + Dir(1) + Flags(1) + PayloadLen(4).
const frameHeaderSize = 8 + 1 + 1 + 4

// maxFramePayload bounds a single Frame's Payload, rejecting a corrupt or
// hostile length prefix before it drives an unbounded allocation.
const maxFramePayload = 64 << 20

// frameConn implements transport.Connection over a net.Conn, framing each
// Frame with a fixed 14-byte header ahead of its Payload. Writes are
// serialized with a mutex since both the Channel write loop and, on the
// server side, multiple concurrent handler goroutines may write to the
// same connection.
type frameConn struct {
	conn net.Conn
	r    *bufio.Reader

	writeMu sync.Mutex
}

func newFrameConn(conn net.Conn) *frameConn {
	return &frameConn{conn: conn, r: bufio.NewReader(conn)}
}

var _ transport.Connection = (*frameConn)(nil)

func (c *frameConn) WriteFrame(f transport.Frame) error {
	if len(f.Payload) > maxFramePayload {
		return joyrpcerrors.SerializationError("frame payload %d exceeds max %d", len(f.Payload), maxFramePayload)
	}

	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint64(header[0:8], f.ID)
	header[8] = byte(f.Dir)
	header[9] = byte(f.Flags)
	binary.BigEndian.PutUint32(header[10:14], uint32(len(f.Payload)))

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.conn.Write(header[:]); err != nil {
		return joyrpcerrors.TransportError("write frame header: %v", err)
	}
	if len(f.Payload) > 0 {
		if _, err := c.conn.Write(f.Payload); err != nil {
			return joyrpcerrors.TransportError("write frame payload: %v", err)
		}
	}
	return nil
}

func (c *frameConn) ReadFrame() (transport.Frame, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		return transport.Frame{}, joyrpcerrors.TransportError("read frame header: %v", err)
	}

	id := binary.BigEndian.Uint64(header[0:8])
	dir := transport.Direction(header[8])
	flags := transport.Flag(header[9])
	payloadLen := binary.BigEndian.Uint32(header[10:14])
	if payloadLen > maxFramePayload {
		return transport.Frame{}, joyrpcerrors.SerializationError("frame payload %d exceeds max %d", payloadLen, maxFramePayload)
	}

	var payload []byte
	if payloadLen > 0 {
		payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(c.r, payload); err != nil {
			return transport.Frame{}, joyrpcerrors.TransportError("read frame payload: %v", err)
		}
	}

	return transport.Frame{ID: id, Dir: dir, Flags: flags, Payload: payload}, nil
}

func (c *frameConn) Close() error {
	return c.conn.Close()
}

func (c *frameConn) RemoteAddress() string {
	return c.conn.RemoteAddr().String()
}
