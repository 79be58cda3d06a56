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

// Package gobcodec implements transport.Codec over encoding/gob, the
// default wire format for callers that don't need cross-language
// interop — Args and Result travel as Go values, so both ends must agree
// on concrete types ahead of time (gob.Register for anything passed
// through an interface{} field).
package gobcodec

import (
	"bytes"
	"encoding/gob"
	"time"

	"github.com/lwbtt0915/joyrpc/api/transport"
	"github.com/lwbtt0915/joyrpc/joyrpcerrors"
	"github.com/lwbtt0915/joyrpc/plugin"
)

// Name is the plugin registry name this codec is registered under.
const Name = "gob"

func init() {
	plugin.Global.Register("codec", Name, 0, Codec{})
}

// wireRequest is gob's on-the-wire shape for a Request: Headers' fields are
// unexported, so it is flattened to plain maps before encoding.
type wireRequest struct {
	Service     string
	Interface   string
	Alias       string
	Method      string
	ParamTypes  []string
	Args        []interface{}
	Attachments map[string]string
	DeadlineNS  int64
}

type wireResponse struct {
	Result      interface{}
	Exception   string
	HasError    bool
	ErrorCode   int
	Attachments map[string]string
}

// Codec is a transport.Codec backed by encoding/gob. The zero value is
// ready to use.
type Codec struct{}

var _ transport.Codec = Codec{}

// Name returns "gob".
func (Codec) Name() string { return Name }

// EncodeRequest gob-encodes req into a Frame payload.
func (Codec) EncodeRequest(req *transport.Request) ([]byte, error) {
	wr := wireRequest{
		Service:     req.Service,
		Interface:   req.Interface,
		Alias:       req.Alias,
		Method:      req.Method,
		ParamTypes:  req.ParamTypes,
		Args:        req.Args,
		Attachments: req.Attachments.OriginalItems(),
	}
	if !req.Deadline.IsZero() {
		wr.DeadlineNS = req.Deadline.UnixNano()
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(wr); err != nil {
		return nil, joyrpcerrors.SerializationError("gob encode request: %v", err)
	}
	return buf.Bytes(), nil
}

// DecodeRequest reverses EncodeRequest.
func (Codec) DecodeRequest(data []byte) (*transport.Request, error) {
	var wr wireRequest
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wr); err != nil {
		return nil, joyrpcerrors.SerializationError("gob decode request: %v", err)
	}
	req := &transport.Request{
		Service:     wr.Service,
		Interface:   wr.Interface,
		Alias:       wr.Alias,
		Method:      wr.Method,
		ParamTypes:  wr.ParamTypes,
		Args:        wr.Args,
		Attachments: transport.HeadersFromMap(wr.Attachments),
	}
	if wr.DeadlineNS != 0 {
		req.Deadline = time.Unix(0, wr.DeadlineNS)
	}
	return req, nil
}

// EncodeResponse gob-encodes resp into a Frame payload. An Exception is
// carried as its classified Code plus message, not as a gob-encoded error
// value, since arbitrary error types aren't gob-registrable by the codec.
func (Codec) EncodeResponse(resp *transport.Response) ([]byte, error) {
	wr := wireResponse{
		Result:      resp.Result,
		Attachments: resp.Attachments.OriginalItems(),
	}
	if resp.Exception != nil {
		wr.HasError = true
		wr.Exception = resp.Exception.Error()
		wr.ErrorCode = int(joyrpcerrors.ErrorCode(resp.Exception))
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(wr); err != nil {
		return nil, joyrpcerrors.SerializationError("gob encode response: %v", err)
	}
	return buf.Bytes(), nil
}

// DecodeResponse reverses EncodeResponse.
func (Codec) DecodeResponse(data []byte) (*transport.Response, error) {
	var wr wireResponse
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wr); err != nil {
		return nil, joyrpcerrors.SerializationError("gob decode response: %v", err)
	}
	resp := &transport.Response{
		Result:      wr.Result,
		Attachments: transport.HeadersFromMap(wr.Attachments),
	}
	if wr.HasError {
		resp.Exception = joyrpcerrors.Newf(joyrpcerrors.Code(wr.ErrorCode), wr.Exception)
	}
	return resp, nil
}
