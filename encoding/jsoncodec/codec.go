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

// Package jsoncodec implements transport.Codec over JSON, for callers that
// need a human-inspectable wire format or cross-language interop with a
// non-Go peer. Args/Result travel as plain JSON values and decode into
// generic Go values (map[string]interface{}, []interface{}, float64,
// string, bool); this codec does not convert them into a method's
// concrete parameter types, since it does not know the method signature.
package jsoncodec

import (
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/lwbtt0915/joyrpc/api/transport"
	"github.com/lwbtt0915/joyrpc/joyrpcerrors"
	"github.com/lwbtt0915/joyrpc/plugin"
)

// Name is the plugin registry name this codec is registered under.
const Name = "json"

var api = jsoniter.ConfigCompatibleWithStandardLibrary

func init() {
	plugin.Global.Register("codec", Name, 0, Codec{})
}

type wireRequest struct {
	Service     string             `json:"service,omitempty"`
	Interface   string             `json:"interface"`
	Alias       string             `json:"alias,omitempty"`
	Method      string             `json:"method"`
	ParamTypes  []string           `json:"paramTypes,omitempty"`
	Args        []interface{}      `json:"args,omitempty"`
	Attachments map[string]string  `json:"attachments,omitempty"`
	DeadlineNS  int64              `json:"deadlineNs,omitempty"`
}

type wireResponse struct {
	Result      interface{}       `json:"result,omitempty"`
	Exception   string            `json:"exception,omitempty"`
	HasError    bool              `json:"hasError,omitempty"`
	ErrorCode   int               `json:"errorCode,omitempty"`
	Attachments map[string]string `json:"attachments,omitempty"`
}

// Codec is a transport.Codec backed by jsoniter. The zero value is ready
// to use.
type Codec struct{}

var _ transport.Codec = Codec{}

// Name returns "json".
func (Codec) Name() string { return Name }

// EncodeRequest JSON-encodes req into a Frame payload.
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
	data, err := api.Marshal(wr)
	if err != nil {
		return nil, joyrpcerrors.SerializationError("json encode request: %v", err)
	}
	return data, nil
}

// DecodeRequest reverses EncodeRequest.
func (Codec) DecodeRequest(data []byte) (*transport.Request, error) {
	var wr wireRequest
	if err := api.Unmarshal(data, &wr); err != nil {
		return nil, joyrpcerrors.SerializationError("json decode request: %v", err)
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

// EncodeResponse JSON-encodes resp into a Frame payload. An Exception is
// carried as its classified Code plus message, matching the gob codec's
// convention so a Route can switch codecs without losing error fidelity.
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
	data, err := api.Marshal(wr)
	if err != nil {
		return nil, joyrpcerrors.SerializationError("json encode response: %v", err)
	}
	return data, nil
}

// DecodeResponse reverses EncodeResponse.
func (Codec) DecodeResponse(data []byte) (*transport.Response, error) {
	var wr wireResponse
	if err := api.Unmarshal(data, &wr); err != nil {
		return nil, joyrpcerrors.SerializationError("json decode response: %v", err)
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
