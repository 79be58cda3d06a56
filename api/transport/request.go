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
	"time"

	"github.com/lwbtt0915/joyrpc/joyrpcerrors"
)

// Request is the application-level representation of a call, independent
// of wire format. A Codec turns a Request's Args into a Frame's Payload and
// back.
type Request struct {
	// Service is the logical service name being called, e.g. "UserService".
	Service string

	// Interface is the fully-qualified contract name the service
	// implements, e.g. "com.example.UserService". Interface, not Service,
	// is what Cluster and the Registry key node sets by.
	Interface string

	// Alias distinguishes multiple independently-versioned exports of the
	// same Interface, analogous to a group/tag in the registry. May be
	// empty for the default alias.
	Alias string

	// Method is the name of the method being invoked.
	Method string

	// ParamTypes carries the canonical type name of each positional
	// argument, used by the server side to resolve method overloads.
	ParamTypes []string

	// Args are the positional arguments to Method, in application types
	// (not yet encoded).
	Args []interface{}

	// Attachments are opaque key/value metadata carried alongside the call,
	// analogous to HTTP headers.
	Attachments Headers

	// Deadline is the absolute time by which a response must arrive. The
	// zero Time means no deadline.
	Deadline time.Time
}

// ValidateRequest validates req, returning a ConfigError-family error
// listing what is missing if it is invalid.
func ValidateRequest(req *Request) error {
	var missing []string
	if req.Interface == "" {
		missing = append(missing, "interface")
	}
	if req.Method == "" {
		missing = append(missing, "method")
	}
	if len(missing) > 0 {
		return joyrpcerrors.ConfigError("invalid request: missing %v", missing)
	}
	return nil
}
