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

package joyrpcerrors

import "strconv"

// Code is a stable, wire-safe error classification for the runtime core.
// The values mirror the grpc/yarpc status code space so a codec can map
// them onto an existing wire error representation without inventing a new
// one.
type Code int

const (
	// CodeOK means no error.
	CodeOK Code = 0
	// CodeCancelled means the caller cancelled the call.
	CodeCancelled Code = 1
	// CodeUnknown covers errors that did not originate from this package.
	CodeUnknown Code = 2
	// CodeInvalidArgument maps ConfigError: a parameter was missing or malformed.
	CodeInvalidArgument Code = 3
	// CodeDeadlineExceeded maps TimeoutError.
	CodeDeadlineExceeded Code = 4
	// CodeNotFound covers NoSuchAlias / NoSuchMethod.
	CodeNotFound Code = 5
	// CodeFailedPrecondition maps InitError and ShutdownError.
	CodeFailedPrecondition Code = 6
	// CodeResourceExhausted maps OverloadError.
	CodeResourceExhausted Code = 7
	// CodeUnavailable maps TransportError and NoAvailableNode.
	CodeUnavailable Code = 8
	// CodeDataLoss maps SerializationError.
	CodeDataLoss Code = 9
	// CodeInternal is used for invariant violations surfaced as bugs.
	CodeInternal Code = 10
)

var codeToName = map[Code]string{
	CodeOK:                 "ok",
	CodeCancelled:          "cancelled",
	CodeUnknown:            "unknown",
	CodeInvalidArgument:    "invalid-argument",
	CodeDeadlineExceeded:   "deadline-exceeded",
	CodeNotFound:           "not-found",
	CodeFailedPrecondition: "failed-precondition",
	CodeResourceExhausted:  "resource-exhausted",
	CodeUnavailable:        "unavailable",
	CodeDataLoss:           "data-loss",
	CodeInternal:           "internal",
}

// String returns the lower-kebab name of the code, or its integer value if
// the code is not recognized.
func (c Code) String() string {
	if name, ok := codeToName[c]; ok {
		return name
	}
	return strconv.Itoa(int(c))
}
