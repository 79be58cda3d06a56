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

// Package joyrpcerrors defines the runtime core's error taxonomy: a stable
// Code plus a Status that carries a redacted message and an optional
// correlation id, so every error family surfaces through one error type
// regardless of which component raised it.
package joyrpcerrors

import (
	"errors"
	"fmt"
)

// Status is a classified runtime error. It implements error and supports
// errors.Is/As through Unwrap.
type Status struct {
	code          Code
	correlationID string
	err           error
}

// Newf builds a new Status with a formatted message. Returns nil if code is
// CodeOK, matching yarpcerrors.Newf's convention that "no error" has no
// representation as a Status.
func Newf(code Code, format string, args ...interface{}) *Status {
	if code == CodeOK {
		return nil
	}
	var err error
	if len(args) == 0 {
		err = errors.New(format)
	} else {
		err = fmt.Errorf(format, args...)
	}
	return &Status{code: code, err: err}
}

// WithCorrelationID attaches a request-id:channel-id correlation token used
// for tracing across a request's hops.
func (s *Status) WithCorrelationID(id string) *Status {
	if s == nil {
		return nil
	}
	return &Status{code: s.code, correlationID: id, err: s.err}
}

// Code returns the status's error code, or CodeOK for a nil Status.
func (s *Status) Code() Code {
	if s == nil {
		return CodeOK
	}
	return s.code
}

// CorrelationID returns the request-id:channel-id correlation token, if any.
func (s *Status) CorrelationID() string {
	if s == nil {
		return ""
	}
	return s.correlationID
}

// Error implements error. The message never includes raw credentials or
// secrets; callers must not embed them in the format string.
func (s *Status) Error() string {
	if s.correlationID != "" {
		return fmt.Sprintf("code:%s correlation:%s message:%s", s.code, s.correlationID, s.err.Error())
	}
	return fmt.Sprintf("code:%s message:%s", s.code, s.err.Error())
}

// Unwrap supports errors.Is/As against the wrapped cause.
func (s *Status) Unwrap() error {
	if s == nil {
		return nil
	}
	return s.err
}

type statusCarrier interface {
	JoyRPCStatus() *Status
}

// JoyRPCStatus implements statusCarrier so wrapped errors can be recovered
// by FromError.
func (s *Status) JoyRPCStatus() *Status { return s }

// FromError classifies any error into a Status. A nil error returns nil; an
// error that already carries (or is) a Status returns it unchanged;
// anything else is wrapped as CodeUnknown.
func FromError(err error) *Status {
	if err == nil {
		return nil
	}
	var st *Status
	if errors.As(err, &st) {
		return st
	}
	var carrier statusCarrier
	if errors.As(err, &carrier) {
		return carrier.JoyRPCStatus()
	}
	return &Status{code: CodeUnknown, err: err}
}

// ErrorCode extracts the Code from any error, returning CodeOK for nil and
// CodeUnknown for an error with no recognizable Status.
func ErrorCode(err error) Code {
	return FromError(err).Code()
}

// IsRetriable reports whether the error's code belongs to the retriable
// set: transport-level failures, resource exhaustion signals, and a single
// attempt's deadline expiry, which a Route may legitimately re-attempt
// against a different Node. Route.Execute still stops retrying once the
// caller's own context is done.
func IsRetriable(err error) bool {
	switch ErrorCode(err) {
	case CodeUnavailable, CodeResourceExhausted, CodeDeadlineExceeded:
		return true
	default:
		return false
	}
}

// Named convenience constructors, one per error family this runtime raises.

// ConfigError reports an invalid or missing parameter, fatal at bind time.
func ConfigError(format string, args ...interface{}) *Status {
	return Newf(CodeInvalidArgument, format, args...)
}

// InitError reports that a resource failed to acquire before OPENED.
func InitError(format string, args ...interface{}) *Status {
	return Newf(CodeFailedPrecondition, format, args...)
}

// TransportError reports a connection-level failure; retriable by Route.
func TransportError(format string, args ...interface{}) *Status {
	return Newf(CodeUnavailable, format, args...)
}

// TransportClosedError reports that a Channel was closed out from under
// a pending Call by an explicit Close, not a detected failure.
func TransportClosedError(format string, args ...interface{}) *Status {
	return Newf(CodeUnavailable, format, args...)
}

// TransportDeadError reports that a Channel was closed by the Heartbeat
// Engine after too many consecutive missed heartbeats.
func TransportDeadError(format string, args ...interface{}) *Status {
	return Newf(CodeUnavailable, format, args...)
}

// NoSuchAlias reports that a server received a call for an
// (interface, alias) pair it has no Exporter bound to.
func NoSuchAlias(format string, args ...interface{}) *Status {
	return Newf(CodeNotFound, format, args...)
}

// NoSuchMethod reports that a server's Exporter has no method matching
// the call's requested name.
func NoSuchMethod(format string, args ...interface{}) *Status {
	return Newf(CodeNotFound, format, args...)
}

// SerializationError reports that encode/decode failed; never retried.
func SerializationError(format string, args ...interface{}) *Status {
	return Newf(CodeDataLoss, format, args...)
}

// TimeoutError reports that a call's deadline elapsed.
func TimeoutError(format string, args ...interface{}) *Status {
	return Newf(CodeDeadlineExceeded, format, args...)
}

// OverloadError reports a saturated queue or an over-cap payload.
func OverloadError(format string, args ...interface{}) *Status {
	return Newf(CodeResourceExhausted, format, args...)
}

// NoAvailableNode reports that a Cluster has no eligible Node.
func NoAvailableNode(format string, args ...interface{}) *Status {
	return Newf(CodeUnavailable, format, args...)
}

// RemoteError wraps an application exception propagated from the callee.
// It is never retried regardless of its wrapped code.
func RemoteError(format string, args ...interface{}) *Status {
	return Newf(CodeUnknown, format, args...)
}

// ShutdownError reports an operation attempted after close() or during
// process shutdown.
func ShutdownError(format string, args ...interface{}) *Status {
	return Newf(CodeFailedPrecondition, format, args...)
}
