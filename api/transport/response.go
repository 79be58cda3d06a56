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

// Response is the application-level result of a call: either a Result
// value or an application-level Exception, carried separately from
// transport-family errors (those surface as a joyrpcerrors.Status returned
// alongside a nil Response).
type Response struct {
	// Result is the decoded return value, or nil for a void method or a
	// response carrying Exception.
	Result interface{}

	// Exception is set when the remote method itself returned or threw an
	// application-level error, as opposed to a transport failure. It is
	// carried as data, not as the Go error returned by an Invoker, so a
	// Filter can distinguish "the call completed with a business error"
	// from "the call itself failed."
	Exception error

	// Attachments are opaque key/value metadata returned alongside Result.
	Attachments Headers
}
