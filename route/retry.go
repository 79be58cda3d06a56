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

package route

import (
	"context"
	"time"

	"github.com/lwbtt0915/joyrpc/pkg/backoff"
)

// RetryPolicy bounds how many times Route.Execute retries a retriable
// failure and how long it waits between attempts, ported from the
// teacher's x/retry middleware's attempt-and-backoff loop and reground
// against joyrpcerrors.IsRetriable instead of a yarpcerrors code
// allowlist.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first;
	// zero means exactly one attempt with no retries.
	MaxAttempts uint

	// Strategy paces the wait between attempts. A nil Strategy makes
	// Execute retry immediately.
	Strategy backoff.Strategy
}

func (p RetryPolicy) attempts() uint {
	if p.MaxAttempts == 0 {
		return 1
	}
	return p.MaxAttempts
}

// wait blocks for this attempt's backoff duration, or returns false
// immediately if ctx is done first.
func (p RetryPolicy) wait(ctx context.Context, attempt uint) bool {
	if p.Strategy == nil {
		return ctx.Err() == nil
	}

	d := p.Strategy.Backoff().Duration(attempt)
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
