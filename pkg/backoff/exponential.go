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

package backoff

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// ExponentialOption configures an Exponential backoff strategy.
type ExponentialOption func(*exponentialOptions)

type exponentialOptions struct {
	base, min, max time.Duration
	rand           *rand.Rand
	minMaxDiff     int64
}

func (e exponentialOptions) validate() (err error) {
	if e.base <= 0 {
		err = multierr.Append(err, errors.New("invalid base for exponential backoff, need greater than zero"))
	}
	if e.min < 0 {
		err = multierr.Append(err, errors.New("invalid min for exponential backoff, need greater than or equal to zero"))
	}
	if e.max < 0 {
		err = multierr.Append(err, errors.New("invalid max for exponential backoff, need greater than or equal to zero"))
	}
	if e.max < e.min {
		err = multierr.Append(err, errors.New("exponential max value must be greater than min value"))
	}
	return err
}

var defaultExponentialOpts = exponentialOptions{
	base: 200 * time.Millisecond,
	max:  60 * time.Second,
	rand: rand.New(rand.NewSource(time.Now().UnixNano())),
}

// BaseJump sets the "jump" the exponential backoff strategy uses, i.e. the
// delay after the first failed attempt.
func BaseJump(t time.Duration) ExponentialOption {
	return func(options *exponentialOptions) {
		options.base = t
	}
}

// MaxBackoff sets the absolute max delay ever returned.
func MaxBackoff(t time.Duration) ExponentialOption {
	return func(options *exponentialOptions) {
		options.max = t
	}
}

// MinBackoff sets the absolute min delay ever returned.
func MinBackoff(t time.Duration) ExponentialOption {
	return func(options *exponentialOptions) {
		options.min = t
	}
}

func randGenerator(rand *rand.Rand) ExponentialOption {
	return func(options *exponentialOptions) {
		options.rand = rand
	}
}

// Exponential is a full-jitter exponential backoff Strategy
// (https://aws.amazon.com/blogs/architecture/exponential-backoff-and-jitter/),
// with an added Min/Max clamp. The range of returned durations is contained
// in the closed [Min, Max] interval. Exponential is stateless and safe for
// concurrent use; Backoff() returns the Exponential itself, and Duration
// serializes access to the rand source, which instances may share.
type Exponential struct {
	opts exponentialOptions
}

// NewExponential returns a new Exponential backoff Strategy.
func NewExponential(opts ...ExponentialOption) (*Exponential, error) {
	options := defaultExponentialOpts
	for _, opt := range opts {
		opt(&options)
	}

	if err := options.validate(); err != nil {
		return nil, err
	}
	options.minMaxDiff = options.max.Nanoseconds() - options.min.Nanoseconds()

	return &Exponential{opts: options}, nil
}

// Backoff returns a Backoff using Exponential's configuration.
func (e *Exponential) Backoff() Backoff {
	return e
}

// Duration takes an attempt number and returns the duration the caller
// should wait before retrying.
func (e *Exponential) Duration(attempts uint) time.Duration {
	minlessBackoff := (1 << attempts) * e.opts.base.Nanoseconds()

	if minlessBackoff > e.opts.minMaxDiff || minlessBackoff <= 0 {
		minlessBackoff = e.opts.minMaxDiff
	}

	randMu.Lock()
	jitter := e.opts.rand.Int63n(minlessBackoff + 1)
	randMu.Unlock()
	return e.opts.min + time.Duration(jitter)
}

// randMu guards every rand source used by Duration; *rand.Rand is not safe
// for concurrent use and defaultExponentialOpts shares one across instances.
var randMu sync.Mutex
