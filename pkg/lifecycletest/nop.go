// Copyright (c) 2019 Uber Technologies, Inc.
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

// Package lifecycletest provides no-op lifecycle.Once doubles for tests
// that need an Invoker-shaped dependency without real open/close work.
package lifecycletest

import "github.com/lwbtt0915/joyrpc/pkg/lifecycle"

// NewNop returns a new one-time no-op lifecycle.
func NewNop() *Nop {
	return &Nop{once: lifecycle.NewOnce()}
}

// Nop is a no-op implementation of a lifecycle Once. It advances state but
// performs no actions.
type Nop struct {
	once *lifecycle.Once
}

// Open advances the Nop to Opened without side-effects.
func (n *Nop) Open() error {
	return n.once.Open(nil)
}

// Close advances the Nop to Closed without side-effects.
func (n *Nop) Close() error {
	return n.once.Close(nil)
}

// IsOpened returns the Nop lifecycle's open state.
func (n *Nop) IsOpened() bool {
	return n.once.IsOpened()
}
