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

package joyurl

import "sync"

// Cache interns URLs by their canonical string so repeated construction of
// the same address+parameters collapses to one shared instance, matching
// the "immutable, process-wide cache key" role URL plays throughout the
// spec (ChannelManager keys, Cluster node identity).
type Cache struct {
	entries sync.Map // canonical string -> *URL
}

// Global is the process-wide URL cache. Components may use it directly or
// construct their own Cache for test isolation.
var Global = &Cache{}

// Intern returns the cached URL equal to u, storing u if this is the first
// time its canonical form has been seen.
func (c *Cache) Intern(u *URL) *URL {
	actual, _ := c.entries.LoadOrStore(u.String(), u)
	return actual.(*URL)
}

// Lookup returns the cached URL for a canonical string, if present.
func (c *Cache) Lookup(canonical string) (*URL, bool) {
	v, ok := c.entries.Load(canonical)
	if !ok {
		return nil, false
	}
	return v.(*URL), true
}
