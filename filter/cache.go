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

package filter

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/lwbtt0915/joyrpc/api/transport"
)

type cacheEntry struct {
	resp    *transport.Response
	expires time.Time
}

// CacheFilter memoizes successful responses for methods an
// invoker.Descriptor marked Cacheable, keyed on interface/alias/method
// plus a %v-formatted dump of Args. It is opt-in per method: Should
// decides whether a given Request is eligible before CacheFilter ever
// touches the cache.
type CacheFilter struct {
	// Should reports whether req's Method is cacheable, typically backed
	// by invoker.Descriptor.MethodSpec(req.Method).Cacheable.
	Should func(req *transport.Request) bool

	// TTL bounds how long a cached Response stays eligible to serve a
	// later identical Request. Zero disables expiry.
	TTL time.Duration

	cache *lru.Cache
}

var _ Filter = (*CacheFilter)(nil)

// NewCacheFilter returns a CacheFilter holding at most size entries,
// evicting the least recently used entry once full.
func NewCacheFilter(size int, ttl time.Duration, should func(req *transport.Request) bool) (*CacheFilter, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &CacheFilter{Should: should, TTL: ttl, cache: cache}, nil
}

// Name identifies this Filter in logs and Chain ordering.
func (f *CacheFilter) Name() string { return "cache" }

// Priority runs CacheFilter ahead of metrics and tracing, so a cache hit
// short-circuits before either observes a network hop that never happens.
func (f *CacheFilter) Priority() int { return -10 }

// Invoke serves req from the cache when eligible and still fresh,
// otherwise calls next and, for a successful response to an eligible
// Request, stores it before returning.
func (f *CacheFilter) Invoke(ctx context.Context, req *transport.Request, next Invoker) (*transport.Response, error) {
	if f.Should == nil || !f.Should(req) {
		return next(ctx, req)
	}

	key := cacheKey(req)
	if v, ok := f.cache.Get(key); ok {
		entry := v.(cacheEntry)
		if f.TTL <= 0 || time.Now().Before(entry.expires) {
			return entry.resp, nil
		}
		f.cache.Remove(key)
	}

	resp, err := next(ctx, req)
	if err != nil {
		return resp, err
	}
	f.cache.Add(key, cacheEntry{resp: resp, expires: time.Now().Add(f.TTL)})
	return resp, nil
}

func cacheKey(req *transport.Request) string {
	return fmt.Sprintf("%s/%s/%s/%v", req.Interface, req.Alias, req.Method, req.Args)
}
