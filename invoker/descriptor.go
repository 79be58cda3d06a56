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

// Package invoker binds a caller's local proxy (Refer) or a server's
// published implementation (Exporter) onto the rest of the runtime core:
// a Filter Chain, a Route, and a Cluster for the caller side, a Filter
// Chain and a transport Listener for the server side.
package invoker

import (
	"reflect"
	"sync"
	"time"

	"github.com/uber-go/mapdecode"

	"github.com/lwbtt0915/joyrpc/joyurl"
)

// MethodSpec carries the per-method overrides a service's URL parameters
// may declare, decoded once per (reflect.Type, method) pair and reused
// for the life of the process.
type MethodSpec struct {
	// Timeout is the method's decoded "timeout" override. It is only
	// recorded here: Refer.Call and Exporter dispatch do not read it, so a
	// call is bounded by the caller's context deadline alone.
	Timeout time.Duration `mapdecode:"timeout"`

	// Validate is the method's decoded "validate" override. Defaults to
	// true. It is only recorded here: Refer.Call runs ValidateRequest on
	// every call whatever this field says.
	Validate bool `mapdecode:"validate"`

	// Cacheable marks a method whose Response may be cached keyed on its
	// arguments. The Descriptor only records the flag; filter.CacheFilter
	// does the caching when its Should predicate is backed by this field.
	Cacheable bool `mapdecode:"cacheable"`
}

// Descriptor is the resolved view of one interface: its URL, the set of
// method names the concrete implementation actually exports, and a
// MethodSpec per method name that declared an override in the URL's
// parameters (e.g. "find.timeout=500ms").
type Descriptor struct {
	URL     *joyurl.URL
	Methods map[string]MethodSpec
	// Known holds every method name reflection found on the implementation
	// that produced this Descriptor. A Descriptor built from a nil
	// implementation has an empty Known set; HasMethod treats that as
	// default-permissive rather than rejecting every call, since no
	// reflection was ever possible to check against.
	Known map[string]struct{}
}

// MethodSpec returns the method's override, or the zero MethodSpec with
// Validate defaulted true if the method declared no overrides.
func (d *Descriptor) MethodSpec(method string) MethodSpec {
	if spec, ok := d.Methods[method]; ok {
		return spec
	}
	return MethodSpec{Validate: true}
}

// HasMethod reports whether method is known to exist on the
// implementation this Descriptor was built from. A Descriptor with no
// Known set at all (built from a nil implementation) answers true for
// everything, since it was never able to enumerate methods to check
// against.
func (d *Descriptor) HasMethod(method string) bool {
	if len(d.Known) == 0 {
		return true
	}
	_, ok := d.Known[method]
	return ok
}

// DescriptorCache builds a Descriptor per reflect.Type at most once,
// caching reflection-derived metadata behind a sync.Map keyed by type
// rather than re-deriving it per call.
type DescriptorCache struct {
	cache sync.Map // reflect.Type -> *Descriptor
}

// NewDescriptorCache returns an empty cache.
func NewDescriptorCache() *DescriptorCache {
	return &DescriptorCache{}
}

// Get returns the Descriptor for iface's concrete type against url,
// building and storing it on the first call for that type.
func (c *DescriptorCache) Get(iface interface{}, url *joyurl.URL) (*Descriptor, error) {
	t := reflect.TypeOf(iface)
	if cached, ok := c.cache.Load(t); ok {
		return cached.(*Descriptor), nil
	}

	d, err := buildDescriptor(t, url)
	if err != nil {
		return nil, err
	}
	actual, _ := c.cache.LoadOrStore(t, d)
	return actual.(*Descriptor), nil
}

// buildDescriptor decodes every "<method>.<field>" URL parameter into a
// MethodSpec per method declared by t, using mapdecode the same way
// joyurl.URL.ParamsAsInterfaceMap documents decoding method-level
// overrides out of a URL's parameter map.
func buildDescriptor(t reflect.Type, url *joyurl.URL) (*Descriptor, error) {
	d := &Descriptor{URL: url, Methods: map[string]MethodSpec{}, Known: map[string]struct{}{}}
	if t == nil {
		return d, nil
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct && t.Kind() != reflect.Interface {
		return d, nil
	}

	var params map[string]string
	if url != nil {
		params = url.Params()
	}

	numMethod := t.NumMethod()
	for i := 0; i < numMethod; i++ {
		name := t.Method(i).Name
		d.Known[name] = struct{}{}

		raw := methodOverrides(params, name)
		if len(raw) == 0 {
			continue
		}
		spec := MethodSpec{Validate: true}
		if err := mapdecode.Decode(&spec, raw); err != nil {
			return nil, err
		}
		d.Methods[name] = spec
	}
	return d, nil
}

// methodOverrides extracts every "<method>.<field>=value" parameter
// belonging to method, stripping its prefix so mapdecode sees plain
// field names.
func methodOverrides(params map[string]string, method string) map[string]interface{} {
	prefix := method + "."
	out := map[string]interface{}{}
	for k, v := range params {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			out[k[len(prefix):]] = v
		}
	}
	return out
}
