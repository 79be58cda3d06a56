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

// Package plugin implements a process-wide named-extension registry: an
// extension declares a kind and a name and registers an instance exactly
// once, the way yarpcconfig.Configurator registers TransportSpecs by name.
// In this tree only the gob and json codecs register themselves (from
// their init functions); registries, transports, load-balancers, filters
// and health doctors are constructed directly and do not register here.
package plugin

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is a named-extension lookup keyed by capability kind and name.
// Registration is load-once: a (kind, name) pair may not be replaced once
// set, which keeps plugin wiring deterministic across a process's
// lifetime.
type Registry struct {
	mu   sync.RWMutex
	kind map[string]map[string]entry
}

type entry struct {
	priority int
	value    interface{}
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{kind: make(map[string]map[string]entry)}
}

// Global is the process-wide plugin registry. Most callers should use it
// directly; tests that need isolation may construct their own Registry.
var Global = New()

// Register adds value under (kind, name) with the given priority. Higher
// priority sorts first from Names. Register panics if (kind, name) is
// already registered — plugin wiring mistakes should fail loudly at
// startup, not silently overwrite an existing extension.
func (r *Registry) Register(kind, name string, priority int, value interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	names, ok := r.kind[kind]
	if !ok {
		names = make(map[string]entry)
		r.kind[kind] = names
	}
	if _, exists := names[name]; exists {
		panic(fmt.Sprintf("plugin: %q is already registered for kind %q", name, kind))
	}
	names[name] = entry{priority: priority, value: value}
}

// Lookup returns the registered value for (kind, name), or ok=false if
// nothing is registered there.
func (r *Registry) Lookup(kind, name string) (interface{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names, ok := r.kind[kind]
	if !ok {
		return nil, false
	}
	e, ok := names[name]
	return e.value, ok
}

// MustLookup is Lookup but panics when the extension is missing, for call
// sites where a missing plugin is a startup-time configuration error
// rather than a recoverable condition.
func (r *Registry) MustLookup(kind, name string) interface{} {
	v, ok := r.Lookup(kind, name)
	if !ok {
		panic(fmt.Sprintf("plugin: no %q registered for kind %q", name, kind))
	}
	return v
}

// Names returns the registered names for kind, ordered by descending
// priority and then lexically.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := r.kind[kind]
	out := make([]string, 0, len(names))
	for name := range names {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool {
		ei, ej := names[out[i]], names[out[j]]
		if ei.priority != ej.priority {
			return ei.priority > ej.priority
		}
		return out[i] < out[j]
	})
	return out
}
