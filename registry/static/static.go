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

// Package static implements api/registry.Registry entirely in memory: a
// fixed or programmatically updated node list per interface/alias, with
// no external dependency. It exists for unit tests and the
// single-process demo, where a real discovery backend would be
// overkill.
package static

import (
	"context"
	"sync"

	"github.com/lwbtt0915/joyrpc/api/registry"
	"github.com/lwbtt0915/joyrpc/joyurl"
)

func key(iface, alias string) string { return iface + "|" + alias }

type clusterState struct {
	version int64
	nodes   map[string]*joyurl.URL // keyed by URL.Identifier()
	subs    []chan registry.ClusterSnapshot
}

type configState struct {
	version int64
	params  map[string]string
	subs    []chan registry.ConfigSnapshot
}

// Registry is an in-memory api/registry.Registry. The zero value is not
// usable; construct with New.
type Registry struct {
	mu       sync.Mutex
	clusters map[string]*clusterState
	configs  map[string]*configState
	closed   bool
}

// New returns an empty Registry. WithNodes seeds a fixed node list for
// one interface/alias, matching the "fixed list" use this package is
// for.
func New(opts ...Option) *Registry {
	r := &Registry{
		clusters: make(map[string]*clusterState),
		configs:  make(map[string]*configState),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithNodes seeds iface/alias with a fixed node list at version 1,
// before any subscriber attaches.
func WithNodes(iface, alias string, nodes ...*joyurl.URL) Option {
	return func(r *Registry) {
		cs := r.clusterStateLocked(key(iface, alias))
		for _, n := range nodes {
			cs.nodes[n.Identifier()] = n
		}
		cs.version++
	}
}

// WithConfig seeds iface/alias's configuration parameters at version 1.
func WithConfig(iface, alias string, params map[string]string) Option {
	return func(r *Registry) {
		cfg := r.configStateLocked(key(iface, alias))
		for k, v := range params {
			cfg.params[k] = v
		}
		cfg.version++
	}
}

func (r *Registry) clusterStateLocked(k string) *clusterState {
	cs, ok := r.clusters[k]
	if !ok {
		cs = &clusterState{nodes: make(map[string]*joyurl.URL)}
		r.clusters[k] = cs
	}
	return cs
}

func (r *Registry) configStateLocked(k string) *configState {
	cfg, ok := r.configs[k]
	if !ok {
		cfg = &configState{params: make(map[string]string)}
		r.configs[k] = cfg
	}
	return cfg
}

// Register implements registry.Registry. It is idempotent: registering
// the same node again is a no-op beyond the version bump every mutation
// produces.
func (r *Registry) Register(_ context.Context, iface, alias string, node *joyurl.URL) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	cs := r.clusterStateLocked(key(iface, alias))
	cs.nodes[node.Identifier()] = node
	cs.version++
	r.notifyClusterLocked(cs)
	return nil
}

// Deregister implements registry.Registry.
func (r *Registry) Deregister(_ context.Context, iface, alias string, node *joyurl.URL) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	cs, ok := r.clusters[key(iface, alias)]
	if !ok {
		return nil
	}
	if _, present := cs.nodes[node.Identifier()]; !present {
		return nil
	}
	delete(cs.nodes, node.Identifier())
	cs.version++
	r.notifyClusterLocked(cs)
	return nil
}

// SetConfig replaces iface/alias's configuration parameters wholesale
// and fans the new version out to subscribers. It is the programmatic
// equivalent of a dynamic-config push a real backend would deliver.
func (r *Registry) SetConfig(iface, alias string, params map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	cfg := r.configStateLocked(key(iface, alias))
	cfg.params = make(map[string]string, len(params))
	for k, v := range params {
		cfg.params[k] = v
	}
	cfg.version++
	r.notifyConfigLocked(cfg)
}

// SubscribeCluster implements registry.Registry. The returned channel
// immediately receives the current snapshot (version 0, empty, if
// nothing has registered yet), then one snapshot per subsequent change.
func (r *Registry) SubscribeCluster(ctx context.Context, iface, alias string) (<-chan registry.ClusterSnapshot, error) {
	r.mu.Lock()
	cs := r.clusterStateLocked(key(iface, alias))
	ch := make(chan registry.ClusterSnapshot, 1)
	ch <- cs.snapshot()
	cs.subs = append(cs.subs, ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			// Close already closed every subscriber channel.
			return
		}
		removeClusterSub(cs, ch)
		close(ch)
	}()
	return ch, nil
}

// SubscribeConfig implements registry.Registry, with the same delivery
// contract as SubscribeCluster.
func (r *Registry) SubscribeConfig(ctx context.Context, iface, alias string) (<-chan registry.ConfigSnapshot, error) {
	r.mu.Lock()
	cfg := r.configStateLocked(key(iface, alias))
	ch := make(chan registry.ConfigSnapshot, 1)
	ch <- cfg.snapshot()
	cfg.subs = append(cfg.subs, ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			return
		}
		removeConfigSub(cfg, ch)
		close(ch)
	}()
	return ch, nil
}

// Close implements registry.Registry: every outstanding subscription
// channel closes, and further Register/Deregister/SetConfig calls are
// no-ops.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	for _, cs := range r.clusters {
		for _, ch := range cs.subs {
			close(ch)
		}
		cs.subs = nil
	}
	for _, cfg := range r.configs {
		for _, ch := range cfg.subs {
			close(ch)
		}
		cfg.subs = nil
	}
	return nil
}

func (cs *clusterState) snapshot() registry.ClusterSnapshot {
	nodes := make([]*joyurl.URL, 0, len(cs.nodes))
	for _, n := range cs.nodes {
		nodes = append(nodes, n)
	}
	return registry.ClusterSnapshot{Version: cs.version, Nodes: nodes}
}

func (cfg *configState) snapshot() registry.ConfigSnapshot {
	params := make(map[string]string, len(cfg.params))
	for k, v := range cfg.params {
		params[k] = v
	}
	return registry.ConfigSnapshot{Version: cfg.version, Params: params}
}

func (r *Registry) notifyClusterLocked(cs *clusterState) {
	snap := cs.snapshot()
	for _, ch := range cs.subs {
		select {
		case ch <- snap:
		default:
			// Subscriber hasn't drained the previous snapshot yet; drop
			// it and make room, since only the latest version matters.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func (r *Registry) notifyConfigLocked(cfg *configState) {
	snap := cfg.snapshot()
	for _, ch := range cfg.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func removeClusterSub(cs *clusterState, target chan registry.ClusterSnapshot) {
	for i, ch := range cs.subs {
		if ch == target {
			cs.subs = append(cs.subs[:i], cs.subs[i+1:]...)
			return
		}
	}
}

func removeConfigSub(cfg *configState, target chan registry.ConfigSnapshot) {
	for i, ch := range cfg.subs {
		if ch == target {
			cfg.subs = append(cfg.subs[:i], cfg.subs[i+1:]...)
			return
		}
	}
}
