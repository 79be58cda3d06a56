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

// Package file implements api/registry.Registry by polling a JSON
// document on disk. It satisfies the durable-subscription, version-
// filtered discovery contract without requiring a live ZooKeeper/etcd
// process, which makes it useful for local development and for
// integration tests that want real file-change churn instead of a
// purely in-memory fixture.
//
// The document shape is:
//
//	{
//	  "services": [
//	    {"interface": "echo.Echo", "alias": "", "nodes": ["tcp://127.0.0.1:9000/echo.Echo"], "params": {"timeout": "500ms"}}
//	  ]
//	}
package file

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lwbtt0915/joyrpc/api/registry"
	"github.com/lwbtt0915/joyrpc/joyurl"
)

const defaultInterval = 2 * time.Second

// fileDocument is the on-disk shape this Registry polls.
type fileDocument struct {
	Services []fileService `json:"services"`
}

type fileService struct {
	Interface string            `json:"interface"`
	Alias     string            `json:"alias"`
	Nodes     []string          `json:"nodes"`
	Params    map[string]string `json:"params"`
}

func key(iface, alias string) string { return iface + "|" + alias }

type clusterState struct {
	version int64
	nodes   map[string]*joyurl.URL
	subs    []chan registry.ClusterSnapshot
}

type configState struct {
	version int64
	params  map[string]string
	subs    []chan registry.ConfigSnapshot
}

// Options configures a Registry.
type Options struct {
	// Interval is the polling period. Defaults to 2 seconds.
	Interval time.Duration
	Logger   *zap.Logger
}

func (o *Options) setDefaults() {
	if o.Interval <= 0 {
		o.Interval = defaultInterval
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Registry polls path on a ticker and fans out a new versioned snapshot
// per interface/alias whenever that entry's node list or parameters
// change between polls. Register and Deregister are no-ops: the file is
// the source of truth, edited out of band.
type Registry struct {
	path string
	opts Options

	mu          sync.Mutex
	nextVersion int64
	clusters    map[string]*clusterState
	configs     map[string]*configState
	closed      bool

	stopCh  chan struct{}
	stopped sync.Once
	done    chan struct{}
}

// New returns a Registry that polls path. Start must be called before
// any snapshot becomes available beyond the initial empty one.
func New(path string, opts Options) *Registry {
	opts.setDefaults()
	return &Registry{
		path:     path,
		opts:     opts,
		clusters: make(map[string]*clusterState),
		configs:  make(map[string]*configState),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins polling in the background, after an initial synchronous
// poll so the first SubscribeCluster/SubscribeConfig call after Start
// returns sees live data rather than an empty seed snapshot.
func (r *Registry) Start() {
	r.poll()
	go r.run()
}

func (r *Registry) run() {
	defer close(r.done)
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.poll()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Registry) poll() {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		r.opts.Logger.Warn("file registry: read failed, retaining last known state", zap.Error(err))
		return
	}
	var doc fileDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		r.opts.Logger.Warn("file registry: invalid document, retaining last known state", zap.Error(err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	seen := make(map[string]bool, len(doc.Services))
	for _, svc := range doc.Services {
		k := key(svc.Interface, svc.Alias)
		seen[k] = true

		nodes := make(map[string]*joyurl.URL, len(svc.Nodes))
		for _, raw := range svc.Nodes {
			u, err := joyurl.Parse(raw)
			if err != nil {
				r.opts.Logger.Warn("file registry: skipping unparsable node", zap.String("url", raw), zap.Error(err))
				continue
			}
			nodes[u.Identifier()] = u
		}

		cs := r.clusterStateLocked(k)
		if !nodeSetsEqual(cs.nodes, nodes) {
			cs.nodes = nodes
			cs.version = r.allocateVersionLocked()
			r.notifyClusterLocked(cs)
		}

		cfg := r.configStateLocked(k)
		if !paramsEqual(cfg.params, svc.Params) {
			cfg.params = copyParams(svc.Params)
			cfg.version = r.allocateVersionLocked()
			r.notifyConfigLocked(cfg)
		}
	}

	// A key present in a prior poll but absent from this one has lost
	// its last node — push the resulting empty snapshot once.
	for k, cs := range r.clusters {
		if seen[k] || len(cs.nodes) == 0 {
			continue
		}
		cs.nodes = map[string]*joyurl.URL{}
		cs.version = r.allocateVersionLocked()
		r.notifyClusterLocked(cs)
	}
}

func (r *Registry) allocateVersionLocked() int64 {
	r.nextVersion++
	return r.nextVersion
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

// Register is a no-op: the backing file is the source of truth and is
// edited out of band, not through this API.
func (r *Registry) Register(context.Context, string, string, *joyurl.URL) error { return nil }

// Deregister is a no-op, for the same reason as Register.
func (r *Registry) Deregister(context.Context, string, string, *joyurl.URL) error { return nil }

// SubscribeCluster implements registry.Registry.
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
			return
		}
		removeClusterSub(cs, ch)
		close(ch)
	}()
	return ch, nil
}

// SubscribeConfig implements registry.Registry.
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

// Close stops polling and closes every outstanding subscription
// channel. Close is idempotent.
func (r *Registry) Close() error {
	r.stopped.Do(func() { close(r.stopCh) })
	<-r.done

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
	return registry.ConfigSnapshot{Version: cfg.version, Params: copyParams(cfg.params)}
}

func (r *Registry) notifyClusterLocked(cs *clusterState) {
	snap := cs.snapshot()
	for _, ch := range cs.subs {
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

func nodeSetsEqual(a, b map[string]*joyurl.URL) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if _, ok := b[id]; !ok {
			return false
		}
	}
	return true
}

func paramsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

func copyParams(params map[string]string) map[string]string {
	cp := make(map[string]string, len(params))
	for k, v := range params {
		cp[k] = v
	}
	return cp
}
