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

// Package redis implements api/registry.Registry over a Redis server:
// the node set for one interface/alias lives in a Hash, keyed by node
// identifier, and a Pub/Sub channel carries a change notification every
// time Register/Deregister touches that Hash. Subscribers re-read the
// Hash on every notification rather than trying to replay individual
// field diffs, keeping the contract simple at the cost of a round trip
// per change.
package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lwbtt0915/joyrpc/api/registry"
	"github.com/lwbtt0915/joyrpc/joyurl"
)

func clusterKey(iface, alias string) string { return fmt.Sprintf("joyrpc:cluster:%s:%s", iface, alias) }
func clusterChannel(iface, alias string) string {
	return fmt.Sprintf("joyrpc:cluster:%s:%s:changed", iface, alias)
}
func configKey(iface, alias string) string { return fmt.Sprintf("joyrpc:config:%s:%s", iface, alias) }
func configChannel(iface, alias string) string {
	return fmt.Sprintf("joyrpc:config:%s:%s:changed", iface, alias)
}

// Options configures a Registry.
type Options struct {
	Logger *zap.Logger
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Registry is an api/registry.Registry backed by a Redis client. Every
// subscription owns its own Pub/Sub connection; versions are a process-
// local monotonic counter, not derived from any Redis-side sequence, so
// they are only comparable across subscriptions opened against the same
// Registry instance.
type Registry struct {
	client *redis.Client
	opts   Options

	mu          sync.Mutex
	nextVersion int64
	closed      bool
	subs        map[*redis.PubSub]struct{}
}

// New wraps an already-configured go-redis client. The caller owns
// constructing client (TLS, auth, pool sizing); Close on the Registry
// also closes client.
func New(client *redis.Client, opts Options) *Registry {
	opts.setDefaults()
	return &Registry{client: client, opts: opts, subs: make(map[*redis.PubSub]struct{})}
}

// trackSub registers sub so Close can force it closed even if the
// subscriber's ctx never fires; it returns false if the Registry is
// already closed, in which case the caller must close sub itself.
func (r *Registry) trackSub(sub *redis.PubSub) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.subs[sub] = struct{}{}
	return true
}

func (r *Registry) untrackSub(sub *redis.PubSub) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, sub)
}

// Register implements registry.Registry by writing node into the
// interface/alias Hash and publishing a change notification.
func (r *Registry) Register(ctx context.Context, iface, alias string, node *joyurl.URL) error {
	if err := r.client.HSet(ctx, clusterKey(iface, alias), node.Identifier(), node.String()).Err(); err != nil {
		return fmt.Errorf("redis registry: register: %w", err)
	}
	return r.client.Publish(ctx, clusterChannel(iface, alias), "changed").Err()
}

// Deregister implements registry.Registry.
func (r *Registry) Deregister(ctx context.Context, iface, alias string, node *joyurl.URL) error {
	if err := r.client.HDel(ctx, clusterKey(iface, alias), node.Identifier()).Err(); err != nil {
		return fmt.Errorf("redis registry: deregister: %w", err)
	}
	return r.client.Publish(ctx, clusterChannel(iface, alias), "changed").Err()
}

// SetConfig republishes iface/alias's parameters wholesale — the
// programmatic equivalent of an operator running HSET/HDEL by hand
// against the config Hash, provided so tests and the single-process
// demo do not need a redis-cli round trip of their own.
func (r *Registry) SetConfig(ctx context.Context, iface, alias string, params map[string]string) error {
	key := configKey(iface, alias)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis registry: set config: %w", err)
	}
	if len(params) > 0 {
		fields := make(map[string]interface{}, len(params))
		for k, v := range params {
			fields[k] = v
		}
		if err := r.client.HSet(ctx, key, fields).Err(); err != nil {
			return fmt.Errorf("redis registry: set config: %w", err)
		}
	}
	return r.client.Publish(ctx, configChannel(iface, alias), "changed").Err()
}

// SubscribeCluster implements registry.Registry.
func (r *Registry) SubscribeCluster(ctx context.Context, iface, alias string) (<-chan registry.ClusterSnapshot, error) {
	out := make(chan registry.ClusterSnapshot, 1)
	snap, err := r.readClusterSnapshot(ctx, iface, alias)
	if err != nil {
		close(out)
		return nil, err
	}
	out <- snap

	sub := r.client.Subscribe(ctx, clusterChannel(iface, alias))
	if !r.trackSub(sub) {
		sub.Close()
		close(out)
		return out, nil
	}
	go func() {
		defer close(out)
		defer sub.Close()
		defer r.untrackSub(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-sub.Channel():
				if !ok {
					return
				}
				snap, err := r.readClusterSnapshot(ctx, iface, alias)
				if err != nil {
					r.opts.Logger.Warn("redis registry: re-read cluster snapshot failed", zap.Error(err))
					continue
				}
				sendClusterSnapshot(out, snap)
			}
		}
	}()
	return out, nil
}

// SubscribeConfig implements registry.Registry.
func (r *Registry) SubscribeConfig(ctx context.Context, iface, alias string) (<-chan registry.ConfigSnapshot, error) {
	out := make(chan registry.ConfigSnapshot, 1)
	snap, err := r.readConfigSnapshot(ctx, iface, alias)
	if err != nil {
		close(out)
		return nil, err
	}
	out <- snap

	sub := r.client.Subscribe(ctx, configChannel(iface, alias))
	if !r.trackSub(sub) {
		sub.Close()
		close(out)
		return out, nil
	}
	go func() {
		defer close(out)
		defer sub.Close()
		defer r.untrackSub(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-sub.Channel():
				if !ok {
					return
				}
				snap, err := r.readConfigSnapshot(ctx, iface, alias)
				if err != nil {
					r.opts.Logger.Warn("redis registry: re-read config snapshot failed", zap.Error(err))
					continue
				}
				sendConfigSnapshot(out, snap)
			}
		}
	}()
	return out, nil
}

func (r *Registry) readClusterSnapshot(ctx context.Context, iface, alias string) (registry.ClusterSnapshot, error) {
	fields, err := r.client.HGetAll(ctx, clusterKey(iface, alias)).Result()
	if err != nil {
		return registry.ClusterSnapshot{}, fmt.Errorf("redis registry: read cluster: %w", err)
	}
	nodes := make([]*joyurl.URL, 0, len(fields))
	for id, raw := range fields {
		u, err := joyurl.Parse(raw)
		if err != nil {
			r.opts.Logger.Warn("redis registry: skipping unparsable node", zap.String("id", id), zap.Error(err))
			continue
		}
		nodes = append(nodes, u)
	}
	return registry.ClusterSnapshot{Version: r.allocateVersion(), Nodes: nodes}, nil
}

func (r *Registry) readConfigSnapshot(ctx context.Context, iface, alias string) (registry.ConfigSnapshot, error) {
	params, err := r.client.HGetAll(ctx, configKey(iface, alias)).Result()
	if err != nil {
		return registry.ConfigSnapshot{}, fmt.Errorf("redis registry: read config: %w", err)
	}
	return registry.ConfigSnapshot{Version: r.allocateVersion(), Params: params}, nil
}

func (r *Registry) allocateVersion() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextVersion++
	return r.nextVersion
}

func sendClusterSnapshot(out chan registry.ClusterSnapshot, snap registry.ClusterSnapshot) {
	select {
	case out <- snap:
	default:
		select {
		case <-out:
		default:
		}
		out <- snap
	}
}

func sendConfigSnapshot(out chan registry.ConfigSnapshot, snap registry.ConfigSnapshot) {
	select {
	case out <- snap:
	default:
		select {
		case <-out:
		default:
		}
		out <- snap
	}
}

// Close implements registry.Registry: every outstanding subscription's
// Pub/Sub connection is force-closed (which ends its delivery goroutine
// and closes its snapshot channel) before the underlying client itself
// closes, satisfying the ctx-or-Close closing contract even for a
// subscriber whose ctx never fires.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := make([]*redis.PubSub, 0, len(r.subs))
	for sub := range r.subs {
		subs = append(subs, sub)
	}
	r.subs = nil
	r.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	return r.client.Close()
}
