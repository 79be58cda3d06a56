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

// Package etcd implements api/registry.Registry over etcd's key/value
// store and watch API. A node lives at one key under a per-interface/
// alias prefix; Subscribe reads the prefix once for the initial
// snapshot, then rides etcd's own Watch (keyed off the read's revision,
// so no update between the read and the watch starting is missed) for
// every subsequent change, using the etcd revision directly as the
// snapshot version — etcd already guarantees it is monotonic.
package etcd

import (
	"context"
	"fmt"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/lwbtt0915/joyrpc/api/registry"
	"github.com/lwbtt0915/joyrpc/joyurl"
)

func clusterPrefix(iface, alias string) string { return fmt.Sprintf("/joyrpc/cluster/%s/%s/", iface, alias) }
func clusterKey(iface, alias, id string) string { return clusterPrefix(iface, alias) + id }
func configPrefix(iface, alias string) string  { return fmt.Sprintf("/joyrpc/config/%s/%s/", iface, alias) }
func configKey(iface, alias, param string) string { return configPrefix(iface, alias) + param }

// Options configures a Registry.
type Options struct {
	Logger *zap.Logger
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Registry is an api/registry.Registry backed by an etcd client.
type Registry struct {
	client *clientv3.Client
	opts   Options
}

// New wraps an already-configured etcd client. The caller owns
// constructing client (endpoints, TLS, auth); Close on the Registry
// also closes client.
func New(client *clientv3.Client, opts Options) *Registry {
	opts.setDefaults()
	return &Registry{client: client, opts: opts}
}

// Register implements registry.Registry by writing node's canonical
// form to its key under interface/alias's cluster prefix.
func (r *Registry) Register(ctx context.Context, iface, alias string, node *joyurl.URL) error {
	_, err := r.client.Put(ctx, clusterKey(iface, alias, node.Identifier()), node.String())
	if err != nil {
		return fmt.Errorf("etcd registry: register: %w", err)
	}
	return nil
}

// Deregister implements registry.Registry.
func (r *Registry) Deregister(ctx context.Context, iface, alias string, node *joyurl.URL) error {
	_, err := r.client.Delete(ctx, clusterKey(iface, alias, node.Identifier()))
	if err != nil {
		return fmt.Errorf("etcd registry: deregister: %w", err)
	}
	return nil
}

// SetConfig writes params under interface/alias's config prefix,
// deleting any existing key not present in the new set, the
// programmatic equivalent of an operator running etcdctl put/del by
// hand.
func (r *Registry) SetConfig(ctx context.Context, iface, alias string, params map[string]string) error {
	existing, err := r.client.Get(ctx, configPrefix(iface, alias), clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return fmt.Errorf("etcd registry: set config: %w", err)
	}
	prefix := configPrefix(iface, alias)
	for _, kv := range existing.Kvs {
		k := string(kv.Key)
		if _, keep := params[k[len(prefix):]]; !keep {
			if _, err := r.client.Delete(ctx, k); err != nil {
				return fmt.Errorf("etcd registry: set config: %w", err)
			}
		}
	}
	for k, v := range params {
		if _, err := r.client.Put(ctx, configKey(iface, alias, k), v); err != nil {
			return fmt.Errorf("etcd registry: set config: %w", err)
		}
	}
	return nil
}

// SubscribeCluster implements registry.Registry.
func (r *Registry) SubscribeCluster(ctx context.Context, iface, alias string) (<-chan registry.ClusterSnapshot, error) {
	prefix := clusterPrefix(iface, alias)
	resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("etcd registry: subscribe cluster: %w", err)
	}

	out := make(chan registry.ClusterSnapshot, 1)
	out <- clusterSnapshotFromKVs(r.opts.Logger, resp.Header.Revision, resp.Kvs)

	watchCh := r.client.Watch(ctx, prefix, clientv3.WithPrefix(), clientv3.WithRev(resp.Header.Revision+1))
	go func() {
		defer close(out)
		for wresp := range watchCh {
			if wresp.Err() != nil {
				r.opts.Logger.Warn("etcd registry: watch error, re-reading prefix", zap.Error(wresp.Err()))
				resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix())
				if err != nil {
					continue
				}
				sendClusterSnapshot(out, clusterSnapshotFromKVs(r.opts.Logger, resp.Header.Revision, resp.Kvs))
				continue
			}
			resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix())
			if err != nil {
				r.opts.Logger.Warn("etcd registry: re-read after watch event failed", zap.Error(err))
				continue
			}
			sendClusterSnapshot(out, clusterSnapshotFromKVs(r.opts.Logger, resp.Header.Revision, resp.Kvs))
		}
	}()
	return out, nil
}

// SubscribeConfig implements registry.Registry.
func (r *Registry) SubscribeConfig(ctx context.Context, iface, alias string) (<-chan registry.ConfigSnapshot, error) {
	prefix := configPrefix(iface, alias)
	resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("etcd registry: subscribe config: %w", err)
	}

	out := make(chan registry.ConfigSnapshot, 1)
	out <- configSnapshotFromKVs(prefix, resp.Header.Revision, resp.Kvs)

	watchCh := r.client.Watch(ctx, prefix, clientv3.WithPrefix(), clientv3.WithRev(resp.Header.Revision+1))
	go func() {
		defer close(out)
		for range watchCh {
			resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix())
			if err != nil {
				r.opts.Logger.Warn("etcd registry: re-read after watch event failed", zap.Error(err))
				continue
			}
			sendConfigSnapshot(out, configSnapshotFromKVs(prefix, resp.Header.Revision, resp.Kvs))
		}
	}()
	return out, nil
}

func clusterSnapshotFromKVs(logger *zap.Logger, revision int64, kvs []*mvccpb.KeyValue) registry.ClusterSnapshot {
	nodes := make([]*joyurl.URL, 0, len(kvs))
	for _, kv := range kvs {
		u, err := joyurl.Parse(string(kv.Value))
		if err != nil {
			logger.Warn("etcd registry: skipping unparsable node", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		nodes = append(nodes, u)
	}
	return registry.ClusterSnapshot{Version: revision, Nodes: nodes}
}

func configSnapshotFromKVs(prefix string, revision int64, kvs []*mvccpb.KeyValue) registry.ConfigSnapshot {
	params := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		k := string(kv.Key)
		params[k[len(prefix):]] = string(kv.Value)
	}
	return registry.ConfigSnapshot{Version: revision, Params: params}
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

// Close implements registry.Registry by closing the underlying client.
// Outstanding Watches are tied to the ctx each Subscribe call was given
// and end on their own when that ctx is done; etcd's client has no
// separate per-watch Close.
func (r *Registry) Close() error {
	return r.client.Close()
}
