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

// Package registry defines the contract between the runtime and a
// service-discovery backend: publishing a node's own address, and
// subscribing to the live node set and dynamic configuration of some
// other interface.
package registry

import (
	"context"

	"github.com/lwbtt0915/joyrpc/joyurl"
)

// ClusterSnapshot is a versioned view of the node set backing one
// interface/alias pair. A Registry pushes a new snapshot every time the
// backing set changes; Version increases monotonically per Registry
// implementation so a Cluster can discard a stale, out-of-order snapshot
// delivered after a newer one.
type ClusterSnapshot struct {
	Version int64
	Nodes   []*joyurl.URL
}

// ConfigSnapshot is a versioned view of the dynamic configuration
// parameters published for one interface/alias pair (timeouts, weights,
// routing rules) independent of its node set.
type ConfigSnapshot struct {
	Version int64
	Params  map[string]string
}

// Registry is the contract a concrete discovery backend (static list,
// file, redis, etcd) implements.
type Registry interface {
	// Register publishes node as available to serve interface/alias.
	// Register must be idempotent; calling it again with the same node
	// refreshes its TTL where the backend has one.
	Register(ctx context.Context, iface, alias string, node *joyurl.URL) error

	// Deregister withdraws node from interface/alias. Deregister on a node
	// that was never registered is a no-op, not an error.
	Deregister(ctx context.Context, iface, alias string, node *joyurl.URL) error

	// SubscribeCluster returns a channel of ClusterSnapshots for
	// interface/alias. The first snapshot arrives as soon as the backend
	// has one; subsequent snapshots arrive on every change. The channel
	// closes when ctx is done or Close is called.
	SubscribeCluster(ctx context.Context, iface, alias string) (<-chan ClusterSnapshot, error)

	// SubscribeConfig returns a channel of ConfigSnapshots for
	// interface/alias, with the same delivery contract as
	// SubscribeCluster.
	SubscribeConfig(ctx context.Context, iface, alias string) (<-chan ConfigSnapshot, error)

	// Close releases the Registry's resources (connections, background
	// goroutines). Subscriptions opened against it stop delivering and
	// their channels close.
	Close() error
}
