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

package cluster

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lwbtt0915/joyrpc/api/registry"
	"github.com/lwbtt0915/joyrpc/joyrpcerrors"
	"github.com/lwbtt0915/joyrpc/joyurl"
	"github.com/lwbtt0915/joyrpc/pkg/lifecycle"
	"github.com/lwbtt0915/joyrpc/transport/channel"
)

// Options configures a Cluster.
type Options struct {
	// WarmUp is how long a newly-discovered Node is held ineligible,
	// counted from when the snapshot that added it is applied (so time
	// spent dialing its Channel counts against it), giving it time to warm
	// caches/connection pools before Route sends it live traffic. Zero
	// disables warm-up.
	WarmUp time.Duration

	// DialTimeout bounds how long a Node's initial connection attempt may
	// take. Defaults to 10 seconds.
	DialTimeout time.Duration

	// DrainTimeout bounds how long a removed Node stays CLOSING, giving
	// calls already in flight against it a chance to finish before it's
	// declared DEAD and its Channel reference released. Defaults to 5
	// seconds.
	DrainTimeout time.Duration

	Logger *zap.Logger
}

func (o *Options) setDefaults() {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// drainPollInterval is how often closeNode rechecks a draining Node's
// Channel for outstanding calls.
const drainPollInterval = 10 * time.Millisecond

// Cluster is the live, routable node set for one (interface, alias) pair.
// Admission is gated on both connection status and warm-up, and the node
// set itself is maintained by diffing registry snapshots by joyurl.URL
// rather than mutating from transport callbacks alone.
type Cluster struct {
	iface, alias string
	manager      *channel.Manager
	registry     registry.Registry
	opts         Options

	once *lifecycle.Once

	mu       sync.RWMutex
	nodes    map[string]*Node
	version  int64
	hasSnap  bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Cluster that is not yet connected; call Open to begin
// subscribing and dialing.
func New(manager *channel.Manager, reg registry.Registry, iface, alias string, opts Options) *Cluster {
	opts.setDefaults()
	return &Cluster{
		iface:    iface,
		alias:    alias,
		manager:  manager,
		registry: reg,
		opts:     opts,
		once:     lifecycle.NewOnce(),
		nodes:    make(map[string]*Node),
		done:     make(chan struct{}),
	}
}

// Open subscribes to the backing Registry and begins dialing discovered
// Nodes. Open is idempotent.
func (c *Cluster) Open() error {
	return c.once.Open(c.open)
}

func (c *Cluster) open() error {
	ctx, cancel := context.WithCancel(context.Background())
	snapshots, err := c.registry.SubscribeCluster(ctx, c.iface, c.alias)
	if err != nil {
		cancel()
		return joyrpcerrors.InitError("subscribe cluster %s/%s: %v", c.iface, c.alias, err)
	}
	c.cancel = cancel
	go c.run(snapshots)
	return nil
}

func (c *Cluster) run(snapshots <-chan registry.ClusterSnapshot) {
	defer close(c.done)
	for snap := range snapshots {
		c.applySnapshot(snap)
	}
}

// Close unsubscribes from the Registry and releases every Node's Channel
// back to the Manager. Close is idempotent.
func (c *Cluster) Close() error {
	return c.once.Close(c.close)
}

func (c *Cluster) close() error {
	if c.cancel != nil {
		c.cancel()
	}
	<-c.done

	c.mu.Lock()
	nodes := c.nodes
	c.nodes = make(map[string]*Node)
	c.mu.Unlock()

	for _, n := range nodes {
		n.setStatus(StatusClosing)
		n.setStatus(StatusDead)
		if n.Channel() != nil {
			c.manager.Release(n.URL().Address())
		}
	}
	return nil
}

// applySnapshot diffs snap against the current node set by URL identity,
// dropping a snapshot that is not newer than the last one applied.
func (c *Cluster) applySnapshot(snap registry.ClusterSnapshot) {
	c.mu.Lock()
	if c.hasSnap && snap.Version <= c.version {
		c.mu.Unlock()
		c.opts.Logger.Debug("discarding stale cluster snapshot",
			zap.Int64("snapshotVersion", snap.Version), zap.Int64("currentVersion", c.version))
		return
	}

	next := make(map[string]*joyurl.URL, len(snap.Nodes))
	for _, u := range snap.Nodes {
		next[u.Identifier()] = u
	}

	var removed []*Node
	for id, n := range c.nodes {
		if _, ok := next[id]; !ok {
			removed = append(removed, n)
			delete(c.nodes, id)
		}
	}

	var added []*Node
	warmUpUntil := time.Now().Add(c.opts.WarmUp)
	for id, u := range next {
		if _, ok := c.nodes[id]; ok {
			continue
		}
		n := newNode(u, warmUpUntil)
		c.nodes[id] = n
		added = append(added, n)
	}

	c.version = snap.Version
	c.hasSnap = true
	c.mu.Unlock()

	for _, n := range removed {
		go c.closeNode(n)
	}
	for _, n := range added {
		go c.connect(n)
	}
}

// closeNode transitions a Node dropped from the registry's node set to
// CLOSING, waits up to DrainTimeout for its Channel's outstanding calls
// to finish, then marks it DEAD and releases its Channel reference.
// Because a Channel may be shared across Nodes at the same address via
// the Manager's pool, Pending is only an approximation of this Node's
// own in-flight calls, not an exact count — but it's the only signal
// available without attributing individual calls to the Node that
// issued them.
func (c *Cluster) closeNode(n *Node) {
	n.setStatus(StatusClosing)

	deadline := time.Now().Add(c.opts.DrainTimeout)
	for {
		ch := n.Channel()
		if ch == nil || ch.Pending() == 0 || !time.Now().Before(deadline) {
			break
		}
		time.Sleep(drainPollInterval)
	}

	n.setStatus(StatusDead)
	if n.Channel() != nil {
		c.manager.Release(n.URL().Address())
	}
}

func (c *Cluster) connect(n *Node) {
	n.setStatus(StatusConnecting)

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.DialTimeout)
	defer cancel()

	ch, err := c.manager.Acquire(ctx, n.URL().Address())
	if err != nil {
		n.setStatus(StatusWeak)
		c.opts.Logger.Warn("failed to connect cluster node", zap.String("address", n.URL().Address()), zap.Error(err))
		return
	}

	ch.AddSubscriber(c)
	n.setChannel(ch)
	c.syncStatus(n, ch)
}

func (c *Cluster) syncStatus(n *Node, ch *channel.Channel) {
	switch ch.Status() {
	case channel.StatusAvailable:
		n.setStatus(StatusConnected)
	case channel.StatusUnavailable:
		n.setStatus(StatusWeak)
	default:
		n.setStatus(StatusConnecting)
	}
}

// NotifyStatusChanged implements transport/channel.Subscriber, keeping a
// Node's Status in sync with its underlying Channel's connection state
// across reconnects driven by the Manager.
func (c *Cluster) NotifyStatusChanged(ch *channel.Channel) {
	c.mu.RLock()
	var target *Node
	for _, n := range c.nodes {
		if n.Channel() == ch {
			target = n
			break
		}
	}
	c.mu.RUnlock()

	if target != nil {
		c.syncStatus(target, ch)
	}
}

// Nodes returns a snapshot of every Node currently tracked, regardless of
// eligibility.
func (c *Cluster) Nodes() []*Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		out = append(out, n)
	}
	return out
}

// Eligible returns every Node currently admissible for a LoadBalance to
// pick: connected and past its warm-up window.
func (c *Cluster) Eligible() []*Node {
	now := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		if n.Eligible(now) {
			out = append(out, n)
		}
	}
	return out
}

// Weak returns every Node currently WEAK: not admissible for ordinary
// traffic, but a candidate for a prober that wants to detect recovery
// without risking application calls.
func (c *Cluster) Weak() []*Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		if n.Probeable() {
			out = append(out, n)
		}
	}
	return out
}
