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

package invoker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lwbtt0915/joyrpc/api/registry"
	"github.com/lwbtt0915/joyrpc/api/transport"
	"github.com/lwbtt0915/joyrpc/cluster"
	"github.com/lwbtt0915/joyrpc/filter"
	"github.com/lwbtt0915/joyrpc/joyrpcerrors"
	"github.com/lwbtt0915/joyrpc/pkg/lifecycle"
	"github.com/lwbtt0915/joyrpc/pkg/shutdown"
	"github.com/lwbtt0915/joyrpc/route"
	"github.com/lwbtt0915/joyrpc/transport/channel"
)

// referShutdownPriority is the priority Refers register their Close hook
// at: below exporterShutdownPriority, so outbound calls stop being issued
// before an Exporter stops accepting them.
const referShutdownPriority = 10

// defaultOpenWait bounds how long Call waits for a Refer to finish
// opening when the caller's own context carries no deadline.
const defaultOpenWait = 5 * time.Second

// Refer is the caller side of one (interface, alias) binding: a Cluster
// it keeps open, and a Route it drives every call through, wrapped in a
// Chain of non-terminal Filters built fresh around whichever Node the
// Route picks for a given attempt.
type Refer struct {
	// Interface is the contract name this Refer calls against. Required.
	Interface string

	// Alias distinguishes multiple exports of Interface. May be empty.
	Alias string

	// Manager dials and pools Channels for the Cluster's discovered
	// Nodes. Required.
	Manager *channel.Manager

	// Registry is the discovery backend the Cluster subscribes to.
	// Required.
	Registry registry.Registry

	// ClusterOptions configures the Cluster's warm-up and dial timeout.
	ClusterOptions cluster.Options

	// Chain holds the non-terminal Filters — metrics, tracing, and any
	// user Filters — run around every attempt. It must not contain a
	// filter.NetworkFilter: the target Channel differs per retry attempt,
	// so Call builds its own terminal Invoker per attempt instead.
	Chain *filter.Chain

	// Route picks a Node per attempt and drives the retry loop. Required.
	Route *route.Route

	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	// OpenWait bounds how long Call waits for Open to finish when ctx
	// carries no deadline of its own. Defaults to 5 seconds.
	OpenWait time.Duration

	// Shutdown, if set, has this Refer's Close registered against it as a
	// hook during Open, so a process-wide shutdown.Coordinator.Shutdown
	// call releases this Refer's Channels without the caller having to
	// track every Refer it opened.
	Shutdown *shutdown.Coordinator

	once    *lifecycle.Once
	cluster *cluster.Cluster
}

// NewRefer returns a Refer that is not yet open; call Open before the
// first Call.
func NewRefer(iface, alias string, manager *channel.Manager, reg registry.Registry, clusterOpts cluster.Options, chain *filter.Chain, rt *route.Route) *Refer {
	return &Refer{
		Interface:      iface,
		Alias:          alias,
		Manager:        manager,
		Registry:       reg,
		ClusterOptions: clusterOpts,
		Chain:          chain,
		Route:          rt,
		once:           lifecycle.NewOnce(),
	}
}

func (r *Refer) setDefaults() {
	if r.Logger == nil {
		r.Logger = zap.NewNop()
	}
	if r.OpenWait <= 0 {
		r.OpenWait = defaultOpenWait
	}
	if r.Chain == nil {
		r.Chain = filter.NewChain()
	}
}

// Open starts the backing Cluster's discovery subscription and begins
// dialing discovered Nodes. Open is idempotent.
func (r *Refer) Open() error {
	r.setDefaults()
	return r.once.Open(r.open)
}

func (r *Refer) open() error {
	r.cluster = cluster.New(r.Manager, r.Registry, r.Interface, r.Alias, r.ClusterOptions)
	if err := r.cluster.Open(); err != nil {
		return err
	}
	if r.Shutdown != nil {
		r.Shutdown.AddFunc(referShutdownPriority, func(ctx context.Context) error { return r.Close() })
	}
	return nil
}

// Close stops the Cluster's subscription and releases its Channels.
// Close is idempotent.
func (r *Refer) Close() error {
	return r.once.Close(r.close)
}

func (r *Refer) close() error {
	if r.cluster == nil {
		return nil
	}
	return r.cluster.Close()
}

// Call validates req, waits for Open to have completed, and drives it
// through Route against the Cluster's current eligible Nodes. Each retry
// attempt builds a fresh terminal Invoker closed over that attempt's
// picked Node, so Chain's Filters run around every attempt while the
// network hop itself always targets the Node the Route just picked.
func (r *Refer) Call(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	req.Interface = r.Interface
	req.Alias = r.Alias
	if err := transport.ValidateRequest(req); err != nil {
		return nil, err
	}

	if r.once.IsClosing() {
		return nil, joyrpcerrors.TransportClosedError("refer: %s/%s is closing", r.Interface, r.Alias)
	}
	if err := r.waitOpened(ctx); err != nil {
		return nil, err
	}

	invoke := func(ctx context.Context, node *cluster.Node) (*transport.Response, error) {
		ch := node.Channel()
		terminal := func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			if ch == nil {
				return nil, joyrpcerrors.TransportError("refer: node %s has no channel", node.URL().Address())
			}
			return ch.Call(ctx, req)
		}
		return r.Chain.Build(terminal)(ctx, req)
	}

	return r.Route.Execute(ctx, r.cluster.Eligible, req, invoke)
}

// waitOpened blocks until the Refer has finished opening, bounding the
// wait by ctx's own deadline if it has one, or OpenWait otherwise, since
// lifecycle.Once.WaitUntilOpened requires a context carrying a deadline.
func (r *Refer) waitOpened(ctx context.Context) error {
	if _, ok := ctx.Deadline(); ok {
		return r.once.WaitUntilOpened(ctx)
	}
	waitCtx, cancel := context.WithTimeout(ctx, r.OpenWait)
	defer cancel()
	return r.once.WaitUntilOpened(waitCtx)
}
