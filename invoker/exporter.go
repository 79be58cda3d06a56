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

	"go.uber.org/zap"

	"github.com/lwbtt0915/joyrpc/api/transport"
	"github.com/lwbtt0915/joyrpc/filter"
	"github.com/lwbtt0915/joyrpc/joyrpcerrors"
	"github.com/lwbtt0915/joyrpc/joyurl"
	"github.com/lwbtt0915/joyrpc/pkg/lifecycle"
	"github.com/lwbtt0915/joyrpc/pkg/shutdown"
)

// exporterShutdownPriority is the priority Exporters register their Close
// hook at: above referShutdownPriority, so a process stops accepting new
// inbound work after it has already stopped issuing outbound calls.
const exporterShutdownPriority = 20

// Binder is a transport.ServerTransport a concrete transport exposes its
// own Handler-setting method on, letting an Exporter bind its dispatch
// chain in without the core transport.ServerTransport interface needing
// to grow a setter every implementation must carry. *transport/tcp.Listener
// satisfies Binder structurally via its SetHandler method.
type Binder interface {
	transport.ServerTransport
	SetHandler(transport.Handler)
}

// Exporter is the server side of one (interface, alias) binding: it wraps
// a user's Handler in an Executor's admission control and a Chain of
// Filters, then binds the result into a Binder so inbound calls reach it.
// It is the inbound counterpart of Refer: a dynamic Chain around a fixed
// terminal, here the user's own Handler rather than a Channel.
type Exporter struct {
	// Interface is the contract name this Exporter publishes. Required.
	Interface string

	// Alias distinguishes multiple exports of Interface. May be empty.
	Alias string

	// Handler answers dispatched calls. Required.
	Handler transport.Handler

	// Impl is the concrete service implementation behind Handler, used
	// only to reflect its method set so dispatch can reject an unknown
	// method with NoSuchMethod before ever reaching Handler. Optional: a
	// nil Impl skips the method-existence check entirely, for a Handler
	// whose Interface has no single Go type backing it.
	Impl interface{}

	// URL carries this Exporter's per-method parameter overrides, used
	// alongside Impl to build a Descriptor. Optional.
	URL *joyurl.URL

	// Chain holds the Filters run around every dispatch — metrics,
	// tracing, validation, and any user Filters. A nil Chain runs none.
	Chain *filter.Chain

	// Executor bounds dispatch concurrency. A nil Executor runs every
	// dispatch inline, unbounded.
	Executor *Executor

	// Transport is bound to this Exporter's dispatch chain on Open, and
	// started. Required.
	Transport Binder

	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	// Shutdown, if set, has this Exporter's Close registered against it as
	// a hook during Open, so a process-wide shutdown.Coordinator.Shutdown
	// call stops this Exporter's Transport without the caller having to
	// track every Exporter it opened.
	Shutdown *shutdown.Coordinator

	once        *lifecycle.Once
	descriptors *DescriptorCache
	descriptor  *Descriptor
}

// NewExporter returns an Exporter that is not yet open; call Open to bind
// and start Transport.
func NewExporter(iface, alias string, handler transport.Handler, chain *filter.Chain, executor *Executor, tr Binder) *Exporter {
	return &Exporter{
		Interface: iface,
		Alias:     alias,
		Handler:   handler,
		Chain:     chain,
		Executor:  executor,
		Transport: tr,
		once:      lifecycle.NewOnce(),
	}
}

func (e *Exporter) setDefaults() {
	if e.Logger == nil {
		e.Logger = zap.NewNop()
	}
	if e.Chain == nil {
		e.Chain = filter.NewChain()
	}
	if e.Executor == nil {
		e.Executor = NewExecutor(ExecutorOptions{})
	}
}

// Open validates the Exporter's Handler is set, binds its dispatch chain
// into Transport, and starts Transport. Open is idempotent.
func (e *Exporter) Open() error {
	e.setDefaults()
	return e.once.Open(e.open)
}

func (e *Exporter) open() error {
	if e.Handler == nil {
		return joyrpcerrors.ConfigError("exporter: Handler is required for %s/%s", e.Interface, e.Alias)
	}
	if e.Impl != nil {
		e.descriptors = NewDescriptorCache()
		d, err := e.descriptors.Get(e.Impl, e.URL)
		if err != nil {
			return err
		}
		e.descriptor = d
	}
	e.Transport.SetHandler(transport.HandlerFunc(e.dispatch))
	if err := e.Transport.Start(); err != nil {
		return err
	}
	if e.Shutdown != nil {
		e.Shutdown.AddFunc(exporterShutdownPriority, func(ctx context.Context) error { return e.Close() })
	}
	return nil
}

// Close stops Transport. Close is idempotent.
func (e *Exporter) Close() error {
	return e.once.Close(e.Transport.Stop)
}

// dispatch locates the descriptor for (Interface, Alias), rejecting an
// unregistered alias or unknown method before Executor's admission
// control and Chain ever see req, then terminates in Handler with panic
// recovery the same way a tcp.Listener recovers a direct Handler.
func (e *Exporter) dispatch(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if e.once.IsClosing() {
		return nil, joyrpcerrors.TransportClosedError("exporter: %s/%s is closing", e.Interface, e.Alias)
	}
	if req.Interface != e.Interface || req.Alias != e.Alias {
		return nil, joyrpcerrors.NoSuchAlias("exporter: no alias registered for %s/%s", req.Interface, req.Alias)
	}
	if e.descriptor != nil && !e.descriptor.HasMethod(req.Method) {
		return nil, joyrpcerrors.NoSuchMethod("exporter: %s/%s has no method %q", e.Interface, e.Alias, req.Method)
	}

	return e.Executor.Submit(ctx, func() (*transport.Response, error) {
		terminal := func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			return transport.DispatchHandler(ctx, e.Handler, req, e.Logger)
		}
		return e.Chain.Build(terminal)(ctx, req)
	})
}
