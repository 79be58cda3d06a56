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

// Package cluster implements the live, routable view of one interface's
// node set: it diffs successive registry snapshots into Nodes, dials each
// through a transport/channel.Manager, and tracks connection status so a
// Route only ever sees nodes that are actually admissible.
package cluster

import (
	"sync"
	"time"

	"github.com/lwbtt0915/joyrpc/joyurl"
	"github.com/lwbtt0915/joyrpc/transport/channel"
)

// Status is a Node's admission-relevant connection state. A Node
// advances CANDIDATE -> CONNECTING -> CONNECTED, may fall back to WEAK
// and recover from there, but once it reaches CLOSING it only ever moves
// on to DEAD and never returns to any earlier state.
type Status int

const (
	// StatusCandidate means the Node was just diffed into the Cluster
	// from a registry snapshot but hasn't started dialing yet.
	StatusCandidate Status = iota
	// StatusConnecting means a Channel is being dialed; the Node is not
	// yet admissible.
	StatusConnecting
	// StatusConnected means the Node's Channel is available for calls.
	StatusConnected
	// StatusWeak means the Node's Channel went unavailable (or its
	// initial dial failed); the Node is not admissible for ordinary
	// traffic, only for probing, until it recovers to StatusConnected.
	StatusWeak
	// StatusClosing means the Node was dropped from the registry's node
	// set and is draining whatever calls were already in flight against
	// it before its Channel is released.
	StatusClosing
	// StatusDead is terminal: a removed Node that finished draining. A
	// Node never leaves StatusDead.
	StatusDead
)

// Node is one member of a Cluster: an address, weight and region/
// datacenter placement tags, plus the connection state and warm-up gate
// that decide whether Route may pick it.
type Node struct {
	url        *joyurl.URL
	weight     int
	region     string
	datacenter string

	mu      sync.RWMutex
	status  Status
	warmUp  time.Time
	channel *channel.Channel
}

func newNode(url *joyurl.URL, warmUp time.Time) *Node {
	return &Node{
		url:        url,
		weight:     url.ParamInt("weight", 100),
		region:     url.Param("region", ""),
		datacenter: url.Param("datacenter", ""),
		status:     StatusCandidate,
		warmUp:     warmUp,
	}
}

// NewNode builds a standalone, already-eligible Node carrying no Channel.
// A Cluster never calls this itself — it's the entry point for callers
// that need a Node without running the discovery machinery: a
// loadbalance.LoadBalance, route.Route, or filter.Filter unit test, or a
// static registry backend seeding a fixed node set.
func NewNode(url *joyurl.URL) *Node {
	n := newNode(url, time.Time{})
	n.status = StatusConnected
	return n
}

// NewNodeWithChannel is NewNode plus an attached Channel, for exercising
// a LoadBalance that scores nodes by their Channel's in-flight call count
// (loadbalance/leastactive) without running the discovery machinery.
func NewNodeWithChannel(url *joyurl.URL, ch *channel.Channel) *Node {
	n := NewNode(url)
	n.channel = ch
	return n
}

// URL returns the Node's address.
func (n *Node) URL() *joyurl.URL { return n.url }

// Weight returns the Node's relative routing weight, defaulted to 100
// when the address carries no "weight" parameter.
func (n *Node) Weight() int { return n.weight }

// Region returns the Node's "region" address tag, or "" if unset.
func (n *Node) Region() string { return n.region }

// Datacenter returns the Node's "datacenter" address tag, or "" if unset.
func (n *Node) Datacenter() string { return n.datacenter }

// Status returns the Node's current connection status.
func (n *Node) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}

// Channel returns the Node's Channel, or nil if one hasn't been
// established yet (or the Node has gone disconnected and is awaiting
// reconnect).
func (n *Node) Channel() *channel.Channel {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.channel
}

// Eligible reports whether the Node may be handed to a LoadBalance: its
// Channel is connected, and its warm-up window (if any) has elapsed by
// now.
func (n *Node) Eligible(now time.Time) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status == StatusConnected && !n.warmUp.After(now)
}

// Probeable reports whether the Node is WEAK: not eligible for ordinary
// traffic, but a candidate for probe-only calls (e.g. a health check)
// that can observe recovery without risking application traffic.
func (n *Node) Probeable() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status == StatusWeak
}

func (n *Node) setStatus(s Status) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.status == StatusDead {
		return
	}
	n.status = s
}

func (n *Node) setChannel(ch *channel.Channel) {
	n.mu.Lock()
	n.channel = ch
	n.mu.Unlock()
}
