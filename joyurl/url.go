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

// Package joyurl implements the runtime's canonical address+parameter
// object. A URL is the cache key and on-wire service identifier used
// throughout the core: node identity in the Cluster, the map key in the
// ChannelManager, and the carrier of every lifecycle configuration key.
package joyurl

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// URL is an immutable scheme+host+port+interface+parameters address. Two
// URLs are equal iff every field matches, which String and Identifier make
// cheap to check by comparing canonical strings.
type URL struct {
	scheme    string
	host      string
	port      int
	iface     string
	params    map[string]string
	canonical string
}

// Builder constructs a URL. The zero value is ready to use.
type Builder struct {
	scheme string
	host   string
	port   int
	iface  string
	params map[string]string
}

// NewBuilder returns a Builder seeded with scheme, host and port.
func NewBuilder(scheme, host string, port int) *Builder {
	return &Builder{scheme: scheme, host: host, port: port, params: map[string]string{}}
}

// Interface sets the interface name the URL addresses.
func (b *Builder) Interface(iface string) *Builder {
	b.iface = iface
	return b
}

// Param sets a single parameter.
func (b *Builder) Param(key, value string) *Builder {
	b.params[key] = value
	return b
}

// Params bulk-sets parameters, overwriting any existing entries with the
// same key.
func (b *Builder) Params(params map[string]string) *Builder {
	for k, v := range params {
		b.params[k] = v
	}
	return b
}

// Build returns the immutable URL. The Builder may be reused afterwards;
// the returned URL does not alias the Builder's internal map.
func (b *Builder) Build() *URL {
	params := make(map[string]string, len(b.params))
	for k, v := range b.params {
		params[k] = v
	}
	u := &URL{
		scheme: b.scheme,
		host:   b.host,
		port:   b.port,
		iface:  b.iface,
		params: params,
	}
	u.canonical = canonicalize(u)
	return u
}

func canonicalize(u *URL) string {
	var sb strings.Builder
	sb.WriteString(u.scheme)
	sb.WriteString("://")
	sb.WriteString(u.host)
	sb.WriteByte(':')
	sb.WriteString(strconv.Itoa(u.port))
	sb.WriteByte('/')
	sb.WriteString(u.iface)

	if len(u.params) > 0 {
		keys := make([]string, 0, len(u.params))
		for k := range u.params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('?')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte('&')
			}
			sb.WriteString(k)
			sb.WriteByte('=')
			sb.WriteString(u.params[k])
		}
	}
	return sb.String()
}

// Parse inverts String: "scheme://host:port/interface?k=v&k2=v2" becomes
// the equivalent URL. Used by discovery backends (registry/file) that
// read node addresses back out of a serialized form rather than
// constructing them with a Builder. The host must carry an explicit
// port; interface and parameters are optional.
func Parse(raw string) (*URL, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("joyurl: parse %q: %w", raw, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("joyurl: parse %q: missing scheme or host", raw)
	}
	portStr := parsed.Port()
	if portStr == "" {
		return nil, fmt.Errorf("joyurl: parse %q: missing port", raw)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("joyurl: parse %q: invalid port: %w", raw, err)
	}

	b := NewBuilder(parsed.Scheme, parsed.Hostname(), port).Interface(strings.TrimPrefix(parsed.Path, "/"))
	for k, vs := range parsed.Query() {
		if len(vs) > 0 {
			b.Param(k, vs[0])
		}
	}
	return b.Build(), nil
}

// Scheme returns the URL's scheme (e.g. the transport/protocol name).
func (u *URL) Scheme() string { return u.scheme }

// Host returns the URL's host.
func (u *URL) Host() string { return u.host }

// Port returns the URL's port.
func (u *URL) Port() int { return u.port }

// Address returns "host:port", the form a net.Dial or net.Listen expects.
func (u *URL) Address() string { return u.host + ":" + strconv.Itoa(u.port) }

// Interface returns the bound interface name.
func (u *URL) Interface() string { return u.iface }

// String returns the URL's canonical form. Used as the cache key and
// endpoint identity everywhere in the runtime.
func (u *URL) String() string { return u.canonical }

// Identifier satisfies the peer-identity shape consumed by the Cluster and
// ChannelManager: a URL identifies itself.
func (u *URL) Identifier() string { return u.canonical }

// Equal reports whether two URLs are identical in every field. The
// canonical string comparison suffices because Build sorts parameters.
func (u *URL) Equal(other *URL) bool {
	if u == nil || other == nil {
		return u == other
	}
	return u.canonical == other.canonical
}

// Param returns the string value of key, or def if absent.
func (u *URL) Param(key, def string) string {
	if v, ok := u.params[key]; ok {
		return v
	}
	return def
}

// ParamInt returns the int value of key, or def if absent or unparsable.
func (u *URL) ParamInt(key string, def int) int {
	v, ok := u.params[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// ParamBool returns the bool value of key, or def if absent or unparsable.
func (u *URL) ParamBool(key string, def bool) bool {
	v, ok := u.params[key]
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// ParamDuration returns the time.Duration value of key, or def if absent
// or unparsable. Values are parsed with time.ParseDuration (e.g. "500ms").
func (u *URL) ParamDuration(key string, def time.Duration) time.Duration {
	v, ok := u.params[key]
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// Params returns a defensive copy of the parameter map, safe for the
// caller to mutate.
func (u *URL) Params() map[string]string {
	cp := make(map[string]string, len(u.params))
	for k, v := range u.params {
		cp[k] = v
	}
	return cp
}

// ParamsAsInterfaceMap adapts the parameter map to map[string]interface{},
// the shape github.com/uber-go/mapdecode expects as a decode source, so
// callers can decode method-level overrides into typed option structs the
// way yarpcconfig decodes its own configuration (internal/config.DecodeInto).
func (u *URL) ParamsAsInterfaceMap() map[string]interface{} {
	out := make(map[string]interface{}, len(u.params))
	for k, v := range u.params {
		out[k] = v
	}
	return out
}

// WithParam returns a new URL with key set to value, leaving the receiver
// untouched. Used by components (e.g. Cluster warm-up) that must derive a
// variant URL without mutating the shared cache key.
func (u *URL) WithParam(key, value string) *URL {
	b := NewBuilder(u.scheme, u.host, u.port).Interface(u.iface).Params(u.params)
	b.Param(key, value)
	return b.Build()
}

// GoString supports %#v debugging output with the canonical form instead
// of the unexported fields.
func (u *URL) GoString() string {
	return fmt.Sprintf("joyurl.URL(%s)", u.canonical)
}
