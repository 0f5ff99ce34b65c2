// Copyright 2025 The Outline Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package capture correlates connection-scoped TLS handshake events with the
// logical HTTPS request that triggered them.
//
// The TLS stack only knows about connections, while callers care about
// requests. A pooled HTTP client may serve a request on a brand new
// connection (one handshake) or on a reused one (no handshake), and many
// requests can be in flight at once, all funneling their handshake events
// through objects installed once at client construction. This package
// provides the pieces that turn that event stream into a per-request result:
// a [Captured] record owned by one request, a [Registry] that maps in-flight
// requests to their records, and a [Sink] that handshake glue code calls to
// deliver events to the right record.
package capture

import "sync"

// Captured accumulates the transport security parameters observed for a
// single logical request. It is created empty, written by the [Sink] while
// the request's connection attempt is in flight, and read once after the
// request resolves. Each field records the first observation and ignores
// later ones.
type Captured struct {
	mu            sync.Mutex
	group         string
	cipher        string
	offeredGroups []string
	resumed       bool
	handshakeDone bool
}

// NewCaptured returns an empty record.
func NewCaptured() *Captured {
	return &Captured{}
}

// RecordHandshake records the completion of a handshake with the given
// key-exchange group. An empty group is valid: legacy key exchanges don't
// expose one. Only the first handshake observed for the request counts.
func (c *Captured) RecordHandshake(group string, resumed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handshakeDone {
		return
	}
	c.handshakeDone = true
	c.group = group
	c.resumed = resumed
}

// RecordCipher records the negotiated cipher suite. The first observed value
// wins; later events for the same handshake are ignored.
func (c *Captured) RecordCipher(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cipher == "" {
		c.cipher = name
	}
}

// RecordOfferedGroups records the key-exchange groups the client offered in
// its ClientHello. First observation wins.
func (c *Captured) RecordOfferedGroups(groups []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offeredGroups == nil && len(groups) > 0 {
		c.offeredGroups = groups
	}
}

// Snapshot is an immutable copy of a [Captured] record.
type Snapshot struct {
	// Group is the negotiated key-exchange group, or "" if no handshake was
	// observed or the key exchange doesn't expose one.
	Group string
	// Cipher is the negotiated cipher suite, or "" if no handshake was observed.
	Cipher string
	// OfferedGroups lists the groups offered in the ClientHello, in order.
	OfferedGroups []string
	// Resumed reports whether the observed handshake resumed a previous session.
	Resumed bool
	// HandshakeDone reports whether any handshake was observed. False means
	// the request was served on a reused connection.
	HandshakeDone bool
}

// Snapshot returns a copy of the record's current contents.
func (c *Captured) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	var offered []string
	if c.offeredGroups != nil {
		offered = make([]string, len(c.offeredGroups))
		copy(offered, c.offeredGroups)
	}
	return Snapshot{
		Group:         c.group,
		Cipher:        c.cipher,
		OfferedGroups: offered,
		Resumed:       c.resumed,
		HandshakeDone: c.handshakeDone,
	}
}
