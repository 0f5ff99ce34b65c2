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

package tlsaware

import (
	"crypto/tls"
	"sync"

	"github.com/Jigsaw-Code/pqctrace/capture"
)

// connSessionCache is the session store installed on a single connection's
// TLS configuration. Storage is delegated to the client-wide cache so
// sessions resume across connections; on top of that, ticket issuance is
// forwarded to the shared sink together with the connection's negotiated
// cipher suite.
//
// The suite becomes observable only once the handshake completes. TLS 1.2
// delivers its ticket from within the handshake, before that point; those
// events carry no usable suite and are not forwarded, matching the accepted
// capture gap on the legacy protocol path. TLS 1.3 tickets arrive after the
// handshake and are forwarded with the recorded suite.
type connSessionCache struct {
	inner tls.ClientSessionCache
	sink  *capture.Sink
	addr  string

	mu    sync.Mutex
	suite uint16
}

var _ tls.ClientSessionCache = (*connSessionCache)(nil)

func newConnSessionCache(inner tls.ClientSessionCache, sink *capture.Sink, addr string) *connSessionCache {
	return &connSessionCache{inner: inner, sink: sink, addr: addr}
}

// handshakeDone records the connection's negotiated cipher suite, making
// subsequent ticket events attributable.
func (c *connSessionCache) handshakeDone(suite uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suite = suite
}

// Put implements [tls.ClientSessionCache]. It is invoked by the TLS stack
// whenever the server issues a session ticket on this connection.
func (c *connSessionCache) Put(sessionKey string, cs *tls.ClientSessionState) {
	c.mu.Lock()
	suite := c.suite
	c.mu.Unlock()
	if suite != 0 {
		c.sink.SessionTicketIssued(c.addr, suite)
	}
	c.inner.Put(sessionKey, cs)
}

// Get implements [tls.ClientSessionCache].
func (c *connSessionCache) Get(sessionKey string) (*tls.ClientSessionState, bool) {
	return c.inner.Get(sessionKey)
}
