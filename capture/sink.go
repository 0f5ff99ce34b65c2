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

package capture

import (
	"crypto/tls"
	"log/slog"
	"sync/atomic"
)

// Sink receives connection-scoped handshake events and forwards them to
// whichever [Captured] record the [Registry] designates as current. One Sink
// is shared by every connection and every request of a client for its whole
// lifetime; per-request routing happens entirely through the registry.
//
// All methods are synchronous and non-blocking. They take the registry lock
// only to resolve the target record and release it before writing into the
// record, which is guarded by its own lock.
type Sink struct {
	registry *Registry
	logger   *slog.Logger
	dropped  atomic.Uint64
}

// NewSink creates a [Sink] that routes events through registry. A nil logger
// disables logging.
func NewSink(registry *Registry, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sink{registry: registry, logger: logger}
}

// HandshakeComplete delivers the completion of a handshake performed on
// behalf of the request identified by token. It records the negotiated
// key-exchange group and cipher suite, and whether the handshake resumed a
// previous session.
func (s *Sink) HandshakeComplete(token uint64, addr string, state tls.ConnectionState) {
	captured := s.registry.Find(token)
	if captured == nil {
		s.drop("handshake complete", addr)
		return
	}
	group := GroupName(state.CurveID)
	captured.RecordHandshake(group, state.DidResume)
	captured.RecordCipher(CipherName(state.CipherSuite))
	s.logger.Debug("Handshake captured",
		"addr", addr, "group", group, "cipher", CipherName(state.CipherSuite), "resumed", state.DidResume)
}

// SessionTicketIssued delivers the issuance of a session ticket on a
// connection to addr, carrying the connection's cipher suite. Servers may
// issue several tickets per handshake; only the first observed suite is
// recorded.
func (s *Sink) SessionTicketIssued(addr string, suite uint16) {
	captured := s.registry.Latest(addr)
	if captured == nil {
		s.drop("session ticket", addr)
		return
	}
	captured.RecordCipher(CipherName(suite))
}

// GroupsOffered delivers the key-exchange groups offered in the ClientHello
// sent on behalf of the request identified by token.
func (s *Sink) GroupsOffered(token uint64, groups []tls.CurveID) {
	captured := s.registry.Find(token)
	if captured == nil {
		s.drop("offered groups", "")
		return
	}
	names := make([]string, 0, len(groups))
	for _, id := range groups {
		names = append(names, GroupName(id))
	}
	captured.RecordOfferedGroups(names)
}

// Dropped returns the number of events that arrived with no current record
// to receive them. An event outliving its request (an abandoned call, a
// connection attempt the pool finished in the background) lands here instead
// of contaminating another request's record. In a test where every request
// runs to completion the counter must stay at zero; anything else means an
// event was orphaned while its request was still in flight.
func (s *Sink) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Sink) drop(event, addr string) {
	s.dropped.Add(1)
	s.logger.Debug("Dropped handshake event with no active capture", "event", event, "addr", addr)
}
