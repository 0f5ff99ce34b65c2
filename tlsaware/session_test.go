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
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Jigsaw-Code/pqctrace/capture"
)

func TestSessionCacheIgnoresTicketsBeforeHandshake(t *testing.T) {
	registry := capture.NewRegistry()
	sink := capture.NewSink(registry, nil)
	captured := capture.NewCaptured()
	registry.Activate("dns.google:443", captured)

	cache := newConnSessionCache(tls.NewLRUClientSessionCache(4), sink, "dns.google:443")

	// A ticket delivered mid-handshake (the TLS 1.2 path) has no observable
	// suite yet and must not be forwarded.
	cache.Put("dns.google:443", nil)
	require.Empty(t, captured.Snapshot().Cipher)

	cache.handshakeDone(tls.TLS_AES_256_GCM_SHA384)
	cache.Put("dns.google:443", nil)
	require.Equal(t, "TLS_AES_256_GCM_SHA384", captured.Snapshot().Cipher)
}

func TestSessionCacheFirstTicketWins(t *testing.T) {
	registry := capture.NewRegistry()
	sink := capture.NewSink(registry, nil)
	captured := capture.NewCaptured()
	registry.Activate("dns.google:443", captured)

	cache := newConnSessionCache(tls.NewLRUClientSessionCache(4), sink, "dns.google:443")
	cache.handshakeDone(tls.TLS_AES_128_GCM_SHA256)

	// Servers may issue several tickets per handshake.
	cache.Put("dns.google:443", nil)
	cache.Put("dns.google:443", nil)
	require.Equal(t, "TLS_AES_128_GCM_SHA256", captured.Snapshot().Cipher)
}

func TestSessionCacheDelegatesGet(t *testing.T) {
	cache := newConnSessionCache(tls.NewLRUClientSessionCache(4), capture.NewSink(capture.NewRegistry(), nil), "dns.google:443")
	state, ok := cache.Get("dns.google:443")
	require.False(t, ok)
	require.Nil(t, state)
}

func TestSessionResumptionIsReported(t *testing.T) {
	// Two fresh connections to the same host: the second handshake resumes
	// the session stored by the first.
	pool := x509.NewCertPool()
	server := newTestServer(t, pool, nil)

	client, err := NewClient(WithRootCAs(pool), WithFreshConnections())
	require.NoError(t, err)

	first := fetch(t, client, server.URL)
	require.True(t, first.NewConnection)
	require.False(t, first.Resumed)

	second := fetch(t, client, server.URL)
	require.True(t, second.NewConnection)
	require.True(t, second.Resumed)
}
