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
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Requests racing against two hosts with different negotiated parameters
// must each report their own host's handshake, never a neighbor's. Server A
// stalls every handshake so that its completions land while requests to
// server B are in flight: a registry that confused the two would swap
// attributions every round, not just under lucky scheduling.
func TestConcurrentRequestsDoNotCrossContaminate(t *testing.T) {
	pool := x509.NewCertPool()
	serverA := newTestServer(t, pool, &tls.Config{
		CurvePreferences: []tls.CurveID{tls.CurveP256},
		GetConfigForClient: func(*tls.ClientHelloInfo) (*tls.Config, error) {
			time.Sleep(50 * time.Millisecond)
			return nil, nil
		},
	})
	serverB := newTestServer(t, pool, &tls.Config{
		CurvePreferences: []tls.CurveID{tls.X25519},
	})

	// Fresh connections force a handshake per request, so every response must
	// carry its own host's parameters.
	client, err := NewClient(WithRootCAs(pool), WithFreshConnections())
	require.NoError(t, err)

	const perHost = 8
	var wg sync.WaitGroup
	run := func(url, wantGroup string) {
		defer wg.Done()
		resp, err := client.Get(context.Background(), url)
		if err != nil {
			t.Errorf("request to %s failed: %v", url, err)
			return
		}
		defer resp.Response.Body.Close()
		if _, err := io.Copy(io.Discard, resp.Response.Body); err != nil {
			t.Errorf("reading body from %s failed: %v", url, err)
			return
		}
		if !resp.NewConnection {
			t.Errorf("request to %s reused a connection despite fresh-connections mode", url)
		}
		if resp.Group != wantGroup {
			t.Errorf("request to %s captured group %q, want %q", url, resp.Group, wantGroup)
		}
	}

	for i := 0; i < perHost; i++ {
		wg.Add(2)
		go run(serverA.URL, "CurveP256")
		go run(serverB.URL, "X25519")
	}
	wg.Wait()

	require.Zero(t, client.registry.Len())
}

// Concurrent requests through the shared pool: a request that reuses a
// connection must report empty parameters, and one that handshakes must
// report its own host. No combination may borrow another host's values.
func TestConcurrentPooledRequestsStayConsistent(t *testing.T) {
	pool := x509.NewCertPool()
	serverA := newTestServer(t, pool, &tls.Config{
		CurvePreferences: []tls.CurveID{tls.CurveP256},
	})
	serverB := newTestServer(t, pool, &tls.Config{
		CurvePreferences: []tls.CurveID{tls.X25519},
	})

	client, err := NewClient(WithRootCAs(pool))
	require.NoError(t, err)
	defer client.CloseIdleConnections()

	var wg sync.WaitGroup
	run := func(url, wantGroup string) {
		defer wg.Done()
		resp, err := client.Get(context.Background(), url)
		if err != nil {
			t.Errorf("request to %s failed: %v", url, err)
			return
		}
		defer resp.Response.Body.Close()
		io.Copy(io.Discard, resp.Response.Body)
		if resp.NewConnection {
			if resp.Group != wantGroup {
				t.Errorf("request to %s captured group %q, want %q", url, resp.Group, wantGroup)
			}
		} else if resp.Group != "" || resp.Cipher != "" {
			t.Errorf("reused connection to %s reported group %q cipher %q, want empty", url, resp.Group, resp.Cipher)
		}
	}

	for round := 0; round < 4; round++ {
		for i := 0; i < 4; i++ {
			wg.Add(2)
			go run(serverA.URL, "CurveP256")
			go run(serverB.URL, "X25519")
		}
		wg.Wait()
	}

	require.Zero(t, client.registry.Len())
}
