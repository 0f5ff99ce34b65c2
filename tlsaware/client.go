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

// Package tlsaware provides a pooled HTTPS client that reports, for each
// request, the transport security parameters negotiated during the TLS
// handshake that served it: the key-exchange group and the cipher suite.
//
// A request served on a reused connection performs no handshake, so its
// parameters legitimately come back empty. Concurrent use of one [Client] is
// supported: handshake events are correlated to the request that triggered
// the connection attempt, never to a bystander sharing the pool.
package tlsaware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Jigsaw-Code/outline-sdk/transport"
	"golang.org/x/net/http2"

	"github.com/Jigsaw-Code/pqctrace/capture"
)

// Response is the result of one request: the transport response plus the
// security parameters observed for it. It is immutable once returned.
type Response struct {
	// Response is the underlying HTTP response, unchanged. The caller owns the
	// body and must close it.
	Response *http.Response
	// Group is the negotiated key-exchange group, e.g. "X25519MLKEM768".
	// Empty if no handshake was observed for this request.
	Group string
	// Cipher is the negotiated cipher suite, e.g. "TLS_AES_128_GCM_SHA256".
	// Empty if no handshake was observed for this request.
	Cipher string
	// OfferedGroups lists the key-exchange groups offered in the ClientHello,
	// in offer order. Empty if no handshake was observed.
	OfferedGroups []string
	// Resumed reports whether the handshake resumed an earlier session.
	Resumed bool
	// NewConnection reports whether a handshake was performed for this
	// request. False means the request rode a pooled connection.
	NewConnection bool
}

// Client is an HTTPS client that pools and reuses connections while
// reporting per-request handshake parameters. The zero value is not usable;
// create one with [NewClient].
type Client struct {
	httpClient *http.Client
	registry   *capture.Registry
	sink       *capture.Sink
	sessions   tls.ClientSessionCache
	dialer     transport.StreamDialer
	rootCAs    *x509.CertPool
	curves     []tls.CurveID
	nextProtos []string
	logger     *slog.Logger

	timeout      time.Duration
	enableHTTP2  bool
	disableReuse bool
	sessionSize  int
}

// Option configures a [Client] at construction time.
type Option func(c *Client) error

// WithBaseDialer sets the [transport.StreamDialer] used to reach servers.
// This is the composition seam for alternative transports (SOCKS5,
// Shadowsocks, packet splitting, ...). Defaults to a plain TCP dialer.
func WithBaseDialer(dialer transport.StreamDialer) Option {
	return func(c *Client) error {
		if dialer == nil {
			return errors.New("base dialer must not be nil")
		}
		c.dialer = dialer
		return nil
	}
}

// WithRootCAs sets the certificate pool used to verify servers. Defaults to
// the host's root CA set.
func WithRootCAs(pool *x509.CertPool) Option {
	return func(c *Client) error {
		c.rootCAs = pool
		return nil
	}
}

// WithCurvePreferences sets the key-exchange groups offered in the
// ClientHello, in preference order. Defaults to the crypto/tls defaults,
// which include a post-quantum hybrid group.
func WithCurvePreferences(groups []tls.CurveID) Option {
	return func(c *Client) error {
		if len(groups) == 0 {
			return errors.New("curve preferences must not be empty")
		}
		c.curves = groups
		return nil
	}
}

// WithHTTP2 enables HTTP/2 via ALPN. Without it the client speaks HTTP/1.1
// only.
func WithHTTP2() Option {
	return func(c *Client) error {
		c.enableHTTP2 = true
		return nil
	}
}

// WithFreshConnections disables connection reuse, forcing a full dial and
// handshake for every request. Useful when the point is to measure the
// handshake rather than to move bytes efficiently.
func WithFreshConnections() Option {
	return func(c *Client) error {
		c.disableReuse = true
		return nil
	}
}

// WithTimeout sets the end-to-end timeout for each request. Zero means no
// timeout, which is the default.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		c.timeout = timeout
		return nil
	}
}

// WithLogger sets the logger for debug output. Logging is off by default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		c.logger = logger
		return nil
	}
}

// NewClient creates a [Client] configured with the given options. The TLS
// configuration, the shared handshake event sink and the session cache are
// assembled here, once; they are shared by every connection the client opens.
func NewClient(options ...Option) (*Client, error) {
	c := &Client{
		dialer:      &transport.TCPDialer{},
		logger:      slog.New(slog.DiscardHandler),
		nextProtos:  []string{"http/1.1"},
		sessionSize: 32,
	}
	for _, option := range options {
		if err := option(c); err != nil {
			return nil, err
		}
	}

	c.registry = capture.NewRegistry()
	c.sink = capture.NewSink(c.registry, c.logger)
	c.sessions = tls.NewLRUClientSessionCache(c.sessionSize)

	httpTransport := &http.Transport{
		DialTLSContext:    c.dialTLS,
		DisableKeepAlives: c.disableReuse,
		MaxIdleConns:      100,
		IdleConnTimeout:   90 * time.Second,
	}
	if c.enableHTTP2 {
		c.nextProtos = []string{"h2", "http/1.1"}
		if err := http2.ConfigureTransport(httpTransport); err != nil {
			return nil, err
		}
	}
	c.httpClient = &http.Client{Transport: httpTransport, Timeout: c.timeout}
	return c, nil
}

// Do issues the request and returns the transport response together with the
// security parameters observed for it. Any HTTP method and body work; there
// is no method-specific behavior.
//
// The capture record is activated before the request is handed to the
// transport and deactivated when the transport call resolves, on both the
// success and the failure path. Transport errors are returned unchanged; no
// partial TLS data is attached to a failed request.
func (c *Client) Do(req *http.Request) (*Response, error) {
	if req.URL == nil {
		return nil, errors.New("request has no URL")
	}

	captured := capture.NewCaptured()
	activation := c.registry.Activate(canonicalAddr(req.URL), captured)
	defer activation.Deactivate()

	ctx := capture.WithToken(req.Context(), activation.Token())
	httpResp, err := c.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}

	snapshot := captured.Snapshot()
	return &Response{
		Response:      httpResp,
		Group:         snapshot.Group,
		Cipher:        snapshot.Cipher,
		OfferedGroups: snapshot.OfferedGroups,
		Resumed:       snapshot.Resumed,
		NewConnection: snapshot.HandshakeDone,
	}, nil
}

// Get issues a GET request to the given URL.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// DroppedEvents returns the number of handshake events that arrived after
// their originating request had already resolved, for example from a
// connection attempt the pool completed in the background. Such events are
// discarded, never attributed to another request.
func (c *Client) DroppedEvents() uint64 {
	return c.sink.Dropped()
}

// CloseIdleConnections closes idle pooled connections.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}
