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
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"

	"github.com/Jigsaw-Code/pqctrace/capture"
)

// dialTLS establishes and handshakes a TLS connection for the pooled
// transport. It runs on the context of the request that triggered the
// connection attempt, which carries that request's activation token; every
// event observed here is delivered to the sink under that token, before the
// connection is handed back to the pool.
func (c *Client) dialTLS(ctx context.Context, network, addr string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("protocol not supported: %v", network)
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}
	addrKey := strings.ToLower(addr)
	token, hasToken := capture.TokenFromContext(ctx)

	rawConn, err := c.dialer.DialStream(ctx, addr)
	if err != nil {
		return nil, err
	}

	var innerConn net.Conn = rawConn
	if hasToken {
		innerConn = &helloSniffConn{Conn: rawConn, observe: func(hello []byte) {
			groups, err := capture.OfferedGroups(hello)
			if err != nil {
				c.logger.Debug("Could not parse ClientHello", "error", err)
				return
			}
			c.sink.GroupsOffered(token, groups)
		}}
	}

	// Each connection attempt gets its own TLS configuration so that ticket
	// events, which surface through the session store without any request
	// identity attached, can be tied back to this connection's server address
	// and negotiated state.
	sessions := newConnSessionCache(c.sessions, c.sink, addrKey)
	tlsConn := tls.Client(innerConn, &tls.Config{
		ServerName:         host,
		RootCAs:            c.rootCAs,
		CurvePreferences:   c.curves,
		NextProtos:         c.nextProtos,
		ClientSessionCache: sessions,
	})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, err
	}

	state := tlsConn.ConnectionState()
	sessions.handshakeDone(state.CipherSuite)
	if hasToken {
		c.sink.HandshakeComplete(token, addrKey, state)
	}
	// The transport recognizes the TLS state of the returned connection only
	// when it is a concrete *tls.Conn; that is also what gates the upgrade to
	// HTTP/2 after ALPN selects "h2". Closing it closes the underlying
	// connection.
	return tlsConn, nil
}

// helloSniffConn reports the first TLS record written to a client
// connection, which is the ClientHello. Writes are only ever issued by the
// connection's own handshake, so no extra synchronization is needed.
type helloSniffConn struct {
	net.Conn
	observe  func(hello []byte)
	observed bool
}

func (c *helloSniffConn) Write(b []byte) (int, error) {
	if !c.observed {
		c.observed = true
		c.observe(b)
	}
	return c.Conn.Write(b)
}

// canonicalAddr normalizes a request URL to the "host:port" key the dialer
// will be asked to connect to.
func canonicalAddr(u *url.URL) string {
	host := u.Hostname()
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https":
			port = "443"
		case "http":
			port = "80"
		}
	}
	return strings.ToLower(net.JoinHostPort(host, port))
}
