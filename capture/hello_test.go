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
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// captureClientHello performs the write half of a TLS client handshake
// against an in-memory pipe and returns the raw ClientHello record.
func captureClientHello(t *testing.T, config *tls.Config) []byte {
	t.Helper()
	clientEnd, serverEnd := net.Pipe()
	defer serverEnd.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn := tls.Client(clientEnd, config)
		// Fails once we close the pipe; only the first flight matters.
		_ = conn.Handshake()
		conn.Close()
	}()

	header := make([]byte, 5)
	_, err := io.ReadFull(serverEnd, header)
	require.NoError(t, err)
	length := int(header[3])<<8 | int(header[4])
	body := make([]byte, length)
	_, err = io.ReadFull(serverEnd, body)
	require.NoError(t, err)

	clientEnd.Close()
	<-done
	return append(header, body...)
}

func TestOfferedGroupsFromClientHello(t *testing.T) {
	hello := captureClientHello(t, &tls.Config{
		ServerName:         "example.com",
		InsecureSkipVerify: true,
		CurvePreferences:   []tls.CurveID{tls.X25519, tls.CurveP256},
	})

	groups, err := OfferedGroups(hello)
	require.NoError(t, err)
	require.Equal(t, []tls.CurveID{tls.X25519, tls.CurveP256}, groups)
}

func TestOfferedGroupsDefaultIncludesPostQuantum(t *testing.T) {
	hello := captureClientHello(t, &tls.Config{
		ServerName:         "example.com",
		InsecureSkipVerify: true,
	})

	groups, err := OfferedGroups(hello)
	require.NoError(t, err)
	require.Contains(t, groups, tls.X25519MLKEM768)
	require.Contains(t, groups, tls.X25519)
}

func TestOfferedGroupsRejectsGarbage(t *testing.T) {
	_, err := OfferedGroups(nil)
	require.Error(t, err)

	_, err = OfferedGroups([]byte{0x16, 0x03, 0x01, 0x00, 0x02, 0x01, 0x00})
	require.Error(t, err)
}
