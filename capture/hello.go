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
	"errors"

	"golang.org/x/crypto/cryptobyte"
)

// TLS extension number from the IANA TLS ExtensionType registry.
const extensionSupportedGroups uint16 = 10

// OfferedGroups accepts the first TLS record of a client connection (the
// ClientHello) and returns the key-exchange groups offered in its
// supported_groups extension, in offer order.
// Derived from unmarshal() in crypto/tls.
func OfferedGroups(clientHello []byte) ([]tls.CurveID, error) {
	plaintext := cryptobyte.String(clientHello)

	var s cryptobyte.String
	// Skip uint8 ContentType and uint16 ProtocolVersion
	if !plaintext.Skip(1+2) || !plaintext.ReadUint16LengthPrefixed(&s) {
		return nil, errors.New("bad TLSPlaintext")
	}

	// Skip uint8 message type, uint24 length, uint16 version, and 32 byte random.
	var sessionID cryptobyte.String
	if !s.Skip(1+3+2+32) ||
		!s.ReadUint8LengthPrefixed(&sessionID) {
		return nil, errors.New("bad Handshake message")
	}

	var cipherSuites cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&cipherSuites) {
		return nil, errors.New("bad ciphersuites")
	}

	var compressionMethods cryptobyte.String
	if !s.ReadUint8LengthPrefixed(&compressionMethods) {
		return nil, errors.New("bad compression methods")
	}

	if s.Empty() {
		// ClientHello is optionally followed by extension data
		return nil, errors.New("short hello")
	}

	var extensions cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&extensions) || !s.Empty() {
		return nil, errors.New("bad extensions")
	}

	for !extensions.Empty() {
		var extType uint16
		var extData cryptobyte.String
		if !extensions.ReadUint16(&extType) ||
			!extensions.ReadUint16LengthPrefixed(&extData) {
			return nil, errors.New("bad extension")
		}
		if extType != extensionSupportedGroups {
			continue
		}

		var groupList cryptobyte.String
		if !extData.ReadUint16LengthPrefixed(&groupList) || groupList.Empty() || !extData.Empty() {
			return nil, errors.New("bad supported_groups extension")
		}
		var groups []tls.CurveID
		for !groupList.Empty() {
			var id uint16
			if !groupList.ReadUint16(&id) {
				return nil, errors.New("bad supported_groups extension")
			}
			groups = append(groups, tls.CurveID(id))
		}
		return groups, nil
	}

	return nil, errors.New("no supported_groups extension")
}
