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
	"fmt"
	"strings"
)

// Key-exchange group code points from the IANA TLS Supported Groups registry
// that crypto/tls does not name.
const (
	groupSecP256r1MLKEM768    tls.CurveID = 0x11EB
	groupSecP384r1MLKEM1024   tls.CurveID = 0x11ED
	groupX25519Kyber768Draft0 tls.CurveID = 0x6399
)

// GroupName returns the IANA name of a key-exchange group, such as "X25519"
// or "X25519MLKEM768". Zero (no group, e.g. legacy RSA key exchange) maps to
// the empty string.
func GroupName(id tls.CurveID) string {
	switch id {
	case 0:
		return ""
	case groupSecP256r1MLKEM768:
		return "SecP256r1MLKEM768"
	case groupSecP384r1MLKEM1024:
		return "SecP384r1MLKEM1024"
	case groupX25519Kyber768Draft0:
		return "X25519Kyber768Draft00"
	}
	return id.String()
}

var groupsByName = map[string]tls.CurveID{
	"x25519":                tls.X25519,
	"curvep256":             tls.CurveP256,
	"p256":                  tls.CurveP256,
	"curvep384":             tls.CurveP384,
	"p384":                  tls.CurveP384,
	"curvep521":             tls.CurveP521,
	"p521":                  tls.CurveP521,
	"x25519mlkem768":        tls.X25519MLKEM768,
	"secp256r1mlkem768":     groupSecP256r1MLKEM768,
	"secp384r1mlkem1024":    groupSecP384r1MLKEM1024,
	"x25519kyber768draft00": groupX25519Kyber768Draft0,
}

// ParseGroup converts a key-exchange group name, case-insensitively, to its
// code point.
func ParseGroup(name string) (tls.CurveID, error) {
	if id, ok := groupsByName[strings.ToLower(name)]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("unknown key-exchange group %q", name)
}

// CipherName returns the name of a cipher suite, such as
// "TLS_AES_128_GCM_SHA256". Zero maps to the empty string.
func CipherName(suite uint16) string {
	if suite == 0 {
		return ""
	}
	return tls.CipherSuiteName(suite)
}
