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
	"context"
	"sync"
)

// Registry maps in-flight requests to their [Captured] records. It is keyed
// two ways, because the two event sources can observe different things:
//
//   - by activation token, a monotonically increasing id threaded through the
//     request context. The TLS dial for a new connection runs on the context
//     of the request that triggered it, so handshake-completion events carry
//     the exact token of their originating request.
//   - by server address ("host:port"). Session tickets are delivered through
//     the session store after the handshake, where only the address is
//     observable. The most recent activation for the address receives them.
//
// All operations are synchronous and hold the registry lock only for map
// updates; no lock is held across any blocking call.
type Registry struct {
	mu        sync.Mutex
	lastToken uint64
	byToken   map[uint64]*registryEntry
	byAddr    map[string][]uint64
}

type registryEntry struct {
	addr     string
	captured *Captured
}

// NewRegistry creates an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		byToken: make(map[uint64]*registryEntry),
		byAddr:  make(map[string][]uint64),
	}
}

// Activate installs captured as the current record for a request targeting
// addr and returns the activation handle. The caller must deactivate the
// handle when the request resolves, on success and on failure alike.
func (r *Registry) Activate(addr string, captured *Captured) *Activation {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastToken++
	token := r.lastToken
	r.byToken[token] = &registryEntry{addr: addr, captured: captured}
	r.byAddr[addr] = append(r.byAddr[addr], token)
	return &Activation{registry: r, token: token, addr: addr}
}

// Find returns the record activated under token, or nil if the activation
// has been cleared or never existed.
func (r *Registry) Find(token uint64) *Captured {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.byToken[token]
	if !ok {
		return nil
	}
	return entry.captured
}

// Latest returns the most recently activated record for addr, or nil if no
// request for addr is in flight.
func (r *Registry) Latest(addr string) *Captured {
	r.mu.Lock()
	defer r.mu.Unlock()
	tokens := r.byAddr[addr]
	if len(tokens) == 0 {
		return nil
	}
	return r.byToken[tokens[len(tokens)-1]].captured
}

// Len returns the number of active records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byToken)
}

func (r *Registry) deactivate(token uint64, addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byToken[token]; !ok {
		return
	}
	delete(r.byToken, token)
	tokens := r.byAddr[addr]
	for i, t := range tokens {
		if t == token {
			tokens = append(tokens[:i], tokens[i+1:]...)
			break
		}
	}
	if len(tokens) == 0 {
		delete(r.byAddr, addr)
	} else {
		r.byAddr[addr] = tokens
	}
}

// Activation is the handle for one registered request. It is returned by
// [Registry.Activate] and must be deactivated exactly when the request
// resolves; events arriving after deactivation are dropped rather than
// attributed to a record the request no longer owns.
type Activation struct {
	registry *Registry
	token    uint64
	addr     string
}

// Token returns the activation's correlation token.
func (a *Activation) Token() uint64 {
	return a.token
}

// Deactivate clears the activation. It is idempotent.
func (a *Activation) Deactivate() {
	a.registry.deactivate(a.token, a.addr)
}

type contextKey struct{}

var activationTokenKey = contextKey{}

// WithToken adds an activation token to the context.
func WithToken(ctx context.Context, token uint64) context.Context {
	return context.WithValue(ctx, activationTokenKey, token)
}

// TokenFromContext retrieves the activation token from the context, if present.
func TokenFromContext(ctx context.Context) (uint64, bool) {
	token, ok := ctx.Value(activationTokenKey).(uint64)
	return token, ok
}
