// internal/token/mint.go
package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role describes what a session token is allowed to do inside its lobby.
type Role string

const (
	RoleHost   Role = "host"
	RolePlayer Role = "player"
	// RoleViewer is a read-only attachment, used by stream overlays.
	RoleViewer Role = "viewer"
)

var (
	// ErrTokenUnknown is returned for tokens that were never issued or have
	// been revoked.
	ErrTokenUnknown = errors.New("token unknown")
	// ErrTokenExpired is returned for tokens past their inactivity TTL.
	ErrTokenExpired = errors.New("token expired")
)

// Binding is what a session token resolves to.
type Binding struct {
	LobbyID       uuid.UUID
	ParticipantID uuid.UUID
	Role          Role
	IssuedAt      time.Time
	ExpiresAt     time.Time
}

// Mint issues and resolves opaque session tokens. Tokens are 128-bit
// crypto-random values in base64url; everything they mean lives server-side,
// so revocation is a map delete.
type Mint struct {
	mu       sync.RWMutex
	ttl      time.Duration
	bindings map[string]*Binding
	now      func() time.Time
}

// NewMint creates a mint whose tokens expire after ttl of inactivity.
func NewMint(ttl time.Duration) *Mint {
	return &Mint{
		ttl:      ttl,
		bindings: make(map[string]*Binding),
		now:      time.Now,
	}
}

// Issue creates a fresh token bound to (lobby, participant, role).
func (m *Mint) Issue(lobbyID, participantID uuid.UUID, role Role) (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	tok := base64.RawURLEncoding.EncodeToString(raw)

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.bindings[tok] = &Binding{
		LobbyID:       lobbyID,
		ParticipantID: participantID,
		Role:          role,
		IssuedAt:      now,
		ExpiresAt:     now.Add(m.ttl),
	}
	return tok, nil
}

// Resolve returns the binding for a token and refreshes its inactivity
// window. Expired tokens are removed on the spot.
func (m *Mint) Resolve(tok string) (Binding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bindings[tok]
	if !ok {
		return Binding{}, ErrTokenUnknown
	}
	now := m.now()
	if now.After(b.ExpiresAt) {
		delete(m.bindings, tok)
		return Binding{}, ErrTokenExpired
	}
	b.ExpiresAt = now.Add(m.ttl)
	return *b, nil
}

// Revoke invalidates a single token. Revoking an unknown token is a no-op.
func (m *Mint) Revoke(tok string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bindings, tok)
}

// RevokeLobby invalidates every token bound to a lobby, e.g. on close.
func (m *Mint) RevokeLobby(lobbyID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for tok, b := range m.bindings {
		if b.LobbyID == lobbyID {
			delete(m.bindings, tok)
		}
	}
}

// RevokeParticipant invalidates every token bound to one participant.
func (m *Mint) RevokeParticipant(lobbyID, participantID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for tok, b := range m.bindings {
		if b.LobbyID == lobbyID && b.ParticipantID == participantID {
			delete(m.bindings, tok)
		}
	}
}

// Sweep drops expired tokens and returns how many were removed.
func (m *Mint) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for tok, b := range m.bindings {
		if now.After(b.ExpiresAt) {
			delete(m.bindings, tok)
			removed++
		}
	}
	return removed
}
