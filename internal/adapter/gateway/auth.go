package gateway

import (
	"crypto/subtle"

	"monetrix/internal/domain"
)

// ClientInfo holds metadata about an authenticated gateway client.
type ClientInfo struct {
	Name   string
	ConnID uint64 // set per WebSocket connection; zero for REST callers
}

// Authenticator validates incoming gateway connections.
type Authenticator interface {
	Authenticate(token string) (*ClientInfo, error)
}

// TokenEntry is one accepted static token.
type TokenEntry struct {
	Token string
	Name  string
}

type authEntry struct {
	token []byte
	name  string
}

// StaticTokenAuth authenticates clients against a static token list
// using constant-time comparison to prevent timing attacks.
type StaticTokenAuth struct {
	entries []authEntry
}

// NewStaticTokenAuth builds an authenticator from a set of token entries.
// Entries with an empty token are ignored.
func NewStaticTokenAuth(entries []TokenEntry) *StaticTokenAuth {
	a := &StaticTokenAuth{entries: make([]authEntry, 0, len(entries))}
	for _, e := range entries {
		if e.Token == "" {
			continue
		}
		a.entries = append(a.entries, authEntry{token: []byte(e.Token), name: e.Name})
	}
	return a
}

// Authenticate returns client info if the token is valid. Every entry is
// compared so the time taken does not depend on which one matched.
func (s *StaticTokenAuth) Authenticate(token string) (*ClientInfo, error) {
	tokenBytes := []byte(token)
	match := -1
	for i, e := range s.entries {
		if subtle.ConstantTimeCompare(tokenBytes, e.token) == 1 && match < 0 {
			match = i
		}
	}
	if match < 0 {
		return nil, domain.ErrGatewayAuthFailed
	}
	// Fresh value per call; callers attach connection state to it.
	return &ClientInfo{Name: s.entries[match].name}, nil
}
