// Package auth implements the single-user bearer-token scheme: one shared
// password, opaque random tokens held in an in-process map, configurable
// expiry. There are no accounts and no claims.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/vibingu/vibingu/pkg/config"
)

const DefaultTokenTTL = 7 * 24 * time.Hour

var (
	ErrBadPassword = errors.New("wrong password")
	ErrNoPassword  = errors.New("no password configured")
)

// Manager owns the token map. All methods are safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	password string
	ttl      time.Duration
	sessions map[string]time.Time
	now      func() time.Time
}

func NewManager(cfg config.AuthConfig) *Manager {
	ttl := time.Duration(cfg.TokenExpireSeconds) * time.Second
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Manager{
		password: cfg.Password,
		ttl:      ttl,
		sessions: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Enabled reports whether a password is configured. With no password the
// deployment is open and protected endpoints skip the token check.
func (m *Manager) Enabled() bool {
	return m.password != ""
}

// Login checks the password and mints a token.
func (m *Manager) Login(password string) (string, error) {
	if !m.Enabled() {
		return "", ErrNoPassword
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(m.password)) != 1 {
		return "", ErrBadPassword
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	token := hex.EncodeToString(buf)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune()
	m.sessions[token] = m.now().Add(m.ttl)
	return token, nil
}

// Verify reports whether a token is live. Expired tokens are dropped on the
// spot.
func (m *Manager) Verify(token string) bool {
	if token == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	expiry, ok := m.sessions[token]
	if !ok {
		return false
	}
	if m.now().After(expiry) {
		delete(m.sessions, token)
		return false
	}
	return true
}

// Logout invalidates a token. Unknown tokens are a no-op.
func (m *Manager) Logout(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
}

// prune drops expired sessions. Caller holds the lock.
func (m *Manager) prune() {
	now := m.now()
	for token, expiry := range m.sessions {
		if now.After(expiry) {
			delete(m.sessions, token)
		}
	}
}

// BearerToken extracts the token from an Authorization header, "" when the
// header is missing or not Bearer-shaped.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header {
		return ""
	}
	return strings.TrimSpace(token)
}

// Require guards mutating endpoints. When no password is configured the
// check is skipped entirely.
func (m *Manager) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Enabled() && !m.Verify(BearerToken(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
