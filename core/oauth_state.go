package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultAuthorizationStateTTL = 15 * time.Minute

// PendingAuthorization is what an authorization-code flow must remember
// between building the redirect URL and exchanging the returned code.
type PendingAuthorization struct {
	State       string
	Provider    Provider
	TenantID    string
	Verifier    string
	RedirectURI string
	Metadata    map[string]any
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

type AuthorizationStateStore interface {
	Save(ctx context.Context, pending PendingAuthorization) error
	Consume(ctx context.Context, state string) (PendingAuthorization, error)
}

type MemoryAuthorizationStateStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]PendingAuthorization
}

func NewMemoryAuthorizationStateStore(ttl time.Duration) *MemoryAuthorizationStateStore {
	if ttl <= 0 {
		ttl = defaultAuthorizationStateTTL
	}
	return &MemoryAuthorizationStateStore{
		ttl:     ttl,
		now:     func() time.Time { return time.Now().UTC() },
		entries: map[string]PendingAuthorization{},
	}
}

func (s *MemoryAuthorizationStateStore) Save(_ context.Context, pending PendingAuthorization) error {
	if s == nil {
		return fmt.Errorf("core: oauth state store is not configured")
	}
	state := strings.TrimSpace(pending.State)
	if state == "" {
		return fmt.Errorf("core: oauth state is required")
	}

	now := s.now()
	if pending.CreatedAt.IsZero() {
		pending.CreatedAt = now
	}
	if pending.ExpiresAt.IsZero() {
		pending.ExpiresAt = pending.CreatedAt.Add(s.ttl)
	}
	pending.Metadata = cloneAnyMap(pending.Metadata)

	s.mu.Lock()
	s.entries[state] = pending
	s.evictExpiredLocked(now)
	s.mu.Unlock()
	return nil
}

// Consume returns and removes the pending authorization for state. A state can
// be consumed once.
func (s *MemoryAuthorizationStateStore) Consume(_ context.Context, state string) (PendingAuthorization, error) {
	if s == nil {
		return PendingAuthorization{}, fmt.Errorf("core: oauth state store is not configured")
	}
	state = strings.TrimSpace(state)
	if state == "" {
		return PendingAuthorization{}, fmt.Errorf("core: oauth state is required")
	}

	s.mu.Lock()
	pending, ok := s.entries[state]
	if ok {
		delete(s.entries, state)
	}
	s.mu.Unlock()

	if !ok {
		return PendingAuthorization{}, fmt.Errorf("core: oauth state not found")
	}
	if !pending.ExpiresAt.IsZero() && s.now().After(pending.ExpiresAt) {
		return PendingAuthorization{}, fmt.Errorf("core: oauth state expired")
	}
	pending.Metadata = cloneAnyMap(pending.Metadata)
	return pending, nil
}

func (s *MemoryAuthorizationStateStore) evictExpiredLocked(now time.Time) {
	for state, pending := range s.entries {
		if !pending.ExpiresAt.IsZero() && now.After(pending.ExpiresAt) {
			delete(s.entries, state)
		}
	}
}

// GenerateState returns a random URL-safe value for the OAuth state
// parameter.
func GenerateState() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("core: generate oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

var _ AuthorizationStateStore = (*MemoryAuthorizationStateStore)(nil)
