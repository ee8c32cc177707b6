package core

import (
	"context"
	"testing"
	"time"
)

func TestMemoryAuthorizationStateStore_ConsumeOnce(t *testing.T) {
	store := NewMemoryAuthorizationStateStore(time.Minute)
	err := store.Save(context.Background(), PendingAuthorization{
		State:    "state_1",
		Provider: ProviderOAuthBank,
		TenantID: "tenant_1",
		Verifier: "verifier_1",
	})
	if err != nil {
		t.Fatalf("save state: %v", err)
	}

	pending, err := store.Consume(context.Background(), "state_1")
	if err != nil {
		t.Fatalf("consume state: %v", err)
	}
	if pending.Verifier != "verifier_1" || pending.TenantID != "tenant_1" {
		t.Fatalf("unexpected pending authorization: %#v", pending)
	}
	if _, err := store.Consume(context.Background(), "state_1"); err == nil {
		t.Fatalf("expected second consume to fail")
	}
}

func TestMemoryAuthorizationStateStore_SavePrunesExpiredEntries(t *testing.T) {
	store := NewMemoryAuthorizationStateStore(time.Minute)
	now := time.Now().UTC()

	if err := store.Save(context.Background(), PendingAuthorization{
		State:     "stale_state",
		CreatedAt: now.Add(-2 * time.Minute),
		ExpiresAt: now.Add(-1 * time.Minute),
	}); err != nil {
		t.Fatalf("save stale state: %v", err)
	}
	if err := store.Save(context.Background(), PendingAuthorization{
		State:     "fresh_state",
		CreatedAt: now,
	}); err != nil {
		t.Fatalf("save fresh state: %v", err)
	}

	if _, err := store.Consume(context.Background(), "stale_state"); err == nil {
		t.Fatalf("expected stale state to be pruned and unavailable")
	}
	if _, err := store.Consume(context.Background(), "fresh_state"); err != nil {
		t.Fatalf("expected fresh state to remain available, got %v", err)
	}
}

func TestGenerateStateIsRandom(t *testing.T) {
	first, err := GenerateState()
	if err != nil {
		t.Fatalf("generate state: %v", err)
	}
	second, err := GenerateState()
	if err != nil {
		t.Fatalf("generate state: %v", err)
	}
	if first == "" || first == second {
		t.Fatalf("expected distinct non-empty states, got %q and %q", first, second)
	}
}
