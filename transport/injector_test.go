package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-bankauth/core"
)

func newTestManager(t *testing.T) *core.Manager {
	t.Helper()
	manager, err := core.NewManager(core.NewMemoryRecordStore(), nil, core.DefaultConfig())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return manager
}

func TestTokenInjector_RefreshesAndShapesHeaders(t *testing.T) {
	var seenAuth, seenVersion atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth.Store(r.Header.Get("Authorization"))
		seenVersion.Store(r.Header.Get("X-Api-Version"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	manager := newTestManager(t)
	var calls atomic.Int32
	refresh := func(context.Context) (core.RefreshPayload, error) {
		calls.Add(1)
		return core.RefreshPayload{AccessToken: "abc", ExpiresIn: 1800}, nil
	}
	injector, err := NewTokenInjector(manager, core.NewTokenKey("oauthbank", "tenant-1"), refresh,
		WithBaseDoer(server.Client()),
		WithHeaderShaper(BearerHeaderShaper{VersionHeader: "X-Api-Version", Version: "2024-01"}),
	)
	if err != nil {
		t.Fatalf("new injector: %v", err)
	}

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL+"/accounts", nil)
		res, err := injector.Do(req)
		if err != nil {
			t.Fatalf("do %d: %v", i, err)
		}
		_ = res.Body.Close()
	}

	if got := seenAuth.Load(); got != "Bearer abc" {
		t.Fatalf("expected bearer header, got %v", got)
	}
	if got := seenVersion.Load(); got != "2024-01" {
		t.Fatalf("expected version header, got %v", got)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected the stored token to be reused, refresh calls=%d", calls.Load())
	}
}

func TestTokenInjector_ResolutionFailureSendsNothing(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	refresh := func(context.Context) (core.RefreshPayload, error) {
		return core.RefreshPayload{}, errors.New("provider down")
	}
	injector, err := NewTokenInjector(newTestManager(t), core.NewTokenKey("oauthbank", "tenant-1"), refresh, WithBaseDoer(server.Client()))
	if err != nil {
		t.Fatalf("new injector: %v", err)
	}

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	if _, err := injector.Do(req); !core.IsErrorKind(err, core.ErrorRefreshFailed) {
		t.Fatalf("expected refresh failure to propagate, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("expected no unauthenticated request, got %d hits", hits.Load())
	}
}

func TestTokenInjector_RefreshesTokenInsideBuffer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	manager := newTestManager(t)
	key := core.NewTokenKey("consentbank", "tenant-2")
	if _, err := manager.StoreToken(context.Background(), core.StoreTokenInput{Key: key, Token: "old", ExpiresIn: int64((2 * time.Minute).Seconds())}); err != nil {
		t.Fatalf("store token: %v", err)
	}

	var shaped atomic.Value
	refresh := func(context.Context) (core.RefreshPayload, error) {
		return core.RefreshPayload{AccessToken: "new", ExpiresIn: 3600}, nil
	}
	injector, err := NewTokenInjector(manager, key, refresh,
		WithBaseDoer(server.Client()),
		WithHeaderShaper(HeaderShaperFunc(func(header http.Header, token string) {
			shaped.Store(token)
			header.Set("Authorization", "Token "+token)
		})),
	)
	if err != nil {
		t.Fatalf("new injector: %v", err)
	}
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	res, err := injector.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	_ = res.Body.Close()
	if shaped.Load() != "new" {
		t.Fatalf("expected expiring token to be refreshed, got %v", shaped.Load())
	}
}

func TestNewTokenInjector_RequiresDependencies(t *testing.T) {
	refresh := func(context.Context) (core.RefreshPayload, error) { return core.RefreshPayload{}, nil }
	if _, err := NewTokenInjector(nil, core.NewTokenKey("oauthbank", "t"), refresh); err == nil {
		t.Fatalf("expected missing manager error")
	}
	if _, err := NewTokenInjector(newTestManager(t), core.NewTokenKey("oauthbank", "t"), nil); err == nil {
		t.Fatalf("expected missing refresh error")
	}
	if _, err := NewTokenInjector(newTestManager(t), core.NewTokenKey("", "t"), refresh); err == nil {
		t.Fatalf("expected invalid key error")
	}
}

func TestStaticTokenDoer_ShapesAndRejectsEmptyToken(t *testing.T) {
	var seen http.Header
	base := doerFunc(func(req *http.Request) (*http.Response, error) {
		seen = req.Header.Clone()
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Header: http.Header{}}, nil
	})

	req, _ := http.NewRequest(http.MethodGet, "https://bank.test/users", nil)
	res, err := StaticTokenDoer{Base: base, Token: "fresh"}.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	_ = res.Body.Close()
	if seen.Get("Authorization") != "Bearer fresh" {
		t.Fatalf("expected bearer header, got %v", seen)
	}
	if req.Header.Get("Authorization") != "" {
		t.Fatalf("expected the caller's request to stay untouched")
	}

	seen = nil
	if _, err := (StaticTokenDoer{Base: base}).Do(req); !core.IsErrorKind(err, core.ErrorBadInput) {
		t.Fatalf("expected bad input for an empty token, got %v", err)
	}
	if seen != nil {
		t.Fatalf("expected no request without a token")
	}
}

type doerFunc func(req *http.Request) (*http.Response, error)

func (f doerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }
