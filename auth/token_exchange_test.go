package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestTokenExchanger_ClientCredentialsUsesBasicAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, secret, ok := r.BasicAuth()
		if !ok || id != "client-1" || secret != "secret-1" {
			t.Errorf("expected basic auth client-1/secret-1, got %q/%q ok=%v", id, secret, ok)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("grant_type") != "client_credentials" || r.PostForm.Get("scope") != "accounts balances" {
			t.Errorf("unexpected form %v", r.PostForm)
		}
		if r.PostForm.Get("client_secret") != "" {
			t.Errorf("secret must not be sent in the body")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"abc","expires_in":1800,"scope":"accounts balances"}`))
	}))
	defer server.Close()

	exchanger := NewTokenExchanger(server.Client(), time.Second)
	res, err := exchanger.ClientCredentials(context.Background(), server.URL, ClientCredentials{ClientID: " client-1 ", ClientSecret: "secret-1"}, []string{"accounts", "balances"})
	if err != nil {
		t.Fatalf("client credentials: %v", err)
	}
	if res.Payload.AccessToken != "abc" || res.Payload.ExpiresIn != 1800 {
		t.Fatalf("unexpected payload %+v", res.Payload)
	}
	if res.Scope != "accounts balances" {
		t.Fatalf("expected scope to be surfaced, got %q", res.Scope)
	}
}

func TestTokenExchanger_AuthorizationCodeSendsVerifier(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("code") != "code-1" || r.PostForm.Get("code_verifier") != "verifier-1" {
			t.Errorf("unexpected form %v", r.PostForm)
		}
		if r.PostForm.Get("redirect_uri") != "https://app.example.test/cb" {
			t.Errorf("expected redirect uri, got %q", r.PostForm.Get("redirect_uri"))
		}
		w.Header().Set("Content-Type", "application/x-www-form-urlencoded")
		_, _ = w.Write([]byte("access_token=xyz&refresh_token=r-1&expires_in=600"))
	}))
	defer server.Close()

	res, err := NewTokenExchanger(server.Client(), 0).AuthorizationCode(
		context.Background(), server.URL, ClientCredentials{ClientID: "c", ClientSecret: "s"},
		"code-1", "verifier-1", "https://app.example.test/cb",
	)
	if err != nil {
		t.Fatalf("authorization code: %v", err)
	}
	if res.Payload.AccessToken != "xyz" || res.Payload.RefreshToken != "r-1" || res.Payload.ExpiresIn != 600 {
		t.Fatalf("unexpected payload %+v", res.Payload)
	}
}

func TestTokenExchanger_JSONBodyWithCredentialsInBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, ok := r.BasicAuth(); ok {
			t.Errorf("expected no basic auth header")
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["secret_id"] != "key-1" || body["client_id"] != "id" || body["client_secret"] != "secret" {
			t.Errorf("unexpected body %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"consent-token","expires":"900"}`))
	}))
	defer server.Close()

	res, err := NewTokenExchanger(server.Client(), 0).Exchange(context.Background(), TokenRequest{
		TokenURL:          server.URL,
		JSON:              map[string]any{"secret_id": "key-1"},
		Credentials:       ClientCredentials{ClientID: "id", ClientSecret: "secret"},
		CredentialsInBody: true,
	})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if res.Payload.AccessToken != "consent-token" || res.Payload.ExpiresIn != 900 {
		t.Fatalf("expected aliased fields to normalize, got %+v", res.Payload)
	}
}

func TestTokenExchanger_ErrorStatusKeepsProviderCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_client","error_description":"bad secret"}`))
	}))
	defer server.Close()

	_, err := NewTokenExchanger(server.Client(), 0).ClientCredentials(context.Background(), server.URL, ClientCredentials{ClientID: "c", ClientSecret: "s"}, nil)
	if err == nil {
		t.Fatalf("expected token endpoint error")
	}
	if !strings.Contains(err.Error(), "invalid_client") || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected status and provider code in error, got %v", err)
	}
}

func TestTokenExchanger_RejectsMissingTokenAndOversizedBody(t *testing.T) {
	body := `{"expires_in":60}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	exchanger := NewTokenExchanger(server.Client(), 0)
	if _, err := exchanger.ClientCredentials(context.Background(), server.URL, ClientCredentials{}, nil); err == nil {
		t.Fatalf("expected missing access token error")
	}

	body = `{"access_token":"` + strings.Repeat("a", maxTokenResponseBodyBytes) + `"}`
	if _, err := exchanger.ClientCredentials(context.Background(), server.URL, ClientCredentials{}, nil); err == nil {
		t.Fatalf("expected oversized body error")
	}
	if _, err := exchanger.ClientCredentials(context.Background(), " ", ClientCredentials{}, nil); err == nil {
		t.Fatalf("expected missing token url error")
	}
}

func TestTokenExchanger_RefreshTokenGrant(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("grant_type") != "refresh_token" || r.PostForm.Get("refresh_token") != "r-1" {
			t.Errorf("unexpected form %v", r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"next","refresh_token":"r-2","expires_in":3600}`))
	}))
	defer server.Close()

	exchanger := NewTokenExchanger(server.Client(), 0)
	res, err := exchanger.RefreshToken(context.Background(), server.URL, ClientCredentials{ClientID: "c", ClientSecret: "s"}, "r-1", nil)
	if err != nil {
		t.Fatalf("refresh token: %v", err)
	}
	if res.Payload.AccessToken != "next" || res.Payload.RefreshToken != "r-2" {
		t.Fatalf("unexpected payload %+v", res.Payload)
	}
	if _, err := exchanger.RefreshToken(context.Background(), server.URL, ClientCredentials{}, " ", nil); err == nil {
		t.Fatalf("expected missing refresh token error")
	}
}
