package core

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestBankauthErrorMapper_AssignsStableCodes(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		textCode string
		status   int
	}{
		{name: "not configured", err: stderrors.New("oauthbank: client id is not configured"), textCode: ErrorProviderNotConfigured, status: http.StatusInternalServerError},
		{name: "oauth state", err: stderrors.New("oauthbank: oauth state expired"), textCode: ErrorOAuthStateInvalid, status: http.StatusUnauthorized},
		{name: "required", err: stderrors.New("core: tenant id is required"), textCode: ErrorBadInput, status: http.StatusBadRequest},
		{name: "deadline", err: context.DeadlineExceeded, textCode: ErrorRefreshFailed, status: http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mapped := bankauthErrorMapper(tc.err)
			if mapped.TextCode != tc.textCode {
				t.Fatalf("expected text code %q, got %q", tc.textCode, mapped.TextCode)
			}
			if mapped.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, mapped.Code)
			}
		})
	}
}

func TestBankauthErrorMapper_KeepsRichErrors(t *testing.T) {
	source := NewStoreUnavailableError(stderrors.New("dial tcp: refused"), "find_active")
	mapped := bankauthErrorMapper(source)
	if mapped.TextCode != ErrorStoreUnavailable {
		t.Fatalf("expected store unavailable, got %q", mapped.TextCode)
	}
	if mapped.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", mapped.Code)
	}
	if mapped.Metadata["store_operation"] != "find_active" {
		t.Fatalf("expected store operation metadata, got %+v", mapped.Metadata)
	}
}

func TestNewProviderOperationError(t *testing.T) {
	err := NewProviderOperationError(stderrors.New("status 500"), ProviderConsentBank, "get_accounts")
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected go-errors type, got %T", err)
	}
	if richErr.TextCode != ErrorProviderOperationFailed {
		t.Fatalf("expected provider operation code, got %q", richErr.TextCode)
	}
	if richErr.Metadata["operation"] != "get_accounts" {
		t.Fatalf("expected operation metadata, got %+v", richErr.Metadata)
	}

	refreshErr := NewRefreshFailedError(stderrors.New("boom"), NewTokenKey(ProviderConsentBank, "t"))
	if passed := NewProviderOperationError(refreshErr, ProviderConsentBank, "authenticate"); !IsErrorKind(passed, ErrorRefreshFailed) {
		t.Fatalf("expected bankauth errors to pass through, got %v", passed)
	}
	if NewProviderOperationError(nil, ProviderConsentBank, "x") != nil {
		t.Fatalf("expected nil for nil source")
	}
}

func TestRefreshFailedError_KeepsSourceMessage(t *testing.T) {
	err := NewRefreshFailedError(stderrors.New("token endpoint returned 401"), NewTokenKey(ProviderOAuthBank, "tenant-1"))
	if !strings.Contains(err.Error(), "token endpoint returned 401") {
		t.Fatalf("expected source message, got %q", err.Error())
	}
	if err.Metadata["tenant_id"] != "tenant-1" {
		t.Fatalf("expected tenant metadata, got %+v", err.Metadata)
	}
}

func TestErrorTextCode_PlainErrors(t *testing.T) {
	if ErrorTextCode(stderrors.New("plain")) != "" {
		t.Fatalf("expected no text code for plain error")
	}
	if IsErrorKind(nil, ErrorBadInput) {
		t.Fatalf("expected nil error to match nothing")
	}
}

func TestNewOAuthStateInvalidError(t *testing.T) {
	err := NewOAuthStateInvalidError(stderrors.New("core: oauth state not found"))
	if err.TextCode != ErrorOAuthStateInvalid || err.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected envelope %q/%d", err.TextCode, err.Code)
	}
	if !isUnrecoverableRefreshError(err) {
		t.Fatalf("expected oauth state errors to be unrecoverable")
	}
}
