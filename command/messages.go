package command

import (
	"strings"
	"time"

	"github.com/goliatone/go-bankauth/core"
)

const (
	TypeAuthenticate      = "bankauth.command.authenticate"
	TypeStartConsent      = "bankauth.command.consent.start"
	TypeExchangeOAuthCode = "bankauth.command.consent.exchange_code"
	TypeCreateEndUser     = "bankauth.command.end_user.create"
	TypeDisconnect        = "bankauth.command.disconnect"
	TypePruneTokens       = "bankauth.command.tokens.prune"
	TypeWarmTokens        = "bankauth.command.tokens.warm"
)

type AuthenticateMessage struct {
	Request core.AuthenticateRequest
}

func (AuthenticateMessage) Type() string { return TypeAuthenticate }

func (m AuthenticateMessage) Validate() error {
	return validateKey(m.Request.Provider, m.Request.TenantID)
}

// StartConsentMessage asks the provider for a user-facing authorization link.
type StartConsentMessage struct {
	Request core.RedirectURLRequest
}

func (StartConsentMessage) Type() string { return TypeStartConsent }

func (m StartConsentMessage) Validate() error {
	return validateKey(m.Request.Provider, m.Request.Request.TenantID)
}

type ExchangeOAuthCodeMessage struct {
	Request core.ExchangeCodeRequest
}

func (ExchangeOAuthCodeMessage) Type() string { return TypeExchangeOAuthCode }

func (m ExchangeOAuthCodeMessage) Validate() error {
	if err := validateKey(m.Request.Provider, m.Request.TenantID); err != nil {
		return err
	}
	if strings.TrimSpace(m.Request.Code) == "" {
		return commandValidationError("code", "authorization code is required")
	}
	if strings.TrimSpace(m.Request.State) == "" {
		return commandValidationError("state", "oauth state is required")
	}
	return nil
}

type CreateEndUserMessage struct {
	Request core.CreateEndUserRequest
}

func (CreateEndUserMessage) Type() string { return TypeCreateEndUser }

func (m CreateEndUserMessage) Validate() error {
	if err := validateKey(m.Request.Provider, m.Request.TenantID); err != nil {
		return err
	}
	if strings.TrimSpace(m.Request.Reference) == "" {
		return commandValidationError("reference", "end user reference is required")
	}
	return nil
}

type DisconnectMessage struct {
	Provider core.Provider
	TenantID string
}

func (DisconnectMessage) Type() string { return TypeDisconnect }

func (m DisconnectMessage) Validate() error {
	return validateKey(m.Provider, m.TenantID)
}

type PruneTokensMessage struct{}

func (PruneTokensMessage) Type() string { return TypePruneTokens }

func (PruneTokensMessage) Validate() error { return nil }

// WarmTokensMessage refreshes active tokens that leave the usable window
// within Within. Limit caps how many records one run inspects.
type WarmTokensMessage struct {
	Within time.Duration
	Limit  int
}

func (WarmTokensMessage) Type() string { return TypeWarmTokens }

func (m WarmTokensMessage) Validate() error {
	if m.Within < 0 {
		return commandValidationError("within", "must not be negative")
	}
	if m.Limit < 0 {
		return commandValidationError("limit", "must not be negative")
	}
	return nil
}

func validateKey(provider core.Provider, tenantID string) error {
	if provider.Normalize() == "" {
		return commandValidationError("provider", "provider is required")
	}
	if strings.TrimSpace(tenantID) == "" {
		return commandValidationError("tenant_id", "tenant id is required")
	}
	return nil
}
