package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorBadInput                = "BANKAUTH_BAD_INPUT"
	ErrorProviderNotConfigured   = "BANKAUTH_PROVIDER_NOT_CONFIGURED"
	ErrorStoreUnavailable        = "BANKAUTH_STORE_UNAVAILABLE"
	ErrorRefreshFailed           = "BANKAUTH_REFRESH_FAILED"
	ErrorTokenNotFound           = "BANKAUTH_TOKEN_NOT_FOUND"
	ErrorProviderOperationFailed = "BANKAUTH_PROVIDER_OPERATION_FAILED"
	ErrorOAuthStateInvalid       = "BANKAUTH_OAUTH_STATE_INVALID"
	ErrorCapabilityUnsupported   = "BANKAUTH_CAPABILITY_UNSUPPORTED"
	ErrorRateLimited             = "BANKAUTH_RATE_LIMITED"
	ErrorInternal                = "BANKAUTH_INTERNAL_ERROR"
)

// NewProviderNotConfiguredError reports missing static credentials or an
// unregistered strategy. It is never retried.
func NewProviderNotConfiguredError(provider Provider, detail string) *goerrors.Error {
	message := fmt.Sprintf("core: provider %q is not configured", provider)
	if detail = strings.TrimSpace(detail); detail != "" {
		message += ": " + detail
	}
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorProviderNotConfigured).
		WithMetadata(map[string]any{"provider": string(provider)})
}

func NewStoreUnavailableError(source error, operation string) *goerrors.Error {
	message := "core: token store unavailable"
	if operation = strings.TrimSpace(operation); operation != "" {
		message += " during " + operation
	}
	return wrapOrNew(source, goerrors.CategoryExternal, message).
		WithCode(http.StatusServiceUnavailable).
		WithTextCode(ErrorStoreUnavailable).
		WithMetadata(map[string]any{"store_operation": operation})
}

func NewRefreshFailedError(source error, key TokenKey) *goerrors.Error {
	return wrapOrNew(source, goerrors.CategoryExternal, "core: token refresh failed").
		WithCode(http.StatusServiceUnavailable).
		WithTextCode(ErrorRefreshFailed).
		WithMetadata(map[string]any{
			"provider":  string(key.Provider),
			"tenant_id": key.TenantID,
		})
}

func NewTokenNotFoundError(key TokenKey) *goerrors.Error {
	return goerrors.New(
		fmt.Sprintf("core: no active token for provider %q tenant %q", key.Provider, key.TenantID),
		goerrors.CategoryAuth,
	).
		WithCode(http.StatusUnauthorized).
		WithTextCode(ErrorTokenNotFound).
		WithMetadata(map[string]any{
			"provider":  string(key.Provider),
			"tenant_id": key.TenantID,
		})
}

// NewProviderOperationError wraps a provider call failure with provider and
// operation context. Errors that already carry a bankauth text code pass
// through unchanged.
func NewProviderOperationError(source error, provider Provider, operation string) error {
	if source == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(source, &richErr) && strings.HasPrefix(richErr.TextCode, "BANKAUTH_") {
		return source
	}
	return goerrors.Wrap(source, goerrors.CategoryExternal, fmt.Sprintf("%s: %s failed", provider, operation)).
		WithCode(http.StatusBadGateway).
		WithTextCode(ErrorProviderOperationFailed).
		WithMetadata(map[string]any{
			"provider":  string(provider),
			"operation": operation,
		})
}

// NewOAuthStateInvalidError reports an unknown, expired or mismatched OAuth
// state on code exchange.
func NewOAuthStateInvalidError(source error) *goerrors.Error {
	return wrapOrNew(source, goerrors.CategoryAuth, "core: oauth state invalid").
		WithCode(http.StatusUnauthorized).
		WithTextCode(ErrorOAuthStateInvalid)
}

func NewBadInputError(message string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorBadInput)
}

// ErrorTextCode returns the bankauth text code carried by err, if any.
func ErrorTextCode(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode
	}
	return ""
}

func IsErrorKind(err error, textCode string) bool {
	if err == nil {
		return false
	}
	return ErrorTextCode(err) == textCode
}

func wrapOrNew(source error, category goerrors.Category, message string) *goerrors.Error {
	if source == nil {
		return goerrors.New(message, category)
	}
	return goerrors.Wrap(source, category, message+": "+source.Error())
}

func bankauthErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return newBankauthError(err.Error(), goerrors.CategoryExternal, ErrorRefreshFailed)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "not configured"), strings.Contains(msg, "not registered"):
		return newBankauthError(err.Error(), goerrors.CategoryInternal, ErrorProviderNotConfigured)
	case strings.Contains(msg, "oauth state"):
		return newBankauthError(err.Error(), goerrors.CategoryAuth, ErrorOAuthStateInvalid)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newBankauthError(err.Error(), goerrors.CategoryBadInput, ErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

func newBankauthError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = httpStatusFor(err.Category, err.TextCode)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryAuth, goerrors.CategoryAuthz, goerrors.CategoryNotFound:
		return ErrorTokenNotFound
	case goerrors.CategoryExternal:
		return ErrorProviderOperationFailed
	case goerrors.CategoryOperation:
		return ErrorCapabilityUnsupported
	default:
		return ErrorInternal
	}
}

func httpStatusFor(category goerrors.Category, textCode string) int {
	switch textCode {
	case ErrorStoreUnavailable, ErrorRefreshFailed:
		return http.StatusServiceUnavailable
	case ErrorProviderOperationFailed:
		return http.StatusBadGateway
	}
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
