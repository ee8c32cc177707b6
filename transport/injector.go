package transport

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-bankauth/core"
)

// HeaderShaper writes a resolved token onto an outbound request in the form a
// provider expects.
type HeaderShaper interface {
	Shape(header http.Header, token string)
}

// BearerHeaderShaper sets Authorization: Bearer <token> and an optional fixed
// version header.
type BearerHeaderShaper struct {
	VersionHeader string
	Version       string
}

func (s BearerHeaderShaper) Shape(header http.Header, token string) {
	header.Set("Authorization", "Bearer "+token)
	if name := strings.TrimSpace(s.VersionHeader); name != "" && strings.TrimSpace(s.Version) != "" {
		header.Set(name, strings.TrimSpace(s.Version))
	}
}

// HeaderShaperFunc adapts a function to HeaderShaper.
type HeaderShaperFunc func(header http.Header, token string)

func (f HeaderShaperFunc) Shape(header http.Header, token string) {
	f(header, token)
}

type TokenInjector struct {
	base    core.HTTPDoer
	manager core.TokenManager
	key     core.TokenKey
	refresh core.RefreshFunc
	shaper  HeaderShaper
}

type InjectorOption func(*TokenInjector)

func WithHeaderShaper(shaper HeaderShaper) InjectorOption {
	return func(i *TokenInjector) {
		if shaper != nil {
			i.shaper = shaper
		}
	}
}

func WithBaseDoer(base core.HTTPDoer) InjectorOption {
	return func(i *TokenInjector) {
		if base != nil {
			i.base = base
		}
	}
}

// NewTokenInjector decorates outbound requests for key with a valid token.
// refresh is the owning strategy's refresh callback.
func NewTokenInjector(manager core.TokenManager, key core.TokenKey, refresh core.RefreshFunc, opts ...InjectorOption) (*TokenInjector, error) {
	if manager == nil {
		return nil, fmt.Errorf("transport: token manager is required")
	}
	if refresh == nil {
		return nil, fmt.Errorf("transport: refresh callback is required")
	}
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return nil, err
	}
	injector := &TokenInjector{
		base:    NewHTTPClient(0, 0),
		manager: manager,
		key:     key,
		refresh: refresh,
		shaper:  BearerHeaderShaper{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(injector)
		}
	}
	return injector, nil
}

// Do resolves a token before sending req. The request is never sent when
// resolution fails.
func (i *TokenInjector) Do(req *http.Request) (*http.Response, error) {
	if i == nil || i.base == nil {
		return nil, fmt.Errorf("transport: token injector is not configured")
	}
	if req == nil {
		return nil, fmt.Errorf("transport: request is required")
	}
	token, err := i.resolveToken(req)
	if err != nil {
		return nil, err
	}

	outbound := req.Clone(req.Context())
	i.shaper.Shape(outbound.Header, token)
	return i.base.Do(outbound)
}

func (i *TokenInjector) resolveToken(req *http.Request) (string, error) {
	ctx := req.Context()
	record, found, err := i.manager.GetActiveToken(ctx, i.key)
	if err != nil {
		return "", err
	}
	if found && strings.TrimSpace(record.Token) != "" && i.manager.IsUsable(record.ExpiresAt) {
		return record.Token, nil
	}
	return i.manager.GetValidToken(ctx, i.key, i.refresh)
}

// StaticTokenDoer shapes every request with a token the caller already holds,
// such as one a refresh callback has just obtained and the Manager has not
// stored yet.
type StaticTokenDoer struct {
	Base   core.HTTPDoer
	Token  string
	Shaper HeaderShaper
}

func (d StaticTokenDoer) Do(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("transport: request is required")
	}
	if strings.TrimSpace(d.Token) == "" {
		return nil, core.NewBadInputError("transport: token is required")
	}
	base := d.Base
	if base == nil {
		base = NewHTTPClient(0, 0)
	}
	shaper := d.Shaper
	if shaper == nil {
		shaper = BearerHeaderShaper{}
	}
	outbound := req.Clone(req.Context())
	shaper.Shape(outbound.Header, d.Token)
	return base.Do(outbound)
}

var (
	_ core.HTTPDoer = (*TokenInjector)(nil)
	_ core.HTTPDoer = StaticTokenDoer{}
)
