package auth

import (
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

const PKCEMethodS256 = "S256"

type PKCE struct {
	Verifier  string
	Challenge string
	Method    string
}

// NewPKCE returns a fresh RFC 7636 verifier and its S256 challenge.
func NewPKCE() PKCE {
	verifier := oauth2.GenerateVerifier()
	return PKCE{
		Verifier:  verifier,
		Challenge: oauth2.S256ChallengeFromVerifier(verifier),
		Method:    PKCEMethodS256,
	}
}

type AuthorizationURLRequest struct {
	AuthURL     string
	TokenURL    string
	ClientID    string
	RedirectURI string
	Scopes      []string
	State       string
	Verifier    string
	Extra       map[string]string
}

// AuthorizationURL builds the authorization-code URL with the S256 challenge
// derived from req.Verifier.
func AuthorizationURL(req AuthorizationURLRequest) (string, error) {
	authURL := strings.TrimSpace(req.AuthURL)
	if authURL == "" {
		return "", fmt.Errorf("auth: authorization url is required")
	}
	if strings.TrimSpace(req.ClientID) == "" {
		return "", fmt.Errorf("auth: client id is required")
	}
	if strings.TrimSpace(req.State) == "" {
		return "", fmt.Errorf("auth: oauth state is required")
	}
	if strings.TrimSpace(req.Verifier) == "" {
		return "", fmt.Errorf("auth: pkce verifier is required")
	}

	cfg := oauth2.Config{
		ClientID: strings.TrimSpace(req.ClientID),
		Endpoint: oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  strings.TrimSpace(req.TokenURL),
			AuthStyle: oauth2.AuthStyleInHeader,
		},
		RedirectURL: strings.TrimSpace(req.RedirectURI),
		Scopes:      normalizeScopes(req.Scopes),
	}
	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(req.Verifier)}
	for key, value := range req.Extra {
		if strings.TrimSpace(key) == "" {
			continue
		}
		opts = append(opts, oauth2.SetAuthURLParam(strings.TrimSpace(key), value))
	}
	return cfg.AuthCodeURL(strings.TrimSpace(req.State), opts...), nil
}
