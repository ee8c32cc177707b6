package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-bankauth/core"
)

const (
	defaultTokenRequestTimeout = 30 * time.Second
	maxTokenResponseBodyBytes  = 1 << 20 // 1 MiB
)

type ClientCredentials struct {
	ClientID     string
	ClientSecret string
}

func (c ClientCredentials) normalized() ClientCredentials {
	return ClientCredentials{
		ClientID:     strings.TrimSpace(c.ClientID),
		ClientSecret: strings.TrimSpace(c.ClientSecret),
	}
}

// TokenRequest describes one call to a token endpoint. Form and JSON are
// mutually exclusive; JSON wins when both are set.
type TokenRequest struct {
	TokenURL    string
	Form        url.Values
	JSON        map[string]any
	Credentials ClientCredentials
	// CredentialsInBody sends client_id and client_secret as body fields
	// instead of a Basic auth header.
	CredentialsInBody bool
	Headers           map[string]string
}

type TokenResponse struct {
	Payload core.RefreshPayload
	Scope   string
	Raw     map[string]any
}

type TokenExchanger struct {
	client  core.HTTPDoer
	timeout time.Duration
}

func NewTokenExchanger(client core.HTTPDoer, timeout time.Duration) *TokenExchanger {
	if client == nil {
		client = &http.Client{Timeout: defaultTokenRequestTimeout}
	}
	if timeout <= 0 {
		timeout = defaultTokenRequestTimeout
	}
	return &TokenExchanger{client: client, timeout: timeout}
}

// ClientCredentials runs grant_type=client_credentials with Basic auth.
func (e *TokenExchanger) ClientCredentials(ctx context.Context, tokenURL string, creds ClientCredentials, scopes []string) (TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	if scopes = normalizeScopes(scopes); len(scopes) > 0 {
		form.Set("scope", strings.Join(scopes, " "))
	}
	return e.Exchange(ctx, TokenRequest{TokenURL: tokenURL, Form: form, Credentials: creds})
}

// RefreshToken runs grant_type=refresh_token with Basic auth.
func (e *TokenExchanger) RefreshToken(ctx context.Context, tokenURL string, creds ClientCredentials, refreshToken string, scopes []string) (TokenResponse, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return TokenResponse{}, core.NewBadInputError("auth: refresh token is required")
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	if scopes = normalizeScopes(scopes); len(scopes) > 0 {
		form.Set("scope", strings.Join(scopes, " "))
	}
	return e.Exchange(ctx, TokenRequest{TokenURL: tokenURL, Form: form, Credentials: creds})
}

// AuthorizationCode completes an authorization-code flow. verifier is the PKCE
// code verifier saved when the authorization URL was built.
func (e *TokenExchanger) AuthorizationCode(
	ctx context.Context,
	tokenURL string,
	creds ClientCredentials,
	code string,
	verifier string,
	redirectURI string,
) (TokenResponse, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return TokenResponse{}, core.NewBadInputError("auth: authorization code is required")
	}
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	if verifier = strings.TrimSpace(verifier); verifier != "" {
		form.Set("code_verifier", verifier)
	}
	if redirectURI = strings.TrimSpace(redirectURI); redirectURI != "" {
		form.Set("redirect_uri", redirectURI)
	}
	return e.Exchange(ctx, TokenRequest{TokenURL: tokenURL, Form: form, Credentials: creds})
}

func (e *TokenExchanger) Exchange(ctx context.Context, req TokenRequest) (TokenResponse, error) {
	if e == nil || e.client == nil {
		return TokenResponse{}, fmt.Errorf("auth: token exchanger is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	tokenURL := strings.TrimSpace(req.TokenURL)
	if tokenURL == "" {
		return TokenResponse{}, fmt.Errorf("auth: token url is required")
	}
	creds := req.Credentials.normalized()

	body, contentType, err := encodeTokenRequestBody(req, creds)
	if err != nil {
		return TokenResponse{}, err
	}

	requestCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, http.MethodPost, tokenURL, bytes.NewReader(body))
	if err != nil {
		return TokenResponse{}, err
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	for key, value := range req.Headers {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	if !req.CredentialsInBody && creds.ClientID != "" {
		httpReq.SetBasicAuth(creds.ClientID, creds.ClientSecret)
	}

	response, err := e.client.Do(httpReq)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("auth: token request failed: %w", err)
	}
	defer response.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(response.Body, maxTokenResponseBodyBytes+1))
	if readErr != nil {
		return TokenResponse{}, fmt.Errorf("auth: read token response: %w", readErr)
	}
	if int64(len(raw)) > maxTokenResponseBodyBytes {
		return TokenResponse{}, fmt.Errorf("auth: token response exceeds %d bytes", maxTokenResponseBodyBytes)
	}

	decoded, decodeErr := decodeTokenResponse(raw, response.Header.Get("Content-Type"))
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return TokenResponse{}, fmt.Errorf("auth: token endpoint error (%d): %s", response.StatusCode, describeTokenError(decoded, raw))
	}
	if decodeErr != nil {
		return TokenResponse{}, fmt.Errorf("auth: decode token response: %w", decodeErr)
	}

	payload, err := core.NormalizeTokenPayload(decoded)
	if err != nil {
		return TokenResponse{}, err
	}
	return TokenResponse{
		Payload: payload,
		Scope:   core.ReadAnyString(decoded["scope"]),
		Raw:     decoded,
	}, nil
}

func encodeTokenRequestBody(req TokenRequest, creds ClientCredentials) ([]byte, string, error) {
	if req.JSON != nil {
		fields := copyFields(req.JSON)
		if req.CredentialsInBody {
			fields["client_id"] = creds.ClientID
			fields["client_secret"] = creds.ClientSecret
		}
		encoded, err := json.Marshal(fields)
		if err != nil {
			return nil, "", fmt.Errorf("auth: encode token request: %w", err)
		}
		return encoded, "application/json", nil
	}

	values := url.Values{}
	for key, items := range req.Form {
		if strings.TrimSpace(key) == "" {
			continue
		}
		for _, item := range items {
			values.Add(key, strings.TrimSpace(item))
		}
	}
	if req.CredentialsInBody {
		values.Set("client_id", creds.ClientID)
		values.Set("client_secret", creds.ClientSecret)
	}
	return []byte(values.Encode()), "application/x-www-form-urlencoded", nil
}

func decodeTokenResponse(body []byte, contentType string) (map[string]any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return map[string]any{}, fmt.Errorf("empty body")
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if strings.Contains(contentType, "json") || trimmed[0] == '{' {
		decoder := json.NewDecoder(bytes.NewReader(trimmed))
		decoder.UseNumber()
		decoded := map[string]any{}
		if err := decoder.Decode(&decoded); err != nil {
			return map[string]any{}, err
		}
		return decoded, nil
	}
	values, err := url.ParseQuery(string(trimmed))
	if err != nil {
		return map[string]any{}, err
	}
	decoded := make(map[string]any, len(values))
	for key := range values {
		decoded[key] = values.Get(key)
	}
	return decoded, nil
}

func describeTokenError(decoded map[string]any, raw []byte) string {
	code := firstField(decoded, "error", "error_code", "code")
	description := firstField(decoded, "error_description", "message", "detail")
	switch {
	case code != "" && description != "":
		return code + ": " + description
	case code != "":
		return code
	case description != "":
		return description
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "unknown error"
	}
	if len(text) > 256 {
		text = text[:256]
	}
	return text
}
