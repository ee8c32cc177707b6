package transport

import (
	"fmt"
	"net/http"
	"time"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxRedirects = 5
)

// NewHTTPClient returns the shared outbound client for provider calls. Zero
// values fall back to DefaultTimeout and DefaultMaxRedirects.
func NewHTTPClient(timeout time.Duration, maxRedirects int) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxRedirects <= 0 {
		maxRedirects = DefaultMaxRedirects
	}
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("transport: stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
}
