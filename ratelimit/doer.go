package ratelimit

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/goliatone/go-bankauth/core"
)

// Doer gates outbound provider calls through an AdaptivePolicy. Each request
// host is tracked as its own bucket.
type Doer struct {
	base     core.HTTPDoer
	policy   *AdaptivePolicy
	provider core.Provider
}

func NewDoer(base core.HTTPDoer, policy *AdaptivePolicy, provider core.Provider) (*Doer, error) {
	if base == nil {
		return nil, fmt.Errorf("ratelimit: base http doer is required")
	}
	provider = provider.Normalize()
	if provider == "" {
		return nil, core.NewBadInputError("ratelimit: provider is required")
	}
	return &Doer{base: base, policy: policy, provider: provider}, nil
}

func (d *Doer) Do(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("ratelimit: request is required")
	}
	ctx := req.Context()
	key := Key{Provider: d.provider, Bucket: req.URL.Host}
	if err := d.policy.BeforeCall(ctx, key); err != nil {
		var throttled ThrottledError
		if errors.As(err, &throttled) {
			return nil, throttled.ToError()
		}
		return nil, err
	}

	res, err := d.base.Do(req)
	if err != nil {
		return nil, err
	}
	if err := d.policy.AfterCall(ctx, key, ResponseMeta{StatusCode: res.StatusCode, Headers: res.Header}); err != nil {
		_ = res.Body.Close()
		return nil, err
	}
	return res, nil
}

var _ core.HTTPDoer = (*Doer)(nil)
