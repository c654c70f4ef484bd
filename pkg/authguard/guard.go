package authguard

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// RenewFunc obtains a fresh credential for the request/response channel,
// typically by calling the backend's renewal endpoint.
type RenewFunc func(ctx context.Context) (string, error)

// Guard single-flights credential renewal around an http.RoundTripper.
//
// When a request comes back unauthorized, all concurrent failures share one
// in-flight renewal; each failed request is then retried exactly once with
// the refreshed credential. A request that fails again after its retry
// propagates the failure. Requests toward the renewal endpoint itself never
// trigger the guard.
type Guard struct {
	base      http.RoundTripper
	renew     RenewFunc
	renewPath string
	onInvalid func(error)

	group singleflight.Group

	mu    sync.RWMutex
	token string
}

var _ http.RoundTripper = &Guard{}

const retriedHeader = "X-Parley-Auth-Retried"

// Option configures a Guard.
type Option func(*Guard)

// WithRenewPath marks the credential-renewal endpoint, excluded from
// triggering the guard (prevents self-recursion).
func WithRenewPath(path string) Option {
	return func(g *Guard) { g.renewPath = path }
}

// WithSessionInvalidHandler is called once per failed renewal; the session
// should be treated as gone and the user re-authenticated.
func WithSessionInvalidHandler(f func(error)) Option {
	return func(g *Guard) { g.onInvalid = f }
}

// New builds a Guard. renew is invoked at most once per expiry storm.
func New(base http.RoundTripper, initialToken string, renew RenewFunc, opts ...Option) *Guard {
	if base == nil {
		base = http.DefaultTransport
	}
	g := &Guard{base: base, token: initialToken, renew: renew}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Client wraps the guard in an http.Client.
func (g *Guard) Client() *http.Client {
	return &http.Client{Transport: g}
}

// Token returns the currently installed credential.
func (g *Guard) Token() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.token
}

// SetToken installs a credential, e.g. after an out-of-band login.
func (g *Guard) SetToken(token string) {
	g.mu.Lock()
	g.token = token
	g.mu.Unlock()
}

func (g *Guard) RoundTrip(req *http.Request) (*http.Response, error) {
	attempt := req.Clone(req.Context())
	attempt.Header.Set("Authorization", "Bearer "+g.Token())
	resp, err := g.base.RoundTrip(attempt)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	if g.renewPath != "" && req.URL.Path == g.renewPath {
		return resp, nil
	}
	if req.Header.Get(retriedHeader) != "" {
		// already retried once with a fresh credential; propagate
		return resp, nil
	}
	if req.Body != nil && req.GetBody == nil {
		// body cannot be replayed; the caller sees the original failure
		return resp, nil
	}

	// drain so the connection can be reused, then join the shared renewal
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	v, renewErr, _ := g.group.Do("renew", func() (any, error) {
		token, err := g.renew(req.Context())
		if err != nil {
			// singleflight hands the error to every waiter; escalate from
			// inside the shared call so the handler fires once per renewal
			log.Warn().Err(err).Str("component", "authguard").Msg("credential renewal failed, session invalidated")
			if g.onInvalid != nil {
				g.onInvalid(err)
			}
			return "", err
		}
		g.SetToken(token)
		return token, nil
	})
	if renewErr != nil {
		return nil, errors.Wrap(renewErr, "renew credentials")
	}
	token, _ := v.(string)

	retry := req.Clone(req.Context())
	retry.Header.Set(retriedHeader, "1")
	retry.Header.Set("Authorization", "Bearer "+token)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, errors.Wrap(err, "replay request body")
		}
		retry.Body = body
	}
	return g.base.RoundTrip(retry)
}
