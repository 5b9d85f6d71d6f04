package clientauth

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// Transport is an http.RoundTripper that authenticates outgoing requests
// through an Authenticator before delegating to the base transport.
//
// When the configuration is unavailable the request proceeds unauthenticated,
// matching TryAuthenticate's contract; every other acquisition failure aborts
// the round trip.
type Transport struct {
	// Base is the underlying HTTP transport. If nil, http.DefaultTransport
	// is used.
	Base http.RoundTripper

	// Authenticator acquires the bearer tokens.
	Authenticator *Authenticator

	// Configuration names the client configuration to authenticate with.
	// Empty selects the default configuration.
	Configuration string
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Authenticator == nil {
		return nil, fmt.Errorf("clientauth: Transport.Authenticator is nil")
	}

	reqClone := req.Clone(req.Context())
	if _, err := t.Authenticator.TryAuthenticate(req.Context(), reqClone, t.Configuration); err != nil {
		return nil, err
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(reqClone)
}

// TokenSource returns an oauth2.TokenSource that runs the acquisition
// pipeline for the named configuration, for interop with x/oauth2-based
// clients. The returned source performs the cache lookup on every call, so
// wrapping it in oauth2.ReuseTokenSource is unnecessary.
func (a *Authenticator) TokenSource(ctx context.Context, configurationName string) oauth2.TokenSource {
	return &tokenSource{a: a, ctx: ctx, name: configurationName}
}

type tokenSource struct {
	a    *Authenticator
	ctx  context.Context
	name string
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	cfg := ts.a.resolver.Resolve(ts.name)
	if cfg == nil {
		return nil, fmt.Errorf("clientauth: no configuration named %q and no default configured", ts.name)
	}

	tok, err := ts.a.acquire(ts.ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: tok, TokenType: "Bearer"}, nil
}
