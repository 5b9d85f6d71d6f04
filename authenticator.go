package clientauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/identware/clientauth-go/config"
	"github.com/identware/clientauth-go/discovery"
	"github.com/identware/clientauth-go/internal/grant"
	"github.com/identware/clientauth-go/internal/logctx"
	"github.com/identware/clientauth-go/tokencache"
	"golang.org/x/oauth2"
)

// Authenticator is the top-level entry point: it resolves a named client
// configuration, obtains a bearer access token (from cache or via discovery
// plus a token-endpoint round trip) and injects it into outgoing requests.
//
// Concurrent attempts for the same cache key each perform their own round
// trip; all resulting writes store equivalent tokens, so the last write wins.
// No single-flight coalescing is performed.
type Authenticator struct {
	resolver  config.Resolver
	cache     tokencache.Cache
	factory   HTTPClientFactory
	tenants   TenantProvider
	customize RequestCustomizer
	log       *slog.Logger
	now       func() time.Time
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithLogger sets the logger used for attempt diagnostics. If not provided,
// logs are discarded.
func WithLogger(log *slog.Logger) Option {
	return func(a *Authenticator) {
		a.log = slog.New(logctx.Handler{Handler: log.Handler()})
	}
}

// WithHTTPClientFactory replaces the default transport factory.
func WithHTTPClientFactory(f HTTPClientFactory) Option {
	return func(a *Authenticator) { a.factory = f }
}

// WithTenantProvider replaces the default context-backed tenant provider.
func WithTenantProvider(p TenantProvider) Option {
	return func(a *Authenticator) { a.tenants = p }
}

// WithRequestCustomizer installs a hook invoked on every outgoing discovery
// and token request immediately before dispatch.
func WithRequestCustomizer(c RequestCustomizer) Option {
	return func(a *Authenticator) { a.customize = c }
}

// New creates an Authenticator resolving configurations through resolver and
// caching tokens in cache.
func New(resolver config.Resolver, cache tokencache.Cache, opts ...Option) (*Authenticator, error) {
	if resolver == nil {
		return nil, errors.New("clientauth: configuration resolver is required")
	}
	if cache == nil {
		return nil, errors.New("clientauth: token cache is required")
	}

	a := &Authenticator{
		resolver: resolver,
		cache:    cache,
		factory:  defaultHTTPClientFactory{},
		tenants:  contextTenantProvider{},
		log:      slog.New(slog.DiscardHandler),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// TryAuthenticate obtains an access token for the named configuration and
// sets it on req as "Authorization: Bearer <token>", overwriting any prior
// authorization header. An empty configurationName selects the default
// configuration.
//
// It returns (false, nil) when neither a matching nor a default configuration
// exists; the request is left unmodified and the caller proceeds
// unauthenticated. Every other failure is returned as an error: discovery
// failures as *discovery.Error, unsupported grant types as
// *config.UnsupportedGrantTypeError, structured token-endpoint errors as
// *ProtocolError, unstructured ones as *TransportError. Context cancellation
// propagates as the context's error.
func (a *Authenticator) TryAuthenticate(ctx context.Context, req *http.Request, configurationName string) (bool, error) {
	cfg := a.resolver.Resolve(configurationName)
	if cfg == nil {
		a.log.WarnContext(ctx, "client configuration not found and no default configured",
			slog.String("configuration", configurationName))
		return false, nil
	}

	ctx = logctx.WithAttemptData(ctx, &logctx.AttemptData{
		AttemptID:     uuid.NewString(),
		Configuration: cfg.Name,
		GrantType:     string(cfg.GrantType),
	})

	token, err := a.acquire(ctx, cfg)
	if err != nil {
		return false, err
	}

	req.Header.Set("Authorization", "Bearer "+token)
	return true, nil
}

// acquire runs the token pipeline for cfg: discovery, cache lookup, and on a
// miss the grant dispatch plus cache population.
func (a *Authenticator) acquire(ctx context.Context, cfg *config.ClientConfiguration) (string, error) {
	httpClient := a.newHTTPClient(ctx)

	md, err := discovery.New(httpClient).Discover(ctx, cfg)
	if err != nil {
		return "", err
	}

	key := tokencache.Key(md.TokenEndpoint, cfg)

	entry, err := a.cache.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("clientauth: token cache lookup: %w", err)
	}
	if entry != nil {
		a.log.DebugContext(ctx, "token cache hit")
		return entry.AccessToken, nil
	}
	a.log.DebugContext(ctx, "token cache miss")

	token, err := grant.Dispatch(ctx, httpClient, md.TokenEndpoint, cfg)
	if err != nil {
		return "", a.classifyTokenError(ctx, err)
	}

	if ttl := tokencache.TTL(a.expiresIn(token)); ttl > 0 {
		if err := a.cache.Set(ctx, key, &tokencache.Entry{AccessToken: token.AccessToken}, ttl); err != nil {
			// The token itself is valid; a failed store only costs the next
			// caller a round trip.
			a.log.WarnContext(ctx, "token cache store failed", slog.String("err", err.Error()))
		}
	} else {
		a.log.DebugContext(ctx, "token lifetime within expiry margin, not caching")
	}

	a.log.InfoContext(ctx, "access token obtained")
	return token.AccessToken, nil
}

// newHTTPClient builds the per-attempt transport client, decorated with the
// tenant discriminator header and the request customizer hook.
func (a *Authenticator) newHTTPClient(ctx context.Context) *http.Client {
	client := a.factory.NewClient(HTTPClientName)
	if client == nil {
		client = &http.Client{}
	}

	tenantID, _ := a.tenants.TenantID(ctx)

	decorated := *client
	decorated.Transport = &customizingTransport{
		base:      client.Transport,
		tenantID:  tenantID,
		customize: a.customize,
	}
	return &decorated
}

// expiresIn derives the token's remaining lifetime. When the token response
// carried no expires_in, the exp claim of a JWT-shaped access token is used
// as a fallback; the token is not verified here because this module is the
// client, not the audience.
func (a *Authenticator) expiresIn(token *oauth2.Token) time.Duration {
	// Round back to whole seconds: the wire format is an integral expires_in
	// and the sub-second drift is the time spent parsing the response.
	if !token.Expiry.IsZero() {
		return token.Expiry.Sub(a.now()).Round(time.Second)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token.AccessToken, claims); err != nil {
		return 0
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0
	}
	return exp.Time.Sub(a.now()).Round(time.Second)
}

// classifyTokenError maps a grant dispatch failure onto the module's error
// kinds. Cancellation always propagates as the context error, never as a
// protocol error.
func (a *Authenticator) classifyTokenError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var ug *config.UnsupportedGrantTypeError
	if errors.As(err, &ug) {
		return err
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		if re.ErrorCode != "" {
			return &ProtocolError{
				Code:        re.ErrorCode,
				Description: re.ErrorDescription,
				HTTPStatus:  status,
				Err:         err,
			}
		}
		return &TransportError{
			Message:    truncateResponse(string(re.Body)),
			HTTPStatus: status,
			Err:        err,
		}
	}

	return fmt.Errorf("clientauth: token request: %w", err)
}
