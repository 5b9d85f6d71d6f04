package clientauth

import (
	"context"
	"fmt"
	"net/http"
)

// HTTPClientName is the logical identifier under which this module requests
// transport instances from the HTTP client factory. Transport policies such as
// timeouts and proxies can be configured externally per this name.
const HTTPClientName = "clientauth"

// TenantHeader is the discriminator header attached to discovery and token
// requests when the tenant provider yields an identifier. It routes the
// token-endpoint call through tenant-aware infrastructure and has no effect
// on cache key derivation.
const TenantHeader = "X-Tenant-Id"

// HTTPClientFactory supplies transport instances for discovery and token
// calls. Clients are requested fresh per authentication attempt and hold no
// state in this module beyond the pooling done by their transport.
type HTTPClientFactory interface {
	NewClient(name string) *http.Client
}

// HTTPClientFactoryFunc adapts a function to the HTTPClientFactory interface.
type HTTPClientFactoryFunc func(name string) *http.Client

func (f HTTPClientFactoryFunc) NewClient(name string) *http.Client { return f(name) }

// defaultHTTPClientFactory hands out per-attempt clients sharing the default
// pooled transport.
type defaultHTTPClientFactory struct{}

func (defaultHTTPClientFactory) NewClient(string) *http.Client {
	return &http.Client{Transport: http.DefaultTransport}
}

// TenantProvider exposes the current tenant identifier, read at request time.
type TenantProvider interface {
	TenantID(ctx context.Context) (string, bool)
}

type tenantKey struct{}

// WithTenant returns a context carrying a tenant identifier for the default
// context-backed TenantProvider.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// TenantFromContext reads the tenant identifier stored by WithTenant.
func TenantFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(tenantKey{}).(string)
	return id, ok && id != ""
}

// contextTenantProvider is the default TenantProvider, reading WithTenant.
type contextTenantProvider struct{}

func (contextTenantProvider) TenantID(ctx context.Context) (string, bool) {
	return TenantFromContext(ctx)
}

// RequestCustomizer mutates an outgoing discovery or token request
// immediately before dispatch, e.g. to inject headers. When configured it is
// invoked for every such request.
type RequestCustomizer func(req *http.Request) error

// customizingTransport decorates a transport with the tenant discriminator
// header and the request customizer hook.
type customizingTransport struct {
	base      http.RoundTripper
	tenantID  string
	customize RequestCustomizer
}

func (t *customizingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.tenantID != "" {
		req.Header.Set(TenantHeader, t.tenantID)
	}
	if t.customize != nil {
		if err := t.customize(req); err != nil {
			return nil, fmt.Errorf("customize request: %w", err)
		}
	}

	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}
