package discovery

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/identware/clientauth-go/config"
)

// Metadata is the subset of the authorization-server discovery document this
// module consumes.
type Metadata struct {
	Issuer        string
	TokenEndpoint string
}

// Error reports a failed discovery attempt, carrying the policy or server
// error that caused it.
type Error struct {
	// ErrorType is a short classifier such as "https_required" or
	// "discovery_failed".
	ErrorType string

	// Description is the human-readable failure detail.
	Description string

	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("discovery: %s: %s", e.ErrorType, e.Description)
}

func (e *Error) Unwrap() error { return e.Err }

// Client fetches discovery documents using a caller-provided HTTP client.
// The HTTP client is expected to be short-lived and scoped to a single
// authentication attempt; connection pooling happens in the transport layer
// underneath it.
type Client struct {
	httpClient *http.Client
}

// New creates a discovery client on top of httpClient. A nil httpClient uses
// http.DefaultClient.
func New(httpClient *http.Client) *Client {
	return &Client{httpClient: httpClient}
}

// Discover fetches and validates the metadata document for cfg.Authority.
// When cfg.RequireHTTPS is set, non-HTTPS authorities are rejected before any
// network call. Context cancellation propagates as the context's error, not
// as an *Error.
func (c *Client) Discover(ctx context.Context, cfg *config.ClientConfiguration) (*Metadata, error) {
	authority, err := url.Parse(cfg.Authority)
	if err != nil {
		return nil, &Error{ErrorType: "invalid_authority", Description: err.Error(), Err: err}
	}
	if cfg.RequireHTTPS && authority.Scheme != "https" {
		return nil, &Error{
			ErrorType:   "https_required",
			Description: fmt.Sprintf("authority %q is not HTTPS but configuration %q requires it", cfg.Authority, cfg.Name),
		}
	}

	if c.httpClient != nil {
		ctx = oidc.ClientContext(ctx, c.httpClient)
	}

	provider, err := oidc.NewProvider(ctx, strings.TrimSuffix(cfg.Authority, "/"))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{ErrorType: "discovery_failed", Description: err.Error(), Err: err}
	}

	endpoint := provider.Endpoint()
	if endpoint.TokenURL == "" {
		return nil, &Error{
			ErrorType:   "discovery_failed",
			Description: fmt.Sprintf("authority %q advertises no token endpoint", cfg.Authority),
		}
	}

	return &Metadata{
		Issuer:        strings.TrimSuffix(cfg.Authority, "/"),
		TokenEndpoint: endpoint.TokenURL,
	}, nil
}
