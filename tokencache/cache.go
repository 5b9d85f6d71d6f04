package tokencache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/identware/clientauth-go/config"
)

// Entry is a cached access token. The TTL attached at store time carries the
// expiry; the entry itself holds only the credential.
type Entry struct {
	AccessToken string `json:"access_token"`
}

// Cache is the external distributed cache collaborator. Get returns
// (nil, nil) on a miss; errors are reserved for storage system failures.
// Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error
	Close() error
}

// expiryMargin is subtracted from a token's reported lifetime so that a
// cached token is never handed out within the window a discovery plus token
// round trip may still be in flight.
const expiryMargin = 10 * time.Second

// TTL converts a token's reported lifetime into a cache TTL, subtracting
// expiryMargin and clamping at zero. A zero result means the token must not
// be cached.
func TTL(expiresIn time.Duration) time.Duration {
	ttl := expiresIn - expiryMargin
	if ttl <= 0 {
		return 0
	}
	return ttl
}

// Key derives the deterministic cache key for a configuration resolved
// against a discovered token endpoint. The key covers the token endpoint,
// client id, scope, grant type and the pass-through extra parameters, so any
// change to one of those discriminates the cached token.
//
// Tenant identity is deliberately not part of the key: the token-endpoint
// call carries a tenant discriminator header, but cached tokens are shared
// across tenants resolving to the same configuration. Tenant isolation, if
// required, must happen upstream via distinct authorities or configurations.
func Key(tokenEndpoint string, cfg *config.ClientConfiguration) string {
	params := cfg.PassThroughParams()
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(tokenEndpoint)
	b.WriteByte('\n')
	b.WriteString(cfg.ClientID)
	b.WriteByte('\n')
	b.WriteString(cfg.Scope)
	b.WriteByte('\n')
	b.WriteString(string(cfg.GrantType))
	for _, name := range names {
		b.WriteByte('\n')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(strings.Join(params[name], ","))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return "token:" + hex.EncodeToString(sum[:])
}
