// Package clientauth acquires and caches OAuth2 bearer access tokens for
// calling protected downstream HTTP APIs. Given a named client
// configuration, it discovers the authorization server's token endpoint,
// performs the configured grant (client-credentials or resource-owner
// password), stores the resulting token in an external cache with an
// expiry-derived TTL and attaches it to outgoing requests as
// "Authorization: Bearer <token>".
//
// The public surface intentionally stays small: an Authenticator exposes
// TryAuthenticate for imperative use, plus a Transport (http.RoundTripper)
// and a TokenSource adapter for wiring into existing HTTP stacks.
//
// # Usage
//
//	store, err := config.NewStore(config.ClientConfiguration{
//	    Name:      "billing",
//	    Authority: "https://idp.example.com",
//	    GrantType: config.GrantClientCredentials,
//	    ClientID:  "billing-svc",
//	    ClientSecret: os.Getenv("BILLING_CLIENT_SECRET"),
//	    Scope:     "billing:read",
//	    IsDefault: true,
//	})
//	if err != nil { log.Fatal(err) }
//
//	cache, _ := memory.New(128)
//	authn, err := clientauth.New(store, cache)
//	if err != nil { log.Fatal(err) }
//
//	req, _ := http.NewRequestWithContext(ctx, "GET", "https://api.example.com/v1/invoices", nil)
//	ok, err := authn.TryAuthenticate(ctx, req, "billing")
//
// ok is false with a nil error only when no matching and no default
// configuration exists; the caller then proceeds unauthenticated. All other
// failures surface as errors (see the error types in this package,
// discovery.Error and config.UnsupportedGrantTypeError).
//
// # Caching
//
// Tokens are cached under a deterministic key derived from the discovered
// token endpoint and the configuration identity, with a TTL of the reported
// lifetime minus a ten second safety margin. Discovery metadata itself is
// fetched fresh on every attempt. Concurrent misses for the same key each
// perform their own round trip; no retries happen anywhere in this package.
package clientauth
