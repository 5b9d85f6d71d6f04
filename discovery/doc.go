// Package discovery fetches authorization-server metadata for a client
// configuration's authority. Metadata is fetched fresh on every
// authentication attempt and never cached here; discovery documents are cheap
// and idempotent, and any caching belongs to the authorization server's own
// infrastructure.
//
// A failed or non-HTTPS discovery (when the configuration requires HTTPS)
// fails closed with an *Error. Discovery failure is fatal for the current
// authentication attempt and is never retried at this layer.
package discovery
