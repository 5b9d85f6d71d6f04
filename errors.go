package clientauth

import (
	"fmt"
	"strings"
)

// ProtocolError reports a structured OAuth2 error returned by the token
// endpoint (RFC 6749 §5.2). It is fatal for the authentication attempt and is
// never retried by this module.
type ProtocolError struct {
	// Code is the OAuth2 error code, e.g. "invalid_client".
	Code string

	// Description is the server-provided error description, if any.
	Description string

	// HTTPStatus is the HTTP status of the token response.
	HTTPStatus int

	Err error
}

func (e *ProtocolError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("token endpoint error %q (status %d)", e.Code, e.HTTPStatus)
	}
	return fmt.Sprintf("token endpoint error %q: %s (status %d)", e.Code, e.Description, e.HTTPStatus)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// TransportError reports a raw, unstructured failure from the token endpoint.
// Message holds the response text truncated at the first end-of-response
// marker so embedded stack traces do not leak into diagnostics.
type TransportError struct {
	Message    string
	HTTPStatus int

	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("token endpoint failure (status %d): %s", e.HTTPStatus, e.Message)
}

func (e *TransportError) Unwrap() error { return e.Err }

// endOfResponseMarker terminates the useful part of a raw error payload.
// Everything after the first line break is stack-trace or inner-error noise.
const endOfResponseMarker = "\n"

// truncateResponse cuts raw at the first end-of-response marker and trims
// surrounding whitespace.
func truncateResponse(raw string) string {
	if i := strings.Index(raw, endOfResponseMarker); i >= 0 {
		raw = raw[:i]
	}
	return strings.TrimSpace(raw)
}
