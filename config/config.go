package config

import (
	"fmt"
	"net/url"
	"strings"
)

// GrantType identifies the OAuth2 flow used to obtain an access token.
//
// The type is an open string so that configuration data can carry values this
// module does not implement; dispatch fails fast with an
// UnsupportedGrantTypeError for anything other than the two supported
// constants.
type GrantType string

const (
	// GrantClientCredentials is the OAuth2 client-credentials flow.
	GrantClientCredentials GrantType = "client_credentials"

	// GrantPassword is the OAuth2 resource-owner-password flow.
	GrantPassword GrantType = "password"
)

// PassThroughPrefix marks extra parameters that are forwarded to the token
// endpoint. The prefix is stripped before the parameter reaches the wire, so
// a parameter named "token:audience" is sent as "audience". Parameters
// without the prefix are ignored by the token request builder.
const PassThroughPrefix = "token:"

// Parameter is a single named extra parameter attached to a configuration.
// Parameters keep their declaration order.
type Parameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ClientConfiguration is a named, read-only description of how to obtain an
// access token from an authorization server. Values are populated once at
// configuration time and never mutated afterwards.
type ClientConfiguration struct {
	// Name is the unique, case-insensitive key of this entry.
	Name string `json:"name"`

	// Authority is the base URL of the authorization server. Discovery
	// metadata is fetched from its well-known endpoint on every attempt.
	Authority string `json:"authority"`

	// RequireHTTPS rejects non-HTTPS authorities before any network call.
	RequireHTTPS bool `json:"require_https"`

	GrantType    GrantType `json:"grant_type"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`

	// Scope is the space-delimited scope string requested from the token
	// endpoint.
	Scope string `json:"scope"`

	// Username and UserPassword are consulted only for the password grant.
	Username     string `json:"username,omitempty"`
	UserPassword string `json:"user_password,omitempty"`

	// ExtraParameters is an ordered mapping of additional parameters.
	// Entries whose Name carries PassThroughPrefix are copied verbatim
	// (prefix stripped) into the token request.
	ExtraParameters []Parameter `json:"extra_parameters,omitempty"`

	// IsDefault marks the entry returned when resolution by name finds no
	// match. A Store holds at most one default.
	IsDefault bool `json:"is_default,omitempty"`
}

// PassThroughParams returns the extra parameters destined for the token
// request, with PassThroughPrefix stripped, in declaration order.
func (c *ClientConfiguration) PassThroughParams() url.Values {
	vals := url.Values{}
	for _, p := range c.ExtraParameters {
		name, ok := strings.CutPrefix(p.Name, PassThroughPrefix)
		if !ok {
			continue
		}
		vals.Add(name, p.Value)
	}
	return vals
}

// Validate returns an error if required invariants are not met.
func (c *ClientConfiguration) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config: configuration name required")
	}
	if c.Authority == "" {
		return fmt.Errorf("config %q: authority required", c.Name)
	}
	if _, err := url.Parse(c.Authority); err != nil {
		return fmt.Errorf("config %q: invalid authority: %w", c.Name, err)
	}
	if c.ClientID == "" {
		return fmt.Errorf("config %q: client id required", c.Name)
	}
	if c.GrantType == GrantPassword && (c.Username == "" || c.UserPassword == "") {
		return fmt.Errorf("config %q: password grant requires username and user password", c.Name)
	}
	return nil
}

// UnsupportedGrantTypeError reports a configuration whose grant type is not
// implemented by this module. It is a configuration error, raised before any
// network call, and must never be retried.
type UnsupportedGrantTypeError struct {
	GrantType GrantType
}

func (e *UnsupportedGrantTypeError) Error() string {
	return fmt.Sprintf("config: grant type %q is not implemented", e.GrantType)
}

// Resolver maps an optional configuration name to a configuration.
// Implementations return nil when neither a match nor a default exists.
type Resolver interface {
	Resolve(name string) *ClientConfiguration
}

// Store is an immutable set of client configurations with name-based
// resolution. Safe for concurrent use.
type Store struct {
	byName map[string]*ClientConfiguration
	def    *ClientConfiguration
}

// NewStore builds a Store from the given configurations. It validates every
// entry, rejects duplicate (case-insensitive) names and rejects more than one
// default.
func NewStore(cfgs ...ClientConfiguration) (*Store, error) {
	s := &Store{byName: make(map[string]*ClientConfiguration, len(cfgs))}
	for i := range cfgs {
		cfg := cfgs[i]
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		key := strings.ToLower(cfg.Name)
		if _, exists := s.byName[key]; exists {
			return nil, fmt.Errorf("config: duplicate configuration name %q", cfg.Name)
		}
		s.byName[key] = &cfg
		if cfg.IsDefault {
			if s.def != nil {
				return nil, fmt.Errorf("config: multiple default configurations (%q and %q)", s.def.Name, cfg.Name)
			}
			s.def = &cfg
		}
	}
	return s, nil
}

// Resolve returns the configuration matching name (case-insensitive). An
// empty or unknown name falls back to the default. Returns nil only when no
// default exists.
func (s *Store) Resolve(name string) *ClientConfiguration {
	if name != "" {
		if cfg, ok := s.byName[strings.ToLower(name)]; ok {
			return cfg
		}
	}
	return s.def
}

// Default returns the default configuration, or nil if none is marked.
func (s *Store) Default() *ClientConfiguration {
	return s.def
}

var _ Resolver = (*Store)(nil)
