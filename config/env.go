package config

import (
	"fmt"

	"github.com/joeshaw/envdecode"
)

// envConfig mirrors the CLIENTAUTH_* environment variables describing a
// single default configuration.
type envConfig struct {
	Authority    string `env:"CLIENTAUTH_AUTHORITY,required"`
	RequireHTTPS bool   `env:"CLIENTAUTH_REQUIRE_HTTPS,default=true"`
	GrantType    string `env:"CLIENTAUTH_GRANT_TYPE,default=client_credentials"`
	ClientID     string `env:"CLIENTAUTH_CLIENT_ID,required"`
	ClientSecret string `env:"CLIENTAUTH_CLIENT_SECRET"`
	Scope        string `env:"CLIENTAUTH_SCOPE"`
	Username     string `env:"CLIENTAUTH_USERNAME"`
	UserPassword string `env:"CLIENTAUTH_USER_PASSWORD"`
}

// FromEnv builds a Store holding a single default configuration decoded from
// the process environment. Intended for services that talk to exactly one
// authorization server.
func FromEnv() (*Store, error) {
	var ec envConfig
	if err := envdecode.StrictDecode(&ec); err != nil {
		return nil, fmt.Errorf("config: decode environment: %w", err)
	}
	return NewStore(ClientConfiguration{
		Name:         "default",
		Authority:    ec.Authority,
		RequireHTTPS: ec.RequireHTTPS,
		GrantType:    GrantType(ec.GrantType),
		ClientID:     ec.ClientID,
		ClientSecret: ec.ClientSecret,
		Scope:        ec.Scope,
		Username:     ec.Username,
		UserPassword: ec.UserPassword,
		IsDefault:    true,
	})
}
