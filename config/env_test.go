package config

import "testing"

func TestFromEnv(t *testing.T) {
	t.Setenv("CLIENTAUTH_AUTHORITY", "https://idp.test")
	t.Setenv("CLIENTAUTH_CLIENT_ID", "c-env")
	t.Setenv("CLIENTAUTH_CLIENT_SECRET", "s-env")
	t.Setenv("CLIENTAUTH_SCOPE", "api1")

	s, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() failed: %v", err)
	}

	cfg := s.Resolve("")
	if cfg == nil {
		t.Fatal("FromEnv() store has no default")
	}
	if cfg.ClientID != "c-env" || cfg.Scope != "api1" {
		t.Fatalf("unexpected configuration: %+v", cfg)
	}
	if cfg.GrantType != GrantClientCredentials {
		t.Fatalf("GrantType = %q, want default client_credentials", cfg.GrantType)
	}
	if !cfg.RequireHTTPS {
		t.Fatal("RequireHTTPS should default to true")
	}
}

func TestFromEnvMissingRequired(t *testing.T) {
	t.Setenv("CLIENTAUTH_AUTHORITY", "https://idp.test")
	t.Setenv("CLIENTAUTH_CLIENT_ID", "")

	if _, err := FromEnv(); err == nil {
		t.Fatal("FromEnv() accepted environment without client id")
	}
}
