// Package grant builds and dispatches grant-specific token requests against
// a discovered token endpoint. Both supported grants surface failures as
// *oauth2.RetrieveError so callers classify errors through a single path.
package grant

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/identware/clientauth-go/config"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Dispatch performs the token-endpoint round trip for cfg against
// tokenEndpoint using httpClient. The configuration's pass-through extra
// parameters are merged into the request verbatim (prefix already stripped).
//
// A grant type other than client-credentials or password fails immediately
// with *config.UnsupportedGrantTypeError, before any network I/O.
func Dispatch(ctx context.Context, httpClient *http.Client, tokenEndpoint string, cfg *config.ClientConfiguration) (*oauth2.Token, error) {
	switch cfg.GrantType {
	case config.GrantClientCredentials:
		return clientCredentialsToken(ctx, httpClient, tokenEndpoint, cfg)
	case config.GrantPassword:
		return passwordToken(ctx, httpClient, tokenEndpoint, cfg)
	default:
		return nil, &config.UnsupportedGrantTypeError{GrantType: cfg.GrantType}
	}
}

func clientCredentialsToken(ctx context.Context, httpClient *http.Client, tokenEndpoint string, cfg *config.ClientConfiguration) (*oauth2.Token, error) {
	cc := &clientcredentials.Config{
		ClientID:       cfg.ClientID,
		ClientSecret:   cfg.ClientSecret,
		TokenURL:       tokenEndpoint,
		Scopes:         strings.Fields(cfg.Scope),
		EndpointParams: cfg.PassThroughParams(),
		AuthStyle:      oauth2.AuthStyleInParams,
	}
	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}
	return cc.Token(ctx)
}

// tokenResponse is the successful token-endpoint payload (RFC 6749 §5.1).
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// tokenError is the structured token-endpoint error payload (RFC 6749 §5.2).
type tokenError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
	URI         string `json:"error_uri"`
}

// passwordToken performs the resource-owner-password grant. x/oauth2's
// PasswordCredentialsToken cannot carry endpoint parameters, so the form is
// posted directly; errors are normalized into *oauth2.RetrieveError to keep
// classification identical to the client-credentials path.
func passwordToken(ctx context.Context, httpClient *http.Client, tokenEndpoint string, cfg *config.ClientConfiguration) (*oauth2.Token, error) {
	form := cfg.PassThroughParams()
	form.Set("grant_type", "password")
	form.Set("username", cfg.Username)
	form.Set("password", cfg.UserPassword)
	form.Set("client_id", cfg.ClientID)
	if cfg.ClientSecret != "" {
		form.Set("client_secret", cfg.ClientSecret)
	}
	if cfg.Scope != "" {
		form.Set("scope", cfg.Scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("grant: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("grant: token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("grant: read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, retrieveError(resp, body)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		return nil, &oauth2.RetrieveError{Response: resp, Body: body}
	}

	token := &oauth2.Token{
		AccessToken:  tr.AccessToken,
		TokenType:    tr.TokenType,
		RefreshToken: tr.RefreshToken,
	}
	if tr.ExpiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return token, nil
}

// retrieveError builds a *oauth2.RetrieveError from a failed token response,
// populating the structured fields only when the body parses as an OAuth2
// error document.
func retrieveError(resp *http.Response, body []byte) *oauth2.RetrieveError {
	re := &oauth2.RetrieveError{Response: resp, Body: body}

	var te tokenError
	if err := json.Unmarshal(body, &te); err == nil && te.Code != "" {
		re.ErrorCode = te.Code
		re.ErrorDescription = te.Description
		re.ErrorURI = te.URI
		return re
	}

	// Some servers reply with form-encoded error bodies.
	if vals, err := url.ParseQuery(string(body)); err == nil && vals.Get("error") != "" {
		re.ErrorCode = vals.Get("error")
		re.ErrorDescription = vals.Get("error_description")
		re.ErrorURI = vals.Get("error_uri")
	}
	return re
}
