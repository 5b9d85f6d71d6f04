package clientauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/identware/clientauth-go/config"
	"github.com/identware/clientauth-go/discovery"
	"github.com/identware/clientauth-go/tokencache"
)

// fakeIdP is a minimal authorization server: a discovery document plus a
// swappable token endpoint handler, with request counters.
type fakeIdP struct {
	srv *httptest.Server

	discoveryHits atomic.Int64
	tokenHits     atomic.Int64

	mu          sync.Mutex
	tokenHandler http.HandlerFunc
	lastTokenReq *http.Request
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()

	idp := &fakeIdP{}
	idp.tokenHandler = idp.serveToken("tok-A", 3600)

	mux := http.NewServeMux()
	idp.srv = httptest.NewServer(mux)
	t.Cleanup(idp.srv.Close)

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		idp.discoveryHits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 idp.srv.URL,
			"authorization_endpoint": idp.srv.URL + "/connect/authorize",
			"token_endpoint":         idp.srv.URL + "/connect/token",
			"jwks_uri":               idp.srv.URL + "/.well-known/jwks",
		})
	})

	mux.HandleFunc("/connect/token", func(w http.ResponseWriter, r *http.Request) {
		idp.tokenHits.Add(1)
		_ = r.ParseForm()
		idp.mu.Lock()
		idp.lastTokenReq = r.Clone(context.Background())
		handler := idp.tokenHandler
		idp.mu.Unlock()
		handler(w, r)
	})

	return idp
}

func (idp *fakeIdP) serveToken(token string, expiresIn int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": token,
			"token_type":   "Bearer",
			"expires_in":   expiresIn,
		})
	}
}

func (idp *fakeIdP) setTokenHandler(h http.HandlerFunc) {
	idp.mu.Lock()
	idp.tokenHandler = h
	idp.mu.Unlock()
}

func (idp *fakeIdP) lastTokenRequest() *http.Request {
	idp.mu.Lock()
	defer idp.mu.Unlock()
	return idp.lastTokenReq
}

func (idp *fakeIdP) config(name string, isDefault bool) config.ClientConfiguration {
	return config.ClientConfiguration{
		Name:         name,
		Authority:    idp.srv.URL,
		GrantType:    config.GrantClientCredentials,
		ClientID:     "c1",
		ClientSecret: "s1",
		Scope:        "api1",
		IsDefault:    isDefault,
	}
}

// recordingCache is an in-memory tokencache.Cache that records store TTLs.
type recordingCache struct {
	mu      sync.Mutex
	entries map[string]*tokencache.Entry
	ttls    map[string]time.Duration
	sets    int
}

func newRecordingCache() *recordingCache {
	return &recordingCache{
		entries: map[string]*tokencache.Entry{},
		ttls:    map[string]time.Duration{},
	}
}

func (c *recordingCache) Get(ctx context.Context, key string) (*tokencache.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[key], nil
}

func (c *recordingCache) Set(ctx context.Context, key string, entry *tokencache.Entry, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry
	c.ttls[key] = ttl
	c.sets++
	return nil
}

func (c *recordingCache) Close() error { return nil }

func (c *recordingCache) single(t *testing.T) (string, *tokencache.Entry, time.Duration) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) != 1 {
		t.Fatalf("cache holds %d entries, want 1", len(c.entries))
	}
	for key, entry := range c.entries {
		return key, entry, c.ttls[key]
	}
	return "", nil, 0
}

func newStoreWithoutDefault(idp *fakeIdP) (*config.Store, error) {
	return config.NewStore(idp.config("api1", false))
}

func newTestAuthenticator(t *testing.T, idp *fakeIdP, cache tokencache.Cache, opts ...Option) *Authenticator {
	t.Helper()

	store, err := config.NewStore(idp.config("api1", true))
	if err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}

	opts = append([]Option{
		WithHTTPClientFactory(HTTPClientFactoryFunc(func(string) *http.Client {
			return idp.srv.Client()
		})),
	}, opts...)

	a, err := New(store, cache, opts...)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return a
}

func TestTryAuthenticateSuccess(t *testing.T) {
	idp := newFakeIdP(t)
	cache := newRecordingCache()
	a := newTestAuthenticator(t, idp, cache)

	req := httptest.NewRequest(http.MethodGet, "https://api.test/v1/things", nil)

	ok, err := a.TryAuthenticate(context.Background(), req, "api1")
	if err != nil {
		t.Fatalf("TryAuthenticate() failed: %v", err)
	}
	if !ok {
		t.Fatal("TryAuthenticate() = false, want true")
	}
	if got := req.Header.Get("Authorization"); got != "Bearer tok-A" {
		t.Fatalf("Authorization = %q, want Bearer tok-A", got)
	}

	if idp.discoveryHits.Load() != 1 || idp.tokenHits.Load() != 1 {
		t.Fatalf("round trips = (%d discovery, %d token), want (1, 1)",
			idp.discoveryHits.Load(), idp.tokenHits.Load())
	}

	_, entry, ttl := cache.single(t)
	if entry.AccessToken != "tok-A" {
		t.Fatalf("cached token = %q, want tok-A", entry.AccessToken)
	}
	if ttl != 3590*time.Second {
		t.Fatalf("cached TTL = %v, want 3590s (expires_in minus margin)", ttl)
	}
}

func TestTryAuthenticateOverwritesPriorHeader(t *testing.T) {
	idp := newFakeIdP(t)
	a := newTestAuthenticator(t, idp, newRecordingCache())

	req := httptest.NewRequest(http.MethodGet, "https://api.test/", nil)
	req.Header.Set("Authorization", "Basic abc")

	if ok, err := a.TryAuthenticate(context.Background(), req, ""); err != nil || !ok {
		t.Fatalf("TryAuthenticate() = (%v, %v)", ok, err)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer tok-A" {
		t.Fatalf("Authorization = %q, want prior header overwritten", got)
	}
}

func TestCacheHitSkipsTokenEndpoint(t *testing.T) {
	idp := newFakeIdP(t)
	cache := newRecordingCache()
	a := newTestAuthenticator(t, idp, cache)

	ctx := context.Background()

	req1 := httptest.NewRequest(http.MethodGet, "https://api.test/", nil)
	if _, err := a.TryAuthenticate(ctx, req1, "api1"); err != nil {
		t.Fatalf("first TryAuthenticate() failed: %v", err)
	}

	idp.setTokenHandler(idp.serveToken("tok-B", 3600))

	req2 := httptest.NewRequest(http.MethodGet, "https://api.test/", nil)
	if _, err := a.TryAuthenticate(ctx, req2, "api1"); err != nil {
		t.Fatalf("second TryAuthenticate() failed: %v", err)
	}

	if got := req2.Header.Get("Authorization"); got != "Bearer tok-A" {
		t.Fatalf("Authorization = %q, want cached tok-A", got)
	}
	if idp.tokenHits.Load() != 1 {
		t.Fatalf("token endpoint hit %d times, want 1 (second call served from cache)", idp.tokenHits.Load())
	}
	if idp.discoveryHits.Load() != 2 {
		t.Fatalf("discovery fetched %d times, want 2 (never cached)", idp.discoveryHits.Load())
	}
}

func TestConfigurationNotFound(t *testing.T) {
	idp := newFakeIdP(t)

	store, err := config.NewStore(idp.config("api1", false)) // no default
	if err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}
	a, err := New(store, newRecordingCache())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "https://api.test/", nil)

	ok, err := a.TryAuthenticate(context.Background(), req, "unknown")
	if err != nil {
		t.Fatalf("TryAuthenticate() err = %v, want nil for missing configuration", err)
	}
	if ok {
		t.Fatal("TryAuthenticate() = true, want false")
	}
	if req.Header.Get("Authorization") != "" {
		t.Fatal("request must stay unmodified when resolution fails")
	}
}

func TestUnsupportedGrantTypeFailsBeforeTokenCall(t *testing.T) {
	idp := newFakeIdP(t)

	cfg := idp.config("legacy", true)
	cfg.GrantType = config.GrantType("implicit")
	store, err := config.NewStore(cfg)
	if err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}

	a, err := New(store, newRecordingCache(),
		WithHTTPClientFactory(HTTPClientFactoryFunc(func(string) *http.Client { return idp.srv.Client() })))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "https://api.test/", nil)

	_, err = a.TryAuthenticate(context.Background(), req, "legacy")

	var ug *config.UnsupportedGrantTypeError
	if !errors.As(err, &ug) {
		t.Fatalf("TryAuthenticate() err = %v, want *config.UnsupportedGrantTypeError", err)
	}
	if idp.tokenHits.Load() != 0 {
		t.Fatal("unsupported grant type must not reach the token endpoint")
	}
}

func TestDiscoveryFailureIsFatal(t *testing.T) {
	idp := newFakeIdP(t)

	cfg := idp.config("api1", true)
	cfg.RequireHTTPS = true // httptest serves plain http
	store, err := config.NewStore(cfg)
	if err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}

	a, err := New(store, newRecordingCache(),
		WithHTTPClientFactory(HTTPClientFactoryFunc(func(string) *http.Client { return idp.srv.Client() })))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "https://api.test/", nil)

	_, err = a.TryAuthenticate(context.Background(), req, "api1")

	var derr *discovery.Error
	if !errors.As(err, &derr) {
		t.Fatalf("TryAuthenticate() err = %v, want *discovery.Error", err)
	}
}

func TestProtocolError(t *testing.T) {
	idp := newFakeIdP(t)
	idp.setTokenHandler(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_client"})
	})
	a := newTestAuthenticator(t, idp, newRecordingCache())

	req := httptest.NewRequest(http.MethodGet, "https://api.test/", nil)

	_, err := a.TryAuthenticate(context.Background(), req, "api1")

	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("TryAuthenticate() err = %v, want *ProtocolError", err)
	}
	if perr.Code != "invalid_client" {
		t.Fatalf("Code = %q, want invalid_client", perr.Code)
	}
	if perr.HTTPStatus != http.StatusBadRequest {
		t.Fatalf("HTTPStatus = %d, want 400", perr.HTTPStatus)
	}
}

func TestTransportErrorTruncatesAtMarker(t *testing.T) {
	idp := newFakeIdP(t)
	idp.setTokenHandler(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("upstream exploded\n   at Server.Process()\n   at Dispatcher.Run()"))
	})
	a := newTestAuthenticator(t, idp, newRecordingCache())

	req := httptest.NewRequest(http.MethodGet, "https://api.test/", nil)

	_, err := a.TryAuthenticate(context.Background(), req, "api1")

	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("TryAuthenticate() err = %v, want *TransportError", err)
	}
	if terr.Message != "upstream exploded" {
		t.Fatalf("Message = %q, want payload truncated at first marker", terr.Message)
	}
}

func TestShortLivedTokenIsNotCached(t *testing.T) {
	idp := newFakeIdP(t)
	idp.setTokenHandler(idp.serveToken("tok-short", 8)) // below the 10s margin
	cache := newRecordingCache()
	a := newTestAuthenticator(t, idp, cache)

	ctx := context.Background()

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "https://api.test/", nil)
		ok, err := a.TryAuthenticate(ctx, req, "api1")
		if err != nil || !ok {
			t.Fatalf("TryAuthenticate() #%d = (%v, %v)", i, ok, err)
		}
	}

	if cache.sets != 0 {
		t.Fatalf("cache.Set called %d times, want 0 for short-lived tokens", cache.sets)
	}
	if idp.tokenHits.Load() != 2 {
		t.Fatalf("token endpoint hit %d times, want 2 (nothing cached)", idp.tokenHits.Load())
	}
}

func TestTenantHeaderOnTokenRequest(t *testing.T) {
	idp := newFakeIdP(t)
	a := newTestAuthenticator(t, idp, newRecordingCache())

	ctx := WithTenant(context.Background(), "tenant-42")
	req := httptest.NewRequest(http.MethodGet, "https://api.test/", nil)

	if ok, err := a.TryAuthenticate(ctx, req, "api1"); err != nil || !ok {
		t.Fatalf("TryAuthenticate() = (%v, %v)", ok, err)
	}

	tokenReq := idp.lastTokenRequest()
	if tokenReq == nil {
		t.Fatal("token endpoint was not called")
	}
	if got := tokenReq.Header.Get(TenantHeader); got != "tenant-42" {
		t.Fatalf("%s = %q, want tenant-42", TenantHeader, got)
	}
	if req.Header.Get(TenantHeader) != "" {
		t.Fatal("tenant header must not leak onto the caller's request")
	}
}

func TestNoTenantHeaderWithoutTenant(t *testing.T) {
	idp := newFakeIdP(t)
	a := newTestAuthenticator(t, idp, newRecordingCache())

	req := httptest.NewRequest(http.MethodGet, "https://api.test/", nil)
	if ok, err := a.TryAuthenticate(context.Background(), req, "api1"); err != nil || !ok {
		t.Fatalf("TryAuthenticate() = (%v, %v)", ok, err)
	}

	tokenReq := idp.lastTokenRequest()
	if got := tokenReq.Header.Get(TenantHeader); got != "" {
		t.Fatalf("%s = %q, want absent", TenantHeader, got)
	}
}

func TestRequestCustomizerRunsOnDiscoveryAndToken(t *testing.T) {
	idp := newFakeIdP(t)

	var customized atomic.Int64
	a := newTestAuthenticator(t, idp, newRecordingCache(),
		WithRequestCustomizer(func(req *http.Request) error {
			customized.Add(1)
			req.Header.Set("X-Custom", "yes")
			return nil
		}))

	req := httptest.NewRequest(http.MethodGet, "https://api.test/", nil)
	if ok, err := a.TryAuthenticate(context.Background(), req, "api1"); err != nil || !ok {
		t.Fatalf("TryAuthenticate() = (%v, %v)", ok, err)
	}

	// One discovery fetch plus one token request.
	if customized.Load() != 2 {
		t.Fatalf("customizer invoked %d times, want 2", customized.Load())
	}
	if got := idp.lastTokenRequest().Header.Get("X-Custom"); got != "yes" {
		t.Fatalf("X-Custom = %q, want customizer header on token request", got)
	}
}

func TestCancellationPropagates(t *testing.T) {
	idp := newFakeIdP(t)
	a := newTestAuthenticator(t, idp, newRecordingCache())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodGet, "https://api.test/", nil)

	_, err := a.TryAuthenticate(ctx, req, "api1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("TryAuthenticate() err = %v, want context.Canceled", err)
	}

	var perr *ProtocolError
	var terr *TransportError
	if errors.As(err, &perr) || errors.As(err, &terr) {
		t.Fatal("cancellation must not be classified as a protocol or transport error")
	}
}

func TestConcurrentMisses(t *testing.T) {
	idp := newFakeIdP(t)
	cache := newRecordingCache()
	a := newTestAuthenticator(t, idp, cache)

	const callers = 8

	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, "https://api.test/", nil)
			ok, err := a.TryAuthenticate(context.Background(), req, "api1")
			if err == nil && !ok {
				err = errors.New("unexpected false without error")
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d failed: %v", i, err)
		}
	}

	_, entry, _ := cache.single(t)
	if entry.AccessToken != "tok-A" {
		t.Fatalf("cached token = %q, want a valid token from one of the writes", entry.AccessToken)
	}
}

func TestJWTExpiryFallback(t *testing.T) {
	// Unsigned JWT with exp one hour out; header/claims are base64url JSON.
	exp := time.Now().Add(time.Hour).Unix()
	token := unsignedJWT(t, map[string]any{"exp": exp})

	idp := newFakeIdP(t)
	idp.setTokenHandler(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": token,
			"token_type":   "Bearer",
			// no expires_in
		})
	})
	cache := newRecordingCache()
	a := newTestAuthenticator(t, idp, cache)

	req := httptest.NewRequest(http.MethodGet, "https://api.test/", nil)
	if ok, err := a.TryAuthenticate(context.Background(), req, "api1"); err != nil || !ok {
		t.Fatalf("TryAuthenticate() = (%v, %v)", ok, err)
	}

	_, _, ttl := cache.single(t)
	if ttl < 55*time.Minute || ttl > time.Hour {
		t.Fatalf("cached TTL = %v, want roughly one hour minus margin from exp claim", ttl)
	}
}

// unsignedJWT builds a JWT-shaped token with the given claims and an empty
// signature. Good enough for unverified claim parsing.
func unsignedJWT(t *testing.T, claims map[string]any) string {
	t.Helper()

	encode := func(v any) string {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal jwt part: %v", err)
		}
		return base64.RawURLEncoding.EncodeToString(data)
	}

	header := map[string]string{"alg": "none", "typ": "JWT"}
	return encode(header) + "." + encode(claims) + "."
}
