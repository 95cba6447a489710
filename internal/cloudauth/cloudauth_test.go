package cloudauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	core "github.com/go-lcgw/lcgw/internal"
)

// recordingTransport captures the last request for inspection.
type recordingTransport struct {
	lastReq *http.Request
}

func (rt *recordingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	rt.lastReq = r
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
}

func TestAPIKeyTransport(t *testing.T) {
	rec := &recordingTransport{}
	transport := &APIKeyTransport{Key: "sk-test-123", HeaderName: "Authorization", Prefix: "Bearer ", Base: rec}

	req, _ := http.NewRequest(http.MethodGet, "https://example.com", nil)
	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	resp.Body.Close()

	if got := rec.lastReq.Header.Get("Authorization"); got != "Bearer sk-test-123" {
		t.Errorf("Authorization = %q, want Bearer sk-test-123", got)
	}
	if got := req.Header.Get("Authorization"); got != "" {
		t.Errorf("original request should not be mutated, got %q", got)
	}
}

type fakeCache struct {
	tokens map[string]*core.CachedToken
}

func (f *fakeCache) GetCachedToken(name string) *core.CachedToken {
	return f.tokens[name]
}

func (f *fakeCache) SetCachedToken(name string, tok *core.CachedToken) {
	if f.tokens == nil {
		f.tokens = map[string]*core.CachedToken{}
	}
	f.tokens[name] = tok
}

func TestEffectiveAuthPlainBearer(t *testing.T) {
	p := core.Provider{Name: "openai"}
	cred := core.Credential{Kind: core.CredentialAPIKey, APIKey: "sk-abc"}

	method, err := EffectiveAuth(context.Background(), p, cred, nil, nil)
	if err != nil {
		t.Fatalf("EffectiveAuth: %v", err)
	}
	if method.Kind != AuthBearer || method.Token != "sk-abc" {
		t.Fatalf("got %+v, want Bearer(sk-abc)", method)
	}
}

func TestEffectiveAuthResolvedHeaders(t *testing.T) {
	p := core.Provider{
		Name:        "azure",
		Headers:     map[string]string{"api-key": "resolved-secret"},
		HeaderOrder: []string{"api-key"},
	}
	cred := core.Credential{Kind: core.CredentialAPIKey, APIKey: "resolved-secret"}

	method, err := EffectiveAuth(context.Background(), p, cred, nil, nil)
	if err != nil {
		t.Fatalf("EffectiveAuth: %v", err)
	}
	if method.Kind != AuthResolvedHeaders {
		t.Fatalf("got kind %v, want AuthResolvedHeaders", method.Kind)
	}
	if method.Headers["api-key"] != "resolved-secret" {
		t.Fatalf("headers = %+v", method.Headers)
	}
}

func TestEffectiveAuthSkipsPlaceholderHeaders(t *testing.T) {
	p := core.Provider{
		Name:        "openai",
		Headers:     map[string]string{"authorization": "Bearer ${api_key}"},
		HeaderOrder: []string{"authorization"},
	}
	cred := core.Credential{Kind: core.CredentialAPIKey, APIKey: "sk-abc"}

	method, err := EffectiveAuth(context.Background(), p, cred, nil, nil)
	if err != nil {
		t.Fatalf("EffectiveAuth: %v", err)
	}
	if method.Kind != AuthBearer {
		t.Fatalf("placeholder header should not count as resolved, got kind %v", method.Kind)
	}
}

func TestEffectiveAuthTokenURLFlowFetchesAndCaches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "token sk-abc" {
			t.Errorf("Authorization = %q, want 'token sk-abc'", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"token":"fetched-tok","expires_at":` + timeUnixFuture() + `}`))
	}))
	defer srv.Close()

	p := core.Provider{Name: "custom", TokenURL: srv.URL}
	cred := core.Credential{Kind: core.CredentialAPIKey, APIKey: "sk-abc"}
	cache := &fakeCache{}

	method, err := EffectiveAuth(context.Background(), p, cred, cache, srv.Client())
	if err != nil {
		t.Fatalf("EffectiveAuth: %v", err)
	}
	if method.Kind != AuthTokenURLBearer || method.Token != "fetched-tok" {
		t.Fatalf("got %+v", method)
	}
	if cache.tokens["custom"] == nil || cache.tokens["custom"].Token != "fetched-tok" {
		t.Fatalf("token not cached: %+v", cache.tokens)
	}
}

func TestEffectiveAuthTokenURLFlowReusesCachedToken(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Write([]byte(`{"token":"new","expires_at":9999999999}`))
	}))
	defer srv.Close()

	p := core.Provider{Name: "custom", TokenURL: srv.URL}
	cred := core.Credential{Kind: core.CredentialAPIKey, APIKey: "sk-abc"}
	cache := &fakeCache{tokens: map[string]*core.CachedToken{
		"custom": {Token: "still-valid", ExpiresAt: time.Now().Add(time.Hour)},
	}}

	method, err := EffectiveAuth(context.Background(), p, cred, cache, srv.Client())
	if err != nil {
		t.Fatalf("EffectiveAuth: %v", err)
	}
	if called {
		t.Fatal("token URL should not be hit while cached token is valid")
	}
	if method.Token != "still-valid" {
		t.Fatalf("got token %q, want still-valid", method.Token)
	}
}

func TestEffectiveAuthGoogleSARequiresServiceAccountCredential(t *testing.T) {
	p := core.Provider{Name: "vertex", Endpoint: "https://us-central1-aiplatform.googleapis.com"}
	cred := core.Credential{Kind: core.CredentialAPIKey, APIKey: "not-a-service-account"}

	_, err := EffectiveAuth(context.Background(), p, cred, nil, nil)
	if err == nil {
		t.Fatal("expected AuthError when credential is not a service account")
	}
}

func TestApplyBearer(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "https://example.com", nil)
	Apply(req, AuthMethod{Kind: AuthBearer, Token: "sk-abc"})
	if got := req.Header.Get("Authorization"); got != "Bearer sk-abc" {
		t.Fatalf("Authorization = %q", got)
	}
}

func TestApplyResolvedHeaders(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "https://example.com", nil)
	Apply(req, AuthMethod{Kind: AuthResolvedHeaders, Headers: map[string]string{"api-key": "secret"}})
	if got := req.Header.Get("api-key"); got != "secret" {
		t.Fatalf("api-key = %q", got)
	}
	if got := req.Header.Get("Authorization"); got != "" {
		t.Fatalf("ResolvedHeaders must not also set Authorization, got %q", got)
	}
}

func timeUnixFuture() string {
	return "9999999999"
}
