package cloudauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	core "github.com/go-lcgw/lcgw/internal"
)

// AuthKind tags the resolved authentication variant a provider uses,
// per spec §4.6's effective_auth sum type.
type AuthKind int

const (
	AuthBearer AuthKind = iota
	AuthResolvedHeaders
	AuthTokenURLBearer
	AuthJWTOAuthBearer
)

// AuthMethod is the resolved, ready-to-apply authentication for one
// outbound request. Exactly one of Token or Headers is meaningful,
// selected by Kind.
type AuthMethod struct {
	Kind    AuthKind
	Token   string
	Headers map[string]string
}

// TokenCache persists and retrieves cached bearer tokens by provider
// name, shared with the Config/Keys store so a refreshed token survives
// process restarts. config.Keys satisfies this interface.
type TokenCache interface {
	GetCachedToken(name string) *core.CachedToken
	SetCachedToken(name string, tok *core.CachedToken)
}

// authHeaderNames are substrings that mark a provider-declared header
// as auth-carrying, per spec §4.6's "name contains key, token, or auth".
var authHeaderNames = []string{"key", "token", "auth"}

func looksLikeAuthHeader(name string) bool {
	lower := strings.ToLower(name)
	for _, want := range authHeaderNames {
		if strings.Contains(lower, want) {
			return true
		}
	}
	return false
}

// isPlaceholder reports whether value still contains an unresolved
// ${...} reference rather than a substituted secret.
func isPlaceholder(value string) bool {
	return strings.Contains(value, "${")
}

func isGoogleSA(p core.Provider) bool {
	return p.AuthType == "google_sa_jwt" || strings.Contains(p.Endpoint, "aiplatform.googleapis.com")
}

// EffectiveAuth resolves provider p's authentication method, consulting
// cred for whichever secret variant the flow needs and cache for a
// still-valid previously fetched token. httpClient is used for the
// token-URL flow's GET request.
func EffectiveAuth(ctx context.Context, p core.Provider, cred core.Credential, cache TokenCache, httpClient *http.Client) (AuthMethod, error) {
	for name, value := range p.Headers {
		if !looksLikeAuthHeader(name) || isPlaceholder(value) {
			continue
		}
		return AuthMethod{Kind: AuthResolvedHeaders, Headers: resolvedHeaders(p, cred)}, nil
	}

	if isGoogleSA(p) {
		return googleSAJWTAuth(ctx, p, cred, cache)
	}

	if p.TokenURL != "" {
		return tokenURLAuth(ctx, p, cred, cache, httpClient)
	}

	return AuthMethod{Kind: AuthBearer, Token: cred.APIKey}, nil
}

// resolvedHeaders substitutes ${api_key} in each declared header value
// with cred's API key, per get_provider_with_auth's substitution rule.
func resolvedHeaders(p core.Provider, cred core.Credential) map[string]string {
	out := make(map[string]string, len(p.Headers))
	for name, value := range p.Headers {
		out[name] = strings.ReplaceAll(value, "${api_key}", cred.APIKey)
	}
	return out
}

func googleSAJWTAuth(ctx context.Context, p core.Provider, cred core.Credential, cache TokenCache) (AuthMethod, error) {
	if cache != nil {
		if tok := cache.GetCachedToken(p.Name); tok != nil && tok.Valid(time.Now()) {
			return AuthMethod{Kind: AuthJWTOAuthBearer, Token: tok.Token}, nil
		}
	}

	if cred.Kind != core.CredentialServiceAccount {
		return AuthMethod{}, &core.AuthError{Op: "google_sa_jwt", Err: fmt.Errorf("provider %q requires a service_account credential", p.Name)}
	}

	tok, err := googleSAJWTToken(ctx, cred.ServiceAccount, p.TokenURL)
	if err != nil {
		return AuthMethod{}, err
	}
	if cache != nil {
		cache.SetCachedToken(p.Name, tok)
	}
	return AuthMethod{Kind: AuthJWTOAuthBearer, Token: tok.Token}, nil
}

type tokenURLResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

func tokenURLAuth(ctx context.Context, p core.Provider, cred core.Credential, cache TokenCache, httpClient *http.Client) (AuthMethod, error) {
	if cache != nil {
		if tok := cache.GetCachedToken(p.Name); tok != nil && tok.Valid(time.Now()) {
			return AuthMethod{Kind: AuthTokenURLBearer, Token: tok.Token}, nil
		}
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.TokenURL, nil)
	if err != nil {
		return AuthMethod{}, &core.AuthError{Op: "token_url", Err: err}
	}
	req.Header.Set("Authorization", "token "+cred.APIKey)

	resp, err := httpClient.Do(req)
	if err != nil {
		return AuthMethod{}, &core.AuthError{Op: "token_url", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return AuthMethod{}, &core.AuthError{Op: "token_url", Status: resp.StatusCode, Body: string(body)}
	}

	var parsed tokenURLResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return AuthMethod{}, &core.AuthError{Op: "token_url", Status: resp.StatusCode, Body: string(body), Err: err}
	}

	tok := &core.CachedToken{Token: parsed.Token, ExpiresAt: time.Unix(parsed.ExpiresAt, 0)}
	if cache != nil {
		cache.SetCachedToken(p.Name, tok)
	}
	return AuthMethod{Kind: AuthTokenURLBearer, Token: parsed.Token}, nil
}

// Apply sets the headers method requires on req.
func Apply(req *http.Request, method AuthMethod) {
	switch method.Kind {
	case AuthResolvedHeaders:
		for name, value := range method.Headers {
			req.Header.Set(name, value)
		}
	default:
		if method.Token != "" {
			req.Header.Set("Authorization", "Bearer "+method.Token)
		}
	}
}
