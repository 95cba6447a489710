package cloudauth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/oauth2/jwt"

	core "github.com/go-lcgw/lcgw/internal"
)

const (
	defaultGoogleTokenURL     = "https://oauth2.googleapis.com/token"
	googleCloudPlatformScope  = "https://www.googleapis.com/auth/cloud-platform"
	tokenExpiryLeeway         = 60 * time.Second
)

// serviceAccountKey is the subset of a Google service-account JSON blob
// the JWT-bearer flow needs.
type serviceAccountKey struct {
	Type        string `json:"type"`
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

// googleSAJWTToken exchanges a service-account JSON credential for an
// OAuth2 access token via the RFC 7523 JWT-bearer grant, per spec
// §4.6's Google SA JWT flow. tokenURL overrides the key's own token_uri
// when non-empty (a provider-configured token_url takes precedence).
func googleSAJWTToken(ctx context.Context, saJSON []byte, tokenURL string) (*core.CachedToken, error) {
	var key serviceAccountKey
	if err := json.Unmarshal(saJSON, &key); err != nil {
		return nil, &core.AuthError{Op: "google_sa_jwt", Err: fmt.Errorf("parse service account JSON: %w", err)}
	}
	if key.Type != "service_account" {
		return nil, &core.AuthError{Op: "google_sa_jwt", Err: fmt.Errorf("credential type %q is not service_account", key.Type)}
	}
	if key.ClientEmail == "" || key.PrivateKey == "" {
		return nil, &core.AuthError{Op: "google_sa_jwt", Err: fmt.Errorf("service account JSON missing client_email or private_key")}
	}

	aud := tokenURL
	if aud == "" {
		aud = key.TokenURI
	}
	if aud == "" {
		aud = defaultGoogleTokenURL
	}

	cfg := &jwt.Config{
		Email:      key.ClientEmail,
		PrivateKey: []byte(key.PrivateKey),
		Scopes:     []string{googleCloudPlatformScope},
		TokenURL:   aud,
	}

	tok, err := cfg.TokenSource(ctx).Token()
	if err != nil {
		return nil, &core.AuthError{Op: "google_sa_jwt", Err: fmt.Errorf("exchange JWT assertion: %w", err)}
	}

	expiresAt := tok.Expiry
	if !expiresAt.IsZero() {
		expiresAt = expiresAt.Add(-tokenExpiryLeeway)
	}
	return &core.CachedToken{Token: tok.AccessToken, ExpiresAt: expiresAt}, nil
}
