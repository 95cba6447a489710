package config

import (
	"path/filepath"
	"testing"
	"time"

	core "github.com/go-lcgw/lcgw/internal"
)

func TestKeysSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.yaml")
	k, err := LoadKeys(path)
	if err != nil {
		t.Fatal(err)
	}
	k.SetAPIKey("openai", "sk-test")
	k.SetCachedToken("vertex", &core.CachedToken{Token: "tok", ExpiresAt: time.Now().Add(time.Hour)})

	if err := k.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := LoadKeys(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	cred := reloaded.Get("openai")
	if cred.Kind != core.CredentialAPIKey || cred.APIKey != "sk-test" {
		t.Fatalf("api key not preserved: %+v", cred)
	}
	tok := reloaded.GetCachedToken("vertex")
	if tok == nil || tok.Token != "tok" {
		t.Fatalf("cached token not preserved: %+v", tok)
	}
}

func TestGetProviderWithAuthSubstitutesAPIKey(t *testing.T) {
	cfg, _ := Load(filepath.Join(t.TempDir(), "c.yaml"))
	cfg.PutProvider(core.Provider{
		Name:    "custom",
		Headers: map[string]string{"X-Api-Key": "${api_key}"},
	})
	keys, _ := LoadKeys(filepath.Join(t.TempDir(), "k.yaml"))
	keys.SetAPIKey("custom", "abc123")

	rp, err := GetProviderWithAuth(cfg, keys, "custom")
	if err != nil {
		t.Fatal(err)
	}
	if rp.Headers["X-Api-Key"] != "abc123" {
		t.Fatalf("header not substituted: %+v", rp.Headers)
	}
}

func TestCachedTokenValidity(t *testing.T) {
	now := time.Now()
	valid := &core.CachedToken{Token: "t", ExpiresAt: now.Add(2 * time.Minute)}
	if !valid.Valid(now) {
		t.Fatal("token should be valid well before expiry")
	}
	expiring := &core.CachedToken{Token: "t", ExpiresAt: now.Add(30 * time.Second)}
	if expiring.Valid(now) {
		t.Fatal("token within the 60s skew window should be considered invalid")
	}
}
