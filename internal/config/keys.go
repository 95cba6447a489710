package config

import (
	"os"
	"strings"
	"sync"

	"go.yaml.in/yaml/v3"

	core "github.com/go-lcgw/lcgw/internal"
)

// Keys is the Keys Store (C2): a secret file, separate from Config,
// keyed by provider name. File permissions are tightened to owner-only
// on save, since this document holds API keys and service-account JSON.
type Keys struct {
	path string
	mu   sync.RWMutex
	// yamlCredential is the on-disk shape; Credentials holds the decoded
	// tagged form used by the rest of the process.
	raw         map[string]yamlCredential
	Credentials map[string]core.Credential `yaml:"-"`
}

// yamlCredential is the on-disk representation: exactly one field
// populated, selected by Kind.
type yamlCredential struct {
	Kind           string            `yaml:"kind"`
	APIKey         string            `yaml:"api_key,omitempty"`
	ServiceAccount string            `yaml:"service_account,omitempty"` // raw JSON text
	Token          string            `yaml:"token,omitempty"`
	CachedToken    *core.CachedToken `yaml:"cached_token,omitempty"`
	Headers        map[string]string `yaml:"headers,omitempty"`
}

// LoadKeys reads the secret store at path. A missing file yields an
// empty, ready-to-use Keys bound to path.
func LoadKeys(path string) (*Keys, error) {
	k := &Keys{path: path, raw: map[string]yamlCredential{}, Credentials: map[string]core.Credential{}}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return k, nil
	}
	if err != nil {
		return nil, &core.ConfigError{Op: "load_keys", Err: err}
	}

	var doc map[string]yamlCredential
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &core.ConfigError{Op: "parse_keys", Err: err}
	}
	k.raw = doc
	for name, yc := range doc {
		k.Credentials[name] = decodeCredential(yc)
	}
	return k, nil
}

func decodeCredential(yc yamlCredential) core.Credential {
	switch yc.Kind {
	case "api_key":
		return core.Credential{Kind: core.CredentialAPIKey, APIKey: yc.APIKey}
	case "service_account":
		return core.Credential{Kind: core.CredentialServiceAccount, ServiceAccount: []byte(yc.ServiceAccount)}
	case "token":
		return core.Credential{Kind: core.CredentialToken, Token: yc.Token}
	case "oauth_token":
		return core.Credential{Kind: core.CredentialOAuthToken, OAuthToken: yc.CachedToken}
	case "headers":
		return core.Credential{Kind: core.CredentialHeaders, Headers: yc.Headers}
	default:
		return core.Credential{Kind: core.CredentialNone}
	}
}

func encodeCredential(c core.Credential) yamlCredential {
	switch c.Kind {
	case core.CredentialAPIKey:
		return yamlCredential{Kind: "api_key", APIKey: c.APIKey}
	case core.CredentialServiceAccount:
		return yamlCredential{Kind: "service_account", ServiceAccount: string(c.ServiceAccount)}
	case core.CredentialToken:
		return yamlCredential{Kind: "token", Token: c.Token}
	case core.CredentialOAuthToken:
		return yamlCredential{Kind: "oauth_token", CachedToken: c.OAuthToken}
	case core.CredentialHeaders:
		return yamlCredential{Kind: "headers", Headers: c.Headers}
	default:
		return yamlCredential{}
	}
}

// Save atomically rewrites the secret store with owner-only permissions.
func (k *Keys) Save() error {
	k.mu.RLock()
	doc := make(map[string]yamlCredential, len(k.Credentials))
	for name, c := range k.Credentials {
		doc[name] = encodeCredential(c)
	}
	k.mu.RUnlock()

	data, err := yaml.Marshal(doc)
	if err != nil {
		return &core.ConfigError{Op: "marshal_keys", Err: err}
	}
	tmp := k.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return &core.ConfigError{Op: "write_keys", Err: err}
	}
	return os.Rename(tmp, k.path)
}

// SetAPIKey stores a static API key credential for name.
func (k *Keys) SetAPIKey(name, value string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.Credentials[name] = core.Credential{Kind: core.CredentialAPIKey, APIKey: value}
}

// Get returns the credential stored for name, or CredentialNone if
// absent.
func (k *Keys) Get(name string) core.Credential {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.Credentials[name]
}

// SetCachedToken stores a minted OAuth token for name, satisfying
// cloudauth.TokenCache.
func (k *Keys) SetCachedToken(name string, tok *core.CachedToken) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.Credentials[name] = core.Credential{Kind: core.CredentialOAuthToken, OAuthToken: tok}
}

// GetCachedToken returns the cached token for name, if one exists.
func (k *Keys) GetCachedToken(name string) *core.CachedToken {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if c, ok := k.Credentials[name]; ok && c.Kind == core.CredentialOAuthToken {
		return c.OAuthToken
	}
	return nil
}

// ResolvedProvider is a Provider merged with its resolved credential:
// header values containing "${api_key}" are substituted with the
// effective API key.
type ResolvedProvider struct {
	core.Provider
	Credential core.Credential
}

// GetProviderWithAuth merges a Config provider definition with its
// Keys Store credential, substituting "${api_key}" into header values.
func GetProviderWithAuth(cfg *Config, keys *Keys, name string) (*ResolvedProvider, error) {
	p, err := cfg.GetProvider(name)
	if err != nil {
		return nil, err
	}
	cred := keys.Get(name)

	rp := &ResolvedProvider{Provider: *p, Credential: cred}
	if len(p.Headers) > 0 && cred.Kind == core.CredentialAPIKey {
		resolved := make(map[string]string, len(p.Headers))
		for k, v := range p.Headers {
			resolved[k] = strings.ReplaceAll(v, "${api_key}", cred.APIKey)
		}
		rp.Headers = resolved
	}
	return rp, nil
}
