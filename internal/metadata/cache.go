package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	core "github.com/go-lcgw/lcgw/internal"
)

const freshness = 24 * time.Hour

// CacheFile is the on-disk shape of one provider's models/<provider>.json
// cache file.
type CacheFile struct {
	LastUpdated time.Time             `json:"last_updated"`
	RawResponse json.RawMessage       `json:"raw_response"`
	Models      []core.ModelMetadata  `json:"models"`
}

// Fetcher performs the GET against a provider's models endpoint,
// routed through the Auth Manager (C8) and HTTP Transport (C7). It is
// injected so the cache stays decoupled from those components.
type Fetcher interface {
	FetchModels(ctx context.Context, provider string) ([]byte, error)
}

// Cache is the Metadata Cache (C5): a per-provider file cache of the
// raw listing and extracted records, with a 24h freshness policy and a
// small in-process read-through layer to avoid re-parsing the file on
// every lookup within one process lifetime.
type Cache struct {
	dir     string
	fetcher Fetcher
	paths   PathsConfig
	tags    TagsConfig

	mu  sync.RWMutex
	hot map[string]*CacheFile
}

// NewCache returns a Cache rooted at dir (the "models/" directory).
func NewCache(dir string, fetcher Fetcher, paths PathsConfig, tags TagsConfig) *Cache {
	return &Cache{dir: dir, fetcher: fetcher, paths: paths, tags: tags, hot: map[string]*CacheFile{}}
}

func (c *Cache) filePath(provider string) string {
	return filepath.Join(c.dir, provider+".json")
}

// FetchAndCacheProviderModels returns the cached metadata for provider
// unless it is stale (age >= 24h) or force is set, in which case it
// fetches a fresh listing, extracts it, and atomically rewrites the
// cache file.
func (c *Cache) FetchAndCacheProviderModels(ctx context.Context, provider string, force bool) (*CacheFile, error) {
	if !force {
		if cf, ok := c.fresh(provider); ok {
			return cf, nil
		}
	}

	raw, err := c.fetcher.FetchModels(ctx, provider)
	if err != nil {
		return nil, &core.StoreError{Op: "fetch_models", Err: err}
	}

	models, err := Extract(raw, provider, c.paths, c.tags)
	if err != nil {
		return nil, &core.StoreError{Op: "extract_models", Err: err}
	}

	cf := &CacheFile{LastUpdated: time.Now(), RawResponse: raw, Models: models}
	if err := c.write(provider, cf); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.hot[provider] = cf
	c.mu.Unlock()
	return cf, nil
}

// fresh returns the cached file for provider if it exists and its age
// is below the freshness threshold, preferring the in-process hot copy
// over re-reading the file.
func (c *Cache) fresh(provider string) (*CacheFile, bool) {
	c.mu.RLock()
	if cf, ok := c.hot[provider]; ok {
		c.mu.RUnlock()
		if time.Since(cf.LastUpdated) < freshness {
			return cf, true
		}
		return nil, false
	}
	c.mu.RUnlock()

	data, err := os.ReadFile(c.filePath(provider))
	if err != nil {
		return nil, false
	}
	var cf CacheFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, false
	}
	if time.Since(cf.LastUpdated) >= freshness {
		return nil, false
	}
	c.mu.Lock()
	c.hot[provider] = &cf
	c.mu.Unlock()
	return &cf, true
}

func (c *Cache) write(provider string, cf *CacheFile) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return &core.StoreError{Op: "mkdir", Err: err}
	}
	data, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return &core.StoreError{Op: "marshal", Err: err}
	}
	path := c.filePath(provider)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &core.StoreError{Op: "write", Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		return &core.StoreError{Op: "rename", Err: fmt.Errorf("rename %s: %w", path, err)}
	}
	return nil
}
