package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/dnscache"

	core "github.com/go-lcgw/lcgw/internal"
	"github.com/go-lcgw/lcgw/internal/chatstore"
	"github.com/go-lcgw/lcgw/internal/config"
	"github.com/go-lcgw/lcgw/internal/logging"
	"github.com/go-lcgw/lcgw/internal/metadata"
	"github.com/go-lcgw/lcgw/internal/orchestrator"
	"github.com/go-lcgw/lcgw/internal/provider"
	"github.com/go-lcgw/lcgw/internal/template"
	"github.com/go-lcgw/lcgw/internal/toolloop"
	"github.com/go-lcgw/lcgw/internal/toolserver"
	"github.com/go-lcgw/lcgw/internal/transport"
	"github.com/go-lcgw/lcgw/internal/vectorstore"
)

func run(opts runOptions) error {
	log := logging.New(os.Stderr, "info")

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	keys, err := config.LoadKeys(opts.keysPath)
	if err != nil {
		return fmt.Errorf("load keys: %w", err)
	}

	if err := os.MkdirAll(opts.dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	dnsResolver := &dnscache.Resolver{}
	pools := transport.NewPools(dnsResolver)
	engine := template.New()

	registry := provider.NewRegistry()
	for _, p := range cfg.Providers {
		rp, err := config.GetProviderWithAuth(cfg, keys, p.Name)
		if err != nil {
			return fmt.Errorf("resolve provider %q: %w", p.Name, err)
		}
		applyDefaultTemplates(&rp.Provider)
		registry.Register(rp.Name, provider.New(rp.Provider, rp.Credential, pools, engine, keys))
		log.Info().Str("provider", rp.Name).Str("endpoint", rp.Endpoint).Msg("provider registered")
	}

	modelsCache := metadata.NewCache(
		filepath.Join(opts.dataDir, "models"),
		registryFetcher{registry: registry},
		metadata.DefaultPathsConfig(),
		metadata.DefaultTagsConfig(),
	)

	store, err := chatstore.New(filepath.Join(opts.dataDir, "chat.db"))
	if err != nil {
		return fmt.Errorf("open chat store: %w", err)
	}
	defer store.Close()

	vectors, err := vectorstore.New(filepath.Join(opts.dataDir, "embeddings", "default.db"))
	if err != nil {
		return fmt.Errorf("open vector store: %w", err)
	}
	defer vectors.Close()

	orch := orchestrator.New(registry, cfg, modelsCache, store, log)

	// Wired for tool-calling chat paths; this demo only exercises a
	// plain chat call, so the loop is constructed but not invoked here.
	toolClient := toolserver.New(toolserver.Targets{})
	toolloop.New(nil, toolClient, log)

	log.Info().Int("providers", len(cfg.Providers)).Int("aliases", len(cfg.Aliases)).Msg("lcgw ready")

	if opts.prompt == "" {
		return nil
	}

	ctx := context.Background()
	req := orchestrator.Request{
		ChatID: "cli-demo",
		Prompt: opts.prompt,
	}
	if providerName, model, ok := strings.Cut(opts.alias, "/"); ok {
		req.Provider, req.Model = providerName, model
	} else {
		req.Model = opts.alias
	}

	result, err := orch.SendChat(ctx, req)
	if err != nil {
		return fmt.Errorf("send chat: %w", err)
	}
	fmt.Println(result.Response.Message.Content.PlainText())
	return nil
}

// applyDefaultTemplates fills in a sensible default wire-format
// template set for providers that declare none, so a plain OpenAI-
// compatible endpoint needs no templates in config at all. Providers
// whose wire shape differs (Anthropic, Gemini) are detected from their
// endpoint host, mirroring the teacher's ResolvedType()-from-Name
// fallback; anything that doesn't match stays OpenAI-shaped, the most
// common case among self-hosted gateways and aggregators.
func applyDefaultTemplates(p *core.Provider) {
	if p.Templates.Chat.Template.Request != "" {
		return
	}
	switch {
	case strings.Contains(p.Endpoint, "anthropic.com"):
		p.Templates.Chat = provider.DefaultAnthropicTemplates()
	case strings.Contains(p.Endpoint, "generativelanguage.googleapis.com"), strings.Contains(p.Endpoint, "aiplatform.googleapis.com"):
		p.Templates.Chat = provider.DefaultGeminiTemplates()
	default:
		p.Templates.Chat = provider.DefaultOpenAITemplates()
	}
}

// registryFetcher adapts the Provider Registry to the Metadata Cache's
// Fetcher interface, routing the models listing fetch through the same
// Provider Client (and therefore the same Auth Manager and HTTP
// Transport) used for chat calls.
type registryFetcher struct {
	registry *provider.Registry
}

func (f registryFetcher) FetchModels(ctx context.Context, providerName string) ([]byte, error) {
	client, err := f.registry.Get(providerName)
	if err != nil {
		return nil, err
	}
	return client.ListModels(ctx)
}
