// Package provider implements the Provider Client (C9): a unified
// client that executes chat (unary and streaming), embedding, and
// model-listing requests through the Template Engine (C6), HTTP
// Transport (C7), and Auth Manager (C8), exposing a canonical surface
// independent of any one provider's wire format. It has no image-
// generation, audio-transcription, or speech requests.
package provider

import (
	"fmt"
	"slices"
	"sync"
)

// Registry maps provider names to ready-to-use Clients. Safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

// Register adds a Client under name, overwriting any previous entry.
func (r *Registry) Register(name string, c *Client) {
	r.mu.Lock()
	r.clients[name] = c
	r.mu.Unlock()
}

// Get returns the Client registered under name, or an error if absent.
func (r *Registry) Get(name string) (*Client, error) {
	r.mu.RLock()
	c, ok := r.clients[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider %q not registered", name)
	}
	return c, nil
}

// List returns the sorted names of every registered provider.
func (r *Registry) List() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}
