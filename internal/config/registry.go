package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/trunkline/pkg/provider/s2s"
)

// ErrProviderNotRegistered is returned by [Registry.CreateAI] when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// AIFactory constructs an S2S provider from the ai config section.
type AIFactory func(AIConfig) (s2s.Provider, error)

// Registry maps AI provider names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu sync.RWMutex
	ai map[string]AIFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		ai: make(map[string]AIFactory),
	}
}

// RegisterAI registers an AI provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterAI(name string, factory AIFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ai[name] = factory
}

// CreateAI instantiates an S2S provider using the factory registered under
// cfg.Provider. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateAI(cfg AIConfig) (s2s.Provider, error) {
	r.mu.RLock()
	factory, ok := r.ai[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: ai/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}
