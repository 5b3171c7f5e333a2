// Package registry maps provider names to model client constructors.
// Client packages register themselves from init.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/agentcheck/agentcheck/internal/config"
	"github.com/agentcheck/agentcheck/internal/core"
)

// ClientFactory builds a model client from configuration.
type ClientFactory func(cfg *config.Config) (core.LLMClient, error)

var (
	mu         sync.RWMutex
	LLMClients = make(map[string]ClientFactory)
)

func RegisterClient(name string, f ClientFactory) {
	mu.Lock()
	defer mu.Unlock()
	LLMClients[name] = f
}

// Getters with Safe Read
func GetClientFactory(name string) (ClientFactory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := LLMClients[name]
	return f, ok
}

// Providers lists registered provider names, sorted.
func Providers() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(LLMClients))
	for n := range LLMClients {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewClient builds the client for cfg.Provider.
func NewClient(cfg *config.Config) (core.LLMClient, error) {
	f, ok := GetClientFactory(cfg.Provider)
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (registered: %v)", cfg.Provider, Providers())
	}
	return f(cfg)
}
