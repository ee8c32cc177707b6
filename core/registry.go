package core

import (
	"fmt"
	"sort"
	"sync"
)

// MemoryStrategyRegistry selects a Strategy by its Provider tag.
type MemoryStrategyRegistry struct {
	mu         sync.RWMutex
	strategies map[Provider]Strategy
}

func NewStrategyRegistry(strategies ...Strategy) *MemoryStrategyRegistry {
	registry := &MemoryStrategyRegistry{strategies: make(map[Provider]Strategy)}
	for _, strategy := range strategies {
		_ = registry.Register(strategy)
	}
	return registry
}

func (r *MemoryStrategyRegistry) Register(strategy Strategy) error {
	if strategy == nil {
		return fmt.Errorf("core: strategy is nil")
	}
	provider := strategy.Provider().Normalize()
	if provider == "" {
		return fmt.Errorf("core: strategy provider is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.strategies[provider]; exists {
		return fmt.Errorf("core: strategy already registered: %s", provider)
	}
	r.strategies[provider] = strategy
	return nil
}

func (r *MemoryStrategyRegistry) Get(provider Provider) (Strategy, bool) {
	provider = provider.Normalize()
	if provider == "" {
		return nil, false
	}
	r.mu.RLock()
	strategy, ok := r.strategies[provider]
	r.mu.RUnlock()
	return strategy, ok
}

func (r *MemoryStrategyRegistry) List() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.strategies))
	for provider := range r.strategies {
		keys = append(keys, string(provider))
	}
	sort.Strings(keys)
	strategies := make([]Strategy, 0, len(keys))
	for _, key := range keys {
		strategies = append(strategies, r.strategies[Provider(key)])
	}
	return strategies
}

var _ StrategyRegistry = (*MemoryStrategyRegistry)(nil)
