package bankauth

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-bankauth/core"
	"github.com/goliatone/go-bankauth/providers"
	"github.com/goliatone/go-bankauth/ratelimit"
	"github.com/goliatone/go-bankauth/transport"
)

// StrategyFactory builds a strategy from its provider section of Config.
type StrategyFactory func(cfg core.ProviderConfig, deps providers.Dependencies) (core.Strategy, error)

type CommandQueryBundleFactory func(service CommandQueryService) (any, error)

// StrategyRegistrar is satisfied by *core.Service and core.StrategyRegistry.
type StrategyRegistrar interface {
	RegisterStrategy(strategy core.Strategy) error
}

// ExtensionHooks lets downstream code add provider variants and extra
// command/query bundles without forking the built-in wiring.
type ExtensionHooks struct {
	mu sync.RWMutex

	factories map[core.Provider]StrategyFactory
	bundles   map[string]CommandQueryBundleFactory
	rateLimit *ratelimit.AdaptivePolicy
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		factories: map[core.Provider]StrategyFactory{},
		bundles:   map[string]CommandQueryBundleFactory{},
	}
}

// DefaultExtensionHooks is preloaded with the built-in bank variants.
func DefaultExtensionHooks() *ExtensionHooks {
	hooks := NewExtensionHooks()
	for provider, factory := range BuiltinStrategyFactories() {
		_ = hooks.RegisterStrategyFactory(provider, factory)
	}
	return hooks
}

func (h *ExtensionHooks) RegisterStrategyFactory(provider core.Provider, factory StrategyFactory) error {
	if h == nil {
		return fmt.Errorf("bankauth: extension hooks are nil")
	}
	provider = provider.Normalize()
	if provider == "" {
		return fmt.Errorf("bankauth: strategy provider is required")
	}
	if factory == nil {
		return fmt.Errorf("bankauth: strategy factory for %q is required", provider)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.factories[provider]; exists {
		return fmt.Errorf("bankauth: strategy factory %q already registered", provider)
	}
	h.factories[provider] = factory
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(name string, factory CommandQueryBundleFactory) error {
	if h == nil {
		return fmt.Errorf("bankauth: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("bankauth: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("bankauth: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("bankauth: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

// SetRateLimitPolicy gates every strategy built afterwards through policy.
// Each provider gets its own buckets. A nil policy disables gating.
func (h *ExtensionHooks) SetRateLimitPolicy(policy *ratelimit.AdaptivePolicy) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.rateLimit = policy
	h.mu.Unlock()
}

// BuildStrategies builds one strategy per configured provider section, in
// provider order. A configured provider without a factory is an error.
func (h *ExtensionHooks) BuildStrategies(cfg core.Config, deps providers.Dependencies) ([]core.Strategy, error) {
	if h == nil {
		return nil, nil
	}
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]core.Strategy, 0, len(names))
	for _, name := range names {
		provider := core.Provider(name).Normalize()
		factory, ok := h.factories[provider]
		if !ok {
			return nil, core.NewProviderNotConfiguredError(provider, "no strategy factory registered")
		}
		providerDeps, err := h.dependenciesFor(provider, deps)
		if err != nil {
			return nil, err
		}
		strategy, err := factory(cfg.Providers[name], providerDeps)
		if err != nil {
			return nil, err
		}
		if strategy == nil {
			return nil, fmt.Errorf("bankauth: strategy factory %q returned nil", provider)
		}
		out = append(out, strategy)
	}
	return out, nil
}

func (h *ExtensionHooks) dependenciesFor(provider core.Provider, deps providers.Dependencies) (providers.Dependencies, error) {
	if h.rateLimit == nil {
		return deps, nil
	}
	base := deps.HTTPClient
	if base == nil {
		base = transport.NewHTTPClient(0, 0)
	}
	doer, err := ratelimit.NewDoer(base, h.rateLimit, provider)
	if err != nil {
		return providers.Dependencies{}, err
	}
	deps.HTTPClient = doer
	return deps, nil
}

// ApplyStrategies builds the configured strategies and registers them.
func (h *ExtensionHooks) ApplyStrategies(registrar StrategyRegistrar, cfg core.Config, deps providers.Dependencies) error {
	if registrar == nil {
		return fmt.Errorf("bankauth: strategy registrar is required")
	}
	strategies, err := h.BuildStrategies(cfg, deps)
	if err != nil {
		return err
	}
	for _, strategy := range strategies {
		if err := registrar.RegisterStrategy(strategy); err != nil {
			return err
		}
	}
	return nil
}

func (h *ExtensionHooks) BuildCommandQueryBundles(service CommandQueryService) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if service == nil {
		return nil, fmt.Errorf("bankauth: command/query service is required")
	}

	h.mu.RLock()
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		factories[name] = factory
	}
	h.mu.RUnlock()

	result := make(map[string]any, len(factories))
	for _, name := range sortedKeys(factories) {
		bundle, err := factories[name](service)
		if err != nil {
			return nil, err
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) StrategyProviders() []core.Provider {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]core.Provider, 0, len(h.factories))
	for provider := range h.factories {
		out = append(out, provider)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return sortedKeys(h.bundles)
}

func sortedKeys[V any](in map[string]V) []string {
	keys := make([]string, 0, len(in))
	for key := range in {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
