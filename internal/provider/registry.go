package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Second

// Registry routes verification requests to providers. Provider rows change
// rarely, so list reads go through a short-lived cache; per-tenant config and
// quota checks always hit the store.
type Registry struct {
	store    Store
	now      func() time.Time
	cacheTTL time.Duration

	adaptersMu sync.RWMutex
	adapters   map[string]Adapter

	cacheMu  sync.Mutex
	cached   []*Provider
	cachedAt time.Time
}

// RegistryOption configures the Registry.
type RegistryOption func(*Registry)

// WithCacheTTL overrides how long the provider list cache is trusted.
func WithCacheTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		if ttl > 0 {
			r.cacheTTL = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) RegistryOption {
	return func(r *Registry) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRegistry constructs a Registry over the given store.
func NewRegistry(store Store, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:    store,
		now:      time.Now,
		cacheTTL: defaultCacheTTL,
		adapters: make(map[string]Adapter),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register installs the adapter implementing a provider's wire protocol.
func (r *Registry) Register(a Adapter) {
	r.adaptersMu.Lock()
	defer r.adaptersMu.Unlock()
	r.adapters[a.Name()] = a
}

// Adapter returns the registered adapter for the provider name.
func (r *Registry) Adapter(name string) (Adapter, bool) {
	r.adaptersMu.RLock()
	defer r.adaptersMu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Resolve selects the provider for a request. An explicit name must be
// active, enabled for the caller and capable of the verification type.
// Without one, the lowest priority value wins among eligible providers,
// ties broken by name for determinism. Daily quotas are enforced here.
func (r *Registry) Resolve(ctx context.Context, principalID, verificationType, explicitName string) (*Provider, error) {
	explicitName = strings.TrimSpace(explicitName)
	if explicitName != "" {
		p, err := r.find(ctx, explicitName)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrUnavailable, explicitName)
			}
			return nil, err
		}
		cfg, err := r.enabledConfig(ctx, principalID, p.Name)
		if err != nil {
			return nil, err
		}
		if !p.IsActive || cfg == nil || !p.CapableOf(verificationType) {
			return nil, fmt.Errorf("%w: %s", ErrUnavailable, explicitName)
		}
		if err := r.checkQuota(ctx, principalID, p, cfg); err != nil {
			return nil, err
		}
		return p, nil
	}

	providers, err := r.list(ctx)
	if err != nil {
		return nil, err
	}
	var candidates []*Provider
	for _, p := range providers {
		if !p.IsActive || !p.CapableOf(verificationType) {
			continue
		}
		cfg, err := r.enabledConfig(ctx, principalID, p.Name)
		if err != nil {
			return nil, err
		}
		if cfg == nil {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no provider for %s", ErrUnavailable, verificationType)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].Name < candidates[j].Name
	})

	for _, p := range candidates {
		cfg, err := r.enabledConfig(ctx, principalID, p.Name)
		if err != nil {
			return nil, err
		}
		if err := r.checkQuota(ctx, principalID, p, cfg); err == nil {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s via %s", ErrQuotaExceeded, principalID, candidates[0].Name)
}

// RecordUse charges one verification against the pair's daily quota.
func (r *Registry) RecordUse(ctx context.Context, principalID, providerName string) error {
	return r.store.RecordUse(ctx, principalID, providerName, r.today())
}

// Upsert writes a provider row and drops the list cache.
func (r *Registry) Upsert(ctx context.Context, p *Provider) error {
	if err := r.store.Upsert(ctx, p); err != nil {
		return err
	}
	r.cacheMu.Lock()
	r.cached = nil
	r.cacheMu.Unlock()
	return nil
}

// SetConfig writes a per-tenant provider config.
func (r *Registry) SetConfig(ctx context.Context, cfg *ProviderConfig) error {
	if _, err := r.find(ctx, cfg.ProviderName); err != nil {
		return err
	}
	return r.store.SetConfig(ctx, cfg)
}

// List returns the (possibly cached) provider rows.
func (r *Registry) List(ctx context.Context) ([]*Provider, error) {
	return r.list(ctx)
}

func (r *Registry) checkQuota(ctx context.Context, principalID string, p *Provider, cfg *ProviderConfig) error {
	limit := DailyCap(p, cfg)
	if limit <= 0 {
		return nil
	}
	used, err := r.store.UsageOn(ctx, principalID, p.Name, r.today())
	if err != nil {
		return err
	}
	if used >= limit {
		return fmt.Errorf("%w: %s", ErrQuotaExceeded, p.Name)
	}
	return nil
}

// enabledConfig returns the pair's config when it exists and is enabled,
// nil otherwise.
func (r *Registry) enabledConfig(ctx context.Context, principalID, providerName string) (*ProviderConfig, error) {
	cfg, err := r.store.Config(ctx, principalID, providerName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !cfg.Enabled {
		return nil, nil
	}
	return cfg, nil
}

func (r *Registry) find(ctx context.Context, name string) (*Provider, error) {
	providers, err := r.list(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range providers {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

func (r *Registry) list(ctx context.Context) ([]*Provider, error) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	if r.cached != nil && r.now().Sub(r.cachedAt) < r.cacheTTL {
		return r.cached, nil
	}
	providers, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	r.cached = providers
	r.cachedAt = r.now()
	return providers, nil
}

func (r *Registry) today() time.Time {
	now := r.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
