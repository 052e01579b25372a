package provider

import (
	"context"
	"fmt"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps provider rows in process memory for dev mode and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	providers map[string]*Provider
	configs   map[string]*ProviderConfig
	usage     map[string]int
}

// NewMemoryStore creates an empty in-memory provider store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		providers: make(map[string]*Provider),
		configs:   make(map[string]*ProviderConfig),
		usage:     make(map[string]int),
	}
}

func configKey(principalID, providerName string) string {
	return principalID + "|" + providerName
}

func usageKey(principalID, providerName string, day time.Time) string {
	return fmt.Sprintf("%s|%s|%s", principalID, providerName, day.Format("2006-01-02"))
}

func (m *MemoryStore) List(ctx context.Context) ([]*Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Provider, 0, len(m.providers))
	for _, p := range m.providers {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) Find(ctx context.Context, name string) (*Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) Upsert(ctx context.Context, p *Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	now := time.Now().UTC()
	if existing, ok := m.providers[p.Name]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.providers[p.Name] = &cp
	return nil
}

func (m *MemoryStore) Config(ctx context.Context, principalID, providerName string) (*ProviderConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[configKey(principalID, providerName)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *cfg
	return &cp, nil
}

func (m *MemoryStore) SetConfig(ctx context.Context, cfg *ProviderConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *cfg
	now := time.Now().UTC()
	if existing, ok := m.configs[configKey(cfg.PrincipalID, cfg.ProviderName)]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.configs[configKey(cfg.PrincipalID, cfg.ProviderName)] = &cp
	return nil
}

func (m *MemoryStore) UsageOn(ctx context.Context, principalID, providerName string, day time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.usage[usageKey(principalID, providerName, day)], nil
}

func (m *MemoryStore) RecordUse(ctx context.Context, principalID, providerName string, day time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage[usageKey(principalID, providerName, day)]++
	return nil
}
