package provider

import (
	"context"
	"time"
)

// Store describes persistence for providers, per-tenant configs and daily
// usage counters.
type Store interface {
	List(ctx context.Context) ([]*Provider, error)
	Find(ctx context.Context, name string) (*Provider, error)
	Upsert(ctx context.Context, p *Provider) error

	Config(ctx context.Context, principalID, providerName string) (*ProviderConfig, error)
	SetConfig(ctx context.Context, cfg *ProviderConfig) error

	// UsageOn returns how many verifications the pair has consumed on the
	// given UTC day; RecordUse increments that counter atomically.
	UsageOn(ctx context.Context, principalID, providerName string, day time.Time) (int, error)
	RecordUse(ctx context.Context, principalID, providerName string, day time.Time) error
}
