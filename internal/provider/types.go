package provider

import "time"

// ProcessingMode describes how a provider completes a verification.
type ProcessingMode string

const (
	ModeSingleStep ProcessingMode = "single_step"
	ModeMultiStep  ProcessingMode = "multi_step"
)

// Verification types the gateway routes on.
const (
	TypeDocument  = "document"
	TypeIdentity  = "identity"
	TypeTemplate  = "template"
	TypeBiometric = "biometric"
)

// Provider describes an integrated verification backend. Rows are owned
// centrally; per-tenant enablement lives in ProviderConfig.
type Provider struct {
	Name                  string
	Type                  string
	SupportsTemplates     bool
	SupportsAsync         bool
	SupportsIDVerify      bool
	ProcessingMode        ProcessingMode
	IsActive              bool
	Priority              int
	MaxDailyVerifications int
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// CapableOf reports whether the provider can serve the verification type.
func (p Provider) CapableOf(verificationType string) bool {
	switch verificationType {
	case TypeDocument, TypeIdentity, TypeBiometric:
		return p.SupportsIDVerify
	case TypeTemplate:
		return p.SupportsTemplates
	default:
		return false
	}
}

// ProviderConfig overlays per-tenant settings onto a provider. At most one
// row exists per (principal, provider) pair.
type ProviderConfig struct {
	PrincipalID           string
	ProviderName          string
	Enabled               bool
	Overrides             map[string]any
	MaxDailyVerifications int
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// DailyCap returns the effective daily quota for the pair: the lower of the
// global and per-tenant caps, where zero means uncapped.
func DailyCap(p *Provider, cfg *ProviderConfig) int {
	global := p.MaxDailyVerifications
	local := 0
	if cfg != nil {
		local = cfg.MaxDailyVerifications
	}
	switch {
	case global <= 0:
		return local
	case local <= 0:
		return global
	case local < global:
		return local
	default:
		return global
	}
}
