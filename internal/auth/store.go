package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the credential subsystem.
type Store interface {
	Principals() PrincipalStore
	APIKeys() APIKeyStore
	RefreshTokens() RefreshTokenStore
}

// PrincipalStore manages principal records.
type PrincipalStore interface {
	Create(ctx context.Context, p *Principal) error
	Find(ctx context.Context, id string) (*Principal, error)
	List(ctx context.Context) ([]*Principal, error)
	UpdateStatus(ctx context.Context, id, status string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

// APIKeyStore manages API key lifecycle. Lookups are by hash only; the
// plaintext never reaches the store.
type APIKeyStore interface {
	Create(ctx context.Context, k *APIKey) error
	Find(ctx context.Context, id string) (*APIKey, error)
	FindByHash(ctx context.Context, keyHash string) (*APIKey, error)
	ListByPrincipal(ctx context.Context, principalID string) ([]*APIKey, error)
	Revoke(ctx context.Context, id string) error
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

// RefreshTokenStore manages refresh token rotation state.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	Find(ctx context.Context, id string) (*RefreshToken, error)
	MarkRevoked(ctx context.Context, id string) error
	MarkRevokedByPrincipal(ctx context.Context, principalID string) error
}
