package verify

import (
	"context"
	"time"
)

// RequestStore persists verification requests.
type RequestStore interface {
	Create(ctx context.Context, r *VerificationRequest) error
	Find(ctx context.Context, id string) (*VerificationRequest, error)
	Update(ctx context.Context, r *VerificationRequest) error
	ListByPrincipal(ctx context.Context, principalID string, limit int) ([]*VerificationRequest, error)
}

// SessionStore persists verification sessions. UpdateCAS writes the session
// only when the stored version still equals expectedVersion, bumping the
// version on success; a false return means another writer won.
type SessionStore interface {
	Create(ctx context.Context, s *VerificationSession) error
	Find(ctx context.Context, id string) (*VerificationSession, error)
	FindByRequest(ctx context.Context, verificationID string) (*VerificationSession, error)
	FindByProviderSession(ctx context.Context, providerSessionID string) (*VerificationSession, error)
	UpdateCAS(ctx context.Context, s *VerificationSession, expectedVersion int) (bool, error)

	// ListStale returns non-terminal sessions whose expiry deadline has
	// passed, oldest first.
	ListStale(ctx context.Context, now time.Time, limit int) ([]*VerificationSession, error)
}

// ResultStore persists immutable verification results. Create fails with
// ErrAlreadyFinalized when a result already exists for the request.
type ResultStore interface {
	Create(ctx context.Context, r *VerificationResult) error
	FindByRequest(ctx context.Context, verificationID string) (*VerificationResult, error)
}

// Store aggregates the verification sub-stores.
type Store interface {
	Requests() RequestStore
	Sessions() SessionStore
	Results() ResultStore
}
