package auth

import "time"

// Kind distinguishes the two principal classes served by the gateway.
type Kind string

const (
	KindTenant Kind = "tenant"
	KindAdmin  Kind = "admin"
)

// Principal lifecycle statuses. Principals are soft-disabled, never deleted.
const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusSuspended = "suspended"
)

// API key statuses.
const (
	KeyStatusActive  = "active"
	KeyStatusRevoked = "revoked"
)

// Principal is the resolved identity of a caller: a tenant integrating the
// verification API or an administrative operator.
type Principal struct {
	ID                 string
	Kind               Kind
	Name               string
	Status             string
	PasswordHash       string
	RateLimitPerMinute int
	RateLimitPerHour   int
	LastUsedAt         *time.Time
	Metadata           map[string]string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Active reports whether the principal may be authorized at all.
func (p Principal) Active() bool { return p.Status == StatusActive }

// APIKey is a long-lived caller secret. Only the sha256 hash of the plaintext
// is persisted; Prefix records the fixed literal the key was issued under.
type APIKey struct {
	ID          string
	PrincipalID string
	Name        string
	KeyHash     string
	Prefix      string
	Status      string
	ExpiresAt   *time.Time
	LastUsedAt  *time.Time
	CreatedAt   time.Time
}

// RefreshToken is a persisted, revocable, single-use rotation token.
type RefreshToken struct {
	ID          string
	PrincipalID string
	TokenHash   string
	ExpiresAt   time.Time
	Revoked     bool
	CreatedAt   time.Time
}
