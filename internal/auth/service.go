package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"verigate.io/internal/ids"
)

const (
	defaultIssuer     = "verigate"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 24 * time.Hour * 14

	// Fixed literal prefixes stamped onto API keys at issuance. The lookup is
	// hash-only; the prefix exists so a leaked key is attributable on sight.
	KeyPrefixTenant = "vg_tenant_"
	KeyPrefixAdmin  = "vg_admin_"
)

// Service resolves presented credentials to principals and manages the
// credential lifecycle: token pairs, refresh rotation and API keys.
type Service struct {
	store  Store
	now    func() time.Time
	secret []byte

	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// Claims carries the JWT claims minted for access tokens.
type Claims struct {
	Kind      string `json:"kind"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithSecret enables HS256 token signing with the provided secret. An empty
// secret leaves token issuance disabled and API-key auth as the only path.
func WithSecret(secret string) ServiceOption {
	return func(s *Service) error {
		if v := strings.TrimSpace(secret); v != "" {
			s.secret = []byte(v)
		}
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		if v := strings.TrimSpace(issuer); v != "" {
			s.issuer = v
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs a Service with optional configuration.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	svc := &Service{
		store:      store,
		now:        time.Now,
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// SupportsTokens reports whether bearer token issuance is enabled.
func (s *Service) SupportsTokens() bool { return len(s.secret) > 0 }

// AuthenticateBearer validates an access token and resolves its principal.
// Signature and expiry failures map to ErrUnauthenticated; a valid token for
// a suspended or inactive principal maps to ErrForbidden.
func (s *Service) AuthenticateBearer(ctx context.Context, token string) (Principal, error) {
	if !s.SupportsTokens() {
		return Principal{}, ErrUnauthenticated
	}
	claims, err := s.verifyAccessToken(token)
	if err != nil {
		return Principal{}, ErrUnauthenticated
	}
	principal, err := s.store.Principals().Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrUnauthenticated
		}
		return Principal{}, err
	}
	if !principal.Active() {
		return Principal{}, ErrForbidden
	}
	now := s.now().UTC()
	_ = s.store.Principals().TouchLastUsed(ctx, principal.ID, now)
	principal.LastUsedAt = &now
	return *principal, nil
}

// AuthenticateAPIKey resolves a presented API key to its owning principal.
func (s *Service) AuthenticateAPIKey(ctx context.Context, raw string) (Principal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Principal{}, ErrUnauthenticated
	}
	key, err := s.store.APIKeys().FindByHash(ctx, HashAPIKey(raw))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrUnauthenticated
		}
		return Principal{}, err
	}
	if key.Status != KeyStatusActive {
		return Principal{}, ErrUnauthenticated
	}
	if key.ExpiresAt != nil && s.now().After(*key.ExpiresAt) {
		return Principal{}, ErrUnauthenticated
	}
	principal, err := s.store.Principals().Find(ctx, key.PrincipalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrUnauthenticated
		}
		return Principal{}, err
	}
	if !principal.Active() {
		return Principal{}, ErrForbidden
	}
	// Best-effort usage stamps; a failed touch must not fail authentication.
	now := s.now().UTC()
	_ = s.store.APIKeys().TouchLastUsed(ctx, key.ID, now)
	_ = s.store.Principals().TouchLastUsed(ctx, principal.ID, now)
	principal.LastUsedAt = &now
	return *principal, nil
}

// CreateAPIKey mints a new key for the principal and returns the plaintext
// exactly once. The stored record keeps only the hash.
func (s *Service) CreateAPIKey(ctx context.Context, principalID, name string, ttl time.Duration) (*APIKey, string, error) {
	principal, err := s.store.Principals().Find(ctx, principalID)
	if err != nil {
		return nil, "", err
	}
	if !principal.Active() {
		return nil, "", ErrForbidden
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", fmt.Errorf("%w: key name is required", ErrInvalidInput)
	}

	prefix := KeyPrefixTenant
	if principal.Kind == KindAdmin {
		prefix = KeyPrefixAdmin
	}
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, "", err
	}
	plaintext := prefix + base64.RawURLEncoding.EncodeToString(secretBytes)

	key := &APIKey{
		ID:          ids.WithPrefix(ids.PrefixAPIKey),
		PrincipalID: principal.ID,
		Name:        name,
		KeyHash:     HashAPIKey(plaintext),
		Prefix:      prefix,
		Status:      KeyStatusActive,
		CreatedAt:   s.now().UTC(),
	}
	if ttl > 0 {
		expires := s.now().UTC().Add(ttl)
		key.ExpiresAt = &expires
	}
	if err := s.store.APIKeys().Create(ctx, key); err != nil {
		return nil, "", err
	}
	return key, plaintext, nil
}

// RevokeAPIKey revokes a key owned by the principal.
func (s *Service) RevokeAPIKey(ctx context.Context, principalID, keyID string) error {
	key, err := s.store.APIKeys().Find(ctx, keyID)
	if err != nil {
		return err
	}
	if key.PrincipalID != principalID {
		return ErrForbidden
	}
	if key.Status == KeyStatusRevoked {
		return nil
	}
	return s.store.APIKeys().Revoke(ctx, keyID)
}

// ListAPIKeys returns the principal's keys. Hashes are cleared before return.
func (s *Service) ListAPIKeys(ctx context.Context, principalID string) ([]*APIKey, error) {
	keys, err := s.store.APIKeys().ListByPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		k.KeyHash = ""
	}
	return keys, nil
}

// TokenPair represents access and refresh tokens along with their expirations.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// IssueTokenPair authenticates principal credentials and issues fresh tokens.
func (s *Service) IssueTokenPair(ctx context.Context, principalID, password string) (TokenPair, Principal, error) {
	if !s.SupportsTokens() {
		return TokenPair{}, Principal{}, ErrUnauthenticated
	}
	principalID = strings.TrimSpace(principalID)
	if principalID == "" || password == "" {
		return TokenPair{}, Principal{}, ErrUnauthenticated
	}
	principal, err := s.store.Principals().Find(ctx, principalID)
	if err != nil {
		return TokenPair{}, Principal{}, ErrUnauthenticated
	}
	if !principal.Active() {
		return TokenPair{}, Principal{}, ErrForbidden
	}
	if err := VerifyPassword(principal.PasswordHash, password); err != nil {
		return TokenPair{}, Principal{}, ErrUnauthenticated
	}
	pair, err := s.mintTokens(ctx, *principal)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	s.touchPrincipal(ctx, principal.ID)
	return pair, *principal, nil
}

// RefreshTokenPair rotates the refresh token and issues new credentials.
// The presented token is single-use: it is revoked before the replacement
// pair is minted, so a stolen token cannot be replayed.
func (s *Service) RefreshTokenPair(ctx context.Context, refreshToken string) (TokenPair, Principal, error) {
	if !s.SupportsTokens() {
		return TokenPair{}, Principal{}, ErrUnauthenticated
	}
	tokenID, secret, err := splitRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, Principal{}, ErrUnauthenticated
	}

	store := s.store.RefreshTokens()
	record, err := store.Find(ctx, tokenID)
	if err != nil {
		return TokenPair{}, Principal{}, ErrUnauthenticated
	}
	if record.Revoked || s.now().After(record.ExpiresAt) {
		return TokenPair{}, Principal{}, ErrUnauthenticated
	}
	if !secureCompareHash(record.TokenHash, secret) {
		_ = store.MarkRevoked(ctx, record.ID)
		return TokenPair{}, Principal{}, ErrUnauthenticated
	}

	principal, err := s.store.Principals().Find(ctx, record.PrincipalID)
	if err != nil {
		return TokenPair{}, Principal{}, ErrUnauthenticated
	}
	if !principal.Active() {
		return TokenPair{}, Principal{}, ErrForbidden
	}

	// Rotate: revoke old before issuing the replacement.
	if err := store.MarkRevoked(ctx, record.ID); err != nil {
		return TokenPair{}, Principal{}, err
	}
	pair, err := s.mintTokens(ctx, *principal)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	return pair, *principal, nil
}

// CreatePrincipal provisions a new principal. The password is hashed exactly
// once, here, and never re-hashed on later persistence paths.
func (s *Service) CreatePrincipal(ctx context.Context, p *Principal, password string) error {
	if p == nil {
		return ErrInvalidInput
	}
	if p.Kind != KindTenant && p.Kind != KindAdmin {
		return fmt.Errorf("%w: unknown principal kind %q", ErrInvalidInput, p.Kind)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if p.ID == "" {
		p.ID = ids.WithPrefix(ids.PrefixPrincipal)
	}
	if p.Status == "" {
		p.Status = StatusActive
	}
	p.PasswordHash = hash
	p.CreatedAt = s.now().UTC()
	p.UpdatedAt = p.CreatedAt
	return s.store.Principals().Create(ctx, p)
}

// UpdateStatus moves a principal between active/inactive/suspended. Revoking
// outstanding refresh tokens on suspension closes the replay window.
func (s *Service) UpdateStatus(ctx context.Context, principalID, status string) error {
	switch status {
	case StatusActive, StatusInactive, StatusSuspended:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	if err := s.store.Principals().UpdateStatus(ctx, principalID, status); err != nil {
		return err
	}
	if status != StatusActive {
		_ = s.store.RefreshTokens().MarkRevokedByPrincipal(ctx, principalID)
	}
	return nil
}

// ListPrincipals returns every principal ordered by creation time.
func (s *Service) ListPrincipals(ctx context.Context) ([]*Principal, error) {
	return s.store.Principals().List(ctx)
}

// ResetPassword rehashes the principal's password and revokes outstanding
// refresh tokens so stolen sessions do not outlive the reset.
func (s *Service) ResetPassword(ctx context.Context, principalID, password string) error {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return ErrInvalidInput
	}
	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.store.Principals().UpdatePassword(ctx, principalID, hash); err != nil {
		return err
	}
	return s.store.RefreshTokens().MarkRevokedByPrincipal(ctx, principalID)
}

// HashAPIKey computes the storage hash of an API key plaintext.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (s *Service) mintTokens(ctx context.Context, principal Principal) (TokenPair, error) {
	now := s.now().UTC()
	accessToken, accessExp, err := s.signAccessToken(principal, now)
	if err != nil {
		return TokenPair{}, err
	}
	refreshString, refreshRec, err := s.generateRefreshToken(principal.ID, now)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.RefreshTokens().Create(ctx, refreshRec); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshString,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshRec.ExpiresAt,
	}, nil
}

func (s *Service) signAccessToken(principal Principal, now time.Time) (string, time.Time, error) {
	exp := now.Add(s.accessTTL)
	claims := Claims{
		Kind:      string(principal.Kind),
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   principal.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

func (s *Service) verifyAccessToken(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{},
		func(t *jwt.Token) (any, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, ErrInvalidToken
			}
			return s.secret, nil
		},
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != "access" {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) generateRefreshToken(principalID string, now time.Time) (string, *RefreshToken, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	tokenID := ids.WithPrefix(ids.PrefixRefreshToken)
	sum := sha256.Sum256([]byte(secret))
	rec := &RefreshToken{
		ID:          tokenID,
		PrincipalID: principalID,
		TokenHash:   hex.EncodeToString(sum[:]),
		ExpiresAt:   now.Add(s.refreshTTL),
		CreatedAt:   now,
	}
	return tokenID + "." + secret, rec, nil
}

func (s *Service) touchPrincipal(ctx context.Context, id string) {
	_ = s.store.Principals().TouchLastUsed(ctx, id, s.now().UTC())
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func secureCompareHash(expectedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
