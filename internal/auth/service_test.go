package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestService(t *testing.T, opts ...ServiceOption) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	base := []ServiceOption{WithSecret("test-secret"), WithIssuer("verigate-test")}
	svc, err := NewService(store, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store
}

func seedPrincipal(t *testing.T, svc *Service, kind Kind, password string) Principal {
	t.Helper()
	p := &Principal{
		Kind:               kind,
		Name:               "acme",
		RateLimitPerMinute: 60,
		RateLimitPerHour:   1000,
	}
	if err := svc.CreatePrincipal(context.Background(), p, password); err != nil {
		t.Fatalf("CreatePrincipal: %v", err)
	}
	return *p
}

func TestIssueAndAuthenticateBearer(t *testing.T) {
	svc, _ := newTestService(t)
	principal := seedPrincipal(t, svc, KindTenant, "s3cret-pass")

	pair, issued, err := svc.IssueTokenPair(context.Background(), principal.ID, "s3cret-pass")
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}
	if issued.ID != principal.ID {
		t.Fatalf("unexpected principal: %s", issued.ID)
	}
	if !pair.AccessExpiresAt.After(time.Now()) {
		t.Fatalf("access token already expired: %v", pair.AccessExpiresAt)
	}

	resolved, err := svc.AuthenticateBearer(context.Background(), pair.AccessToken)
	if err != nil {
		t.Fatalf("AuthenticateBearer: %v", err)
	}
	if resolved.ID != principal.ID || resolved.Kind != KindTenant {
		t.Fatalf("unexpected resolution: %+v", resolved)
	}
	if resolved.LastUsedAt == nil {
		t.Fatal("expected last_used_at touch")
	}
}

func TestIssueTokenPairRejectsBadPassword(t *testing.T) {
	svc, _ := newTestService(t)
	principal := seedPrincipal(t, svc, KindTenant, "correct-pass")

	if _, _, err := svc.IssueTokenPair(context.Background(), principal.ID, "wrong-pass"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestBearerRejectsSuspendedPrincipal(t *testing.T) {
	svc, _ := newTestService(t)
	principal := seedPrincipal(t, svc, KindTenant, "s3cret-pass")

	pair, _, err := svc.IssueTokenPair(context.Background(), principal.ID, "s3cret-pass")
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}
	if err := svc.UpdateStatus(context.Background(), principal.ID, StatusSuspended); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if _, err := svc.AuthenticateBearer(context.Background(), pair.AccessToken); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for suspended principal, got %v", err)
	}
}

func TestBearerRejectsExpiredToken(t *testing.T) {
	now := time.Now()
	svc, _ := newTestService(t, WithAccessTTL(time.Minute), WithClock(func() time.Time { return now }))
	principal := seedPrincipal(t, svc, KindTenant, "s3cret-pass")

	pair, _, err := svc.IssueTokenPair(context.Background(), principal.ID, "s3cret-pass")
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := svc.AuthenticateBearer(context.Background(), pair.AccessToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for expired token, got %v", err)
	}
}

func TestRefreshTokenRotation(t *testing.T) {
	svc, _ := newTestService(t)
	principal := seedPrincipal(t, svc, KindTenant, "s3cret-pass")

	pair1, _, err := svc.IssueTokenPair(context.Background(), principal.ID, "s3cret-pass")
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}

	pair2, _, err := svc.RefreshTokenPair(context.Background(), pair1.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshTokenPair: %v", err)
	}
	if pair2.RefreshToken == pair1.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}

	// Replaying the consumed token must fail.
	if _, _, err := svc.RefreshTokenPair(context.Background(), pair1.RefreshToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated on replay, got %v", err)
	}
	// The rotated token still works.
	if _, _, err := svc.RefreshTokenPair(context.Background(), pair2.RefreshToken); err != nil {
		t.Fatalf("rotated token should be valid: %v", err)
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	principal := seedPrincipal(t, svc, KindTenant, "s3cret-pass")

	key, plaintext, err := svc.CreateAPIKey(context.Background(), principal.ID, "ci-key", 0)
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if !strings.HasPrefix(plaintext, KeyPrefixTenant) {
		t.Fatalf("expected tenant prefix on %q", plaintext)
	}
	if key.KeyHash == plaintext || strings.Contains(key.KeyHash, plaintext) {
		t.Fatal("plaintext must not be stored")
	}

	resolved, err := svc.AuthenticateAPIKey(context.Background(), plaintext)
	if err != nil {
		t.Fatalf("AuthenticateAPIKey: %v", err)
	}
	if resolved.ID != principal.ID {
		t.Fatalf("key resolved to wrong principal: %s", resolved.ID)
	}

	if err := svc.RevokeAPIKey(context.Background(), principal.ID, key.ID); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}
	if _, err := svc.AuthenticateAPIKey(context.Background(), plaintext); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated after revocation, got %v", err)
	}
}

func TestAPIKeyExpiry(t *testing.T) {
	now := time.Now()
	svc, _ := newTestService(t, WithClock(func() time.Time { return now }))
	principal := seedPrincipal(t, svc, KindAdmin, "s3cret-pass")

	_, plaintext, err := svc.CreateAPIKey(context.Background(), principal.ID, "short-lived", time.Hour)
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if !strings.HasPrefix(plaintext, KeyPrefixAdmin) {
		t.Fatalf("expected admin prefix on %q", plaintext)
	}

	now = now.Add(2 * time.Hour)
	if _, err := svc.AuthenticateAPIKey(context.Background(), plaintext); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated after expiry, got %v", err)
	}
}

func TestRevokeAPIKeyOwnership(t *testing.T) {
	svc, _ := newTestService(t)
	owner := seedPrincipal(t, svc, KindTenant, "s3cret-pass")
	other := seedPrincipal(t, svc, KindTenant, "s3cret-pass")

	key, _, err := svc.CreateAPIKey(context.Background(), owner.ID, "ci-key", 0)
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if err := svc.RevokeAPIKey(context.Background(), other.ID, key.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if _, ok := PrincipalFromContext(ctx); ok {
		t.Fatal("unexpected principal on empty context")
	}
	ctx = ContextWithPrincipal(ctx, Principal{ID: "pr_7", Kind: KindAdmin})
	principal, ok := PrincipalFromContext(ctx)
	if !ok || principal.ID != "pr_7" || principal.Kind != KindAdmin {
		t.Fatalf("unexpected principal: %+v ok=%v", principal, ok)
	}
}

func TestEmptySecretDisablesTokens(t *testing.T) {
	store := NewMemoryStore()
	svc, err := NewService(store, WithSecret(" "), WithIssuer("verigate-test"))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if svc.SupportsTokens() {
		t.Fatal("token issuance enabled without a secret")
	}

	principal := seedPrincipal(t, svc, KindTenant, "s3cret-pass")
	if _, _, err := svc.IssueTokenPair(context.Background(), principal.ID, "s3cret-pass"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("issue without secret: got %v, want ErrUnauthenticated", err)
	}
	if _, err := svc.AuthenticateBearer(context.Background(), "any-token"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("bearer without secret: got %v, want ErrUnauthenticated", err)
	}

	// API keys keep working in tokenless deployments.
	_, plaintext, err := svc.CreateAPIKey(context.Background(), principal.ID, "dev-key", 0)
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	resolved, err := svc.AuthenticateAPIKey(context.Background(), plaintext)
	if err != nil || resolved.ID != principal.ID {
		t.Fatalf("api key auth: %+v, %v", resolved, err)
	}
}

func TestResetPasswordRevokesRefreshTokens(t *testing.T) {
	svc, _ := newTestService(t)
	principal := seedPrincipal(t, svc, KindTenant, "old-pass")

	pair, _, err := svc.IssueTokenPair(context.Background(), principal.ID, "old-pass")
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}

	if err := svc.ResetPassword(context.Background(), principal.ID, "new-pass"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}

	if _, _, err := svc.IssueTokenPair(context.Background(), principal.ID, "old-pass"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("old password still accepted: %v", err)
	}
	if _, _, err := svc.IssueTokenPair(context.Background(), principal.ID, "new-pass"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
	if _, _, err := svc.RefreshTokenPair(context.Background(), pair.RefreshToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("pre-reset refresh token still valid: %v", err)
	}

	if err := svc.ResetPassword(context.Background(), "pr_missing", "x-pass"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("reset for unknown principal: got %v, want ErrNotFound", err)
	}
}
