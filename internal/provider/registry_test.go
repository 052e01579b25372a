package provider

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func seedProvider(t *testing.T, store Store, p Provider) {
	t.Helper()
	if err := store.Upsert(context.Background(), &p); err != nil {
		t.Fatalf("seed provider %s: %v", p.Name, err)
	}
}

func enableFor(t *testing.T, store Store, principalID, providerName string, dailyCap int) {
	t.Helper()
	err := store.SetConfig(context.Background(), &ProviderConfig{
		PrincipalID:           principalID,
		ProviderName:          providerName,
		Enabled:               true,
		MaxDailyVerifications: dailyCap,
	})
	if err != nil {
		t.Fatalf("enable %s/%s: %v", principalID, providerName, err)
	}
}

func TestResolvePrefersLowestPriorityThenName(t *testing.T) {
	store := NewMemoryStore()
	reg := NewRegistry(store, WithCacheTTL(time.Nanosecond))
	ctx := context.Background()

	seedProvider(t, store, Provider{Name: "zeta", SupportsIDVerify: true, IsActive: true, Priority: 1})
	seedProvider(t, store, Provider{Name: "alpha", SupportsIDVerify: true, IsActive: true, Priority: 1})
	seedProvider(t, store, Provider{Name: "cheap", SupportsIDVerify: true, IsActive: true, Priority: 5})
	enableFor(t, store, "pr_1", "zeta", 0)
	enableFor(t, store, "pr_1", "alpha", 0)
	enableFor(t, store, "pr_1", "cheap", 0)

	for i := 0; i < 5; i++ {
		p, err := reg.Resolve(ctx, "pr_1", TypeDocument, "")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if p.Name != "alpha" {
			t.Fatalf("resolve picked %s, want alpha", p.Name)
		}
	}
}

func TestResolveSkipsIneligibleProviders(t *testing.T) {
	store := NewMemoryStore()
	reg := NewRegistry(store, WithCacheTTL(time.Nanosecond))
	ctx := context.Background()

	seedProvider(t, store, Provider{Name: "inactive", SupportsIDVerify: true, IsActive: false, Priority: 0})
	seedProvider(t, store, Provider{Name: "templates-only", SupportsTemplates: true, IsActive: true, Priority: 0})
	seedProvider(t, store, Provider{Name: "disabled", SupportsIDVerify: true, IsActive: true, Priority: 0})
	seedProvider(t, store, Provider{Name: "ok", SupportsIDVerify: true, IsActive: true, Priority: 9})
	enableFor(t, store, "pr_1", "inactive", 0)
	enableFor(t, store, "pr_1", "templates-only", 0)
	enableFor(t, store, "pr_1", "ok", 0)

	p, err := reg.Resolve(ctx, "pr_1", TypeIdentity, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p.Name != "ok" {
		t.Fatalf("resolve picked %s, want ok", p.Name)
	}
}

func TestResolveExplicitProvider(t *testing.T) {
	store := NewMemoryStore()
	reg := NewRegistry(store, WithCacheTTL(time.Nanosecond))
	ctx := context.Background()

	seedProvider(t, store, Provider{Name: "docs", SupportsIDVerify: true, IsActive: true})
	seedProvider(t, store, Provider{Name: "paused", SupportsIDVerify: true, IsActive: false})
	enableFor(t, store, "pr_1", "docs", 0)
	enableFor(t, store, "pr_1", "paused", 0)

	p, err := reg.Resolve(ctx, "pr_1", TypeDocument, "docs")
	if err != nil {
		t.Fatalf("resolve explicit: %v", err)
	}
	if p.Name != "docs" {
		t.Fatalf("resolve picked %s, want docs", p.Name)
	}

	if _, err := reg.Resolve(ctx, "pr_1", TypeDocument, "paused"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("inactive explicit provider: got %v, want ErrUnavailable", err)
	}
	if _, err := reg.Resolve(ctx, "pr_1", TypeTemplate, "docs"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("incapable explicit provider: got %v, want ErrUnavailable", err)
	}
	if _, err := reg.Resolve(ctx, "pr_2", TypeDocument, "docs"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("unconfigured tenant: got %v, want ErrUnavailable", err)
	}
	if _, err := reg.Resolve(ctx, "pr_1", TypeDocument, "ghost"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("unknown explicit provider: got %v, want ErrUnavailable", err)
	}
}

func TestResolveQuota(t *testing.T) {
	store := NewMemoryStore()
	reg := NewRegistry(store, WithCacheTTL(time.Nanosecond))
	ctx := context.Background()

	seedProvider(t, store, Provider{Name: "capped", SupportsIDVerify: true, IsActive: true, Priority: 0, MaxDailyVerifications: 2})
	seedProvider(t, store, Provider{Name: "spill", SupportsIDVerify: true, IsActive: true, Priority: 1})
	enableFor(t, store, "pr_1", "capped", 0)
	enableFor(t, store, "pr_1", "spill", 1)

	// First two land on the capped provider.
	for i := 0; i < 2; i++ {
		p, err := reg.Resolve(ctx, "pr_1", TypeDocument, "")
		if err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}
		if p.Name != "capped" {
			t.Fatalf("resolve %d picked %s, want capped", i, p.Name)
		}
		if err := reg.RecordUse(ctx, "pr_1", p.Name); err != nil {
			t.Fatalf("record use: %v", err)
		}
	}

	// Third spills to the lower-priority provider.
	p, err := reg.Resolve(ctx, "pr_1", TypeDocument, "")
	if err != nil {
		t.Fatalf("resolve spill: %v", err)
	}
	if p.Name != "spill" {
		t.Fatalf("resolve spill picked %s, want spill", p.Name)
	}
	if err := reg.RecordUse(ctx, "pr_1", p.Name); err != nil {
		t.Fatalf("record use: %v", err)
	}

	// All quotas gone.
	if _, err := reg.Resolve(ctx, "pr_1", TypeDocument, ""); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("exhausted: got %v, want ErrQuotaExceeded", err)
	}

	// Explicit selection reports quota too.
	if _, err := reg.Resolve(ctx, "pr_1", TypeDocument, "capped"); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("explicit exhausted: got %v, want ErrQuotaExceeded", err)
	}
}

func TestResolveQuotaIsPerTenantPerDay(t *testing.T) {
	store := NewMemoryStore()
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	now := day.Add(10 * time.Hour)
	reg := NewRegistry(store,
		WithCacheTTL(time.Nanosecond),
		WithClock(func() time.Time { return now }))
	ctx := context.Background()

	seedProvider(t, store, Provider{Name: "only", SupportsIDVerify: true, IsActive: true, MaxDailyVerifications: 1})
	enableFor(t, store, "pr_a", "only", 0)
	enableFor(t, store, "pr_b", "only", 0)

	if err := reg.RecordUse(ctx, "pr_a", "only"); err != nil {
		t.Fatalf("record use: %v", err)
	}
	if _, err := reg.Resolve(ctx, "pr_a", TypeDocument, ""); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("pr_a: got %v, want ErrQuotaExceeded", err)
	}
	if _, err := reg.Resolve(ctx, "pr_b", TypeDocument, ""); err != nil {
		t.Fatalf("pr_b should not share pr_a quota: %v", err)
	}

	// Midnight rollover resets the counter.
	now = day.Add(25 * time.Hour)
	if _, err := reg.Resolve(ctx, "pr_a", TypeDocument, ""); err != nil {
		t.Fatalf("next day: %v", err)
	}
}

func TestListCacheExpiresAndUpsertInvalidates(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	reg := NewRegistry(store,
		WithCacheTTL(10*time.Second),
		WithClock(func() time.Time { return now }))
	ctx := context.Background()

	seedProvider(t, store, Provider{Name: "first", SupportsIDVerify: true, IsActive: true})
	got, err := reg.List(ctx)
	if err != nil || len(got) != 1 {
		t.Fatalf("list: %v, %d providers", err, len(got))
	}

	// Direct store write inside the TTL is invisible.
	seedProvider(t, store, Provider{Name: "second", SupportsIDVerify: true, IsActive: true})
	got, _ = reg.List(ctx)
	if len(got) != 1 {
		t.Fatalf("cached list has %d providers, want 1", len(got))
	}

	// A registry-level upsert drops the cache immediately.
	if err := reg.Upsert(ctx, &Provider{Name: "third", SupportsIDVerify: true, IsActive: true}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, _ = reg.List(ctx)
	if len(got) != 3 {
		t.Fatalf("list after upsert has %d providers, want 3", len(got))
	}

	// TTL expiry refreshes too.
	seedProvider(t, store, Provider{Name: "fourth", SupportsIDVerify: true, IsActive: true})
	now = now.Add(11 * time.Second)
	got, _ = reg.List(ctx)
	if len(got) != 4 {
		t.Fatalf("list after ttl has %d providers, want 4", len(got))
	}
}

func TestSetConfigRequiresKnownProvider(t *testing.T) {
	store := NewMemoryStore()
	reg := NewRegistry(store, WithCacheTTL(time.Nanosecond))

	err := reg.SetConfig(context.Background(), &ProviderConfig{
		PrincipalID:  "pr_1",
		ProviderName: "ghost",
		Enabled:      true,
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("set config for unknown provider: got %v, want ErrNotFound", err)
	}
}

func TestDailyCap(t *testing.T) {
	cases := []struct {
		global, local, want int
	}{
		{0, 0, 0},
		{10, 0, 10},
		{0, 5, 5},
		{10, 5, 5},
		{5, 10, 5},
	}
	for _, tc := range cases {
		p := &Provider{MaxDailyVerifications: tc.global}
		cfg := &ProviderConfig{MaxDailyVerifications: tc.local}
		if got := DailyCap(p, cfg); got != tc.want {
			t.Errorf("DailyCap(%d, %d) = %d, want %d", tc.global, tc.local, got, tc.want)
		}
	}
	if got := DailyCap(&Provider{MaxDailyVerifications: 7}, nil); got != 7 {
		t.Errorf("DailyCap with nil config = %d, want 7", got)
	}
}

func TestMockAdapterSingleStep(t *testing.T) {
	a := NewMockAdapter("mock", ModeSingleStep, "secret", 0)
	ctx := context.Background()

	rc, err := a.Submit(ctx, SubmitInput{RequestID: "vr_1", VerificationType: TypeDocument, Payload: map[string]any{"doc": "x"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !rc.Completed || !rc.Verified {
		t.Fatalf("submit receipt = %+v, want completed verified", rc)
	}

	rc, err = a.Submit(ctx, SubmitInput{RequestID: "vr_2", VerificationType: TypeDocument, Payload: map[string]any{"outcome": "reject"}})
	if err != nil {
		t.Fatalf("submit reject: %v", err)
	}
	if !rc.Completed || rc.Verified || len(rc.FailureReasons) == 0 {
		t.Fatalf("reject receipt = %+v, want completed unverified with reasons", rc)
	}
}

func TestMockAdapterWebhookSignature(t *testing.T) {
	a := NewMockAdapter("mock", ModeMultiStep, "secret", 3)

	body, _ := json.Marshal(mockWebhookBody{SessionID: "ext_1", Step: 2, TotalSteps: 3})
	upd, err := a.ParseWebhook(body, a.SignWebhook(body))
	if err != nil {
		t.Fatalf("parse webhook: %v", err)
	}
	if upd.ProviderSessionID != "ext_1" || upd.Step != 2 {
		t.Fatalf("update = %+v", upd)
	}

	if _, err := a.ParseWebhook(body, "deadbeef"); !errors.Is(err, ErrBadWebhook) {
		t.Fatalf("bad signature: got %v, want ErrBadWebhook", err)
	}
	other := NewMockAdapter("mock", ModeMultiStep, "other-secret", 3)
	if _, err := a.ParseWebhook(body, other.SignWebhook(body)); !errors.Is(err, ErrBadWebhook) {
		t.Fatalf("wrong key: got %v, want ErrBadWebhook", err)
	}
	if _, err := a.ParseWebhook([]byte("{}"), a.SignWebhook([]byte("{}"))); !errors.Is(err, ErrBadWebhook) {
		t.Fatalf("empty body: got %v, want ErrBadWebhook", err)
	}
}
