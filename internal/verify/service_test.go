package verify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verigate.io/internal/auth"
	"verigate.io/internal/provider"
	"verigate.io/internal/ratelimit"
)

// testClock is a mutable time source shared between the orchestrator and
// the test body.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// stubAdapter gives tests full control over submit outcomes.
type stubAdapter struct {
	name       string
	submitErr  error
	verified   bool
	reasons    []string
	extID      string
	totalSteps int
	onSubmit   func()
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) Submit(ctx context.Context, in provider.SubmitInput) (provider.Receipt, error) {
	if a.onSubmit != nil {
		a.onSubmit()
	}
	if a.submitErr != nil {
		return provider.Receipt{}, a.submitErr
	}
	if a.extID != "" {
		return provider.Receipt{
			ProviderSessionID: a.extID,
			TotalSteps:        a.totalSteps,
			ExternalURL:       "https://verify.example.com/" + in.RequestID,
		}, nil
	}
	return provider.Receipt{
		Completed:      true,
		Verified:       a.verified,
		Standardized:   "std:" + in.RequestID,
		Confidence:     0.92,
		FailureReasons: a.reasons,
	}, nil
}

func (a *stubAdapter) ParseWebhook(body []byte, signature string) (provider.StepUpdate, error) {
	return provider.StepUpdate{}, provider.ErrBadWebhook
}

type fixture struct {
	store *MemoryStore
	reg   *provider.Registry
	orch  *Orchestrator
	clock *testClock
}

func newFixture(t *testing.T, adapter provider.Adapter, mode provider.ProcessingMode) *fixture {
	t.Helper()
	clock := newTestClock()
	pstore := provider.NewMemoryStore()
	reg := provider.NewRegistry(pstore,
		provider.WithCacheTTL(time.Nanosecond),
		provider.WithClock(clock.Now))
	require.NoError(t, pstore.Upsert(context.Background(), &provider.Provider{
		Name:             adapter.Name(),
		SupportsIDVerify: true,
		ProcessingMode:   mode,
		IsActive:         true,
	}))
	require.NoError(t, pstore.SetConfig(context.Background(), &provider.ProviderConfig{
		PrincipalID:  "pr_test",
		ProviderName: adapter.Name(),
		Enabled:      true,
	}))
	reg.Register(adapter)

	limiter := ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.WithClock(clock.Now))
	store := NewMemoryStore()
	orch := NewOrchestrator(store, limiter, reg, WithClock(clock.Now))
	return &fixture{store: store, reg: reg, orch: orch, clock: clock}
}

func tenant() *auth.Principal {
	return &auth.Principal{
		ID:                 "pr_test",
		Kind:               auth.KindTenant,
		Status:             auth.StatusActive,
		RateLimitPerMinute: 100,
		RateLimitPerHour:   1000,
	}
}

func TestCreateDirectCompletes(t *testing.T) {
	adapter := &stubAdapter{name: "instant", verified: true}
	fx := newFixture(t, adapter, provider.ModeSingleStep)
	adapter.onSubmit = func() { fx.clock.Advance(120 * time.Millisecond) }
	ctx := context.Background()

	out, err := fx.orch.Create(ctx, tenant(), CreateInput{VerificationType: provider.TypeDocument})
	require.NoError(t, err)
	require.NotNil(t, out.Request)
	require.Nil(t, out.Session)

	assert.Equal(t, StatusCompleted, out.Request.Status)
	assert.Equal(t, int64(120), out.Request.ProcessingTimeMs)
	require.NotNil(t, out.Request.CompletedAt)

	res, err := fx.orch.GetResult(ctx, "pr_test", out.Request.ID)
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Equal(t, "instant", res.ProviderName)
}

func TestCreateDirectUnverifiedFails(t *testing.T) {
	adapter := &stubAdapter{name: "instant", verified: false, reasons: []string{"face mismatch"}}
	fx := newFixture(t, adapter, provider.ModeSingleStep)
	ctx := context.Background()

	out, err := fx.orch.Create(ctx, tenant(), CreateInput{VerificationType: provider.TypeDocument})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, out.Request.Status)

	res, err := fx.orch.GetResult(ctx, "pr_test", out.Request.ID)
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.Equal(t, []string{"face mismatch"}, res.FailureReasons)
}

func TestCreateAdapterErrorRecordsFailure(t *testing.T) {
	adapter := &stubAdapter{name: "flaky", submitErr: errors.New("upstream 503")}
	fx := newFixture(t, adapter, provider.ModeSingleStep)
	ctx := context.Background()

	out, err := fx.orch.Create(ctx, tenant(), CreateInput{VerificationType: provider.TypeDocument})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, out.Request.Status)
	assert.Contains(t, out.Request.ErrorDetails, "upstream 503")

	// No verdict, no result row.
	_, err = fx.orch.GetResult(ctx, "pr_test", out.Request.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateRateLimited(t *testing.T) {
	adapter := &stubAdapter{name: "instant", verified: true}
	fx := newFixture(t, adapter, provider.ModeSingleStep)
	ctx := context.Background()

	p := tenant()
	p.RateLimitPerMinute = 1

	_, err := fx.orch.Create(ctx, p, CreateInput{VerificationType: provider.TypeDocument})
	require.NoError(t, err)
	_, err = fx.orch.Create(ctx, p, CreateInput{VerificationType: provider.TypeDocument})
	assert.ErrorIs(t, err, ratelimit.ErrLimitExceeded)
}

func TestCreateValidatesInput(t *testing.T) {
	adapter := &stubAdapter{name: "instant", verified: true}
	fx := newFixture(t, adapter, provider.ModeSingleStep)
	ctx := context.Background()

	_, err := fx.orch.Create(ctx, tenant(), CreateInput{})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = fx.orch.Create(ctx, tenant(), CreateInput{VerificationType: provider.TypeDocument, ProcessingMethod: "carrier_pigeon"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestMultiStepFlow(t *testing.T) {
	adapter := &stubAdapter{name: "kyc", extID: "ext_42", totalSteps: 3}
	fx := newFixture(t, adapter, provider.ModeMultiStep)
	ctx := context.Background()

	out, err := fx.orch.Create(ctx, tenant(), CreateInput{VerificationType: provider.TypeIdentity})
	require.NoError(t, err)
	require.NotNil(t, out.Session)
	assert.Equal(t, StatusInProgress, out.Session.Status)
	assert.Equal(t, "ext_42", out.Session.ProviderSessionID)
	assert.Equal(t, 3, out.Session.TotalSteps)
	assert.Equal(t, StatusInProgress, out.Request.Status)

	sess, err := fx.orch.Advance(ctx, "ext_42", provider.StepUpdate{Step: 1, TotalSteps: 3})
	require.NoError(t, err)
	assert.Equal(t, 1, sess.CurrentStep)
	assert.Equal(t, 33, sess.ProgressPercentage)

	sess, err = fx.orch.Advance(ctx, "ext_42", provider.StepUpdate{Step: 2, TotalSteps: 3})
	require.NoError(t, err)
	assert.Equal(t, 67, sess.ProgressPercentage)
	assert.Len(t, sess.ProcessingSteps, 2)

	sess, err = fx.orch.Advance(ctx, "ext_42", provider.StepUpdate{
		Step: 3, TotalSteps: 3, Done: true, Verified: true, Confidence: 0.99,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, sess.Status)
	assert.Equal(t, 100, sess.ProgressPercentage)
	require.NotNil(t, sess.CompletedAt)

	req, err := fx.orch.GetRequest(ctx, "pr_test", out.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, req.Status)
	res, err := fx.orch.GetResult(ctx, "pr_test", out.Request.ID)
	require.NoError(t, err)
	assert.True(t, res.Verified)

	// Duplicate delivery of an already-applied step changes nothing.
	replayed, err := fx.orch.Advance(ctx, "ext_42", provider.StepUpdate{Step: 2, TotalSteps: 3})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, replayed.Status)
	assert.Len(t, replayed.ProcessingSteps, 3)

	// A genuinely new step on a terminal session is rejected.
	_, err = fx.orch.Advance(ctx, "ext_42", provider.StepUpdate{Step: 4, TotalSteps: 3})
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestMultiStepFailedVerdict(t *testing.T) {
	adapter := &stubAdapter{name: "kyc", extID: "ext_9", totalSteps: 2}
	fx := newFixture(t, adapter, provider.ModeMultiStep)
	ctx := context.Background()

	out, err := fx.orch.Create(ctx, tenant(), CreateInput{VerificationType: provider.TypeIdentity})
	require.NoError(t, err)

	sess, err := fx.orch.Advance(ctx, "ext_9", provider.StepUpdate{
		Step: 2, TotalSteps: 2, Done: true, Verified: false, FailureReasons: []string{"document expired"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, sess.Status)
	require.NotNil(t, sess.FailedAt)
	assert.Contains(t, sess.ErrorDetails, "document expired")

	req, err := fx.orch.GetRequest(ctx, "pr_test", out.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, req.Status)
	res, err := fx.orch.GetResult(ctx, "pr_test", out.Request.ID)
	require.NoError(t, err)
	assert.False(t, res.Verified)
}

func TestMultiStepSubmitErrorFailsSessionAndRequest(t *testing.T) {
	adapter := &stubAdapter{name: "kyc", submitErr: errors.New("connection refused"), extID: "ext_x", totalSteps: 3}
	fx := newFixture(t, adapter, provider.ModeMultiStep)
	ctx := context.Background()

	out, err := fx.orch.Create(ctx, tenant(), CreateInput{VerificationType: provider.TypeIdentity})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, out.Session.Status)
	assert.Equal(t, StatusFailed, out.Request.Status)
	assert.Contains(t, out.Session.ErrorDetails, "connection refused")
}

func TestCancel(t *testing.T) {
	adapter := &stubAdapter{name: "kyc", extID: "ext_7", totalSteps: 3}
	fx := newFixture(t, adapter, provider.ModeMultiStep)
	ctx := context.Background()

	out, err := fx.orch.Create(ctx, tenant(), CreateInput{VerificationType: provider.TypeIdentity})
	require.NoError(t, err)

	_, err = fx.orch.Cancel(ctx, "pr_other", out.Session.ID)
	assert.ErrorIs(t, err, auth.ErrForbidden)

	sess, err := fx.orch.Cancel(ctx, "pr_test", out.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, sess.Status)

	req, err := fx.orch.GetRequest(ctx, "pr_test", out.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, req.Status)

	_, err = fx.orch.Cancel(ctx, "pr_test", out.Session.ID)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	// Cancelled sessions reject further advancement.
	_, err = fx.orch.Advance(ctx, "ext_7", provider.StepUpdate{Step: 1, TotalSteps: 3})
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestExpireStale(t *testing.T) {
	adapter := &stubAdapter{name: "kyc", extID: "ext_slow", totalSteps: 3}
	fx := newFixture(t, adapter, provider.ModeMultiStep)
	ctx := context.Background()

	orch := NewOrchestrator(fx.store, ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.WithClock(fx.clock.Now)), fx.reg,
		WithClock(fx.clock.Now), WithSessionTTL(10*time.Minute))

	out, err := orch.Create(ctx, tenant(), CreateInput{VerificationType: provider.TypeIdentity})
	require.NoError(t, err)

	// Not yet due.
	n, err := orch.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	fx.clock.Advance(11 * time.Minute)
	n, err = orch.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sess, err := orch.GetSession(ctx, "pr_test", out.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, sess.Status)
	req, err := orch.GetRequest(ctx, "pr_test", out.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, req.Status)

	// The sweep is idempotent and an expired session stays frozen.
	n, err = orch.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = orch.Advance(ctx, "ext_slow", provider.StepUpdate{Step: 1, TotalSteps: 3})
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestConcurrentAdvanceFinalizesOnce(t *testing.T) {
	const steps = 10
	adapter := &stubAdapter{name: "kyc", extID: "ext_race", totalSteps: steps}
	fx := newFixture(t, adapter, provider.ModeMultiStep)
	ctx := context.Background()

	out, err := fx.orch.Create(ctx, tenant(), CreateInput{VerificationType: provider.TypeIdentity})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, steps)
	for i := 1; i <= steps; i++ {
		wg.Add(1)
		go func(step int) {
			defer wg.Done()
			_, errs[step-1] = fx.orch.Advance(ctx, "ext_race", provider.StepUpdate{
				Step:       step,
				TotalSteps: steps,
				Done:       step == steps,
				Verified:   true,
			})
		}(i)
	}
	wg.Wait()

	// Out-of-order and concurrent deliveries are either applied or absorbed,
	// never rejected, because the final step can land before lower ones.
	for i, err := range errs {
		if err != nil && !errors.Is(err, ErrInvalidStateTransition) {
			t.Fatalf("advance %d: %v", i+1, err)
		}
	}

	sess, err := fx.orch.GetSession(ctx, "pr_test", out.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, sess.Status)
	assert.Equal(t, steps, sess.CurrentStep)
	assert.Equal(t, 100, sess.ProgressPercentage)

	// Exactly one result row exists.
	res, err := fx.orch.GetResult(ctx, "pr_test", out.Request.ID)
	require.NoError(t, err)
	assert.True(t, res.Verified)
	req, err := fx.orch.GetRequest(ctx, "pr_test", out.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, req.Status)
}
