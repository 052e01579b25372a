package verify

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"verigate.io/internal/audit"
	"verigate.io/internal/auth"
	"verigate.io/internal/ids"
	"verigate.io/internal/obs"
	"verigate.io/internal/provider"
	"verigate.io/internal/ratelimit"
)

const (
	defaultSessionTTL = 30 * time.Minute

	sweepBatchSize = 100
)

// Orchestrator drives the verification state machine. Every Create passes
// rate-limit admission and provider resolution before any row is written;
// Advance is the single re-entry point for webhook and polling updates.
type Orchestrator struct {
	store      Store
	limiter    *ratelimit.Limiter
	registry   *provider.Registry
	now        func() time.Time
	sessionTTL time.Duration
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.now = fn
		}
	}
}

// WithSessionTTL overrides how long a session may stay non-terminal before
// the sweeper expires it.
func WithSessionTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) {
		if ttl > 0 {
			o.sessionTTL = ttl
		}
	}
}

// NewOrchestrator wires the orchestrator over its collaborators.
func NewOrchestrator(store Store, limiter *ratelimit.Limiter, registry *provider.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		limiter:    limiter,
		registry:   registry,
		now:        time.Now,
		sessionTTL: defaultSessionTTL,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreateInput is a caller's verification ask. Payload is opaque to the
// orchestrator and interpreted only by the provider adapter.
type CreateInput struct {
	VerificationType string
	ProcessingMethod string
	ProviderName     string
	Payload          map[string]any
}

// CreateOutput reports what Create produced: always a request, plus a
// session when the provider runs a multi-step flow.
type CreateOutput struct {
	Request *VerificationRequest
	Session *VerificationSession
	Result  *VerificationResult
}

func (in *CreateInput) validate() error {
	in.VerificationType = strings.TrimSpace(in.VerificationType)
	if in.VerificationType == "" {
		return fmt.Errorf("%w: verification_type required", ErrInvalidInput)
	}
	switch in.ProcessingMethod {
	case "":
		in.ProcessingMethod = MethodDirect
	case MethodDirect, MethodExternalLink:
	default:
		return fmt.Errorf("%w: unknown processing_method %q", ErrInvalidInput, in.ProcessingMethod)
	}
	return nil
}

// Create admits, routes and submits a verification. Rate-limit and provider
// failures are terminal for the call and leave no rows behind.
func (o *Orchestrator) Create(ctx context.Context, principal *auth.Principal, in CreateInput) (*CreateOutput, error) {
	if principal == nil {
		return nil, auth.ErrUnauthenticated
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := o.limiter.Admit(ctx, principal.ID, principal.RateLimitPerMinute, principal.RateLimitPerHour); err != nil {
		return nil, err
	}
	p, err := o.registry.Resolve(ctx, principal.ID, in.VerificationType, in.ProviderName)
	if err != nil {
		return nil, err
	}
	adapter, ok := o.registry.Adapter(p.Name)
	if !ok {
		return nil, fmt.Errorf("%w: no adapter registered for %s", provider.ErrUnavailable, p.Name)
	}

	now := o.now().UTC()
	req := &VerificationRequest{
		ID:               ids.WithPrefix(ids.PrefixRequest),
		PrincipalID:      principal.ID,
		VerificationType: in.VerificationType,
		ProcessingMethod: in.ProcessingMethod,
		ProviderName:     p.Name,
		Status:           StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := o.store.Requests().Create(ctx, req); err != nil {
		return nil, err
	}
	if err := o.registry.RecordUse(ctx, principal.ID, p.Name); err != nil {
		obs.LogRequest(map[string]any{"level": "warn", "msg": "record provider use failed", "provider": p.Name, "error": err.Error()})
	}

	submitIn := provider.SubmitInput{
		RequestID:        req.ID,
		PrincipalID:      principal.ID,
		VerificationType: in.VerificationType,
		ProcessingMethod: in.ProcessingMethod,
		Payload:          in.Payload,
	}
	if p.ProcessingMode == provider.ModeMultiStep {
		return o.createSession(ctx, req, adapter, submitIn)
	}
	return o.createDirect(ctx, req, adapter, submitIn)
}

// createDirect runs the synchronous single_step path: the adapter verdict
// finalizes the request in this call and exactly one result row is written.
func (o *Orchestrator) createDirect(ctx context.Context, req *VerificationRequest, adapter provider.Adapter, in provider.SubmitInput) (*CreateOutput, error) {
	started := o.now()
	rc, err := o.submit(ctx, adapter, in)
	elapsed := o.now().Sub(started).Milliseconds()

	if err != nil {
		req.Status = StatusFailed
		req.ErrorDetails = err.Error()
		req.ProcessingTimeMs = elapsed
		o.stampRequest(req)
		if uerr := o.store.Requests().Update(ctx, req); uerr != nil {
			return nil, uerr
		}
		obs.ObserveVerification(req.ProviderName, string(StatusFailed))
		return &CreateOutput{Request: req}, nil
	}

	if rc.Verified {
		req.Status = StatusCompleted
	} else {
		req.Status = StatusFailed
	}
	req.ProcessingTimeMs = elapsed
	o.stampRequest(req)

	res := &VerificationResult{
		ID:             ids.New(),
		VerificationID: req.ID,
		ProviderName:   req.ProviderName,
		Verified:       rc.Verified,
		Standardized:   rc.Standardized,
		Confidence:     rc.Confidence,
		FailureReasons: rc.FailureReasons,
		Raw:            rc.Raw,
		CreatedAt:      o.now().UTC(),
	}
	if err := o.store.Results().Create(ctx, res); err != nil {
		return nil, err
	}
	if err := o.store.Requests().Update(ctx, req); err != nil {
		return nil, err
	}
	obs.ObserveVerification(req.ProviderName, string(req.Status))
	_ = audit.LogEvent(ctx, "verification.finalized", map[string]any{
		"request_id": req.ID, "provider": req.ProviderName, "status": string(req.Status),
	})
	return &CreateOutput{Request: req, Result: res}, nil
}

// createSession runs the multi_step path: a pending session flips to
// in_progress on adapter ack and the call returns without waiting for the
// provider to finish.
func (o *Orchestrator) createSession(ctx context.Context, req *VerificationRequest, adapter provider.Adapter, in provider.SubmitInput) (*CreateOutput, error) {
	now := o.now().UTC()
	sess := &VerificationSession{
		ID:             ids.WithPrefix(ids.PrefixSession),
		VerificationID: req.ID,
		PrincipalID:    req.PrincipalID,
		ProviderName:   req.ProviderName,
		Status:         StatusPending,
		StartedAt:      now,
		ExpiresAt:      now.Add(o.sessionTTL),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.store.Sessions().Create(ctx, sess); err != nil {
		return nil, err
	}

	rc, err := o.submit(ctx, adapter, in)
	if err != nil {
		sess.Status = StatusFailed
		sess.ErrorDetails = err.Error()
		o.stampSession(sess)
		if _, uerr := o.store.Sessions().UpdateCAS(ctx, sess, sess.Version); uerr != nil {
			return nil, uerr
		}
		req.Status = StatusFailed
		req.ErrorDetails = err.Error()
		o.stampRequest(req)
		if uerr := o.store.Requests().Update(ctx, req); uerr != nil {
			return nil, uerr
		}
		obs.ObserveVerification(req.ProviderName, string(StatusFailed))
		return &CreateOutput{Request: req, Session: sess}, nil
	}

	sess.ProviderSessionID = rc.ProviderSessionID
	sess.TotalSteps = rc.TotalSteps
	sess.ExternalURL = rc.ExternalURL
	sess.Status = StatusInProgress
	sess.UpdatedAt = o.now().UTC()
	if _, err := o.store.Sessions().UpdateCAS(ctx, sess, sess.Version); err != nil {
		return nil, err
	}
	req.Status = StatusInProgress
	req.UpdatedAt = o.now().UTC()
	if err := o.store.Requests().Update(ctx, req); err != nil {
		return nil, err
	}
	obs.SessionStarted()
	_ = audit.LogEvent(ctx, "verification.session_started", map[string]any{
		"request_id": req.ID, "session_id": sess.ID, "provider": req.ProviderName,
	})
	return &CreateOutput{Request: req, Session: sess}, nil
}

// Advance applies one provider progress update, keyed by the provider's own
// session identifier. Replays of an already-applied step are absorbed
// silently; a genuinely new step on a terminal session is rejected.
func (o *Orchestrator) Advance(ctx context.Context, providerSessionID string, upd provider.StepUpdate) (*VerificationSession, error) {
	// A lost compare-and-swap means another writer landed a newer step, so
	// re-reading always makes progress and the loop terminates.
	for {
		sess, err := o.store.Sessions().FindByProviderSession(ctx, providerSessionID)
		if err != nil {
			return nil, err
		}
		if upd.Step <= sess.CurrentStep {
			return sess, nil
		}
		if sess.Status.Terminal() {
			return nil, fmt.Errorf("%w: session %s is %s", ErrInvalidStateTransition, sess.ID, sess.Status)
		}

		expected := sess.Version
		o.applyStep(sess, upd)
		swapped, err := o.store.Sessions().UpdateCAS(ctx, sess, expected)
		if err != nil {
			return nil, err
		}
		if !swapped {
			continue
		}
		if sess.Status.Terminal() {
			if err := o.finalizeRequest(ctx, sess, upd); err != nil {
				return nil, err
			}
		}
		return sess, nil
	}
}

// applyStep mutates the session in memory for one update. Progress never
// decreases and currentStep never exceeds totalSteps.
func (o *Orchestrator) applyStep(sess *VerificationSession, upd provider.StepUpdate) {
	now := o.now().UTC()
	if sess.TotalSteps <= 0 && upd.TotalSteps > 0 {
		sess.TotalSteps = upd.TotalSteps
	}
	sess.CurrentStep = upd.Step
	if sess.TotalSteps > 0 && sess.CurrentStep > sess.TotalSteps {
		sess.CurrentStep = sess.TotalSteps
	}
	if sess.TotalSteps > 0 {
		pct := int(math.Round(float64(sess.CurrentStep) * 100 / float64(sess.TotalSteps)))
		if pct > 100 {
			pct = 100
		}
		if pct > sess.ProgressPercentage {
			sess.ProgressPercentage = pct
		}
	}
	sess.ProcessingSteps = append(sess.ProcessingSteps, ProcessingStep{
		Step:       upd.Step,
		Detail:     upd.Detail,
		RecordedAt: now,
	})
	sess.Status = StatusInProgress
	if upd.Done {
		sess.ProgressPercentage = 100
		if upd.Verified {
			sess.Status = StatusCompleted
			sess.CompletedAt = &now
		} else {
			sess.Status = StatusFailed
			sess.FailedAt = &now
			if len(upd.FailureReasons) > 0 {
				sess.ErrorDetails = strings.Join(upd.FailureReasons, "; ")
			}
		}
	}
	sess.UpdatedAt = now
}

// finalizeRequest lands the terminal session outcome on the request and
// writes the single result row. Runs only on the CAS winner.
func (o *Orchestrator) finalizeRequest(ctx context.Context, sess *VerificationSession, upd provider.StepUpdate) error {
	req, err := o.store.Requests().Find(ctx, sess.VerificationID)
	if err != nil {
		return err
	}
	req.Status = sess.Status
	req.ErrorDetails = sess.ErrorDetails
	req.ProcessingTimeMs = o.now().UTC().Sub(req.CreatedAt).Milliseconds()
	o.stampRequest(req)

	res := &VerificationResult{
		ID:             ids.New(),
		VerificationID: req.ID,
		ProviderName:   req.ProviderName,
		Verified:       upd.Verified,
		Standardized:   upd.Standardized,
		Confidence:     upd.Confidence,
		FailureReasons: upd.FailureReasons,
		Raw:            upd.Raw,
		CreatedAt:      o.now().UTC(),
	}
	if err := o.store.Results().Create(ctx, res); err != nil {
		return err
	}
	if err := o.store.Requests().Update(ctx, req); err != nil {
		return err
	}
	obs.SessionEnded()
	obs.ObserveVerification(req.ProviderName, string(req.Status))
	_ = audit.LogEvent(ctx, "verification.finalized", map[string]any{
		"request_id": req.ID, "session_id": sess.ID, "provider": req.ProviderName, "status": string(req.Status),
	})
	return nil
}

// Cancel is the caller-initiated terminal transition, valid only while the
// session is pending or in_progress.
func (o *Orchestrator) Cancel(ctx context.Context, principalID, sessionID string) (*VerificationSession, error) {
	for {
		sess, err := o.store.Sessions().Find(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if sess.PrincipalID != principalID {
			return nil, auth.ErrForbidden
		}
		if sess.Status.Terminal() {
			return nil, fmt.Errorf("%w: session %s is %s", ErrInvalidStateTransition, sess.ID, sess.Status)
		}

		expected := sess.Version
		now := o.now().UTC()
		sess.Status = StatusCancelled
		sess.UpdatedAt = now
		swapped, err := o.store.Sessions().UpdateCAS(ctx, sess, expected)
		if err != nil {
			return nil, err
		}
		if !swapped {
			continue
		}

		req, err := o.store.Requests().Find(ctx, sess.VerificationID)
		if err != nil {
			return nil, err
		}
		req.Status = StatusCancelled
		o.stampRequest(req)
		if err := o.store.Requests().Update(ctx, req); err != nil {
			return nil, err
		}
		obs.SessionEnded()
		_ = audit.LogEvent(ctx, "verification.cancelled", map[string]any{
			"request_id": req.ID, "session_id": sess.ID,
		})
		return sess, nil
	}
}

// ExpireStale moves overdue non-terminal sessions to expired. Returns how
// many sessions were expired; CAS losers are simply skipped, another writer
// already owns them.
func (o *Orchestrator) ExpireStale(ctx context.Context) (int, error) {
	stale, err := o.store.Sessions().ListStale(ctx, o.now().UTC(), sweepBatchSize)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, sess := range stale {
		expected := sess.Version
		now := o.now().UTC()
		sess.Status = StatusExpired
		sess.ErrorDetails = "session expired before completion"
		sess.UpdatedAt = now
		swapped, err := o.store.Sessions().UpdateCAS(ctx, sess, expected)
		if err != nil {
			return expired, err
		}
		if !swapped {
			continue
		}
		req, err := o.store.Requests().Find(ctx, sess.VerificationID)
		if err != nil {
			return expired, err
		}
		req.Status = StatusExpired
		req.ErrorDetails = sess.ErrorDetails
		o.stampRequest(req)
		if err := o.store.Requests().Update(ctx, req); err != nil {
			return expired, err
		}
		obs.SessionEnded()
		expired++
	}
	return expired, nil
}

// StartSweeper expires stale sessions on a ticker until ctx is cancelled.
func (o *Orchestrator) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := o.ExpireStale(ctx)
				if err != nil {
					obs.LogRequest(map[string]any{"level": "error", "msg": "session sweep failed", "error": err.Error()})
					continue
				}
				if n > 0 {
					obs.LogRequest(map[string]any{"level": "info", "msg": "sessions expired", "count": n})
				}
			}
		}
	}()
}

// ListRequests returns the principal's most recent requests.
func (o *Orchestrator) ListRequests(ctx context.Context, principalID string, limit int) ([]*VerificationRequest, error) {
	return o.store.Requests().ListByPrincipal(ctx, principalID, limit)
}

// GetRequest returns a request owned by the principal.
func (o *Orchestrator) GetRequest(ctx context.Context, principalID, requestID string) (*VerificationRequest, error) {
	req, err := o.store.Requests().Find(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.PrincipalID != principalID {
		return nil, ErrNotFound
	}
	return req, nil
}

// GetSession returns a session owned by the principal.
func (o *Orchestrator) GetSession(ctx context.Context, principalID, sessionID string) (*VerificationSession, error) {
	sess, err := o.store.Sessions().Find(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.PrincipalID != principalID {
		return nil, ErrNotFound
	}
	return sess, nil
}

// GetResult returns the result for a request owned by the principal.
func (o *Orchestrator) GetResult(ctx context.Context, principalID, requestID string) (*VerificationResult, error) {
	if _, err := o.GetRequest(ctx, principalID, requestID); err != nil {
		return nil, err
	}
	return o.store.Results().FindByRequest(ctx, requestID)
}

func (o *Orchestrator) submit(ctx context.Context, adapter provider.Adapter, in provider.SubmitInput) (provider.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, provider.SubmitTimeout)
	defer cancel()
	rc, err := adapter.Submit(ctx, in)
	if err != nil {
		return provider.Receipt{}, fmt.Errorf("%w: %s: %v", ErrAdapter, adapter.Name(), err)
	}
	return rc, nil
}

func (o *Orchestrator) stampRequest(req *VerificationRequest) {
	now := o.now().UTC()
	req.UpdatedAt = now
	if req.Status.Terminal() && req.CompletedAt == nil {
		req.CompletedAt = &now
	}
}

func (o *Orchestrator) stampSession(sess *VerificationSession) {
	now := o.now().UTC()
	sess.UpdatedAt = now
	if sess.Status == StatusFailed && sess.FailedAt == nil {
		sess.FailedAt = &now
	}
}
