package provider

import (
	"context"
	"time"
)

// SubmitInput is the normalized request handed to an adapter. Payload is an
// opaque document: the core passes it through unexamined and only the adapter
// that understands the provider's wire format interprets it.
type SubmitInput struct {
	RequestID        string
	PrincipalID      string
	VerificationType string
	ProcessingMethod string
	Payload          map[string]any
}

// Receipt is what an adapter returns from Submit. For single_step providers
// Completed is true and the verdict fields are final; for multi_step
// providers the session identifiers describe the flow that was opened.
type Receipt struct {
	Completed bool

	// Final verdict, meaningful when Completed.
	Verified       bool
	Standardized   string
	Confidence     float64
	FailureReasons []string
	Raw            map[string]any

	// Session bootstrap, meaningful when not Completed.
	ProviderSessionID string
	TotalSteps        int
	ExternalURL       string
}

// StepUpdate is one progress notification for a multi-step session, produced
// either by a webhook or by a polling adapter. Both paths re-enter the same
// orchestrator transition.
type StepUpdate struct {
	ProviderSessionID string
	Step              int
	TotalSteps        int
	Done              bool
	Verified          bool
	Standardized      string
	Confidence        float64
	FailureReasons    []string
	Raw               map[string]any
	Detail            string
}

// Adapter is the capability interface every provider integration satisfies.
// The orchestrator depends only on this contract, never on a concrete
// provider. Submit carries a bounded timeout via ctx; a timeout is a
// recoverable adapter error and any retry policy lives behind this boundary.
type Adapter interface {
	Name() string
	Submit(ctx context.Context, in SubmitInput) (Receipt, error)

	// ParseWebhook authenticates an inbound callback (signature or shared
	// secret, provider-specific) and normalizes it into a StepUpdate.
	ParseWebhook(body []byte, signature string) (StepUpdate, error)
}

// SubmitTimeout bounds a single adapter submit call.
const SubmitTimeout = 30 * time.Second
