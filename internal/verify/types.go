package verify

import "time"

// Status is shared by requests and sessions. Terminal statuses absorb every
// further transition.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Processing methods a caller may request.
const (
	MethodDirect       = "direct"
	MethodExternalLink = "external_link"
)

// VerificationRequest is one logical ask from a caller. Status is mutated
// only by the orchestrator and frozen once terminal.
type VerificationRequest struct {
	ID               string
	PrincipalID      string
	VerificationType string
	ProcessingMethod string
	ProviderName     string
	Status           Status
	ErrorDetails     string
	ProcessingTimeMs int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
}

// ProcessingStep is one recorded progress entry of a session.
type ProcessingStep struct {
	Step       int       `json:"step"`
	Detail     string    `json:"detail,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// VerificationSession tracks a provider-side multi-step flow, 1:1 with a
// VerificationRequest. Version backs optimistic concurrency on every write.
type VerificationSession struct {
	ID                 string
	VerificationID     string
	PrincipalID        string
	ProviderName       string
	ProviderSessionID  string
	ExternalURL        string
	CurrentStep        int
	TotalSteps         int
	ProgressPercentage int
	Status             Status
	ProcessingSteps    []ProcessingStep
	ErrorDetails       string
	Version            int
	StartedAt          time.Time
	ExpiresAt          time.Time
	CompletedAt        *time.Time
	FailedAt           *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// VerificationResult is the immutable outcome of a finalized request.
// At most one exists per request.
type VerificationResult struct {
	ID             string
	VerificationID string
	ProviderName   string
	Verified       bool
	Standardized   string
	Confidence     float64
	FailureReasons []string
	Raw            map[string]any
	CreatedAt      time.Time
}
