package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"verigate.io/internal/ids"
)

// MockAdapter simulates a provider backend in-process. It is wired in dev
// mode and in tests: single_step submits complete immediately, multi_step
// submits open a session that is driven by signed webhook callbacks.
type MockAdapter struct {
	name          string
	mode          ProcessingMode
	webhookSecret []byte
	totalSteps    int
	now           func() time.Time

	// FailSubmit, when set, makes every Submit return this error.
	FailSubmit error
}

// NewMockAdapter builds a mock adapter. totalSteps only matters in
// multi_step mode and defaults to 3.
func NewMockAdapter(name string, mode ProcessingMode, webhookSecret string, totalSteps int) *MockAdapter {
	if totalSteps <= 0 {
		totalSteps = 3
	}
	return &MockAdapter{
		name:          name,
		mode:          mode,
		webhookSecret: []byte(webhookSecret),
		totalSteps:    totalSteps,
		now:           time.Now,
	}
}

func (a *MockAdapter) Name() string { return a.name }

func (a *MockAdapter) Submit(ctx context.Context, in SubmitInput) (Receipt, error) {
	if a.FailSubmit != nil {
		return Receipt{}, a.FailSubmit
	}
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	if a.mode == ModeMultiStep {
		return Receipt{
			ProviderSessionID: ids.New(),
			TotalSteps:        a.totalSteps,
			ExternalURL:       fmt.Sprintf("https://%s.example.com/flow/%s", a.name, in.RequestID),
		}, nil
	}
	// The payload drives the verdict so tests can exercise both outcomes.
	verified := true
	var reasons []string
	if v, ok := in.Payload["outcome"].(string); ok && v == "reject" {
		verified = false
		reasons = append(reasons, "document did not match")
	}
	return Receipt{
		Completed:      true,
		Verified:       verified,
		Standardized:   fmt.Sprintf("%s:%s", in.VerificationType, in.RequestID),
		Confidence:     0.97,
		FailureReasons: reasons,
		Raw:            map[string]any{"provider": a.name, "echo": in.Payload},
	}, nil
}

// mockWebhookBody is the wire shape of the mock provider's callbacks.
type mockWebhookBody struct {
	SessionID      string         `json:"session_id"`
	Step           int            `json:"step"`
	TotalSteps     int            `json:"total_steps"`
	Done           bool           `json:"done"`
	Verified       bool           `json:"verified"`
	Standardized   string         `json:"standardized"`
	Confidence     float64        `json:"confidence"`
	FailureReasons []string       `json:"failure_reasons,omitempty"`
	Raw            map[string]any `json:"raw,omitempty"`
	Detail         string         `json:"detail,omitempty"`
}

func (a *MockAdapter) ParseWebhook(body []byte, signature string) (StepUpdate, error) {
	if !a.verifySignature(body, signature) {
		return StepUpdate{}, fmt.Errorf("%w: bad signature", ErrBadWebhook)
	}
	var wb mockWebhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return StepUpdate{}, fmt.Errorf("%w: %v", ErrBadWebhook, err)
	}
	if wb.SessionID == "" || wb.Step <= 0 {
		return StepUpdate{}, fmt.Errorf("%w: missing session or step", ErrBadWebhook)
	}
	return StepUpdate{
		ProviderSessionID: wb.SessionID,
		Step:              wb.Step,
		TotalSteps:        wb.TotalSteps,
		Done:              wb.Done,
		Verified:          wb.Verified,
		Standardized:      wb.Standardized,
		Confidence:        wb.Confidence,
		FailureReasons:    wb.FailureReasons,
		Raw:               wb.Raw,
		Detail:            wb.Detail,
	}, nil
}

// SignWebhook produces the signature callers must send alongside the body.
// Exported so tests and the dev harness can forge valid callbacks.
func (a *MockAdapter) SignWebhook(body []byte) string {
	mac := hmac.New(sha256.New, a.webhookSecret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *MockAdapter) verifySignature(body []byte, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, a.webhookSecret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}
