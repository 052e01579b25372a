package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"verigate.io/internal/auth"
	"verigate.io/internal/obs"
	"verigate.io/internal/provider"
	"verigate.io/internal/ratelimit"
	"verigate.io/internal/verify"
)

// Envelope error codes surfaced to callers. Internal detail never leaves the
// process through these.
const (
	CodeUnauthenticated        = "UNAUTHENTICATED"
	CodeForbidden              = "FORBIDDEN"
	CodeRateLimitExceeded      = "RATE_LIMIT_EXCEEDED"
	CodeProviderUnavailable    = "PROVIDER_UNAVAILABLE"
	CodeProviderQuotaExceeded  = "PROVIDER_QUOTA_EXCEEDED"
	CodeInvalidStateTransition = "INVALID_STATE_TRANSITION"
	CodeAlreadyFinalized       = "ALREADY_FINALIZED"
	CodeNotFound               = "NOT_FOUND"
	CodeValidationError        = "VALIDATION_ERROR"
	CodeInternalError          = "INTERNAL_ERROR"
)

type envelope struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *errorBody `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(envelope{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
		RequestID: requestIDFrom(r),
	})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		Success:   false,
		Error:     &errorBody{Code: code, Message: message},
		Timestamp: time.Now().UTC(),
		RequestID: requestIDFrom(r),
	})
}

// handleError maps package sentinels to envelope codes. Anything unknown is
// logged in full and returned as INTERNAL_ERROR.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	var denial *ratelimit.Denial
	if errors.As(err, &denial) {
		w.Header().Set("Retry-After", strconv.Itoa(int(denial.RetryAfter.Seconds())))
		writeError(w, r, http.StatusTooManyRequests, CodeRateLimitExceeded, denial.Error())
		return
	}
	switch {
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, CodeUnauthenticated, "authentication failed")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, CodeForbidden, "access denied")
	case errors.Is(err, ratelimit.ErrLimitExceeded):
		writeError(w, r, http.StatusTooManyRequests, CodeRateLimitExceeded, "rate limit exceeded")
	case errors.Is(err, provider.ErrQuotaExceeded):
		writeError(w, r, http.StatusTooManyRequests, CodeProviderQuotaExceeded, "provider daily quota exceeded")
	case errors.Is(err, provider.ErrUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, CodeProviderUnavailable, "no provider available for this request")
	case errors.Is(err, provider.ErrBadWebhook):
		writeError(w, r, http.StatusUnauthorized, CodeUnauthenticated, "webhook rejected")
	case errors.Is(err, verify.ErrAlreadyFinalized):
		writeError(w, r, http.StatusConflict, CodeAlreadyFinalized, "verification already finalized")
	case errors.Is(err, verify.ErrInvalidStateTransition):
		writeError(w, r, http.StatusConflict, CodeInvalidStateTransition, "invalid state transition")
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, provider.ErrNotFound), errors.Is(err, verify.ErrNotFound):
		writeError(w, r, http.StatusNotFound, CodeNotFound, "resource not found")
	case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, verify.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, CodeValidationError, err.Error())
	default:
		obs.LogRequest(map[string]any{
			"level": "error", "msg": "internal error",
			"request_id": requestIDFrom(r), "path": r.URL.Path, "error": err.Error(),
		})
		writeError(w, r, http.StatusInternalServerError, CodeInternalError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, r, http.StatusMethodNotAllowed, CodeValidationError, "method not allowed")
}
