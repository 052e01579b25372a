package httpapi

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"verigate.io/internal/verify"
)

const webhookSignatureHeader = "X-Webhook-Signature"

type createVerificationRequest struct {
	VerificationType string         `json:"verification_type"`
	ProcessingMethod string         `json:"processing_method,omitempty"`
	Provider         string         `json:"provider,omitempty"`
	Payload          map[string]any `json:"payload,omitempty"`
}

type requestResponse struct {
	ID               string     `json:"id"`
	VerificationType string     `json:"verification_type"`
	ProcessingMethod string     `json:"processing_method"`
	Provider         string     `json:"provider"`
	Status           string     `json:"status"`
	ErrorDetails     string     `json:"error_details,omitempty"`
	ProcessingTimeMs int64      `json:"processing_time_ms,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

type sessionResponse struct {
	ID                 string                  `json:"id"`
	VerificationID     string                  `json:"verification_id"`
	Provider           string                  `json:"provider"`
	ExternalURL        string                  `json:"external_url,omitempty"`
	CurrentStep        int                     `json:"current_step"`
	TotalSteps         int                     `json:"total_steps"`
	ProgressPercentage int                     `json:"progress_percentage"`
	Status             string                  `json:"status"`
	ProcessingSteps    []verify.ProcessingStep `json:"processing_steps,omitempty"`
	ErrorDetails       string                  `json:"error_details,omitempty"`
	StartedAt          time.Time               `json:"started_at"`
	ExpiresAt          time.Time               `json:"expires_at"`
	CompletedAt        *time.Time              `json:"completed_at,omitempty"`
	FailedAt           *time.Time              `json:"failed_at,omitempty"`
}

type resultResponse struct {
	VerificationID string         `json:"verification_id"`
	Provider       string         `json:"provider"`
	Verified       bool           `json:"verified"`
	Standardized   string         `json:"standardized,omitempty"`
	Confidence     float64        `json:"confidence"`
	FailureReasons []string       `json:"failure_reasons,omitempty"`
	Raw            map[string]any `json:"raw,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

func requestResponseFrom(req *verify.VerificationRequest) requestResponse {
	return requestResponse{
		ID:               req.ID,
		VerificationType: req.VerificationType,
		ProcessingMethod: req.ProcessingMethod,
		Provider:         req.ProviderName,
		Status:           string(req.Status),
		ErrorDetails:     req.ErrorDetails,
		ProcessingTimeMs: req.ProcessingTimeMs,
		CreatedAt:        req.CreatedAt,
		CompletedAt:      req.CompletedAt,
	}
}

func sessionResponseFrom(sess *verify.VerificationSession) sessionResponse {
	return sessionResponse{
		ID:                 sess.ID,
		VerificationID:     sess.VerificationID,
		Provider:           sess.ProviderName,
		ExternalURL:        sess.ExternalURL,
		CurrentStep:        sess.CurrentStep,
		TotalSteps:         sess.TotalSteps,
		ProgressPercentage: sess.ProgressPercentage,
		Status:             string(sess.Status),
		ProcessingSteps:    sess.ProcessingSteps,
		ErrorDetails:       sess.ErrorDetails,
		StartedAt:          sess.StartedAt,
		ExpiresAt:          sess.ExpiresAt,
		CompletedAt:        sess.CompletedAt,
		FailedAt:           sess.FailedAt,
	}
}

func resultResponseFrom(res *verify.VerificationResult) resultResponse {
	return resultResponse{
		VerificationID: res.VerificationID,
		Provider:       res.ProviderName,
		Verified:       res.Verified,
		Standardized:   res.Standardized,
		Confidence:     res.Confidence,
		FailureReasons: res.FailureReasons,
		Raw:            res.Raw,
		CreatedAt:      res.CreatedAt,
	}
}

func (a *API) handleVerifications(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req createVerificationRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, CodeValidationError, err.Error())
			return
		}
		out, err := a.orch.Create(r.Context(), &principal, verify.CreateInput{
			VerificationType: req.VerificationType,
			ProcessingMethod: req.ProcessingMethod,
			ProviderName:     req.Provider,
			Payload:          req.Payload,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}
		data := map[string]any{"request": requestResponseFrom(out.Request)}
		if out.Session != nil {
			data["session"] = sessionResponseFrom(out.Session)
		}
		if out.Result != nil {
			data["result"] = resultResponseFrom(out.Result)
		}
		writeJSON(w, r, http.StatusCreated, data)
	case http.MethodGet:
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		reqs, err := a.orch.ListRequests(r.Context(), principal.ID, limit)
		if err != nil {
			handleError(w, r, err)
			return
		}
		out := make([]requestResponse, 0, len(reqs))
		for _, req := range reqs {
			out = append(out, requestResponseFrom(req))
		}
		writeJSON(w, r, http.StatusOK, out)
	default:
		methodNotAllowed(w, r, "GET, POST")
	}
}

func (a *API) handleVerificationByID(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/verifications/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, CodeNotFound, "resource not found")
		return
	}
	switch sub {
	case "":
		req, err := a.orch.GetRequest(r.Context(), principal.ID, id)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, requestResponseFrom(req))
	case "result":
		res, err := a.orch.GetResult(r.Context(), principal.ID, id)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, resultResponseFrom(res))
	default:
		writeError(w, r, http.StatusNotFound, CodeNotFound, "resource not found")
	}
}

func (a *API) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, CodeNotFound, "resource not found")
		return
	}
	switch {
	case sub == "" && r.Method == http.MethodGet:
		sess, err := a.orch.GetSession(r.Context(), principal.ID, id)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, sessionResponseFrom(sess))
	case sub == "cancel" && r.Method == http.MethodPost:
		sess, err := a.orch.Cancel(r.Context(), principal.ID, id)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, sessionResponseFrom(sess))
	case sub == "" || sub == "cancel":
		methodNotAllowed(w, r, "GET, POST")
	default:
		writeError(w, r, http.StatusNotFound, CodeNotFound, "resource not found")
	}
}

// handleWebhook authenticates a provider callback through the adapter's
// signature check and re-enters the orchestrator's advance path.
func (a *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/v1/webhooks/")
	if name == "" || strings.Contains(name, "/") {
		writeError(w, r, http.StatusNotFound, CodeNotFound, "resource not found")
		return
	}
	adapter, ok := a.registry.Adapter(name)
	if !ok {
		writeError(w, r, http.StatusNotFound, CodeNotFound, "unknown provider")
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, CodeValidationError, "unreadable body")
		return
	}
	upd, err := adapter.ParseWebhook(body, r.Header.Get(webhookSignatureHeader))
	if err != nil {
		handleError(w, r, err)
		return
	}
	sess, err := a.orch.Advance(r.Context(), upd.ProviderSessionID, upd)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"status":     string(sess.Status),
		"progress":   sess.ProgressPercentage,
	})
}
