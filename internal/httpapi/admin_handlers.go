package httpapi

import (
	"net/http"
	"strings"
	"time"

	"verigate.io/internal/audit"
	"verigate.io/internal/auth"
	"verigate.io/internal/provider"
)

type createPrincipalRequest struct {
	Kind               string            `json:"kind"`
	Name               string            `json:"name"`
	Password           string            `json:"password"`
	RateLimitPerMinute int               `json:"rate_limit_per_minute"`
	RateLimitPerHour   int               `json:"rate_limit_per_hour"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

type principalResponse struct {
	ID                 string            `json:"id"`
	Kind               string            `json:"kind"`
	Name               string            `json:"name"`
	Status             string            `json:"status"`
	RateLimitPerMinute int               `json:"rate_limit_per_minute"`
	RateLimitPerHour   int               `json:"rate_limit_per_hour"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
}

func principalResponseFrom(p *auth.Principal) principalResponse {
	return principalResponse{
		ID:                 p.ID,
		Kind:               string(p.Kind),
		Name:               p.Name,
		Status:             p.Status,
		RateLimitPerMinute: p.RateLimitPerMinute,
		RateLimitPerHour:   p.RateLimitPerHour,
		Metadata:           p.Metadata,
		CreatedAt:          p.CreatedAt,
	}
}

func (a *API) handleAdminPrincipals(w http.ResponseWriter, r *http.Request) {
	admin, err := requireAdmin(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if r.Method == http.MethodGet {
		principals, err := a.auth.ListPrincipals(r.Context())
		if err != nil {
			handleError(w, r, err)
			return
		}
		out := make([]principalResponse, 0, len(principals))
		for _, p := range principals {
			out = append(out, principalResponseFrom(p))
		}
		writeJSON(w, r, http.StatusOK, out)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "GET, POST")
		return
	}
	var req createPrincipalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeValidationError, err.Error())
		return
	}
	p := &auth.Principal{
		Kind:               auth.Kind(req.Kind),
		Name:               req.Name,
		RateLimitPerMinute: req.RateLimitPerMinute,
		RateLimitPerHour:   req.RateLimitPerHour,
		Metadata:           req.Metadata,
	}
	if err := a.auth.CreatePrincipal(r.Context(), p, req.Password); err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "admin.principal.created", map[string]any{
		"created_id": p.ID, "kind": string(p.Kind), "by": admin.ID,
	})
	writeJSON(w, r, http.StatusCreated, principalResponseFrom(p))
}

type statusRequest struct {
	Status string `json:"status"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

func (a *API) handleAdminPrincipalByID(w http.ResponseWriter, r *http.Request) {
	admin, err := requireAdmin(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/admin/principals/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" || (sub != "status" && sub != "password") {
		writeError(w, r, http.StatusNotFound, CodeNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	switch sub {
	case "status":
		var req statusRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, CodeValidationError, err.Error())
			return
		}
		if err := a.auth.UpdateStatus(r.Context(), id, req.Status); err != nil {
			handleError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "admin.principal.status_changed", map[string]any{
			"principal_id": id, "status": req.Status, "by": admin.ID,
		})
		writeJSON(w, r, http.StatusOK, map[string]any{"id": id, "status": req.Status})
	case "password":
		var req passwordRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, CodeValidationError, err.Error())
			return
		}
		if err := a.auth.ResetPassword(r.Context(), id, req.Password); err != nil {
			handleError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "admin.principal.password_reset", map[string]any{
			"principal_id": id, "by": admin.ID,
		})
		writeJSON(w, r, http.StatusOK, map[string]any{"id": id})
	}
}

type upsertProviderRequest struct {
	Name                  string `json:"name"`
	Type                  string `json:"type"`
	SupportsTemplates     bool   `json:"supports_templates"`
	SupportsAsync         bool   `json:"supports_async"`
	SupportsIDVerify      bool   `json:"supports_id_verification"`
	ProcessingMode        string `json:"processing_mode"`
	IsActive              bool   `json:"is_active"`
	Priority              int    `json:"priority"`
	MaxDailyVerifications int    `json:"max_daily_verifications"`
}

type providerResponse struct {
	Name                  string `json:"name"`
	Type                  string `json:"type"`
	SupportsTemplates     bool   `json:"supports_templates"`
	SupportsAsync         bool   `json:"supports_async"`
	SupportsIDVerify      bool   `json:"supports_id_verification"`
	ProcessingMode        string `json:"processing_mode"`
	IsActive              bool   `json:"is_active"`
	Priority              int    `json:"priority"`
	MaxDailyVerifications int    `json:"max_daily_verifications"`
}

func providerResponseFrom(p *provider.Provider) providerResponse {
	return providerResponse{
		Name:                  p.Name,
		Type:                  p.Type,
		SupportsTemplates:     p.SupportsTemplates,
		SupportsAsync:         p.SupportsAsync,
		SupportsIDVerify:      p.SupportsIDVerify,
		ProcessingMode:        string(p.ProcessingMode),
		IsActive:              p.IsActive,
		Priority:              p.Priority,
		MaxDailyVerifications: p.MaxDailyVerifications,
	}
}

func (a *API) handleAdminProviders(w http.ResponseWriter, r *http.Request) {
	admin, err := requireAdmin(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		providers, err := a.registry.List(r.Context())
		if err != nil {
			handleError(w, r, err)
			return
		}
		out := make([]providerResponse, 0, len(providers))
		for _, p := range providers {
			out = append(out, providerResponseFrom(p))
		}
		writeJSON(w, r, http.StatusOK, out)
	case http.MethodPost:
		var req upsertProviderRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, CodeValidationError, err.Error())
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			writeError(w, r, http.StatusBadRequest, CodeValidationError, "name is required")
			return
		}
		mode := provider.ProcessingMode(req.ProcessingMode)
		if mode != provider.ModeSingleStep && mode != provider.ModeMultiStep {
			writeError(w, r, http.StatusBadRequest, CodeValidationError, "processing_mode must be single_step or multi_step")
			return
		}
		p := &provider.Provider{
			Name:                  req.Name,
			Type:                  req.Type,
			SupportsTemplates:     req.SupportsTemplates,
			SupportsAsync:         req.SupportsAsync,
			SupportsIDVerify:      req.SupportsIDVerify,
			ProcessingMode:        mode,
			IsActive:              req.IsActive,
			Priority:              req.Priority,
			MaxDailyVerifications: req.MaxDailyVerifications,
		}
		if err := a.registry.Upsert(r.Context(), p); err != nil {
			handleError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "admin.provider.upserted", map[string]any{
			"provider": p.Name, "by": admin.ID,
		})
		writeJSON(w, r, http.StatusOK, providerResponseFrom(p))
	default:
		methodNotAllowed(w, r, "GET, POST")
	}
}

type providerConfigRequest struct {
	PrincipalID           string         `json:"principal_id"`
	Enabled               bool           `json:"enabled"`
	Overrides             map[string]any `json:"overrides,omitempty"`
	MaxDailyVerifications int            `json:"max_daily_verifications"`
}

func (a *API) handleAdminProviderByName(w http.ResponseWriter, r *http.Request) {
	admin, err := requireAdmin(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/admin/providers/")
	name, sub, _ := strings.Cut(rest, "/")
	if name == "" || sub != "config" {
		writeError(w, r, http.StatusNotFound, CodeNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req providerConfigRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeValidationError, err.Error())
		return
	}
	if strings.TrimSpace(req.PrincipalID) == "" {
		writeError(w, r, http.StatusBadRequest, CodeValidationError, "principal_id is required")
		return
	}
	cfg := &provider.ProviderConfig{
		PrincipalID:           req.PrincipalID,
		ProviderName:          name,
		Enabled:               req.Enabled,
		Overrides:             req.Overrides,
		MaxDailyVerifications: req.MaxDailyVerifications,
	}
	if err := a.registry.SetConfig(r.Context(), cfg); err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "admin.provider.config_set", map[string]any{
		"provider": name, "principal_id": req.PrincipalID, "enabled": req.Enabled, "by": admin.ID,
	})
	writeJSON(w, r, http.StatusOK, map[string]any{
		"provider": name, "principal_id": req.PrincipalID, "enabled": req.Enabled,
	})
}
