package httpapi

import (
	"net/http"
	"strings"
	"time"

	"verigate.io/internal/audit"
	"verigate.io/internal/auth"
)

type tokenRequest struct {
	PrincipalID string `json:"principal_id"`
	Password    string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	PrincipalID      string    `json:"principal_id"`
	Kind             string    `json:"kind"`
}

func tokenResponseFrom(pair auth.TokenPair, principal auth.Principal) tokenResponse {
	return tokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        "Bearer",
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		PrincipalID:      principal.ID,
		Kind:             string(principal.Kind),
	}
}

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeValidationError, err.Error())
		return
	}
	if strings.TrimSpace(req.PrincipalID) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, CodeValidationError, "principal_id and password are required")
		return
	}

	pair, principal, err := a.auth.IssueTokenPair(r.Context(), req.PrincipalID, req.Password)
	if err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"principal_id": principal.ID,
		"expires_at":   pair.AccessExpiresAt.Format(time.RFC3339),
	})
	writeJSON(w, r, http.StatusOK, tokenResponseFrom(pair, principal))
}

func (a *API) handleAuthRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeValidationError, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, CodeValidationError, "refresh_token is required")
		return
	}

	pair, principal, err := a.auth.RefreshTokenPair(r.Context(), req.RefreshToken)
	if err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.token.refreshed", map[string]any{
		"principal_id": principal.ID,
	})
	writeJSON(w, r, http.StatusOK, tokenResponseFrom(pair, principal))
}

// --- API keys ---

type createKeyRequest struct {
	Name       string `json:"name"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

type keyResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"`
	Status     string     `json:"status"`
	APIKey     string     `json:"api_key,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func keyResponseFrom(k *auth.APIKey, plaintext string) keyResponse {
	return keyResponse{
		ID:         k.ID,
		Name:       k.Name,
		Prefix:     k.Prefix,
		Status:     k.Status,
		APIKey:     plaintext,
		ExpiresAt:  k.ExpiresAt,
		LastUsedAt: k.LastUsedAt,
		CreatedAt:  k.CreatedAt,
	}
}

func (a *API) handleKeys(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req createKeyRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, CodeValidationError, err.Error())
			return
		}
		key, plaintext, err := a.auth.CreateAPIKey(r.Context(), principal.ID, req.Name, time.Duration(req.TTLSeconds)*time.Second)
		if err != nil {
			handleError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "auth.key.created", map[string]any{
			"key_id": key.ID, "name": key.Name,
		})
		// The plaintext appears here once and is never persisted.
		writeJSON(w, r, http.StatusCreated, keyResponseFrom(key, plaintext))
	case http.MethodGet:
		keys, err := a.auth.ListAPIKeys(r.Context(), principal.ID)
		if err != nil {
			handleError(w, r, err)
			return
		}
		out := make([]keyResponse, 0, len(keys))
		for _, k := range keys {
			out = append(out, keyResponseFrom(k, ""))
		}
		writeJSON(w, r, http.StatusOK, out)
	default:
		methodNotAllowed(w, r, "GET, POST")
	}
}

func (a *API) handleKeyByID(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	keyID := strings.TrimPrefix(r.URL.Path, "/v1/keys/")
	if keyID == "" || strings.Contains(keyID, "/") {
		writeError(w, r, http.StatusNotFound, CodeNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if err := a.auth.RevokeAPIKey(r.Context(), principal.ID, keyID); err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.key.revoked", map[string]any{"key_id": keyID})
	writeJSON(w, r, http.StatusOK, map[string]any{"id": keyID, "status": auth.KeyStatusRevoked})
}
