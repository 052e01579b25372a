package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"verigate.io/internal/auth"
	"verigate.io/internal/obs"
)

const (
	authHeader     = "Authorization"
	bearer         = "Bearer "
	apiKeyHeader   = "X-API-Key"
	adminKeyHeader = "X-Admin-API-Key"
)

var publicPaths = []string{
	"/v1/auth/token",
	"/v1/auth/refresh",
	"/v1/info",
	"/metrics",
	"/healthz",
	"/readyz",
	"/",
}

// Webhook callbacks authenticate via the adapter's signature check, not via
// principal credentials.
var publicPrefixes = []string{
	"/v1/webhooks/",
}

// withAuth resolves the caller's principal from one of the three credential
// headers and stores it on the request context. Public paths pass through.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		principal, err := a.authenticate(r)
		if err != nil {
			handleError(w, r, err)
			return
		}
		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) authenticate(r *http.Request) (auth.Principal, error) {
	if header := strings.TrimSpace(r.Header.Get(authHeader)); header != "" {
		token, err := extractBearerToken(header)
		if err != nil {
			obs.ObserveAuthFailure("bearer")
			return auth.Principal{}, err
		}
		principal, err := a.auth.AuthenticateBearer(r.Context(), token)
		if err != nil {
			obs.ObserveAuthFailure("bearer")
			return auth.Principal{}, err
		}
		return principal, nil
	}

	if key := strings.TrimSpace(r.Header.Get(adminKeyHeader)); key != "" {
		principal, err := a.auth.AuthenticateAPIKey(r.Context(), key)
		if err != nil {
			obs.ObserveAuthFailure("admin_api_key")
			return auth.Principal{}, err
		}
		if principal.Kind != auth.KindAdmin {
			obs.ObserveAuthFailure("admin_api_key")
			return auth.Principal{}, auth.ErrForbidden
		}
		return principal, nil
	}

	if key := strings.TrimSpace(r.Header.Get(apiKeyHeader)); key != "" {
		principal, err := a.auth.AuthenticateAPIKey(r.Context(), key)
		if err != nil {
			obs.ObserveAuthFailure("api_key")
			return auth.Principal{}, err
		}
		return principal, nil
	}

	obs.ObserveAuthFailure("missing")
	return auth.Principal{}, auth.ErrUnauthenticated
}

// principalFrom returns the authenticated principal or ErrUnauthenticated.
func principalFrom(r *http.Request) (auth.Principal, error) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		return auth.Principal{}, auth.ErrUnauthenticated
	}
	return principal, nil
}

// requireAdmin gates administrative routes.
func requireAdmin(r *http.Request) (auth.Principal, error) {
	principal, err := principalFrom(r)
	if err != nil {
		return auth.Principal{}, err
	}
	if principal.Kind != auth.KindAdmin {
		return auth.Principal{}, auth.ErrForbidden
	}
	return principal, nil
}

func extractBearerToken(header string) (string, error) {
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", fmt.Errorf("%w: invalid authorization scheme", auth.ErrUnauthenticated)
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", fmt.Errorf("%w: missing bearer token", auth.ErrUnauthenticated)
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
