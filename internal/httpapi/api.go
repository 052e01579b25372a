package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"verigate.io/internal/auth"
	"verigate.io/internal/obs"
	"verigate.io/internal/provider"
	"verigate.io/internal/verify"
)

const maxBodyBytes = 1 << 20

// ReadyProbe reports readiness (for example a database ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the gateway services.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	auth     *auth.Service
	orch     *verify.Orchestrator
	registry *provider.Registry

	floodBurst     int
	floodPerSecond int
}

// Option tweaks the API surface.
type APIOption func(*API)

// WithFloodGuard overrides the per-IP token bucket in front of the router.
func WithFloodGuard(burst, perSecond int) APIOption {
	return func(a *API) {
		a.floodBurst = burst
		a.floodPerSecond = perSecond
	}
}

func New(rp ReadyProbe, version string, authSvc *auth.Service, orch *verify.Orchestrator, registry *provider.Registry, opts ...APIOption) *API {
	a := &API{
		mux:            http.NewServeMux(),
		readyProbe:     rp,
		version:        version,
		auth:           authSvc,
		orch:           orch,
		registry:       registry,
		floodBurst:     50,
		floodPerSecond: 25,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// token lifecycle
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleAuthRefresh)

	// API keys
	a.mux.HandleFunc("/v1/keys", a.handleKeys)
	a.mux.HandleFunc("/v1/keys/", a.handleKeyByID)

	// verifications and sessions
	a.mux.HandleFunc("/v1/verifications", a.handleVerifications)
	a.mux.HandleFunc("/v1/verifications/", a.handleVerificationByID)
	a.mux.HandleFunc("/v1/sessions/", a.handleSessionByID)

	// provider callbacks
	a.mux.HandleFunc("/v1/webhooks/", a.handleWebhook)

	// admin surface
	a.mux.HandleFunc("/v1/admin/principals", a.handleAdminPrincipals)
	a.mux.HandleFunc("/v1/admin/principals/", a.handleAdminPrincipalByID)
	a.mux.HandleFunc("/v1/admin/providers", a.handleAdminProviders)
	a.mux.HandleFunc("/v1/admin/providers/", a.handleAdminProviderByName)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, maxBodyBytes)
	h = RateLimit(h, a.floodBurst, a.floodPerSecond)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- service handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "verigate-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, CodeInternalError, "not ready")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"name":    "verigate-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
