package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"arabiq.org/internal/authz"
	"arabiq.org/internal/obs"
)

// ReadyProbe — simple readiness check (DB ping when configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Services bundles the core services the API dispatches to.
type Services struct {
	Identities *authz.IdentityService
	Approvals  *authz.ApprovalWorkflow
	Registry   *authz.RoleRegistry
	MFA        *authz.MFAGate
	Audit      *authz.AuditLog
}

// API — HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	identities *authz.IdentityService
	approvals  *authz.ApprovalWorkflow
	registry   *authz.RoleRegistry
	mfa        *authz.MFAGate
	audit      *authz.AuditLog

	ratePerSecond int
	rateBurst     int
}

// Option configures API.
type Option func(*API)

// WithRateLimit overrides the default per-IP rate limit.
func WithRateLimit(perSecond, burst int) Option {
	return func(a *API) {
		if perSecond > 0 && burst > 0 {
			a.ratePerSecond = perSecond
			a.rateBurst = burst
		}
	}
}

func New(rp ReadyProbe, svcs Services, version string, opts ...Option) (*API, error) {
	if svcs.Identities == nil || svcs.Approvals == nil || svcs.Registry == nil ||
		svcs.MFA == nil || svcs.Audit == nil {
		return nil, errors.New("httpapi: all services are required")
	}
	a := &API{
		mux:           http.NewServeMux(),
		readyProbe:    rp,
		version:       version,
		identities:    svcs.Identities,
		approvals:     svcs.Approvals,
		registry:      svcs.Registry,
		mfa:           svcs.MFA,
		audit:         svcs.Audit,
		ratePerSecond: 25,
		rateBurst:     50,
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

	// core surface
	a.mux.HandleFunc("/v1/auth/session", a.handleAuthSession)
	a.mux.HandleFunc("/v1/identities/", a.handleIdentityResource)
	a.mux.HandleFunc("/v1/access/decisions", a.handleDecisions)
	a.mux.HandleFunc("/v1/roles", a.handleRoles)
	a.mux.HandleFunc("/v1/mfa/enrollment", a.handleMFAEnrollment)
	a.mux.HandleFunc("/v1/mfa/verify", a.handleMFAVerify)
	a.mux.HandleFunc("/v1/audit/events", a.handleAuditEvents)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a, nil
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withSession(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSecond)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "arabiq-authz",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "arabiq-authz",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
