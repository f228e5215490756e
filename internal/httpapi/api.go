// Package httpapi is the HTTP boundary of the auth service. Handlers
// translate between JSON/cookies and the lifecycle service; every
// domain error is mapped to a status code here and nowhere else.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"loqui.org/internal/events"
	"loqui.org/internal/lifecycle"
	"loqui.org/internal/obs"
)

// ReadyProbe is the readiness check, a DB ping when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// maxRequestBody caps every request body before routing; decodeJSON
// applies the same limit per handler for callers that bypass Handler.
const maxRequestBody = 1 << 20

// Config carries the transport-level settings.
type Config struct {
	// SecureCookies marks auth cookies Secure; disable for local dev
	// over plain HTTP only.
	SecureCookies bool
	// AccessTTL and RefreshTTL become the Max-Age of the session
	// cookies. Zero leaves Max-Age unset and the Expires stamp from
	// the token alone governs.
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	svc        *lifecycle.Service
	bus        *events.Bus
	readyProbe ReadyProbe
	version    string
	cfg        Config
}

// New builds the route table. bus may be nil; the admin event stream
// then answers 503.
func New(svc *lifecycle.Service, bus *events.Bus, rp ReadyProbe, version string, cfg Config) *API {
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		bus:        bus,
		readyProbe: rp,
		version:    version,
		cfg:        cfg,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// Auth flows; these carry their own credentials where needed.
	a.mux.HandleFunc("/v1/auth/signup", a.handleSignup)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/forgot-password", a.handleForgotPassword)
	a.mux.HandleFunc("/v1/auth/reset-password/", a.handleResetPassword)
	a.mux.HandleFunc("/v1/auth/verify-email/", a.handleVerifyEmail)
	a.mux.HandleFunc("/v1/auth/resend-verification", a.handleResendVerification)

	// User endpoints behind the auth middleware.
	a.mux.Handle("/v1/users/me", a.withAuth(http.HandlerFunc(a.handleMe)))
	a.mux.Handle("/v1/users/me/password", a.withAuth(http.HandlerFunc(a.handleUpdatePassword)))
	a.mux.Handle("/v1/users", a.withAuth(http.HandlerFunc(a.handleAdminDelete)))
	a.mux.Handle("/v1/users/", a.withAuth(http.HandlerFunc(a.handleGetUser)))

	// Live lifecycle events for admin tooling.
	a.mux.Handle("/v1/admin/events", a.withAuth(http.HandlerFunc(a.handleEventStream)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the http.Handler for the server.
func (a *API) Handler() http.Handler {
	return obs.Instrument(RequestID(LoggingJSON(MaxBodyBytes(a.mux, maxRequestBody))))
}

// --- Probes ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "loqui-api",
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
		"name":    "loqui-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
