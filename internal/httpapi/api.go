package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"campusbot.org/identity/internal/auth"
	"campusbot.org/identity/internal/obs"
	"campusbot.org/identity/internal/ratelimit"
)

const serviceName = "campusbot-identity"

// ReadyProbe pings the backing stores. Nil members are skipped.
type ReadyProbe struct {
	DB    *sql.DB
	Redis redis.Cmdable
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Options carries the collaborators of the HTTP layer. Only peers inside
// TrustedProxies may set X-Forwarded-For; when it is empty the socket peer
// is always the client.
type Options struct {
	Ready          readinessChecker
	Limiter        ratelimit.Limiter
	MaxBodyBytes   int64
	Version        string
	TrustedProxies []netip.Prefix
}

// API is the HTTP boundary in front of the auth service.
type API struct {
	auth    *auth.Service
	ready   readinessChecker
	limiter ratelimit.Limiter
	maxBody int64
	version string
	trusted []netip.Prefix
	router  chi.Router
}

func New(svc *auth.Service, opts Options) *API {
	if opts.Ready == nil {
		opts.Ready = ReadyProbe{}
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	a := &API{
		auth:    svc,
		ready:   opts.Ready,
		limiter: opts.Limiter,
		maxBody: opts.MaxBodyBytes,
		version: opts.Version,
		trusted: opts.TrustedProxies,
	}
	a.router = a.routes()
	return a
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID, RealIP(a.trusted), Recover, LoggingJSON, SecurityHeaders, obs.Instrument)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(MaxBodyBytes(a.maxBody))
			if a.limiter != nil {
				r.Use(RateLimit(a.limiter))
			}
			r.Post("/register", a.handleRegister)
			r.Post("/login", a.handleLogin)
			r.Post("/refresh", a.handleRefresh)
			r.Post("/logout", a.handleLogout)
		})
		r.Group(func(r chi.Router) {
			r.Use(a.withAuth)
			r.Get("/me", a.handleMe)
			r.Post("/logout-all", a.handleLogoutAll)
		})
	})

	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(a.withAuth, RequireRole(auth.RoleAdmin), MaxBodyBytes(a.maxBody))
		r.Post("/organizations", a.handleCreateOrganization)
		r.Get("/organizations", a.handleListOrganizations)
		r.Get("/accounts/{id}/audit", a.handleAccountAudit)
	})
	return r
}

// Handler returns the root handler for http.Server.
func (a *API) Handler() http.Handler { return a.router }

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		obs.SetReady(false)
		obs.Logger().Warn("readiness_failed", "error", err.Error(), "request_id", RequestIDFromContext(r.Context()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
