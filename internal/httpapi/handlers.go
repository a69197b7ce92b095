package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"norruva.org/internal/apikeys"
	"norruva.org/internal/audit"
	"norruva.org/internal/auth"
	"norruva.org/internal/credits"
	"norruva.org/internal/domain"
	"norruva.org/internal/obs"
	"norruva.org/internal/ratelimit"
	"norruva.org/internal/store"
	"norruva.org/internal/stream"
	"norruva.org/internal/tickets"
	"norruva.org/internal/users"
	"norruva.org/internal/webhook"
	"norruva.org/internal/workflow"
)

const serviceName = "norruva-api"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings the database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Services are the application services the HTTP layer exposes. Engine and
// UserRepo are required; a nil optional service disables its routes with 503.
type Services struct {
	Engine        *workflow.Engine
	UserRepo      store.UserRepository
	Users         *users.Service
	APIKeys       *apikeys.Service
	Webhooks      *webhook.Subscriptions
	Notifier      *webhook.Notifier
	Tickets       *tickets.Service
	Audit         *audit.Reader
	Credits       credits.Service
	Paths         store.CompliancePathRepository
	Tokens        *auth.Tokens
	Limiter       ratelimit.Limiter
	Stream        *stream.Stream
	DevTokenIssue bool
}

// Options tune the transport.
type Options struct {
	Version         string
	Ready           readinessChecker
	IPRateBurst     int
	IPRatePerSecond int
	MaxBodyBytes    int64
}

// API is the HTTP layer.
type API struct {
	mux  *http.ServeMux
	svc  Services
	opts Options
}

func New(svc Services, opts Options) *API {
	if opts.Ready == nil {
		opts.Ready = ReadyProbe{}
	}
	if opts.IPRateBurst <= 0 {
		opts.IPRateBurst = 50
	}
	if opts.IPRatePerSecond <= 0 {
		opts.IPRatePerSecond = 20
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	a := &API{mux: http.NewServeMux(), svc: svc, opts: opts}
	a.routes()
	return a
}

func (a *API) routes() {
	m := a.mux
	m.HandleFunc("GET /healthz", a.Healthz)
	m.HandleFunc("GET /readyz", a.Ready)
	m.HandleFunc("GET /v1/info", a.Info)
	m.Handle("GET /metrics", obs.Handler())
	m.HandleFunc("POST /v1/auth/token", a.handleAuthToken)
	m.HandleFunc("GET /v1/events", a.Stream)

	m.HandleFunc("GET /v1/products", a.listProducts)
	m.HandleFunc("POST /v1/products", a.createProduct)
	m.HandleFunc("GET /v1/products/export", a.exportProducts)
	m.HandleFunc("GET /v1/products/{id}", a.getProduct)
	m.HandleFunc("PUT /v1/products/{id}", a.updateProduct)
	m.HandleFunc("DELETE /v1/products/{id}", a.deleteProduct)
	m.HandleFunc("GET /v1/products/{id}/audit-logs", a.productAuditLogs)
	m.HandleFunc("POST /v1/products/{id}/submit", a.productAction(a.svc.Engine.SubmitForReview))
	m.HandleFunc("POST /v1/products/{id}/approve", a.productAction(a.svc.Engine.ApprovePassport))
	m.HandleFunc("POST /v1/products/{id}/resolve", a.productAction(a.svc.Engine.ResolveComplianceIssue))
	m.HandleFunc("POST /v1/products/{id}/recalculate", a.productAction(a.svc.Engine.RecalculateScore))
	m.HandleFunc("POST /v1/products/{id}/validate", a.productAction(a.svc.Engine.ValidateData))
	m.HandleFunc("POST /v1/products/{id}/archive", a.productAction(a.svc.Engine.ArchiveProduct))
	m.HandleFunc("POST /v1/products/{id}/recycle", a.productAction(a.svc.Engine.MarkAsRecycled))
	m.HandleFunc("POST /v1/products/{id}/reject", a.rejectProduct)
	m.HandleFunc("POST /v1/products/{id}/override", a.overrideProduct)
	m.HandleFunc("POST /v1/products/{id}/compliance-check", a.complianceCheck)
	m.HandleFunc("POST /v1/products/{id}/custody", a.addCustody)
	m.HandleFunc("POST /v1/products/{id}/service-records", a.addServiceRecord)
	m.HandleFunc("POST /v1/products/bulk-anchor", a.bulk(a.svc.Engine.BulkAnchorProducts))
	m.HandleFunc("POST /v1/products/bulk-delete", a.bulk(a.svc.Engine.BulkDeleteProducts))
	m.HandleFunc("POST /v1/products/bulk-submit", a.bulk(a.svc.Engine.BulkSubmitForReview))
	m.HandleFunc("POST /v1/products/bulk-archive", a.bulk(a.svc.Engine.BulkArchiveProducts))

	m.HandleFunc("GET /v1/audit-logs", a.listAuditLogs)
	m.HandleFunc("GET /v1/audit-logs/mine", a.myAuditLogs)
	m.HandleFunc("POST /v1/audit-logs/{id}/replay", a.replayWebhook)

	m.HandleFunc("GET /v1/api-keys", a.listAPIKeys)
	m.HandleFunc("POST /v1/api-keys", a.createAPIKey)
	m.HandleFunc("DELETE /v1/api-keys/{id}", a.revokeAPIKey)

	m.HandleFunc("GET /v1/webhooks", a.listWebhooks)
	m.HandleFunc("POST /v1/webhooks", a.createWebhook)
	m.HandleFunc("DELETE /v1/webhooks/{id}", a.deleteWebhook)

	m.HandleFunc("GET /v1/tickets", a.listTickets)
	m.HandleFunc("POST /v1/tickets", a.createTicket)
	m.HandleFunc("PATCH /v1/tickets/{id}", a.updateTicket)

	m.HandleFunc("GET /v1/users/me", a.me)
	m.HandleFunc("PATCH /v1/users/{id}", a.updateUser)
	m.HandleFunc("GET /v1/credits", a.myCredits)
	m.HandleFunc("GET /v1/compliance-paths", a.listCompliancePaths)

	m.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
}

// Handler returns the fully wrapped handler.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.withAuth(a.mux)
	h = RateLimit(h, a.opts.IPRateBurst, a.opts.IPRatePerSecond)
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// actor returns the authenticated user, or nil for guests.
func actor(r *http.Request) *domain.User {
	u, _ := auth.UserFromContext(r.Context())
	return u
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.opts.Ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.opts.Version,
	})
}

func unavailable(w http.ResponseWriter, r *http.Request, what string) {
	writeError(w, r, http.StatusServiceUnavailable, what+" unavailable")
}
