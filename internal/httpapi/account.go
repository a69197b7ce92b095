package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"norruva.org/internal/auth"
	"norruva.org/internal/credits"
	"norruva.org/internal/domain"
	"norruva.org/internal/store"
	"norruva.org/internal/users"
)

type createAPIKeyRequest struct {
	Label string `json:"label"`
}

type createAPIKeyResponse struct {
	Key    *domain.APIKey `json:"key"`
	RawKey string         `json:"rawKey"`
}

type createWebhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

type createWebhookResponse struct {
	Webhook *domain.Webhook `json:"webhook"`
	Secret  string          `json:"secret"`
}

type createTicketRequest struct {
	ProductID string `json:"productId"`
	Issue     string `json:"issue"`
}

type updateTicketRequest struct {
	Status     domain.TicketStatus `json:"status"`
	Resolution string              `json:"resolution"`
}

type creditsResponse struct {
	Balance      int64                 `json:"balance"`
	Transactions []credits.Transaction `json:"transactions"`
	NextAfter    uint64                `json:"nextAfter"`
}

// requireUser writes 401 for guests.
func requireUser(w http.ResponseWriter, r *http.Request) (*domain.User, bool) {
	u := actor(r)
	if u == nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="norruva"`)
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	return u, true
}

func (a *API) listAuditLogs(w http.ResponseWriter, r *http.Request) {
	if a.svc.Audit == nil {
		unavailable(w, r, "audit log")
		return
	}
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"), 100, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	f := store.AuditFilter{
		EntityID:     strings.TrimSpace(q.Get("entityId")),
		UserID:       strings.TrimSpace(q.Get("userId")),
		ActionPrefix: strings.TrimSpace(q.Get("action")),
		Limit:        limit,
	}
	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		if f.Since, err = time.Parse(time.RFC3339, raw); err != nil {
			writeError(w, r, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
	}
	logs, err := a.svc.Audit.List(r.Context(), actor(r), f)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": logs})
}

func (a *API) myAuditLogs(w http.ResponseWriter, r *http.Request) {
	if a.svc.Audit == nil {
		unavailable(w, r, "audit log")
		return
	}
	u, ok := requireUser(w, r)
	if !ok {
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"), 100, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	logs, err := a.svc.Audit.Mine(r.Context(), u, limit)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": logs})
}

func (a *API) replayWebhook(w http.ResponseWriter, r *http.Request) {
	if a.svc.Notifier == nil {
		unavailable(w, r, "webhooks")
		return
	}
	if err := a.svc.Notifier.Replay(r.Context(), actor(r), r.PathValue("id")); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listAPIKeys(w http.ResponseWriter, r *http.Request) {
	if a.svc.APIKeys == nil {
		unavailable(w, r, "api keys")
		return
	}
	keys, err := a.svc.APIKeys.List(r.Context(), actor(r))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": keys})
}

func (a *API) createAPIKey(w http.ResponseWriter, r *http.Request) {
	if a.svc.APIKeys == nil {
		unavailable(w, r, "api keys")
		return
	}
	var req createAPIKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	created, err := a.svc.APIKeys.Create(r.Context(), actor(r), req.Label)
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/api-keys/"+created.Key.ID)
	writeJSON(w, http.StatusCreated, createAPIKeyResponse{Key: created.Key, RawKey: created.RawKey})
}

func (a *API) revokeAPIKey(w http.ResponseWriter, r *http.Request) {
	if a.svc.APIKeys == nil {
		unavailable(w, r, "api keys")
		return
	}
	k, err := a.svc.APIKeys.Revoke(r.Context(), actor(r), r.PathValue("id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, k)
}

func (a *API) listWebhooks(w http.ResponseWriter, r *http.Request) {
	if a.svc.Webhooks == nil {
		unavailable(w, r, "webhooks")
		return
	}
	hooks, err := a.svc.Webhooks.List(r.Context(), actor(r))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": hooks})
}

func (a *API) createWebhook(w http.ResponseWriter, r *http.Request) {
	if a.svc.Webhooks == nil {
		unavailable(w, r, "webhooks")
		return
	}
	var req createWebhookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	hook, err := a.svc.Webhooks.Create(r.Context(), actor(r), req.URL, req.Events)
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/webhooks/"+hook.ID)
	writeJSON(w, http.StatusCreated, createWebhookResponse{Webhook: hook, Secret: hook.Secret})
}

func (a *API) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	if a.svc.Webhooks == nil {
		unavailable(w, r, "webhooks")
		return
	}
	if err := a.svc.Webhooks.Delete(r.Context(), actor(r), r.PathValue("id")); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listTickets(w http.ResponseWriter, r *http.Request) {
	if a.svc.Tickets == nil {
		unavailable(w, r, "tickets")
		return
	}
	q := r.URL.Query()
	f := store.TicketFilter{
		ProductID: strings.TrimSpace(q.Get("productId")),
		Status:    domain.TicketStatus(q.Get("status")),
	}
	items, err := a.svc.Tickets.List(r.Context(), actor(r), f)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) createTicket(w http.ResponseWriter, r *http.Request) {
	if a.svc.Tickets == nil {
		unavailable(w, r, "tickets")
		return
	}
	var req createTicketRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	t, err := a.svc.Tickets.Create(r.Context(), actor(r), strings.TrimSpace(req.ProductID), req.Issue)
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/tickets/"+t.ID)
	writeJSON(w, http.StatusCreated, t)
}

func (a *API) updateTicket(w http.ResponseWriter, r *http.Request) {
	if a.svc.Tickets == nil {
		unavailable(w, r, "tickets")
		return
	}
	var req updateTicketRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	t, err := a.svc.Tickets.UpdateStatus(r.Context(), actor(r), r.PathValue("id"), req.Status, req.Resolution)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	u, ok := requireUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":        u,
		"permissions": auth.PermissionsFor(u),
	})
}

func (a *API) updateUser(w http.ResponseWriter, r *http.Request) {
	if a.svc.Users == nil {
		unavailable(w, r, "users")
		return
	}
	var upd users.ProfileUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	u, err := a.svc.Users.UpdateProfile(r.Context(), actor(r), r.PathValue("id"), upd)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (a *API) myCredits(w http.ResponseWriter, r *http.Request) {
	if a.svc.Credits == nil {
		unavailable(w, r, "credits")
		return
	}
	u, ok := requireUser(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"), 50, 500)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var after uint64
	if raw := strings.TrimSpace(q.Get("after")); raw != "" {
		if after, err = strconv.ParseUint(raw, 10, 64); err != nil {
			writeError(w, r, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
	}
	balance, err := credits.Balance(r.Context(), a.svc.Credits, u.ID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	txs, next, err := a.svc.Credits.ListTransactions(r.Context(), u.ID, limit, after)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if txs == nil {
		txs = []credits.Transaction{}
	}
	writeJSON(w, http.StatusOK, creditsResponse{Balance: balance, Transactions: txs, NextAfter: next})
}

func (a *API) listCompliancePaths(w http.ResponseWriter, r *http.Request) {
	if a.svc.Paths == nil {
		unavailable(w, r, "compliance paths")
		return
	}
	paths, err := a.svc.Paths.ListCompliancePaths(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": paths})
}
