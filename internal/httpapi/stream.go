package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"norruva.org/internal/auth"
	"norruva.org/internal/domain"
	"norruva.org/internal/stream"
)

const streamKeepAlive = 25 * time.Second

// Stream serves product lifecycle events as Server-Sent Events. Events are
// filtered by the optional prefix query parameter and by what the caller may
// see: passports of other companies are only visible once published.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.svc.Stream == nil {
		unavailable(w, r, "streaming")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	viewer := actor(r)
	ch := a.svc.Stream.Subscribe(ctx, strings.TrimSpace(r.URL.Query().Get("prefix")))

	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(streamKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
			flusher.Flush()
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if !canSee(viewer, evt) {
				continue
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("event: " + evt.Name + "\ndata: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}

// publicEvents announce a publication and reach every subscriber.
var publicEvents = map[string]bool{
	"product.anchored":                true,
	"product.verification.overridden": true,
}

func canSee(viewer *domain.User, evt stream.Event) bool {
	if publicEvents[evt.Name] {
		return true
	}
	if viewer == nil {
		return false
	}
	return auth.CanViewAll(viewer) || (evt.CompanyID != "" && evt.CompanyID == viewer.CompanyID)
}
