package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"norruva.org/internal/apikeys"
	"norruva.org/internal/auth"
	"norruva.org/internal/credits"
	"norruva.org/internal/obs"
	"norruva.org/internal/ratelimit"
	"norruva.org/internal/store"
	"norruva.org/internal/tickets"
	"norruva.org/internal/validation"
	"norruva.org/internal/webhook"
	"norruva.org/internal/workflow"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorBody(w, r, code, map[string]any{"error": msg})
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, code int, payload map[string]any) {
	if rid := RequestIDFromContext(r); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func setRetryAfter(w http.ResponseWriter, d time.Duration) {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
}

// handleError maps service errors to HTTP responses.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		permErr  *auth.PermissionError
		valErr   *validation.Error
		limitErr *ratelimit.Error
	)
	switch {
	case errors.As(err, &permErr):
		writeError(w, r, http.StatusForbidden, permErr.Error())
	case errors.As(err, &valErr):
		writeErrorBody(w, r, http.StatusUnprocessableEntity, map[string]any{
			"error":  "validation failed",
			"fields": valErr.Fields,
		})
	case errors.As(err, &limitErr):
		setRetryAfter(w, limitErr.RetryAfter)
		writeError(w, r, http.StatusTooManyRequests, limitErr.Error())
	case errors.Is(err, store.ErrNotFound), errors.Is(err, credits.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, workflow.ErrInvalidTransition), errors.Is(err, workflow.ErrBusy),
		errors.Is(err, tickets.ErrInvalidTransition), errors.Is(err, store.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, workflow.ErrNoCompliancePath):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, apikeys.ErrInvalidLabel), errors.Is(err, webhook.ErrInvalidSubscription),
		errors.Is(err, webhook.ErrNotReplayable), errors.Is(err, tickets.ErrEmptyIssue),
		errors.Is(err, credits.ErrInvalidAmount), errors.Is(err, credits.ErrInvalidUser):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, apikeys.ErrInvalidKey), errors.Is(err, apikeys.ErrRevoked), errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	default:
		obs.Error("request failed", err, map[string]any{
			"request_id": RequestIDFromContext(r),
			"path":       r.URL.Path,
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// maxJSONBody caps request bodies decoded by decodeJSON.
const maxJSONBody = 1 << 20

// writeDecodeError answers 413 for bodies over the limit and 400 otherwise.
func writeDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		return
	}
	writeError(w, r, http.StatusBadRequest, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxJSONBody)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func parseLimit(raw string, def, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < 1 || val > max {
		return 0, errors.New("limit must be between 1 and " + strconv.Itoa(max))
	}
	return val, nil
}
