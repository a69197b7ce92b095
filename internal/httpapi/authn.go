package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"norruva.org/internal/apikeys"
	"norruva.org/internal/auth"
	"norruva.org/internal/obs"
	"norruva.org/internal/ratelimit"
	"norruva.org/internal/store"
)

const (
	authHeader   = "Authorization"
	apiKeyHeader = "X-API-Key"
	bearer       = "Bearer "
)

var errMalformedAuth = errors.New("invalid authorization scheme")

// withAuth resolves the caller. Requests without credentials continue as
// guests; handlers decide what a guest may see.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		rawKey := strings.TrimSpace(r.Header.Get(apiKeyHeader))
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		if rawKey == "" && apikeys.IsKey(token) {
			rawKey, token = token, ""
		}

		ctx := r.Context()
		switch {
		case rawKey != "":
			if a.svc.APIKeys == nil {
				writeError(w, r, http.StatusUnauthorized, "api keys are not enabled")
				return
			}
			user, key, err := a.svc.APIKeys.Authenticate(ctx, rawKey)
			if err != nil {
				if errors.Is(err, apikeys.ErrInvalidKey) || errors.Is(err, apikeys.ErrRevoked) {
					writeError(w, r, http.StatusUnauthorized, err.Error())
					return
				}
				handleError(w, r, err)
				return
			}
			if a.svc.Limiter != nil {
				if err := a.svc.Limiter.Allow(ctx, key.ID); err != nil {
					if errors.Is(err, ratelimit.ErrRateLimited) {
						obs.RateLimited.Inc()
					}
					handleError(w, r, err)
					return
				}
			}
			ctx = auth.ContextWithUser(ctx, user)
		case token != "":
			if a.svc.Tokens == nil {
				writeError(w, r, http.StatusUnauthorized, "token authentication is not enabled")
				return
			}
			claims, err := a.svc.Tokens.Parse(token)
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			user, err := a.svc.UserRepo.GetUser(ctx, claims.Subject)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					writeError(w, r, http.StatusUnauthorized, "invalid token")
					return
				}
				handleError(w, r, err)
				return
			}
			ctx = auth.ContextWithToken(auth.ContextWithUser(ctx, user), token)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractBearerToken returns "" for an absent header.
func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", nil
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errMalformedAuth
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
