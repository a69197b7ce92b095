package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"norruva.org/internal/domain"
	"norruva.org/internal/store"
)

type tokenRequest struct {
	UserID string `json:"userId"`
}

type tokenResponse struct {
	Token string       `json:"token"`
	User  *domain.User `json:"user"`
}

// handleAuthToken issues a bearer token for an existing user. It exists for
// development and demos; production deployments put an identity provider in
// front and leave DevTokenIssue off.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if !a.svc.DevTokenIssue || a.svc.Tokens == nil {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	id := strings.TrimSpace(req.UserID)
	if id == "" {
		writeError(w, r, http.StatusBadRequest, "userId is required")
		return
	}
	user, err := a.svc.UserRepo.GetUser(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, http.StatusUnauthorized, "unknown user")
			return
		}
		handleError(w, r, err)
		return
	}
	roles := make([]string, len(user.Roles))
	for i, role := range user.Roles {
		roles[i] = string(role)
	}
	token, err := a.svc.Tokens.Issue(user.ID, user.CompanyID, roles)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, User: user})
}
