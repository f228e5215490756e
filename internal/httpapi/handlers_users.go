package httpapi

import (
	"net/http"

	"loqui.org/internal/auth"
)

// handleMe serves the caller's own account: GET reads the public
// projection, PATCH updates name/photo, DELETE soft-deletes.
func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
		return
	}
	token, _ := auth.TokenFromContext(r.Context())

	switch r.Method {
	case http.MethodGet:
		user, err := a.svc.GetUser(r.Context(), principal.UserID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": user})

	case http.MethodPatch:
		// Unknown fields are rejected, so a password smuggled into
		// this payload fails loudly instead of being ignored.
		var req struct {
			Name  string `json:"name"`
			Photo string `json:"photo,omitempty"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.svc.UpdateProfile(r.Context(), principal.UserID, token, req.Name, req.Photo)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": user})

	case http.MethodDelete:
		if err := a.svc.DeleteSelf(r.Context(), principal.UserID, token); err != nil {
			handleDomainError(w, r, err)
			return
		}
		a.clearSessionCookies(w)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})

	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

type updatePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (a *API) handleUpdatePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, r, http.MethodPatch)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
		return
	}
	token, _ := auth.TokenFromContext(r.Context())

	var req updatePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := a.svc.UpdatePassword(r.Context(), principal.UserID, token,
		req.CurrentPassword, req.NewPassword, req.ConfirmPassword)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.setSessionCookies(w, sess.AccessToken, sess.AccessExpires, sess.RefreshToken, sess.RefreshExpires)
	writeJSON(w, http.StatusOK, sess)
}

// handleAdminDelete soft-deletes an account by email. The admin role
// is re-checked at the service layer against the store.
func (a *API) handleAdminDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	token, _ := auth.TokenFromContext(r.Context())

	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.DeleteByAdmin(r.Context(), req.Email, token); err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id := pathSuffix(r.URL.Path, "/v1/users/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	user, err := a.svc.GetUser(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}
