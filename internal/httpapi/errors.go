package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"loqui.org/internal/account"
	"loqui.org/internal/auth"
	"loqui.org/internal/guard"
	"loqui.org/internal/lifecycle"
	"loqui.org/internal/obs"
)

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBody)
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

// handleDomainError is the single place domain errors become status
// codes. Deactivated and missing accounts share the Not Found shape so
// responses do not leak existence.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrValidation),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, lifecycle.ErrSamePassword),
		errors.Is(err, lifecycle.ErrResetTokenInvalid):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrWrongCredential):
		writeError(w, r, http.StatusUnauthorized, "incorrect email or password")
	case errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrTokenRevoked):
		writeError(w, r, http.StatusUnauthorized, "invalid or expired token")
	case errors.Is(err, auth.ErrUnauthorized),
		errors.Is(err, lifecycle.ErrTokenReuse):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, account.ErrNotVerified):
		writeError(w, r, http.StatusForbidden, "email is not verified")
	case errors.Is(err, account.ErrNotFound),
		errors.Is(err, account.ErrDeactivated):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, account.ErrDuplicateEmail):
		writeError(w, r, http.StatusConflict, "email already registered")
	case errors.Is(err, guard.ErrTooManyAttempts),
		errors.Is(err, lifecycle.ErrRateLimited):
		writeError(w, r, http.StatusTooManyRequests, "too many requests, try again later")
	case errors.Is(err, guard.ErrUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "temporarily unavailable")
	default:
		obs.LogEvent(map[string]any{
			"level": "error", "msg": "unhandled error",
			"path": r.URL.Path, "error": err.Error(),
			"request_id": RequestIDFromContext(r.Context()),
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
