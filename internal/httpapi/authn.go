package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"loqui.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	accessCookie  = "access_token"
	refreshCookie = "refresh_token"
)

// withAuth authenticates the access token (bearer header or cookie)
// and attaches the principal plus the raw token to the context so
// destructive operations can re-verify at the service layer.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := accessTokenFromRequest(r)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		principal, err := a.svc.Authenticate(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidToken),
				errors.Is(err, auth.ErrTokenExpired),
				errors.Is(err, auth.ErrTokenRevoked):
				writeError(w, r, http.StatusUnauthorized, "invalid or expired token")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// accessTokenFromRequest accepts the bearer header first and falls
// back to the auth cookie. Either way the value is an opaque bearer
// credential.
func accessTokenFromRequest(r *http.Request) (string, error) {
	if header := strings.TrimSpace(r.Header.Get(authHeader)); header != "" {
		if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
			return "", errors.New("invalid authorization scheme")
		}
		token := strings.TrimSpace(header[len(bearer):])
		if token == "" {
			return "", errors.New("missing bearer token")
		}
		return token, nil
	}
	if c, err := r.Cookie(accessCookie); err == nil && c.Value != "" {
		return c.Value, nil
	}
	return "", errors.New("missing bearer token")
}

func refreshTokenFromRequest(r *http.Request, bodyToken string) string {
	if bodyToken != "" {
		return bodyToken
	}
	if c, err := r.Cookie(refreshCookie); err == nil {
		return c.Value
	}
	return ""
}

// setSessionCookies stores both tokens as httpOnly strict-same-site
// cookies scoped to the API. Max-Age comes from the configured TTLs.
func (a *API) setSessionCookies(w http.ResponseWriter, access string, accessExp time.Time, refresh string, refreshExp time.Time) {
	http.SetCookie(w, a.sessionCookie(accessCookie, access, accessExp, a.cfg.AccessTTL))
	http.SetCookie(w, a.sessionCookie(refreshCookie, refresh, refreshExp, a.cfg.RefreshTTL))
}

func (a *API) clearSessionCookies(w http.ResponseWriter) {
	http.SetCookie(w, a.sessionCookie(accessCookie, "", time.Unix(0, 0), -time.Second))
	http.SetCookie(w, a.sessionCookie(refreshCookie, "", time.Unix(0, 0), -time.Second))
}

func (a *API) sessionCookie(name, value string, expires time.Time, ttl time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   a.cfg.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	}
	switch {
	case ttl > 0:
		c.MaxAge = int(ttl / time.Second)
	case ttl < 0:
		c.MaxAge = -1
	}
	return c
}
