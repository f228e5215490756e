package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"loqui.org/internal/account"
	"loqui.org/internal/auth"
)

// handleEventStream pushes account lifecycle events to an admin client
// over Server-Sent Events until the connection drops.
func (a *API) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok || principal.Role != string(account.RoleAdmin) {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	if a.bus == nil {
		writeError(w, r, http.StatusServiceUnavailable, "event stream disabled")
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
	flusher.Flush()

	for evt := range a.bus.Subscribe(r.Context()) {
		data, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
		flusher.Flush()
	}
}
