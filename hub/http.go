package hub

import (
	"encoding/json"
	"net/http"
)

// NewStatusHandler returns an http.Handler serving a JSON Status
// snapshot at "/status", polled by cmd/portal-admin's dashboard. The
// request's own context is used for the hub round-trip, so a client
// that disconnects mid-poll doesn't leave the hub's goroutine blocked
// waiting on a reply nobody reads.
func NewStatusHandler(h *Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		status, ok := h.Status(r.Context())
		if !ok {
			http.Error(w, "status unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		json.NewEncoder(w).Encode(status)
	})
	return mux
}
