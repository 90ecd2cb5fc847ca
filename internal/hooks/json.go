package hooks

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// writeJSON sets the content type, writes the status, then encodes the
// body, logging (never panicking) if encoding fails after headers are
// already sent.
func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("hooks: failed to encode JSON response", "error", err)
	}
}
