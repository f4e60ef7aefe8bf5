package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/vendaflow/vendaflow/internal/models"
)

// writeJSONResponse writes a JSON response with the given status code.
// Marshal happens before headers so an encoding failure can still degrade to
// a plain 500.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response models.APIResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: marshal failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(data); err != nil {
		slog.Error("Server.writeJSONResponse: write failed", "error", err)
	}
}
