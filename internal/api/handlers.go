package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/vendaflow/vendaflow/internal/models"
	"github.com/vendaflow/vendaflow/internal/telegram"
)

// webhookHandler ingests Telegram updates. It always acknowledges with 200:
// a non-2xx makes Telegram redeliver the same update, and the pipeline
// already persists or logs everything it needs.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Warn("Server.webhookHandler: body read failed", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}
	update, err := telegram.ParseUpdate(body)
	if err != nil {
		slog.Warn("Server.webhookHandler: malformed update", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}
	if err := s.ingress.HandleUpdate(r.Context(), *update); err != nil {
		slog.Error("Server.webhookHandler: ingress failed", "error", err)
	}
	w.WriteHeader(http.StatusOK)
}

type forceSaleRequest struct {
	ConversationID string `json:"conversation_id"`
}

func (s *Server) forceSaleHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req forceSaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.forceSaleHandler: malformed body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid JSON body"))
		return
	}
	if req.ConversationID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("conversation_id is required"))
		return
	}
	if err := s.ingress.HandleForceSale(req.ConversationID); err != nil {
		if errors.Is(err, models.ErrConversationNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("conversation not found"))
			return
		}
		slog.Error("Server.forceSaleHandler: directive failed", "conversationID", req.ConversationID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to record directive"))
		return
	}
	slog.Info("Server.forceSaleHandler: force-sale scheduled", "conversationID", req.ConversationID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("force-sale directive scheduled", nil))
}

type statusRequest struct {
	Status string `json:"status"`
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	id := r.PathValue("id")
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.statusHandler: malformed body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid JSON body"))
		return
	}
	status := models.ConversationStatus(req.Status)
	if !models.IsValidConversationStatus(status) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("status must be active, paused or closed"))
		return
	}
	if err := s.store.UpdateConversationStatus(id, status); err != nil {
		if errors.Is(err, models.ErrConversationNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("conversation not found"))
			return
		}
		slog.Error("Server.statusHandler: update failed", "conversationID", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to update status"))
		return
	}
	slog.Info("Server.statusHandler: status updated", "conversationID", id, "status", status)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"id": id, "status": req.Status}))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.GetSetting("health_probe"); err != nil {
		slog.Error("Server.healthHandler: store probe failed", "error", err)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("database unavailable"))
		return
	}
	telegram := "configured"
	if !s.telegramOK {
		telegram = "missing"
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{
		"database": "ok",
		"telegram": telegram,
	}))
}
