package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"protoscribe/internal/session"
	"protoscribe/pkg/logging"
)

// MappingHandler manages the per-chat speaker mapping that protocol
// requests fall back to when they carry none of their own.
type MappingHandler struct {
	Sessions session.Store
}

func NewMappingHandler(sessions session.Store) *MappingHandler {
	return &MappingHandler{Sessions: sessions}
}

type saveMappingRequest struct {
	ChatID         int64             `json:"chat_id"`
	SpeakerMapping map[string]string `json:"speaker_mapping"`
}

// Save handles PUT /v1/mappings/{chatID}.
func (h *MappingHandler) Save(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)

	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}

	var req saveMappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.SpeakerMapping) == 0 {
		writeError(w, http.StatusBadRequest, "speaker_mapping is required")
		return
	}

	state := session.State{
		SpeakerMapping: req.SpeakerMapping,
		UpdatedAt:      time.Now(),
	}
	if err := h.Sessions.Save(ctx, chatID, state); err != nil {
		logger.Error("session save failed", zap.Int64("chat_id", chatID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save mapping")
		return
	}

	logger.Info("speaker mapping saved",
		zap.Int64("chat_id", chatID),
		zap.Int("speakers", len(req.SpeakerMapping)),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// Get handles GET /v1/mappings/{chatID}.
func (h *MappingHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}

	state, found, err := h.Sessions.Load(ctx, chatID)
	if err != nil {
		logging.L(ctx).Error("session load failed", zap.Int64("chat_id", chatID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load mapping")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no mapping for chat")
		return
	}

	writeJSON(w, http.StatusOK, state)
}

// Delete handles DELETE /v1/mappings/{chatID}.
func (h *MappingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}

	if err := h.Sessions.Clear(ctx, chatID); err != nil {
		logging.L(ctx).Error("session clear failed", zap.Int64("chat_id", chatID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to clear mapping")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func chatIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "chatID")
	chatID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || chatID == 0 {
		writeError(w, http.StatusBadRequest, "invalid chat id")
		return 0, false
	}
	return chatID, true
}
