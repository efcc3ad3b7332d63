package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"time"

	"protoscribe/internal/pipeline"
	"protoscribe/internal/session"
	"protoscribe/pkg/logging"

	"go.uber.org/zap"
)

// ProtocolProcessor is what the handler needs from the pipeline.
type ProtocolProcessor interface {
	Process(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// ProtocolHandler serves POST /v1/protocols.
type ProtocolHandler struct {
	Processor ProtocolProcessor
	Sessions  session.Store
}

func NewProtocolHandler(p ProtocolProcessor, sessions session.Store) *ProtocolHandler {
	return &ProtocolHandler{Processor: p, Sessions: sessions}
}

type protocolResponse struct {
	*pipeline.Result
	Cached bool `json:"cached"`
}

// CreateProtocol handles POST /v1/protocols.
func (h *ProtocolHandler) CreateProtocol(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)
	start := time.Now()

	var req pipeline.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid request", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if err := req.Validate(); err != nil {
		logger.Warn("invalid processing request", zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// A request without an explicit speaker mapping reuses the one the
	// chat last confirmed, if it hasn't expired.
	if len(req.SpeakerMapping) == 0 && req.ChatID != 0 && h.Sessions != nil {
		if state, ok, err := h.Sessions.Load(ctx, req.ChatID); err != nil {
			logger.Warn("session load failed", zap.Int64("chat_id", req.ChatID), zap.Error(err))
		} else if ok && len(state.SpeakerMapping) > 0 {
			req.SpeakerMapping = state.SpeakerMapping
			logger.Info("reusing confirmed speaker mapping",
				zap.Int64("chat_id", req.ChatID),
				zap.Int("speakers", len(state.SpeakerMapping)),
			)
		}
	}

	result, err := h.Processor.Process(ctx, req)
	if err != nil {
		logger.Error("processing failed",
			zap.String("file_name", req.FileName),
			zap.Error(err),
		)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			writeError(w, http.StatusNotFound, "file not found")
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusGatewayTimeout, "processing cancelled")
		default:
			writeError(w, http.StatusBadGateway, "processing failed")
		}
		return
	}

	// Remember an explicitly provided mapping so the chat's next upload
	// can omit it.
	if len(req.SpeakerMapping) > 0 && req.ChatID != 0 && h.Sessions != nil {
		state := session.State{SpeakerMapping: req.SpeakerMapping, UpdatedAt: time.Now()}
		if err := h.Sessions.Save(ctx, req.ChatID, state); err != nil {
			logger.Warn("session save failed", zap.Int64("chat_id", req.ChatID), zap.Error(err))
		}
	}

	logger.Info("protocol ready",
		zap.String("request_id", result.RequestID),
		zap.Bool("cached", result.Cached),
		zap.Duration("total_latency", time.Since(start)),
	)

	writeJSON(w, http.StatusOK, protocolResponse{Result: result, Cached: result.Cached})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
