package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// HandleSend pushes a message to a channel through the gateway. The route is
// wrapped with adminAuth in NewMux.
func (h *Handlers) HandleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.session == nil {
		http.Error(w, "gateway not configured", http.StatusServiceUnavailable)
		return
	}
	var body struct {
		TargetID string `json:"targetId"`
		Message  string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	targetID, err := strconv.ParseInt(strings.TrimSpace(body.TargetID), 10, 64)
	if err != nil || targetID <= 0 {
		http.Error(w, "targetId must be a channel id", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		http.Error(w, "message required", http.StatusBadRequest)
		return
	}
	if err := h.session.SendMessage(r.Context(), targetID, body.Message); err != nil {
		slog.Error("send failed", slog.Int64("target_id", targetID), slog.Any("err", err))
		http.Error(w, "send failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}
