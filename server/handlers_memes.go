package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/nexus-console/backend/meme"
	"github.com/nexus-console/backend/telemetry"
)

const maxUploadBytes = 10 << 20 // 10 MiB

// HandleMemes serves the meme collection: GET lists, POST uploads.
func (h *Handlers) HandleMemes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleMemeList(w, r)
	case http.MethodPost:
		h.handleMemeCreate(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) handleMemeList(w http.ResponseWriter, r *http.Request) {
	sort := r.URL.Query().Get("sort")
	viewer := r.URL.Query().Get("userId")
	list, err := meme.List(r.Context(), h.db, viewer, sort)
	if err != nil {
		slog.Error("meme list failed", slog.Any("err", err))
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handlers) handleMemeCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	userID := strings.TrimSpace(r.FormValue("userId"))
	if userID == "" {
		http.Error(w, "userId required", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "image required", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
	default:
		http.Error(w, "unsupported image type", http.StatusBadRequest)
		return
	}

	dir := filepath.Join(h.cfg.DataDir, "memes")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("create upload dir failed", slog.Any("err", err))
		http.Error(w, "storage failed", http.StatusInternalServerError)
		return
	}
	name := uuid.New().String() + ext
	dst, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		slog.Error("create upload file failed", slog.Any("err", err))
		http.Error(w, "storage failed", http.StatusInternalServerError)
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		_ = dst.Close()
		_ = os.Remove(dst.Name())
		slog.Error("write upload failed", slog.Any("err", err))
		http.Error(w, "storage failed", http.StatusInternalServerError)
		return
	}
	if err := dst.Close(); err != nil {
		slog.Warn("close upload failed", slog.Any("err", err))
	}

	imagePath := "memes/" + name
	m, err := meme.Create(r.Context(), h.db, imagePath, r.FormValue("caption"), userID)
	if err != nil {
		_ = os.Remove(filepath.Join(dir, name))
		slog.Error("meme insert failed", slog.Any("err", err))
		http.Error(w, "insert failed", http.StatusInternalServerError)
		return
	}
	h.hub.Broadcast("new_meme", m)
	writeJSON(w, http.StatusCreated, m)
}

// HandleMemesDispatcher routes requests under /api/memes/{id}/* and /api/memes/top.
func (h *Handlers) HandleMemesDispatcher(w http.ResponseWriter, r *http.Request) {
	// crude routing
	path := strings.TrimPrefix(r.URL.Path, "/api/memes/")
	parts := strings.Split(path, "/")
	head := parts[0]
	tail := ""
	if len(parts) > 1 {
		tail = strings.Join(parts[1:], "/")
	}
	if head == "top" && tail == "" {
		h.handleMemeTop(w, r)
		return
	}
	id, ok := parseID(head)
	if !ok {
		http.NotFound(w, r)
		return
	}
	switch tail {
	case "":
		h.handleMemeDetail(w, r, id)
	case "vote":
		h.handleMemeVote(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handlers) handleMemeTop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := parseIntQuery(r, "limit", 10)
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	list, err := meme.Top(r.Context(), h.db, r.URL.Query().Get("userId"), limit)
	if err != nil {
		slog.Error("top memes failed", slog.Any("err", err))
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handlers) handleMemeDetail(w http.ResponseWriter, r *http.Request, id int64) {
	switch r.Method {
	case http.MethodGet:
		m, err := meme.Get(r.Context(), h.db, id, r.URL.Query().Get("userId"))
		if errors.Is(err, meme.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			slog.Error("meme get failed", slog.Int64("meme_id", id), slog.Any("err", err))
			http.Error(w, "query failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, m)
	case http.MethodDelete:
		h.handleMemeDelete(w, r, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) handleMemeDelete(w http.ResponseWriter, r *http.Request, id int64) {
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		http.Error(w, "userId required", http.StatusBadRequest)
		return
	}
	imagePath, err := meme.Delete(r.Context(), h.db, id, userID)
	switch {
	case errors.Is(err, meme.ErrNotFound):
		http.NotFound(w, r)
		return
	case errors.Is(err, meme.ErrNotOwner):
		http.Error(w, "not the uploader", http.StatusForbidden)
		return
	case err != nil:
		slog.Error("meme delete failed", slog.Int64("meme_id", id), slog.Any("err", err))
		http.Error(w, "delete failed", http.StatusInternalServerError)
		return
	}
	if imagePath != "" {
		full := filepath.Join(h.cfg.DataDir, filepath.Clean("/"+imagePath))
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			slog.Warn("remove meme image failed", slog.String("path", full), slog.Any("err", err))
		}
	}
	h.hub.Broadcast("meme_deleted", map[string]int64{"id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleMemeVote(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		UserID   string `json:"userId"`
		VoteType string `json:"voteType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.UserID) == "" {
		http.Error(w, "userId required", http.StatusBadRequest)
		return
	}

	prevLeader, _ := meme.MemeOfDay(r.Context(), h.db, "")

	var likes, dislikes int
	var voteErr error
	telemetry.TimeFunc(telemetry.VoteDuration, func() {
		likes, dislikes, voteErr = meme.CastVote(r.Context(), h.db, id, body.UserID, body.VoteType)
	})
	switch {
	case errors.Is(voteErr, meme.ErrNotFound):
		http.NotFound(w, r)
		return
	case errors.Is(voteErr, meme.ErrInvalidVoteKind):
		http.Error(w, "voteType must be like or dislike", http.StatusBadRequest)
		return
	case voteErr != nil:
		slog.Error("vote failed", slog.Int64("meme_id", id), slog.Any("err", voteErr))
		http.Error(w, "vote failed", http.StatusInternalServerError)
		return
	}

	h.hub.Broadcast("vote_update", map[string]any{
		"memeId":       id,
		"likeCount":    likes,
		"dislikeCount": dislikes,
	})
	h.refreshLeader(r, prevLeader.ID)

	writeJSON(w, http.StatusOK, map[string]int{"likeCount": likes, "dislikeCount": dislikes})
}

// refreshLeader restamps leader_since after a vote and announces a leadership change.
func (h *Handlers) refreshLeader(r *http.Request, prevLeaderID int64) {
	leader, err := meme.RefreshLeader(r.Context(), h.db)
	if errors.Is(err, meme.ErrNotFound) {
		return // nothing has likes anymore
	}
	if err != nil {
		slog.Warn("leader refresh failed", slog.Any("err", err))
		return
	}
	if leader.ID != prevLeaderID {
		h.hub.Broadcast("leader_change", leader)
	}
}

// HandleMemeOfDay returns the current vote leader.
func (h *Handlers) HandleMemeOfDay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	m, err := meme.MemeOfDay(r.Context(), h.db, r.URL.Query().Get("userId"))
	if errors.Is(err, meme.ErrNotFound) {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	if err != nil {
		slog.Error("meme of day failed", slog.Any("err", err))
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
