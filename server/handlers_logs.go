package server

import (
	"log/slog"
	"net/http"
	"time"
)

// MessageLogEntry is one archived chat message as served to the console.
type MessageLogEntry struct {
	ID          int64     `json:"id"`
	GuildID     int64     `json:"guild_id"`
	GuildName   string    `json:"guild_name"`
	ChannelID   int64     `json:"channel_id"`
	ChannelName string    `json:"channel_name"`
	AuthorID    int64     `json:"author_id"`
	AuthorName  string    `json:"author_name"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

// HandleMessageLogs returns the most recently archived messages, newest first.
func (h *Handlers) HandleMessageLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := parseIntQuery(r, "limit", 100)
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := h.db.QueryContext(r.Context(), `
        SELECT id,
               COALESCE(guild_id, 0),
               COALESCE(guild_name, ''),
               COALESCE(channel_id, 0),
               COALESCE(channel_name, ''),
               COALESCE(author_id, 0),
               COALESCE(author_name, ''),
               COALESCE(content, ''),
               created_at
        FROM message_logs
        ORDER BY created_at DESC
        LIMIT $1
    `, limit)
	if err != nil {
		slog.Error("message log query failed", slog.Any("err", err))
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	list := make([]MessageLogEntry, 0, limit)
	for rows.Next() {
		var e MessageLogEntry
		if err := rows.Scan(&e.ID, &e.GuildID, &e.GuildName, &e.ChannelID, &e.ChannelName,
			&e.AuthorID, &e.AuthorName, &e.Content, &e.CreatedAt); err != nil {
			http.Error(w, "scan failed", http.StatusInternalServerError)
			return
		}
		list = append(list, e)
	}
	writeJSON(w, http.StatusOK, list)
}
