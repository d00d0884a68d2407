package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// Folder groups saved content in the web console; servers can be attached to it.
type Folder struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Color   string `json:"color"`
	OwnerID string `json:"owner_id"`
}

// FolderServer is one guild attached to a folder.
type FolderServer struct {
	ServerID   int64  `json:"server_id"`
	ServerName string `json:"server_name"`
}

// HandleFolders serves the folder collection: GET lists, POST creates.
func (h *Handlers) HandleFolders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleFolderList(w, r)
	case http.MethodPost:
		h.handleFolderCreate(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) handleFolderList(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.QueryContext(r.Context(),
		`SELECT id, name, COALESCE(color, '#FFE989'), COALESCE(owner_id, '') FROM folders ORDER BY id`)
	if err != nil {
		slog.Error("folder list failed", slog.Any("err", err))
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	list := make([]Folder, 0)
	for rows.Next() {
		var f Folder
		if err := rows.Scan(&f.ID, &f.Name, &f.Color, &f.OwnerID); err != nil {
			http.Error(w, "scan failed", http.StatusInternalServerError)
			return
		}
		list = append(list, f)
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handlers) handleFolderCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name    string `json:"name"`
		Color   string `json:"color"`
		OwnerID string `json:"owner_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	body.Name = strings.TrimSpace(body.Name)
	if body.Name == "" {
		http.Error(w, "name required", http.StatusBadRequest)
		return
	}
	if body.Color == "" {
		body.Color = "#FFE989"
	}
	var f Folder
	err := h.db.QueryRowContext(r.Context(),
		`INSERT INTO folders (name, color, owner_id) VALUES ($1,$2,$3)
		 RETURNING id, name, color, COALESCE(owner_id, '')`,
		body.Name, body.Color, body.OwnerID).Scan(&f.ID, &f.Name, &f.Color, &f.OwnerID)
	if err != nil {
		slog.Error("folder insert failed", slog.Any("err", err))
		http.Error(w, "insert failed", http.StatusInternalServerError)
		return
	}
	h.hub.Broadcast("folder_created", f)
	writeJSON(w, http.StatusCreated, f)
}

// HandleFoldersDispatcher routes /api/folders/{id} and /api/folders/{id}/servers[/{sid}].
func (h *Handlers) HandleFoldersDispatcher(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/folders/")
	parts := strings.Split(path, "/")
	id, ok := parseID(parts[0])
	if !ok {
		http.NotFound(w, r)
		return
	}
	tail := parts[1:]
	switch {
	case len(tail) == 0 || (len(tail) == 1 && tail[0] == ""):
		h.handleFolderItem(w, r, id)
	case len(tail) == 1 && tail[0] == "servers":
		h.handleFolderServers(w, r, id)
	case len(tail) == 2 && tail[0] == "servers":
		sid, ok := parseID(tail[1])
		if !ok {
			http.NotFound(w, r)
			return
		}
		h.handleFolderServerRemove(w, r, id, sid)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handlers) handleFolderItem(w http.ResponseWriter, r *http.Request, id int64) {
	switch r.Method {
	case http.MethodPut:
		var body struct {
			Name  string `json:"name"`
			Color string `json:"color"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		body.Name = strings.TrimSpace(body.Name)
		if body.Name == "" {
			http.Error(w, "name required", http.StatusBadRequest)
			return
		}
		var f Folder
		err := h.db.QueryRowContext(r.Context(),
			`UPDATE folders SET name=$2, color=COALESCE(NULLIF($3,''), color) WHERE id=$1
			 RETURNING id, name, color, COALESCE(owner_id, '')`,
			id, body.Name, body.Color).Scan(&f.ID, &f.Name, &f.Color, &f.OwnerID)
		if err == sql.ErrNoRows {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			slog.Error("folder update failed", slog.Int64("folder_id", id), slog.Any("err", err))
			http.Error(w, "update failed", http.StatusInternalServerError)
			return
		}
		h.hub.Broadcast("folder_updated", f)
		writeJSON(w, http.StatusOK, f)
	case http.MethodDelete:
		res, err := h.db.ExecContext(r.Context(), `DELETE FROM folders WHERE id=$1`, id)
		if err != nil {
			slog.Error("folder delete failed", slog.Int64("folder_id", id), slog.Any("err", err))
			http.Error(w, "delete failed", http.StatusInternalServerError)
			return
		}
		if n, _ := res.RowsAffected(); n == 0 {
			http.NotFound(w, r)
			return
		}
		h.hub.Broadcast("folder_deleted", map[string]int64{"id": id})
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) handleFolderServers(w http.ResponseWriter, r *http.Request, id int64) {
	switch r.Method {
	case http.MethodGet:
		rows, err := h.db.QueryContext(r.Context(),
			`SELECT server_id, COALESCE(server_name, '') FROM folder_servers WHERE folder_id=$1 ORDER BY server_id`, id)
		if err != nil {
			slog.Error("folder servers query failed", slog.Int64("folder_id", id), slog.Any("err", err))
			http.Error(w, "query failed", http.StatusInternalServerError)
			return
		}
		defer func() {
			if err := rows.Close(); err != nil {
				slog.Warn("failed to close rows", slog.Any("err", err))
			}
		}()
		list := make([]FolderServer, 0)
		for rows.Next() {
			var s FolderServer
			if err := rows.Scan(&s.ServerID, &s.ServerName); err != nil {
				http.Error(w, "scan failed", http.StatusInternalServerError)
				return
			}
			list = append(list, s)
		}
		writeJSON(w, http.StatusOK, list)
	case http.MethodPost:
		var body struct {
			ServerID   int64  `json:"server_id"`
			ServerName string `json:"server_name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ServerID == 0 {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		_, err := h.db.ExecContext(r.Context(),
			`INSERT INTO folder_servers (folder_id, server_id, server_name) VALUES ($1,$2,$3)
			 ON CONFLICT (folder_id, server_id) DO UPDATE SET server_name=EXCLUDED.server_name`,
			id, body.ServerID, body.ServerName)
		if err != nil {
			slog.Error("folder server insert failed", slog.Int64("folder_id", id), slog.Any("err", err))
			http.Error(w, "insert failed", http.StatusInternalServerError)
			return
		}
		h.hub.Broadcast("server_added", map[string]any{
			"folderId":   id,
			"serverId":   body.ServerID,
			"serverName": body.ServerName,
		})
		writeJSON(w, http.StatusCreated, FolderServer{ServerID: body.ServerID, ServerName: body.ServerName})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) handleFolderServerRemove(w http.ResponseWriter, r *http.Request, id, serverID int64) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	res, err := h.db.ExecContext(r.Context(),
		`DELETE FROM folder_servers WHERE folder_id=$1 AND server_id=$2`, id, serverID)
	if err != nil {
		slog.Error("folder server delete failed", slog.Int64("folder_id", id), slog.Any("err", err))
		http.Error(w, "delete failed", http.StatusInternalServerError)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		http.NotFound(w, r)
		return
	}
	h.hub.Broadcast("server_removed", map[string]int64{"folderId": id, "serverId": serverID})
	w.WriteHeader(http.StatusNoContent)
}
