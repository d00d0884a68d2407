package server

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nexus-console/backend/config"
	"github.com/nexus-console/backend/gateway"
	"github.com/nexus-console/backend/meme"
	"github.com/nexus-console/backend/testutil"
	"github.com/nexus-console/backend/ws"
)

// brokenDB returns a *sql.DB whose queries always fail. Handy for exercising the
// request-validation paths that must reject before touching the database.
func brokenDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("pgx", "postgres://nobody@localhost:1/none")
	if err != nil {
		t.Fatalf("open broken db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// sink records every frame broadcast through the hub during a test.
type sink struct {
	frames [][]byte
}

func (s *sink) WriteMessage(_ int, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	s.frames = append(s.frames, cp)
	return nil
}

func (s *sink) Close() error { return nil }

func (s *sink) events() []string {
	var out []string
	for _, f := range s.frames {
		var ev struct {
			Event string `json:"event"`
		}
		if err := json.Unmarshal(f, &ev); err == nil {
			out = append(out, ev.Event)
		}
	}
	return out
}

func testMux(t *testing.T, db *sql.DB, session gateway.Session, status func() gateway.Status, cfg *config.Config) http.Handler {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{DataDir: t.TempDir()}
	}
	return NewMux(db, ws.NewHub(), session, status, cfg)
}

func TestCORSPreflight(t *testing.T) {
	handler := testMux(t, brokenDB(t), nil, nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/memes", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") == "" {
		t.Error("missing Access-Control-Allow-Origin header")
	}
}

func TestCorrelationIDHeader(t *testing.T) {
	handler := testMux(t, brokenDB(t), nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/memes/abc", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Header().Get("X-Correlation-ID") == "" {
		t.Error("missing X-Correlation-ID header")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/memes/abc", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if got := w.Header().Get("X-Correlation-ID"); got != "corr-123" {
		t.Errorf("correlation id = %q, want corr-123", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler := testMux(t, brokenDB(t), nil, nil, nil)

	cases := []struct {
		method string
		path   string
	}{
		{http.MethodPut, "/api/memes"},
		{http.MethodPost, "/api/logs/messages"},
		{http.MethodDelete, "/api/meme-of-day"},
		{http.MethodGet, "/api/send"},
		{http.MethodPatch, "/api/folders"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s status = %d, want %d", tc.method, tc.path, w.Code, http.StatusMethodNotAllowed)
		}
	}
}

func TestMemeDispatcherRejectsGarbage(t *testing.T) {
	handler := testMux(t, brokenDB(t), nil, nil, nil)

	for _, path := range []string{"/api/memes/abc", "/api/memes/0/vote", "/api/memes/5/unknown", "/api/folders/xyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want %d", path, w.Code, http.StatusNotFound)
		}
	}
}

func TestVoteRejectsBadInput(t *testing.T) {
	handler := testMux(t, brokenDB(t), nil, nil, nil)

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", "{nope"},
		{"missing user", `{"voteType":"like"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/memes/5/vote", strings.NewReader(tc.body))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestAdminAuthProtectsSend(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "sesame")
	session := &testutil.FakeSession{}
	handler := testMux(t, brokenDB(t), session, nil, nil)

	body := `{"targetId":"42","message":"hello"}`

	req := httptest.NewRequest(http.MethodPost, "/api/send", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated send status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if len(session.Calls()) != 0 {
		t.Fatalf("unauthenticated request reached the session: %+v", session.Calls())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/send", strings.NewReader(body))
	req.Header.Set("X-Admin-Token", "sesame")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("authenticated send status = %d, want %d", w.Code, http.StatusOK)
	}
	calls := session.Calls()
	if len(calls) != 1 || calls[0].ChannelID != 42 || calls[0].Content != "hello" {
		t.Errorf("send calls = %+v", calls)
	}
}

func TestSendRejectsBadTarget(t *testing.T) {
	session := &testutil.FakeSession{}
	handler := testMux(t, brokenDB(t), session, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/send", strings.NewReader(`{"targetId":"nope","message":"hi"}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHealthz(t *testing.T) {
	db := testutil.SetupTestDB(t)
	handler := testMux(t, db, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestReadyz(t *testing.T) {
	db := testutil.SetupTestDB(t)
	handler := testMux(t, db, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("readyz status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ready" {
		t.Errorf("status = %q, want ready", resp["status"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	db := testutil.SetupTestDB(t)
	status := func() gateway.Status {
		return gateway.Status{Connected: true, GuildCount: 3, Latency: 40 * time.Millisecond}
	}
	handler := testMux(t, db, nil, status, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["connected"] != true {
		t.Errorf("connected = %v, want true", resp["connected"])
	}
	if resp["guild_count"].(float64) != 3 {
		t.Errorf("guild_count = %v, want 3", resp["guild_count"])
	}
}

func TestVoteEndpoint(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.TruncateTables(t, db, "memes", "votes")
	hub := ws.NewHub()
	rec := &sink{}
	hub.Add(rec)
	cfg := &config.Config{DataDir: t.TempDir()}
	handler := NewMux(db, hub, nil, nil, cfg)

	m, err := meme.Create(t.Context(), db, "memes/a.png", "first", "uploader")
	if err != nil {
		t.Fatalf("create meme: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/memes/%d/vote", m.ID),
		strings.NewReader(`{"userId":"alice","voteType":"like"}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("vote status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["likeCount"] != 1 || resp["dislikeCount"] != 0 {
		t.Errorf("counts = %v, want 1/0", resp)
	}

	events := rec.events()
	var sawVote, sawLeader bool
	for _, ev := range events {
		switch ev {
		case "vote_update":
			sawVote = true
		case "leader_change":
			sawLeader = true
		}
	}
	if !sawVote {
		t.Errorf("no vote_update broadcast, events = %v", events)
	}
	// First like makes this meme the leader.
	if !sawLeader {
		t.Errorf("no leader_change broadcast, events = %v", events)
	}
}

func TestVoteUnknownMeme(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.TruncateTables(t, db, "memes", "votes")
	handler := testMux(t, db, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/memes/999999/vote",
		strings.NewReader(`{"userId":"alice","voteType":"like"}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestMemeUploadAndDelete(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.TruncateTables(t, db, "memes", "votes")
	dataDir := t.TempDir()
	hub := ws.NewHub()
	rec := &sink{}
	hub.Add(rec)
	handler := NewMux(db, hub, nil, nil, &config.Config{DataDir: dataDir})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", "funny.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write([]byte("not really a png"))
	_ = mw.WriteField("caption", "so funny")
	_ = mw.WriteField("userId", "uploader")
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/memes", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body = %s", w.Code, w.Body.String())
	}
	var created meme.Meme
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	full := filepath.Join(dataDir, created.ImagePath)
	if _, err := os.Stat(full); err != nil {
		t.Fatalf("uploaded file missing: %v", err)
	}

	// Deleting as a stranger is forbidden and keeps the file.
	req = httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/memes/%d?userId=stranger", created.ID), nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("stranger delete status = %d, want %d", w.Code, http.StatusForbidden)
	}

	req = httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/memes/%d?userId=uploader", created.ID), nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("owner delete status = %d, body = %s", w.Code, w.Body.String())
	}
	if _, err := os.Stat(full); !os.IsNotExist(err) {
		t.Errorf("image file still present after delete")
	}

	events := rec.events()
	var sawNew, sawDeleted bool
	for _, ev := range events {
		switch ev {
		case "new_meme":
			sawNew = true
		case "meme_deleted":
			sawDeleted = true
		}
	}
	if !sawNew || !sawDeleted {
		t.Errorf("broadcasts = %v, want new_meme and meme_deleted", events)
	}
}

func TestUploadRejectsBadType(t *testing.T) {
	handler := testMux(t, brokenDB(t), nil, nil, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("image", "script.sh")
	_, _ = part.Write([]byte("#!/bin/sh"))
	_ = mw.WriteField("userId", "uploader")
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/memes", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestFolderRoundTrip(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.TruncateTables(t, db, "folders")
	hub := ws.NewHub()
	rec := &sink{}
	hub.Add(rec)
	handler := NewMux(db, hub, nil, nil, &config.Config{DataDir: t.TempDir()})

	// Create
	req := httptest.NewRequest(http.MethodPost, "/api/folders",
		strings.NewReader(`{"name":"clips","owner_id":"alice"}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var folder Folder
	if err := json.Unmarshal(w.Body.Bytes(), &folder); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if folder.Color != "#FFE989" {
		t.Errorf("default color = %q", folder.Color)
	}

	// Update
	req = httptest.NewRequest(http.MethodPut, fmt.Sprintf("/api/folders/%d", folder.ID),
		strings.NewReader(`{"name":"best clips","color":"#112233"}`))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", w.Code, w.Body.String())
	}

	// Attach a server
	req = httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/folders/%d/servers", folder.ID),
		strings.NewReader(`{"server_id":77,"server_name":"lounge"}`))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("attach status = %d, body = %s", w.Code, w.Body.String())
	}

	// List servers
	req = httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/folders/%d/servers", folder.ID), nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	var servers []FolderServer
	if err := json.Unmarshal(w.Body.Bytes(), &servers); err != nil {
		t.Fatalf("decode servers: %v", err)
	}
	if len(servers) != 1 || servers[0].ServerID != 77 {
		t.Fatalf("servers = %+v", servers)
	}

	// Detach and delete
	req = httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/folders/%d/servers/77", folder.ID), nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("detach status = %d", w.Code)
	}
	req = httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/folders/%d", folder.ID), nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}

	want := []string{"folder_created", "folder_updated", "server_added", "server_removed", "folder_deleted"}
	got := rec.events()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMessageLogsEndpoint(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.TruncateTables(t, db, "message_logs")
	handler := testMux(t, db, nil, nil, nil)

	for i := 0; i < 3; i++ {
		if _, err := db.Exec(`INSERT INTO message_logs (guild_id, channel_id, author_id, author_name, content, created_at)
			VALUES (1, 2, 3, 'alice', $1, NOW() + ($2 || ' seconds')::interval)`,
			fmt.Sprintf("msg %d", i), fmt.Sprint(i)); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/logs/messages?limit=2", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var list []MessageLogEntry
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].Content != "msg 2" {
		t.Errorf("newest first: got %q", list[0].Content)
	}
}
