// Package commands dispatches prefix commands from chat: saved-message queries, the
// admin global send, and moderation passthroughs to the gateway session.
package commands

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nexus-console/backend/config"
	"github.com/nexus-console/backend/gateway"
)

// Handler implements relay.Dispatcher.
type Handler struct {
	db      *sql.DB
	session gateway.Session
	cfg     *config.Config
}

func NewHandler(db *sql.DB, session gateway.Session, cfg *config.Config) *Handler {
	return &Handler{db: db, session: session, cfg: cfg}
}

// Dispatch runs one command. command is the message content with the prefix already
// stripped. Unknown commands are ignored silently, like the source bot.
func (h *Handler) Dispatch(ctx context.Context, msg gateway.Message, command string) {
	name, args, _ := strings.Cut(strings.TrimSpace(command), " ")
	args = strings.TrimSpace(args)

	switch name {
	case "show_saved":
		h.showSaved(ctx, msg, args)
	case "global_send":
		h.globalSend(ctx, msg, args)
	case "servers":
		h.servers(ctx, msg)
	case "ban":
		h.moderate(ctx, msg, args, "ban")
	case "kick":
		h.moderate(ctx, msg, args, "kick")
	case "mute":
		h.moderate(ctx, msg, args, "mute")
	default:
		slog.Debug("unknown command", slog.String("command", name), slog.Int64("user_id", msg.AuthorID))
	}
}

func (h *Handler) reply(ctx context.Context, msg gateway.Message, text string) {
	if err := h.session.Reply(ctx, msg.ChannelID, msg.ID, text); err != nil {
		slog.Warn("command reply failed", slog.Any("err", err))
	}
}

func (h *Handler) showSaved(ctx context.Context, msg gateway.Message, args string) {
	folder := args
	if folder == "" {
		folder = "default"
	}
	var count int
	err := h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM saved_messages WHERE folder=$1`, folder).Scan(&count)
	if err != nil {
		slog.Error("show_saved query failed", slog.Any("err", err))
		h.reply(ctx, msg, "Could not read saved messages.")
		return
	}
	if count == 0 {
		h.reply(ctx, msg, fmt.Sprintf("No saved messages in '%s'", folder))
		return
	}
	h.reply(ctx, msg, fmt.Sprintf("Found %d messages in '%s'", count, folder))
}

func (h *Handler) globalSend(ctx context.Context, msg gateway.Message, args string) {
	if !h.cfg.IsAdmin(msg.AuthorID) {
		return
	}
	rawID, content, ok := strings.Cut(args, " ")
	if !ok || strings.TrimSpace(content) == "" {
		h.reply(ctx, msg, "Usage: global_send <channel id> <message>")
		return
	}
	channelID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		h.reply(ctx, msg, "Usage: global_send <channel id> <message>")
		return
	}
	if err := h.session.SendMessage(ctx, channelID, strings.TrimSpace(content)); err != nil {
		slog.Error("global_send failed", slog.Int64("channel_id", channelID), slog.Any("err", err))
		h.reply(ctx, msg, "Sending failed.")
		return
	}
	h.reply(ctx, msg, "Sent!")
}

func (h *Handler) servers(ctx context.Context, msg gateway.Message) {
	if !h.cfg.IsAdmin(msg.AuthorID) {
		return
	}
	var count int
	err := h.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT guild_id) FROM message_logs WHERE guild_id <> 0`).Scan(&count)
	if err != nil {
		slog.Error("servers query failed", slog.Any("err", err))
		return
	}
	h.reply(ctx, msg, fmt.Sprintf("Seen activity from %d servers", count))
}

// moderate handles ban/kick/mute: "<user id> [reason...]".
func (h *Handler) moderate(ctx context.Context, msg gateway.Message, args, action string) {
	if !h.cfg.IsAdmin(msg.AuthorID) {
		return
	}
	rawID, reason, _ := strings.Cut(args, " ")
	userID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		h.reply(ctx, msg, fmt.Sprintf("Usage: %s <user id> [reason]", action))
		return
	}
	switch action {
	case "ban":
		err = h.session.BanUser(ctx, msg.GuildID, userID, strings.TrimSpace(reason))
	case "kick":
		err = h.session.KickUser(ctx, msg.GuildID, userID, strings.TrimSpace(reason))
	case "mute":
		err = h.session.TimeoutUser(ctx, msg.GuildID, userID, time.Now().Add(10*time.Minute))
	}
	if err != nil {
		slog.Error("moderation action failed", slog.String("action", action), slog.Int64("target", userID), slog.Any("err", err))
		h.reply(ctx, msg, "Action failed.")
		return
	}
	h.reply(ctx, msg, "Done.")
}
