package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nexus-console/backend/gateway"
	"github.com/nexus-console/backend/telemetry"
)

// saveKind is the custom-id tag for the Save button attached to mirrored messages.
const saveKind = "save"

// savePrompt is the ephemeral reply sent when a Save button is activated.
const savePrompt = "Send folder name or No/None/Default/- for default."

// SaveAction identifies the message a Save button points at. It round-trips through the
// interaction's opaque custom id as "save|<authorID>|<channelID>|<messageID>".
type SaveAction struct {
	AuthorID  int64
	ChannelID int64
	MessageID int64
}

// CustomID encodes the action for attachment to an outbound button.
func (a SaveAction) CustomID() string {
	return fmt.Sprintf("%s|%d|%d|%d", saveKind, a.AuthorID, a.ChannelID, a.MessageID)
}

// ParseSaveAction decodes a button custom id. It returns false for ids of other kinds
// or malformed ids.
func ParseSaveAction(customID string) (SaveAction, bool) {
	parts := strings.Split(customID, "|")
	if len(parts) != 4 || parts[0] != saveKind {
		return SaveAction{}, false
	}
	author, err1 := strconv.ParseInt(parts[1], 10, 64)
	channel, err2 := strconv.ParseInt(parts[2], 10, 64)
	message, err3 := strconv.ParseInt(parts[3], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return SaveAction{}, false
	}
	return SaveAction{AuthorID: author, ChannelID: channel, MessageID: message}, true
}

// NormalizeFolder maps a user's folder-name reply to the stored folder name.
// Negative tokens (no, none, default, -, empty) select the default folder; anything
// else is kept literally after trimming edge whitespace.
func NormalizeFolder(reply string) string {
	trimmed := strings.TrimSpace(reply)
	switch strings.ToLower(trimmed) {
	case "", "no", "none", "default", "-":
		return "default"
	}
	return trimmed
}

// HandleInteraction processes a Save button activation: resolve the original message,
// register the pending save, and prompt the user privately. The manual ephemeral
// response replaces the platform's default acknowledgment. The activation never
// performs the save itself.
func (p *Pipeline) HandleInteraction(ctx context.Context, in gateway.Interaction) {
	action, ok := ParseSaveAction(in.CustomID)
	if !ok {
		slog.Debug("ignoring interaction with unknown custom id", slog.String("custom_id", in.CustomID))
		return
	}

	msg, err := p.session.FetchMessage(ctx, action.ChannelID, action.MessageID)
	if err != nil {
		// The registry stays untouched; the user gets a generic failure note.
		slog.Warn("save: fetch of original message failed",
			slog.Int64("channel_id", action.ChannelID),
			slog.Int64("message_id", action.MessageID),
			slog.Any("err", err))
		if rerr := p.session.RespondEphemeral(ctx, in.ID, "Could not load that message."); rerr != nil {
			slog.Warn("save: failure ack failed", slog.Any("err", rerr))
		}
		return
	}

	p.registry.Register(in.UserID, PendingSave{
		AuthorID:   action.AuthorID,
		AuthorName: msg.AuthorName,
		Content:    msg.Content,
		ChannelID:  action.ChannelID,
		MessageID:  action.MessageID,
		GuildID:    msg.GuildID,
	})

	if err := p.session.RespondEphemeral(ctx, in.ID, savePrompt); err != nil {
		slog.Warn("save: prompt failed", slog.Any("err", err))
	}
}

// completeSave consumes msg as the folder-name reply for a previously registered save.
// Reports whether a pending entry existed (and was therefore consumed).
func (p *Pipeline) completeSave(ctx context.Context, msg gateway.Message) bool {
	pending, ok := p.registry.Consume(msg.AuthorID)
	if !ok {
		return false
	}

	folder := NormalizeFolder(msg.Content)
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO saved_messages (owner_id, folder, username, content, saved_at, channel_id, message_id, guild_id)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		pending.AuthorID, folder, pending.AuthorName, pending.Content,
		time.Now().UTC(), pending.ChannelID, pending.MessageID, pending.GuildID)
	if err != nil {
		slog.Error("save: insert failed", slog.Int64("user_id", msg.AuthorID), slog.Any("err", err))
		if rerr := p.session.Reply(ctx, msg.ChannelID, msg.ID, "Saving failed, try again."); rerr != nil {
			slog.Warn("save: failure reply failed", slog.Any("err", rerr))
		}
		return true
	}

	telemetry.SavesCompleted.Inc()
	confirmation := fmt.Sprintf("Message saved to '%s'!", folder)
	if err := p.session.Reply(ctx, msg.ChannelID, msg.ID, confirmation); err != nil {
		slog.Warn("save: confirmation reply failed", slog.Any("err", err))
	}
	return true
}
