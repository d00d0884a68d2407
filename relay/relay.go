// Package relay implements the inbound message pipeline: command dispatch, the
// save-request state machine, audit archival, and mirroring to a moderation channel.
package relay

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nexus-console/backend/db"
	"github.com/nexus-console/backend/gateway"
	"github.com/nexus-console/backend/telemetry"
)

const embedColor = 0xffe989

// Dispatcher handles command-prefixed messages (prefix already stripped by the pipeline).
type Dispatcher interface {
	Dispatch(ctx context.Context, msg gateway.Message, command string)
}

// Pipeline owns the per-process relay state: the pending-save registry and the wiring
// to the store and the chat session. One Pipeline instance serves all inbound events.
type Pipeline struct {
	db       *sql.DB
	session  gateway.Session
	registry *PendingRegistry
	commands Dispatcher

	commandPrefix   string
	mirrorChannelID int64 // zero disables mirroring

	// The bot's own user id, learned from the gateway ready event. Zero until known.
	selfID atomic.Int64
}

// NewPipeline wires a relay pipeline. commands may be nil, which turns prefixed
// messages into no-ops (they are still excluded from archival).
func NewPipeline(database *sql.DB, session gateway.Session, commands Dispatcher, commandPrefix string, mirrorChannelID int64) *Pipeline {
	return &Pipeline{
		db:              database,
		session:         session,
		registry:        NewPendingRegistry(),
		commands:        commands,
		commandPrefix:   commandPrefix,
		mirrorChannelID: mirrorChannelID,
	}
}

// Registry exposes the pending-save registry (used by /api/status and tests).
func (p *Pipeline) Registry() *PendingRegistry { return p.registry }

// SetSelfID records the bot's own user id so its messages are ignored. The socket
// calls this when the ready event arrives.
func (p *Pipeline) SetSelfID(id int64) { p.selfID.Store(id) }

// HandleMessage processes one inbound chat message. Evaluation order matters:
//  1. command-prefixed messages are dispatched and nothing else happens;
//  2. a pending save consumes the message as its folder-name reply and stops;
//  3. otherwise the message is archived (best effort) and mirrored with a Save button.
//
// A failure in any step is logged and must never take down handling of later messages.
func (p *Pipeline) HandleMessage(ctx context.Context, msg gateway.Message) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("relay: panic in message handling", slog.Any("panic", r), slog.Int64("message_id", msg.ID))
		}
	}()

	// The bot's own messages, the mirror embeds included, never re-enter the
	// pipeline. Without this the mirror would echo itself indefinitely on
	// platforms that deliver the bot's sends back as message events.
	if id := p.selfID.Load(); id != 0 && msg.AuthorID == id {
		return
	}

	if strings.HasPrefix(msg.Content, p.commandPrefix) {
		if p.commands != nil {
			p.commands.Dispatch(ctx, msg, strings.TrimPrefix(msg.Content, p.commandPrefix))
		}
		return
	}

	// Roster upkeep is best effort, like archival.
	if err := db.UpsertMember(ctx, p.db, msg.AuthorID, msg.AuthorName, time.Now().UTC()); err != nil {
		slog.Warn("relay: member upsert failed", slog.Int64("user_id", msg.AuthorID), slog.Any("err", err))
	}

	if p.completeSave(ctx, msg) {
		return
	}

	p.archive(ctx, msg)
	p.mirror(ctx, msg)
}

// archive inserts the audit row. Failures are logged and swallowed so the mirror step
// still runs.
func (p *Pipeline) archive(ctx context.Context, msg gateway.Message) {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO message_logs (guild_id, guild_name, channel_id, channel_name, author_id, author_name, content, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		msg.GuildID, msg.GuildName, msg.ChannelID, msg.ChannelName,
		msg.AuthorID, msg.AuthorName, msg.Content, time.Now().UTC())
	if err != nil {
		telemetry.ArchiveFailures.Inc()
		slog.Error("relay: failed to archive message", slog.Int64("message_id", msg.ID), slog.Any("err", err))
		return
	}
	telemetry.MessagesArchived.Inc()
}

// mirror republishes the message into the moderation channel with a Save button.
func (p *Pipeline) mirror(ctx context.Context, msg gateway.Message) {
	if p.mirrorChannelID == 0 {
		return
	}
	action := SaveAction{AuthorID: msg.AuthorID, ChannelID: msg.ChannelID, MessageID: msg.ID}
	embed := gateway.Embed{
		Title:       "Message sent",
		Description: fmt.Sprintf("**%s** (%d) sent\n```%s```\nin <#%d>", msg.AuthorName, msg.AuthorID, msg.Content, msg.ChannelID),
		Color:       embedColor,
		AuthorName:  msg.AuthorName,
	}
	buttons := []gateway.Button{{Label: "Save", CustomID: action.CustomID()}}
	if err := p.session.SendEmbed(ctx, p.mirrorChannelID, embed, buttons); err != nil {
		slog.Error("relay: mirror send failed", slog.Int64("channel_id", p.mirrorChannelID), slog.Any("err", err))
	}
}
