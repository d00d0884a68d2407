// Package gateway defines the chat-platform boundary: inbound event types, the outbound
// Session interface the core calls, and a small websocket client that feeds events to a Handler.
// The core packages depend only on the interfaces here; the concrete client is wiring.
package gateway

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the remote side does not know the requested entity
// (message, channel, or user).
var ErrNotFound = errors.New("gateway: not found")

// Message is an inbound chat message event.
type Message struct {
	ID          int64
	GuildID     int64 // zero for direct messages
	GuildName   string
	ChannelID   int64
	ChannelName string
	AuthorID    int64
	AuthorName  string
	Content     string
	Attachments []string
	Timestamp   time.Time
}

// Interaction is an inbound component activation (button click). CustomID carries the
// opaque identifier encoded when the component was attached.
type Interaction struct {
	ID       string
	CustomID string
	UserID   int64
}

// Embed is an outbound rich message body.
type Embed struct {
	Title       string
	Description string
	Color       int
	AuthorName  string
	AuthorIcon  string
}

// Button is an action attached to an outbound message.
type Button struct {
	Label    string
	CustomID string
}

// Session is the outbound surface of the chat platform. All methods are remote calls;
// failures are RemoteFailure-class unless wrapped as ErrNotFound.
type Session interface {
	SendMessage(ctx context.Context, channelID int64, content string) error
	SendEmbed(ctx context.Context, channelID int64, embed Embed, buttons []Button) error
	Reply(ctx context.Context, channelID, messageID int64, content string) error
	// RespondEphemeral answers an interaction with a private message visible only to the
	// activating user. Using it suppresses the platform's default acknowledgment.
	RespondEphemeral(ctx context.Context, interactionID, content string) error
	FetchMessage(ctx context.Context, channelID, messageID int64) (Message, error)
	BanUser(ctx context.Context, guildID, userID int64, reason string) error
	KickUser(ctx context.Context, guildID, userID int64, reason string) error
	TimeoutUser(ctx context.Context, guildID, userID int64, until time.Time) error
}

// Handler receives decoded inbound events from the socket loop.
type Handler interface {
	HandleMessage(ctx context.Context, msg Message)
	HandleInteraction(ctx context.Context, in Interaction)
}

// SelfAware is implemented by handlers that want the bot's own user id, carried
// by the ready event. Handlers use it to drop self-authored messages.
type SelfAware interface {
	SetSelfID(id int64)
}

// Status is a snapshot of the gateway connection, served by /api/status.
type Status struct {
	Connected  bool          `json:"connected"`
	GuildCount int           `json:"guild_count"`
	Latency    time.Duration `json:"latency"`
}
