package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/nexus-console/backend/gateway"
)

// SentMessage records one outbound call made through the fake session.
type SentMessage struct {
	Kind          string // "message", "embed", "reply", "ephemeral", "ban", "kick", "timeout"
	ChannelID     int64
	MessageID     int64
	GuildID       int64
	UserID        int64
	InteractionID string
	Content       string
	Embed         gateway.Embed
	Buttons       []gateway.Button
}

// FakeSession is an in-memory gateway.Session for tests. Configure FetchResult or
// FetchErr to control FetchMessage; every outbound call is recorded in order.
type FakeSession struct {
	mu   sync.Mutex
	Sent []SentMessage

	FetchResult gateway.Message
	FetchErr    error

	SendErr error // when set, SendMessage/SendEmbed/Reply fail with this error
}

func (f *FakeSession) record(m SentMessage) {
	f.mu.Lock()
	f.Sent = append(f.Sent, m)
	f.mu.Unlock()
}

// Calls returns a copy of the recorded outbound calls.
func (f *FakeSession) Calls() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentMessage, len(f.Sent))
	copy(out, f.Sent)
	return out
}

func (f *FakeSession) SendMessage(_ context.Context, channelID int64, content string) error {
	if f.SendErr != nil {
		return f.SendErr
	}
	f.record(SentMessage{Kind: "message", ChannelID: channelID, Content: content})
	return nil
}

func (f *FakeSession) SendEmbed(_ context.Context, channelID int64, embed gateway.Embed, buttons []gateway.Button) error {
	if f.SendErr != nil {
		return f.SendErr
	}
	f.record(SentMessage{Kind: "embed", ChannelID: channelID, Embed: embed, Buttons: buttons})
	return nil
}

func (f *FakeSession) Reply(_ context.Context, channelID, messageID int64, content string) error {
	if f.SendErr != nil {
		return f.SendErr
	}
	f.record(SentMessage{Kind: "reply", ChannelID: channelID, MessageID: messageID, Content: content})
	return nil
}

func (f *FakeSession) RespondEphemeral(_ context.Context, interactionID, content string) error {
	f.record(SentMessage{Kind: "ephemeral", InteractionID: interactionID, Content: content})
	return nil
}

func (f *FakeSession) FetchMessage(_ context.Context, channelID, messageID int64) (gateway.Message, error) {
	if f.FetchErr != nil {
		return gateway.Message{}, f.FetchErr
	}
	return f.FetchResult, nil
}

func (f *FakeSession) BanUser(_ context.Context, guildID, userID int64, reason string) error {
	f.record(SentMessage{Kind: "ban", GuildID: guildID, UserID: userID, Content: reason})
	return nil
}

func (f *FakeSession) KickUser(_ context.Context, guildID, userID int64, reason string) error {
	f.record(SentMessage{Kind: "kick", GuildID: guildID, UserID: userID, Content: reason})
	return nil
}

func (f *FakeSession) TimeoutUser(_ context.Context, guildID, userID int64, until time.Time) error {
	f.record(SentMessage{Kind: "timeout", GuildID: guildID, UserID: userID})
	return nil
}
