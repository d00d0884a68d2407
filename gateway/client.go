package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client implements Session over the platform's REST API.
type Client struct {
	HTTPClient *http.Client
	APIBase    string
	Token      string
}

// NewClient returns a REST client with a sane default timeout.
func NewClient(apiBase, token string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		APIBase:    strings.TrimRight(apiBase, "/"),
		Token:      token,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var buf *bytes.Buffer
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		buf = bytes.NewBuffer(b)
	} else {
		buf = &bytes.Buffer{}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.APIBase+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+c.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("gateway request %s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) SendMessage(ctx context.Context, channelID int64, content string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/channels/%d/messages", channelID),
		map[string]any{"content": content}, nil)
}

func (c *Client) SendEmbed(ctx context.Context, channelID int64, embed Embed, buttons []Button) error {
	payload := map[string]any{
		"embeds": []map[string]any{{
			"title":       embed.Title,
			"description": embed.Description,
			"color":       embed.Color,
			"author":      map[string]string{"name": embed.AuthorName, "icon_url": embed.AuthorIcon},
		}},
	}
	if len(buttons) > 0 {
		comps := make([]map[string]any, 0, len(buttons))
		for _, b := range buttons {
			comps = append(comps, map[string]any{"type": "button", "label": b.Label, "custom_id": b.CustomID})
		}
		payload["components"] = comps
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/channels/%d/messages", channelID), payload, nil)
}

func (c *Client) Reply(ctx context.Context, channelID, messageID int64, content string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/channels/%d/messages", channelID),
		map[string]any{"content": content, "reply_to": messageID}, nil)
}

func (c *Client) RespondEphemeral(ctx context.Context, interactionID, content string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/interactions/%s/callback", interactionID),
		map[string]any{"content": content, "ephemeral": true}, nil)
}

// wireMessage is the REST representation of a message.
type wireMessage struct {
	ID          int64     `json:"id,string"`
	GuildID     int64     `json:"guild_id,string"`
	GuildName   string    `json:"guild_name"`
	ChannelID   int64     `json:"channel_id,string"`
	ChannelName string    `json:"channel_name"`
	AuthorID    int64     `json:"author_id,string"`
	AuthorName  string    `json:"author_name"`
	Content     string    `json:"content"`
	Attachments []string  `json:"attachments"`
	Timestamp   time.Time `json:"timestamp"`
}

func (w wireMessage) toMessage() Message {
	return Message{
		ID:          w.ID,
		GuildID:     w.GuildID,
		GuildName:   w.GuildName,
		ChannelID:   w.ChannelID,
		ChannelName: w.ChannelName,
		AuthorID:    w.AuthorID,
		AuthorName:  w.AuthorName,
		Content:     w.Content,
		Attachments: w.Attachments,
		Timestamp:   w.Timestamp,
	}
}

func (c *Client) FetchMessage(ctx context.Context, channelID, messageID int64) (Message, error) {
	var wm wireMessage
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/channels/%d/messages/%d", channelID, messageID), nil, &wm)
	if err != nil {
		return Message{}, err
	}
	return wm.toMessage(), nil
}

func (c *Client) BanUser(ctx context.Context, guildID, userID int64, reason string) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/guilds/%d/bans/%d", guildID, userID),
		map[string]any{"reason": reason}, nil)
}

func (c *Client) KickUser(ctx context.Context, guildID, userID int64, reason string) error {
	// DELETE carries no body, so the audit reason travels as a query parameter.
	path := fmt.Sprintf("/guilds/%d/members/%d", guildID, userID)
	if reason != "" {
		path += "?reason=" + url.QueryEscape(reason)
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) TimeoutUser(ctx context.Context, guildID, userID int64, until time.Time) error {
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/guilds/%d/members/%d", guildID, userID),
		map[string]any{"timeout_until": until.UTC().Format(time.RFC3339)}, nil)
}
