package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// SocketOptions tunes the websocket event loop. Zero values take defaults.
type SocketOptions struct {
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	ReconnectMin     time.Duration
	ReconnectMax     time.Duration
}

func (o SocketOptions) withDefaults() SocketOptions {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 90 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.ReconnectMin <= 0 {
		o.ReconnectMin = time.Second
	}
	if o.ReconnectMax <= 0 {
		o.ReconnectMax = time.Minute
	}
	return o
}

// frame is the socket wire format: an event name plus a JSON payload.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Socket maintains the long-lived gateway connection and dispatches decoded events
// to a Handler. It reconnects with capped exponential backoff until ctx is canceled.
type Socket struct {
	URL     string
	Token   string
	Handler Handler
	Opts    SocketOptions

	connected  atomic.Bool
	guildCount atomic.Int64
	latency    atomic.Int64 // nanoseconds
}

// Status returns a snapshot of the connection state.
func (s *Socket) Status() Status {
	return Status{
		Connected:  s.connected.Load(),
		GuildCount: int(s.guildCount.Load()),
		Latency:    time.Duration(s.latency.Load()),
	}
}

// Run connects and processes events until ctx is canceled, reconnecting on failure.
func (s *Socket) Run(ctx context.Context) {
	opts := s.Opts.withDefaults()
	delay := opts.ReconnectMin
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.runOnce(ctx, opts)
		s.connected.Store(false)
		if ctx.Err() != nil {
			return
		}
		slog.Warn("gateway connection lost; reconnecting", slog.Any("err", err), slog.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > opts.ReconnectMax {
			delay = opts.ReconnectMax
		}
	}
}

func (s *Socket) runOnce(ctx context.Context, opts SocketOptions) error {
	dialer := websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.URL, nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	defer func() { _ = conn.Close() }()

	var writeMu sync.Mutex
	send := func(ev string, data any) error {
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(opts.WriteTimeout))
		return conn.WriteJSON(frame{Event: ev, Data: raw})
	}

	if err := send("identify", map[string]string{"token": s.Token}); err != nil {
		return fmt.Errorf("identify: %w", err)
	}

	// Latency is measured from the ping we send to the pong the server returns.
	var lastPing atomic.Int64
	conn.SetPongHandler(func(string) error {
		if sent := lastPing.Load(); sent > 0 {
			s.latency.Store(time.Since(time.Unix(0, sent)).Nanoseconds())
		}
		_ = conn.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
		return nil
	})

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(opts.ReadTimeout / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				writeMu.Lock()
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
					time.Now().Add(2*time.Second))
				writeMu.Unlock()
				_ = conn.Close()
				return
			case <-stop:
				return
			case <-ticker.C:
				lastPing.Store(time.Now().UnixNano())
				writeMu.Lock()
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(opts.WriteTimeout))
				writeMu.Unlock()
			}
		}
	}()

	s.connected.Store(true)
	slog.Info("gateway connected", slog.String("url", s.URL))

	for {
		_ = conn.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			slog.Debug("gateway: dropping malformed frame", slog.Any("err", err))
			continue
		}
		s.dispatch(ctx, f)
	}
}

func (s *Socket) dispatch(ctx context.Context, f frame) {
	switch f.Event {
	case "ready":
		var d struct {
			GuildCount int   `json:"guild_count"`
			UserID     int64 `json:"user_id,string"`
		}
		if err := json.Unmarshal(f.Data, &d); err == nil {
			s.guildCount.Store(int64(d.GuildCount))
			if d.UserID != 0 {
				if sa, ok := s.Handler.(SelfAware); ok {
					sa.SetSelfID(d.UserID)
				}
			}
		}
	case "message_create":
		var wm wireMessage
		if err := json.Unmarshal(f.Data, &wm); err != nil {
			slog.Warn("gateway: bad message_create payload", slog.Any("err", err))
			return
		}
		s.Handler.HandleMessage(ctx, wm.toMessage())
	case "interaction_create":
		var d struct {
			ID       string `json:"id"`
			CustomID string `json:"custom_id"`
			UserID   int64  `json:"user_id,string"`
		}
		if err := json.Unmarshal(f.Data, &d); err != nil {
			slog.Warn("gateway: bad interaction_create payload", slog.Any("err", err))
			return
		}
		s.Handler.HandleInteraction(ctx, Interaction{ID: d.ID, CustomID: d.CustomID, UserID: d.UserID})
	default:
		// Unknown events are ignored so protocol additions don't break old bots.
	}
}
