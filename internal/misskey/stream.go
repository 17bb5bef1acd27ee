// ABOUTME: Misskey streaming client over gorilla/websocket
// ABOUTME: Subscribes to the main channel and delivers mention and reply events, reconnecting on failure

package misskey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Event types delivered on the main channel
const (
	EventMention = "mention"
	EventReply   = "reply"
)

const (
	minBackoff = time.Second
	maxBackoff = time.Minute
)

// Event is one note event from the main channel
type Event struct {
	Type string
	Note Note
}

// EventHandler receives stream events. It runs on the read loop, so it
// should hand long work off to another goroutine.
type EventHandler func(ctx context.Context, ev Event)

// Stream is a reconnecting connection to the Misskey streaming API
type Stream struct {
	url    string
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewStream creates a Stream for host (http or https) and token
func NewStream(host, token string, logger *slog.Logger) (*Stream, error) {
	u, err := streamingURL(host, token)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	dialer := *websocket.DefaultDialer
	return &Stream{
		url:    u,
		dialer: &dialer,
		logger: logger.With("component", "stream"),
	}, nil
}

func streamingURL(host, token string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(host, "/"))
	if err != nil {
		return "", fmt.Errorf("parsing host: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported host scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/streaming"
	u.RawQuery = url.Values{"i": {token}}.Encode()
	return u.String(), nil
}

// Run connects and delivers events to handle until ctx is cancelled.
// Connection failures are logged and retried with exponential backoff.
func (s *Stream) Run(ctx context.Context, handle EventHandler) error {
	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}

		connected, err := s.session(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			backoff = minBackoff
		}
		s.logger.Warn("stream disconnected", "error", err, "retry_in", backoff)

		if err := sleepWithContext(ctx, backoff); err != nil {
			return nil
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// session runs one connection. connected reports whether the handshake succeeded.
func (s *Stream) session(ctx context.Context, handle EventHandler) (connected bool, err error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return false, fmt.Errorf("dialing: %w", err)
	}
	defer conn.Close()

	channelID := uuid.New().String()
	if err := conn.WriteJSON(connectMessage{
		Type: "connect",
		Body: connectBody{Channel: "main", ID: channelID},
	}); err != nil {
		return false, fmt.Errorf("connecting main channel: %w", err)
	}
	s.logger.Info("stream connected")

	// Unblock ReadMessage when ctx ends
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return true, errors.New("server closed connection")
			}
			return true, fmt.Errorf("reading: %w", err)
		}

		ev, ok := parseEvent(raw, channelID)
		if !ok {
			continue
		}
		handle(ctx, ev)
	}
}

type connectMessage struct {
	Type string      `json:"type"`
	Body connectBody `json:"body"`
}

type connectBody struct {
	Channel string `json:"channel"`
	ID      string `json:"id"`
}

type frame struct {
	Type string `json:"type"`
	Body struct {
		ID   string          `json:"id"`
		Type string          `json:"type"`
		Body json.RawMessage `json:"body"`
	} `json:"body"`
}

// parseEvent extracts a mention or reply event addressed to channelID
func parseEvent(raw []byte, channelID string) (Event, bool) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Event{}, false
	}
	if f.Type != "channel" || f.Body.ID != channelID {
		return Event{}, false
	}
	if f.Body.Type != EventMention && f.Body.Type != EventReply {
		return Event{}, false
	}

	var n Note
	if err := json.Unmarshal(f.Body.Body, &n); err != nil || n.ID == "" {
		return Event{}, false
	}
	return Event{Type: f.Body.Type, Note: n}, true
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
