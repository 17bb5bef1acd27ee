// ABOUTME: REST client for the Misskey API
// ABOUTME: Posts JSON with the "i" token, decodes results and maps failures to *APIError

package misskey

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// maxDownloadBytes caps attachment downloads
const maxDownloadBytes = 20 << 20

// APIError is a failed Misskey API call
type APIError struct {
	Endpoint string
	Status   int
	Code     string
	Message  string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("misskey %s: status %d: %s (%s)", e.Endpoint, e.Status, e.Message, e.Code)
	}
	return fmt.Sprintf("misskey %s: status %d: %s", e.Endpoint, e.Status, e.Message)
}

// Client talks to one Misskey instance as one account
type Client struct {
	host   string
	token  string
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a Client for host (e.g. https://misskey.example).
// A nil httpClient gets a client with a 30s timeout.
func NewClient(host, token string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		host:   strings.TrimSuffix(host, "/"),
		token:  token,
		http:   httpClient,
		logger: logger.With("component", "misskey"),
	}
}

// call POSTs params to /api/endpoint and decodes the result into out.
// A nil out discards the body, which also covers 204 responses.
func (c *Client) call(ctx context.Context, endpoint string, params map[string]any, out any) error {
	payload := make(map[string]any, len(params)+1)
	for k, v := range params {
		payload[k] = v
	}
	payload["i"] = c.token

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/"+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s response: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(endpoint, resp.StatusCode, raw)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", endpoint, err)
	}
	return nil
}

func apiError(endpoint string, status int, raw []byte) *APIError {
	e := &APIError{Endpoint: endpoint, Status: status}
	if gjson.ValidBytes(raw) {
		e.Code = gjson.GetBytes(raw, "error.code").String()
		e.Message = gjson.GetBytes(raw, "error.message").String()
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

// Me returns the account the token belongs to
func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	if err := c.call(ctx, "i", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// ShowNote fetches one note
func (c *Client) ShowNote(ctx context.Context, noteID string) (*Note, error) {
	var n Note
	if err := c.call(ctx, "notes/show", map[string]any{"noteId": noteID}, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// Conversation returns the ancestors of a note, nearest first
func (c *Client) Conversation(ctx context.Context, noteID string) ([]Note, error) {
	var notes []Note
	if err := c.call(ctx, "notes/conversation", map[string]any{"noteId": noteID, "limit": 30}, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

// Children returns the direct replies and quotes of a note
func (c *Client) Children(ctx context.Context, noteID string) ([]Note, error) {
	var notes []Note
	if err := c.call(ctx, "notes/children", map[string]any{"noteId": noteID, "limit": 30}, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

// LocalTimeline returns the most recent public local notes
func (c *Client) LocalTimeline(ctx context.Context, limit int) ([]Note, error) {
	var notes []Note
	if err := c.call(ctx, "notes/local-timeline", map[string]any{"limit": limit}, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

// Reply posts text as a reply to note, keeping the note's visibility.
// A direct (specified) note is answered only to its author.
func (c *Client) Reply(ctx context.Context, to *Note, text string) (*Note, error) {
	params := map[string]any{
		"replyId": to.ID,
		"text":    text,
	}
	if to.Visibility != "" {
		params["visibility"] = to.Visibility
	}
	if to.Visibility == "specified" {
		params["visibleUserIds"] = []string{to.UserID}
	}

	var res struct {
		CreatedNote *Note `json:"createdNote"`
	}
	if err := c.call(ctx, "notes/create", params, &res); err != nil {
		return nil, err
	}
	if res.CreatedNote == nil || res.CreatedNote.ID == "" {
		return nil, fmt.Errorf("notes/create returned no note")
	}
	c.logger.Debug("posted reply", "reply_to", to.ID, "note_id", res.CreatedNote.ID)
	return res.CreatedNote, nil
}

// React adds a reaction to a note
func (c *Client) React(ctx context.Context, noteID, reaction string) error {
	return c.call(ctx, "notes/reactions/create", map[string]any{
		"noteId":   noteID,
		"reaction": reaction,
	}, nil)
}

// Download fetches a file by URL, returning its bytes and Content-Type
func (c *Client) Download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("downloading file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading file: %w", err)
	}
	if len(data) > maxDownloadBytes {
		return nil, "", fmt.Errorf("file exceeds %d bytes", maxDownloadBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
