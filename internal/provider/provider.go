// ABOUTME: Provider interface and the normalized request passed to every adapter
// ABOUTME: Also defines provider kinds and the errors adapters and the registry return

package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// Kind names a backend. The empty kind resolves to KindGemini.
type Kind string

const (
	KindGemini  Kind = "gemini"
	KindChatGPT Kind = "chatgpt"
	KindPLaMo   Kind = "plamo"
)

// Roles used in Turn
const (
	RoleUser  = "user"
	RoleModel = "model"
)

var (
	// ErrUnknownProvider is returned for a kind outside the registry
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrMissingCredential is returned when the selected provider has no API key configured
	ErrMissingCredential = errors.New("provider credential not configured")

	// ErrHTTPStatus wraps every non-2xx response from a backend
	ErrHTTPStatus = errors.New("unexpected http status")
)

// Turn is one prior message replayed to the backend
type Turn struct {
	Role    string
	Content string
}

// Attachment is inline binary content sent with the user turn
type Attachment struct {
	MimeType string
	Data     string // base64
}

// Request is the normalized input for one conversation turn
type Request struct {
	Question    string
	Prompt      string
	Endpoint    string // empty means the adapter default
	Key         string
	History     []Turn
	Grounding   bool
	SpeakerName string
	FromMention bool
	Attachments []Attachment
	Supplements []string // URL-derived context lines
	Now         time.Time
}

// Provider generates an answer for one turn.
// An empty answer with a nil error means the backend had nothing usable to say.
type Provider interface {
	Generate(ctx context.Context, req *Request) (string, error)
}

// StatusError is a non-2xx response from a backend
type StatusError struct {
	Provider string
	Code     int
	Message  string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s returned status %d", e.Provider, e.Code)
}

func (e *StatusError) Unwrap() error { return ErrHTTPStatus }

// maxErrorBody caps how much of a non-JSON error body is kept
const maxErrorBody = 200

// statusError builds a StatusError, probing the common JSON error shapes for a message.
func statusError(name string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	msg := ""
	if gjson.ValidBytes(body) {
		for _, path := range []string{"error.message", "error", "message", "detail"} {
			if r := gjson.GetBytes(body, path); r.Exists() && r.Type == gjson.String {
				msg = r.String()
				break
			}
		}
	}
	if msg == "" {
		msg = truncate(strings.TrimSpace(string(body)), maxErrorBody)
	}
	return &StatusError{Provider: name, Code: resp.StatusCode, Message: msg}
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}
