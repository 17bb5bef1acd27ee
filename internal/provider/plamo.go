// ABOUTME: PLaMo chat-completion adapter
// ABOUTME: Sends the persona prompt and the question only; history is not replayed

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// PLaMoEndpoint is the PLaMo chat completions API
const PLaMoEndpoint = "https://platform.preferredai.jp/api/completion/v1/chat/completions"

const plamoModel = "plamo-beta"

// PLaMo calls the PLaMo chat completions API
type PLaMo struct {
	client *http.Client
	logger *slog.Logger
}

// NewPLaMo creates a PLaMo adapter. A nil client uses http.DefaultClient.
func NewPLaMo(client *http.Client, logger *slog.Logger) *PLaMo {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PLaMo{
		client: client,
		logger: logger.With("component", "plamo"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type plamoRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

// plamoResponse is optional at every level, like geminiResponse
type plamoResponse struct {
	Choices []*struct {
		Message *struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (r *plamoResponse) answer() string {
	if len(r.Choices) == 0 {
		return ""
	}
	c := r.Choices[0]
	if c == nil || c.Message == nil || c.Message.Content == nil {
		return ""
	}
	return *c.Message.Content
}

// Generate sends one turn to PLaMo
func (p *PLaMo) Generate(ctx context.Context, req *Request) (string, error) {
	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = PLaMoEndpoint
	}

	body, err := json.Marshal(plamoRequest{
		Model: plamoModel,
		Messages: []chatMessage{
			{Role: "system", Content: req.Prompt},
			{Role: "user", Content: req.Question},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.Key)

	p.logger.Debug("calling plamo", "endpoint", endpoint)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return "", statusError("plamo", resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	var parsed plamoResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decoding plamo response: %w", err)
	}
	return parsed.answer(), nil
}
