// ABOUTME: Gemini generateContent adapter with inline attachments and search grounding
// ABOUTME: Responses are decoded into an optional-field tree and read through nil-safe accessors

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Gemini model endpoints
const (
	GeminiFlashEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent"
	GeminiProEndpoint   = "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-pro:generateContent"
)

// maxCitations caps how many grounding sources are rendered under an answer
const maxCitations = 3

// Gemini calls the Gemini generateContent API
type Gemini struct {
	client *http.Client
	logger *slog.Logger
}

// NewGemini creates a Gemini adapter. A nil client uses http.DefaultClient.
func NewGemini(client *http.Client, logger *slog.Logger) *Gemini {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gemini{
		client: client,
		logger: logger.With("component", "gemini"),
	}
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Tools             []geminiTool    `json:"tools,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *geminiBlob `json:"inlineData,omitempty"`
}

type geminiBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiTool struct {
	GoogleSearch *struct{} `json:"google_search,omitempty"`
}

// Generate sends one turn to Gemini
func (g *Gemini) Generate(ctx context.Context, req *Request) (string, error) {
	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = GeminiFlashEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing gemini endpoint: %w", err)
	}
	q := u.Query()
	q.Set("key", req.Key)
	u.RawQuery = q.Encode()

	body, err := json.Marshal(buildGeminiRequest(req))
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	g.logger.Debug("calling gemini", "endpoint", endpoint, "contents", len(req.History)+1, "grounding", req.Grounding)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return "", statusError("gemini", resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decoding gemini response: %w", err)
	}

	return parsed.answer(), nil
}

func buildGeminiRequest(req *Request) *geminiRequest {
	contents := make([]geminiContent, 0, len(req.History)+1)
	for _, h := range req.History {
		contents = append(contents, geminiContent{
			Role:  h.Role,
			Parts: []geminiPart{{Text: h.Content}},
		})
	}

	parts := []geminiPart{{Text: req.Question}}
	for _, a := range req.Attachments {
		parts = append(parts, geminiPart{InlineData: &geminiBlob{MimeType: a.MimeType, Data: a.Data}})
	}
	contents = append(contents, geminiContent{Role: RoleUser, Parts: parts})

	out := &geminiRequest{
		Contents: contents,
		SystemInstruction: &geminiContent{
			Role:  "system",
			Parts: []geminiPart{{Text: SystemInstruction(req)}},
		},
	}
	if req.Grounding {
		out.Tools = []geminiTool{{GoogleSearch: &struct{}{}}}
	}
	return out
}

// geminiResponse mirrors the parts of a generateContent response the bot reads.
// Every level is optional; the accessors below return zero values for anything absent.
type geminiResponse struct {
	Candidates []*geminiCandidate `json:"candidates"`
}

type geminiCandidate struct {
	Content           *geminiCandidateContent `json:"content"`
	GroundingMetadata *geminiGrounding        `json:"groundingMetadata"`
}

type geminiCandidateContent struct {
	Parts []*geminiCandidatePart `json:"parts"`
}

type geminiCandidatePart struct {
	Text *string `json:"text"`
}

type geminiGrounding struct {
	GroundingChunks  []*geminiGroundingChunk `json:"groundingChunks"`
	WebSearchQueries []string                `json:"webSearchQueries"`
}

type geminiGroundingChunk struct {
	Web *geminiWebSource `json:"web"`
}

type geminiWebSource struct {
	URI   *string `json:"uri"`
	Title *string `json:"title"`
}

func (r *geminiResponse) first() *geminiCandidate {
	if r == nil || len(r.Candidates) == 0 {
		return nil
	}
	return r.Candidates[0]
}

// text concatenates every text part of the candidate
func (c *geminiCandidate) text() string {
	if c == nil || c.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range c.Content.Parts {
		if p != nil && p.Text != nil {
			b.WriteString(*p.Text)
		}
	}
	return b.String()
}

// citations renders the first sources and the search queries, one per line
func (c *geminiCandidate) citations() string {
	if c == nil || c.GroundingMetadata == nil {
		return ""
	}
	md := c.GroundingMetadata

	var b strings.Builder
	for i, chunk := range md.GroundingChunks {
		if i >= maxCitations {
			break
		}
		if chunk == nil || chunk.Web == nil || chunk.Web.URI == nil || chunk.Web.Title == nil {
			continue
		}
		fmt.Fprintf(&b, "参考(%d): [%s](%s)\n", i+1, *chunk.Web.Title, *chunk.Web.URI)
	}
	if len(md.WebSearchQueries) > 0 {
		b.WriteString("検索ワード: ")
		b.WriteString(strings.Join(md.WebSearchQueries, ","))
		b.WriteString("\n")
	}
	return b.String()
}

// answer is the candidate text with citations appended.
// Citations alone are not an answer.
func (r *geminiResponse) answer() string {
	c := r.first()
	text := c.text()
	if strings.TrimSpace(text) == "" {
		return ""
	}
	if cites := c.citations(); cites != "" {
		if !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		text += cites
	}
	return text
}
