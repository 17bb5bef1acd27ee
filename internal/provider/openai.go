// ABOUTME: OpenAI adapter built on the openai-go Responses API
// ABOUTME: Replays history as user/assistant messages and sends images as data URLs

package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
)

// OpenAI models
const (
	OpenAIDefaultModel = "gpt-4o-mini"
	OpenAIGPT4oModel   = "gpt-4o"
)

// OpenAI calls the OpenAI Responses API
type OpenAI struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewOpenAI creates an OpenAI adapter. An empty baseURL uses the SDK default.
func NewOpenAI(baseURL string, client *http.Client, logger *slog.Logger) *OpenAI {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAI{
		baseURL: strings.TrimSpace(baseURL),
		client:  client,
		logger:  logger.With("component", "openai"),
	}
}

// Generate sends one turn to OpenAI. Grounding is not supported and is ignored.
func (o *OpenAI) Generate(ctx context.Context, req *Request) (string, error) {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(req.Key))}
	if o.baseURL != "" {
		opts = append(opts, option.WithBaseURL(o.baseURL))
	}
	if o.client != nil {
		opts = append(opts, option.WithHTTPClient(o.client))
	}
	client := openai.NewClient(opts...)

	model := req.Endpoint
	if model == "" {
		model = OpenAIDefaultModel
	}

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(model),
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: buildOpenAIInput(req)},
	}
	if instructions := SystemInstruction(req); instructions != "" {
		params.Instructions = openai.String(instructions)
	}

	o.logger.Debug("calling openai", "model", model, "items", len(req.History)+1)

	resp, err := client.Responses.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("calling openai: %w", err)
	}
	if resp == nil {
		return "", nil
	}
	return extractOpenAIText(resp), nil
}

func buildOpenAIInput(req *Request) responses.ResponseInputParam {
	items := make(responses.ResponseInputParam, 0, len(req.History)+1)
	for _, h := range req.History {
		role := responses.EasyInputMessageRoleUser
		if h.Role == RoleModel {
			role = responses.EasyInputMessageRoleAssistant
		}
		items = append(items, responses.ResponseInputItemParamOfMessage(h.Content, role))
	}

	content := responses.ResponseInputMessageContentListParam{
		{OfInputText: &responses.ResponseInputTextParam{Text: req.Question}},
	}
	for _, a := range req.Attachments {
		if !strings.HasPrefix(a.MimeType, "image/") {
			continue
		}
		content = append(content, responses.ResponseInputContentUnionParam{
			OfInputImage: &responses.ResponseInputImageParam{
				Detail:   responses.ResponseInputImageDetailAuto,
				ImageURL: openai.String("data:" + a.MimeType + ";base64," + a.Data),
			},
		})
	}
	items = append(items, responses.ResponseInputItemParamOfMessage(content, responses.EasyInputMessageRoleUser))
	return items
}

func extractOpenAIText(resp *responses.Response) string {
	var b strings.Builder
	for _, item := range resp.Output {
		if item.Type != "message" {
			continue
		}
		msg := item.AsMessage()
		for _, part := range msg.Content {
			if part.Type != "output_text" {
				continue
			}
			b.WriteString(part.Text)
		}
	}
	return b.String()
}
