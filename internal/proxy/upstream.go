package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"scribe/api/internal/completion"
)

// Upstream forwards a validated request with the server's key and returns
// the raw response body.
type Upstream interface {
	Complete(ctx context.Context, req completion.Request) (json.RawMessage, error)
}

// UpstreamError is a non-2xx answer from the upstream API.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Message)
}

// OpenAIUpstream forwards to the OpenAI completions API, or to chat
// completions when chat is set.
type OpenAIUpstream struct {
	client openai.Client
	model  string
	chat   bool
}

func NewOpenAIUpstream(apiKey, baseURL, model string, chat bool, httpClient *http.Client) *OpenAIUpstream {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	if model == "" {
		model = completion.DefaultModel
	}
	return &OpenAIUpstream{client: openai.NewClient(opts...), model: model, chat: chat}
}

func (u *OpenAIUpstream) Complete(ctx context.Context, req completion.Request) (json.RawMessage, error) {
	if u.chat {
		params := openai.ChatCompletionNewParams{
			Model:           openai.ChatModel(u.model),
			Messages:        []openai.ChatCompletionMessageParamUnion{openai.UserMessage(req.Prompt)},
			MaxTokens:       openai.Int(int64(req.MaxTokens)),
			Temperature:     openai.Float(req.Temperature),
			PresencePenalty: openai.Float(req.PresencePenalty),
		}
		if req.User != "" {
			params.User = openai.String(req.User)
		}
		resp, err := u.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return nil, upstreamError(err)
		}
		return json.RawMessage(resp.RawJSON()), nil
	}

	params := openai.CompletionNewParams{
		Model:           openai.CompletionNewParamsModel(u.model),
		Prompt:          openai.CompletionNewParamsPromptUnion{OfString: openai.String(req.Prompt)},
		MaxTokens:       openai.Int(int64(req.MaxTokens)),
		Temperature:     openai.Float(req.Temperature),
		PresencePenalty: openai.Float(req.PresencePenalty),
	}
	if req.BestOf > 0 {
		params.BestOf = openai.Int(int64(req.BestOf))
	}
	if req.Suffix != "" {
		params.Suffix = openai.String(req.Suffix)
	}
	if req.User != "" {
		params.User = openai.String(req.User)
	}
	resp, err := u.client.Completions.New(ctx, params)
	if err != nil {
		return nil, upstreamError(err)
	}
	return json.RawMessage(resp.RawJSON()), nil
}

func upstreamError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &UpstreamError{StatusCode: apiErr.StatusCode, Message: apiErr.Message}
	}
	return fmt.Errorf("call upstream: %w", err)
}
