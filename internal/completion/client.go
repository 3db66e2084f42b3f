package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// Request is the completion body sent upstream.
type Request struct {
	Prompt          string  `json:"prompt"`
	Suffix          string  `json:"suffix,omitempty"`
	MaxTokens       int     `json:"max_tokens"`
	Temperature     float64 `json:"temperature"`
	BestOf          int     `json:"best_of"`
	PresencePenalty float64 `json:"presence_penalty"`
	User            string  `json:"user,omitempty"`
}

// Response is what the routine needs from a completion call. The rate limit
// counter is filled from X-RateLimit-Remaining whenever the endpoint sent it,
// including on error responses.
type Response struct {
	Text               string
	RateLimitRemaining *int
}

// Endpoint performs one completion call. apiKey is empty for the proxy.
type Endpoint interface {
	Complete(ctx context.Context, apiKey string, req Request) (Response, error)
}

// StatusError is a non-2xx answer from the completion endpoint.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("completion endpoint returned status %d", e.StatusCode)
}

// DefaultModel is used for direct calls when none is configured.
const DefaultModel = "gpt-3.5-turbo-instruct"

type choicesBody struct {
	Choices []struct {
		Text    string `json:"text"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// TextFromBody extracts the first choice from a completions or chat
// completions response body.
func TextFromBody(body []byte) (string, error) {
	var b choicesBody
	if err := json.Unmarshal(body, &b); err != nil {
		return "", fmt.Errorf("decode completion body: %w", err)
	}
	return b.text(), nil
}

type clientIPKey struct{}

// WithClientIP records the address of the caller a completion runs for.
// The proxy quota is keyed by it.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIPFrom returns the address stored by WithClientIP.
func ClientIPFrom(ctx context.Context) (string, bool) {
	ip, ok := ctx.Value(clientIPKey{}).(string)
	return ip, ok && ip != ""
}

func (b choicesBody) text() string {
	if len(b.Choices) == 0 {
		return ""
	}
	if b.Choices[0].Text != "" {
		return b.Choices[0].Text
	}
	return b.Choices[0].Message.Content
}

// ProxyEndpoint posts the request body as-is to a remote /api/complete
// proxy, which holds the real key. The caller address from the context is
// sent as X-Forwarded-For; the proxy only honours it with trusted proxy
// headers enabled.
type ProxyEndpoint struct {
	client openai.Client
	path   string
}

func NewProxyEndpoint(proxyURL string, httpClient *http.Client) (*ProxyEndpoint, error) {
	base, path, err := splitEndpoint(proxyURL)
	if err != nil {
		return nil, err
	}
	opts := []option.RequestOption{
		option.WithBaseURL(base),
		option.WithMaxRetries(0),
		option.WithHeaderDel("authorization"),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &ProxyEndpoint{client: openai.NewClient(opts...), path: path}, nil
}

func (e *ProxyEndpoint) Complete(ctx context.Context, _ string, req Request) (Response, error) {
	var body choicesBody
	var raw *http.Response
	opts := []option.RequestOption{option.WithResponseInto(&raw)}
	if ip, ok := ClientIPFrom(ctx); ok {
		opts = append(opts, option.WithHeader("X-Forwarded-For", ip))
	}
	err := e.client.Post(ctx, e.path, req, &body, opts...)
	return finish(body.text(), raw, err)
}

// OpenAIEndpoint calls the completions API directly with the user's key.
// Chat switches to the chat completions API; it has no suffix parameter.
type OpenAIEndpoint struct {
	baseURL    string
	model      string
	chat       bool
	httpClient *http.Client
}

func NewOpenAIEndpoint(baseURL, model string, chat bool, httpClient *http.Client) *OpenAIEndpoint {
	if model == "" {
		model = DefaultModel
	}
	return &OpenAIEndpoint{baseURL: baseURL, model: model, chat: chat, httpClient: httpClient}
}

func (e *OpenAIEndpoint) Complete(ctx context.Context, apiKey string, req Request) (Response, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if e.baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(e.baseURL, "/")+"/"))
	}
	if e.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(e.httpClient))
	}
	client := openai.NewClient(opts...)

	var raw *http.Response
	if e.chat {
		params := openai.ChatCompletionNewParams{
			Model:           openai.ChatModel(e.model),
			Messages:        []openai.ChatCompletionMessageParamUnion{openai.UserMessage(req.Prompt)},
			MaxTokens:       openai.Int(int64(req.MaxTokens)),
			Temperature:     openai.Float(req.Temperature),
			PresencePenalty: openai.Float(req.PresencePenalty),
		}
		if req.User != "" {
			params.User = openai.String(req.User)
		}
		completion, err := client.Chat.Completions.New(ctx, params, option.WithResponseInto(&raw))
		text := ""
		if err == nil && len(completion.Choices) > 0 {
			text = completion.Choices[0].Message.Content
		}
		return finish(text, raw, err)
	}

	params := openai.CompletionNewParams{
		Model:           openai.CompletionNewParamsModel(e.model),
		Prompt:          openai.CompletionNewParamsPromptUnion{OfString: openai.String(req.Prompt)},
		MaxTokens:       openai.Int(int64(req.MaxTokens)),
		Temperature:     openai.Float(req.Temperature),
		BestOf:          openai.Int(int64(req.BestOf)),
		PresencePenalty: openai.Float(req.PresencePenalty),
	}
	if req.Suffix != "" {
		params.Suffix = openai.String(req.Suffix)
	}
	if req.User != "" {
		params.User = openai.String(req.User)
	}
	completion, err := client.Completions.New(ctx, params, option.WithResponseInto(&raw))
	text := ""
	if err == nil && len(completion.Choices) > 0 {
		text = completion.Choices[0].Text
	}
	return finish(text, raw, err)
}

// finish turns a client result into a Response, reading rate limit headers
// from whichever HTTP response is available.
func finish(text string, raw *http.Response, err error) (Response, error) {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		resp := Response{RateLimitRemaining: remainingFrom(apiErr.Response)}
		return resp, &StatusError{StatusCode: apiErr.StatusCode}
	}
	resp := Response{RateLimitRemaining: remainingFrom(raw)}
	if err != nil {
		return resp, fmt.Errorf("complete: %w", err)
	}
	resp.Text = text
	return resp, nil
}

func remainingFrom(resp *http.Response) *int {
	if resp == nil {
		return nil
	}
	value := resp.Header.Get("X-RateLimit-Remaining")
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return nil
	}
	return &n
}

// splitEndpoint separates "http://host/api/complete" into a base URL ending
// in a slash and the final path segment.
func splitEndpoint(endpoint string) (string, string, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("invalid proxy url %q", endpoint)
	}
	path := strings.TrimRight(u.Path, "/")
	idx := strings.LastIndex(path, "/")
	if idx < 0 || idx == len(path)-1 {
		return "", "", fmt.Errorf("proxy url %q has no path", endpoint)
	}
	u.Path = path[:idx+1]
	u.RawQuery = ""
	return u.String(), path[idx+1:], nil
}
