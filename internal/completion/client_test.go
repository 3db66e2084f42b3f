package completion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestProxyEndpoint(t *testing.T) {
	var got map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/complete" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-RateLimit-Remaining", "3")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"chat style"}}]}`))
	}))
	defer srv.Close()

	endpoint, err := NewProxyEndpoint(srv.URL+"/api/complete", srv.Client())
	if err != nil {
		t.Fatalf("NewProxyEndpoint() error = %v", err)
	}
	resp, err := endpoint.Complete(context.Background(), "", Request{
		Prompt: "hello there", MaxTokens: 16, Temperature: 0.5, BestOf: 1, User: "u-1",
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Text != "chat style" {
		t.Fatalf("Text = %q", resp.Text)
	}
	if resp.RateLimitRemaining == nil || *resp.RateLimitRemaining != 3 {
		t.Fatalf("RateLimitRemaining = %v", resp.RateLimitRemaining)
	}
	if auth != "" {
		t.Fatalf("proxy calls must not carry a key, got %q", auth)
	}
	if got["prompt"] != "hello there" || got["max_tokens"] != float64(16) || got["best_of"] != float64(1) || got["user"] != "u-1" {
		t.Fatalf("unexpected body %v", got)
	}
	if _, ok := got["suffix"]; ok {
		t.Fatal("empty suffix must be omitted")
	}
}

func TestProxyEndpointQuotaExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	endpoint, err := NewProxyEndpoint(srv.URL+"/api/complete", srv.Client())
	if err != nil {
		t.Fatalf("NewProxyEndpoint() error = %v", err)
	}
	resp, err := endpoint.Complete(context.Background(), "", Request{Prompt: "x", MaxTokens: 1})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 StatusError, got %v", err)
	}
	if resp.RateLimitRemaining == nil || *resp.RateLimitRemaining != 0 {
		t.Fatalf("RateLimitRemaining = %v", resp.RateLimitRemaining)
	}
}

func TestProxyEndpointForwardsClientIP(t *testing.T) {
	var forwarded []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forwarded = append(forwarded, r.Header.Get("X-Forwarded-For"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"text":"ok"}]}`))
	}))
	defer srv.Close()

	endpoint, err := NewProxyEndpoint(srv.URL+"/api/complete", srv.Client())
	if err != nil {
		t.Fatalf("NewProxyEndpoint() error = %v", err)
	}
	req := Request{Prompt: "x", MaxTokens: 1}
	if _, err := endpoint.Complete(WithClientIP(context.Background(), "203.0.113.1"), "", req); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if _, err := endpoint.Complete(context.Background(), "", req); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if len(forwarded) != 2 || forwarded[0] != "203.0.113.1" || forwarded[1] != "" {
		t.Fatalf("X-Forwarded-For = %q", forwarded)
	}
}

func TestTextFromBody(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{name: "completions", body: `{"choices":[{"text":" jumped"}]}`, want: " jumped"},
		{name: "chat", body: `{"choices":[{"message":{"content":"hi"}}]}`, want: "hi"},
		{name: "no choices", body: `{"choices":[]}`, want: ""},
		{name: "malformed", body: `{"choices":`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TextFromBody([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("TextFromBody() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("TextFromBody() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOpenAIEndpointCompletions(t *testing.T) {
	var got map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cmpl-1","object":"text_completion","created":1,"model":"m","choices":[{"text":" more words","index":0,"finish_reason":"stop","logprobs":null}]}`))
	}))
	defer srv.Close()

	endpoint := NewOpenAIEndpoint(srv.URL+"/v1", "", false, srv.Client())
	resp, err := endpoint.Complete(context.Background(), "sk-test", Request{
		Prompt: "one two three four", Suffix: "tail", MaxTokens: 32, Temperature: 0.7, BestOf: 1, User: "u-1",
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Text != " more words" {
		t.Fatalf("Text = %q", resp.Text)
	}
	if auth != "Bearer sk-test" {
		t.Fatalf("Authorization = %q", auth)
	}
	if got["model"] != DefaultModel || got["prompt"] != "one two three four" || got["suffix"] != "tail" || got["max_tokens"] != float64(32) {
		t.Fatalf("unexpected body %v", got)
	}
}

func TestOpenAIEndpointChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c-1","object":"chat.completion","created":1,"model":"m","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"from chat"}}]}`))
	}))
	defer srv.Close()

	endpoint := NewOpenAIEndpoint(srv.URL+"/v1", "gpt-4o-mini", true, srv.Client())
	resp, err := endpoint.Complete(context.Background(), "sk-test", Request{Prompt: "hi", MaxTokens: 8})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Text != "from chat" {
		t.Fatalf("Text = %q", resp.Text)
	}
}

func TestSplitEndpoint(t *testing.T) {
	tests := []struct {
		in, base, path string
		wantErr        bool
	}{
		{in: "http://localhost:8787/api/complete", base: "http://localhost:8787/api/", path: "complete"},
		{in: "https://example.com/complete/", base: "https://example.com/", path: "complete"},
		{in: "http://localhost:8787", wantErr: true},
		{in: "not a url", wantErr: true},
	}
	for _, tt := range tests {
		base, path, err := splitEndpoint(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("splitEndpoint(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil || base != tt.base || path != tt.path {
			t.Errorf("splitEndpoint(%q) = %q, %q, %v", tt.in, base, path, err)
		}
	}
}
