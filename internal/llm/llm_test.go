package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// MockProvider is a test provider that records calls and returns canned responses.
type MockProvider struct {
	mu       sync.Mutex
	Calls    []CompletionRequest
	Response *CompletionResponse
	Err      error
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, req)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Response, nil
}

var helloRequest = CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "hello"}}}

func TestFactoryReturnsErrorForMissingAPIKey(t *testing.T) {
	if _, err := NewProvider(Config{Provider: "openai", Model: "gpt-4o-mini"}); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestFactoryReturnsErrorForUnknownProvider(t *testing.T) {
	if _, err := NewProvider(Config{Provider: "nope", APIKey: "k"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestFactoryCreatesProviders(t *testing.T) {
	tests := []struct {
		cfg  Config
		want string
	}{
		{Config{Provider: "openai", APIKey: "k"}, "openai"},
		{Config{Provider: "", APIKey: "k"}, "openai"},
		{Config{Provider: "openrouter", APIKey: "k"}, "openrouter"},
		{Config{Provider: "openai", APIKey: "k", RequestsPerMinute: 5}, "openai"},
	}
	for _, tt := range tests {
		p, err := NewProvider(tt.cfg)
		if err != nil {
			t.Fatalf("NewProvider(%+v) error: %v", tt.cfg, err)
		}
		if p.Name() != tt.want {
			t.Errorf("expected name %q, got %q", tt.want, p.Name())
		}
	}
	p, _ := NewProvider(Config{APIKey: "k", RequestsPerMinute: 5})
	if _, ok := p.(*RateLimitedProvider); !ok {
		t.Error("expected a rate limited provider")
	}
}

func TestRateLimiterPassesThrough(t *testing.T) {
	mock := &MockProvider{Response: &CompletionResponse{Content: "mock response"}}
	rl := NewRateLimitedProvider(mock, 60)

	resp, err := rl.Complete(context.Background(), helloRequest)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "mock response" {
		t.Errorf("expected 'mock response', got %q", resp.Content)
	}
	if rl.Name() != "mock" {
		t.Errorf("expected name 'mock', got %q", rl.Name())
	}
}

func TestRateLimiterLimitsRequests(t *testing.T) {
	mock := &MockProvider{Response: &CompletionResponse{Content: "ok"}}
	// Allow only 2 requests per minute.
	rl := NewRateLimitedProvider(mock, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	// First two should succeed immediately.
	for i := 0; i < 2; i++ {
		if _, err := rl.Complete(ctx, helloRequest); err != nil {
			t.Fatalf("request %d: unexpected error: %v", i, err)
		}
	}

	// Third would wait past the deadline.
	if _, err := rl.Complete(ctx, helloRequest); err == nil {
		t.Error("expected error due to rate limiting + context timeout")
	}
}

func TestOpenAIProviderCompletes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-4o-mini",
			"choices":[{"index":0,"message":{"role":"assistant","content":"graph TD\nA-->B"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":12,"completion_tokens":5,"total_tokens":17}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("openai", "k", srv.URL, "gpt-4o-mini")
	resp, err := p.Complete(context.Background(), helloRequest)
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if resp.Content != "graph TD\nA-->B" || resp.FinishReason != "stop" || resp.InputTokens != 12 {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestOpenAIProviderSurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("openai", "k", srv.URL, "gpt-4o-mini")
	_, err := p.Complete(context.Background(), helloRequest)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests || apiErr.Message != "slow down" {
		t.Errorf("unexpected error %+v", apiErr)
	}
}
