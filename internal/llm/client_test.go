package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigdegenenergy/open-cloud-ops/sage/internal/classify"
	"github.com/bigdegenenergy/open-cloud-ops/sage/pkg/models"
)

func TestComplete_Success(t *testing.T) {
	var got messagesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "claude-test",
			"stop_reason": "end_turn",
			"content": [{"type":"text","text":"Hello "},{"type":"tool_use"},{"type":"text","text":"there"}],
			"usage": {"input_tokens": 120, "output_tokens": 45}
		}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient("test-key", nil, WithBaseURL(srv.URL))
	resp, err := c.Complete(context.Background(), &Request{
		Model:     "claude-test",
		System:    "be helpful",
		Query:     "what now?",
		MaxTokens: 500,
		History: []models.Turn{
			{Role: models.RoleUser, Content: "first"},
			{Role: models.RoleAssistant, Content: "reply"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello there", resp.Text)
	assert.Equal(t, "claude-test", resp.Model)
	assert.Equal(t, int64(120), resp.Usage.InputTokens)
	assert.Equal(t, int64(45), resp.Usage.OutputTokens)

	assert.Equal(t, int64(500), got.MaxTokens)
	assert.Equal(t, "be helpful", got.System)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "user", got.Messages[2].Role)
	assert.Equal(t, "what now?", got.Messages[2].Content)
}

func TestComplete_ConversationTooLong(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"prompt is too long: 210000 tokens > 200000 maximum"}}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient("k", nil, WithBaseURL(srv.URL))
	_, err := c.Complete(context.Background(), &Request{Model: "m", Query: "q"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConversationTooLong))
}

func TestComplete_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient("k", nil, WithBaseURL(srv.URL))
	_, err := c.Complete(context.Background(), &Request{Model: "m", Query: "q"})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "rate_limit_error", apiErr.Type)
	assert.False(t, errors.Is(err, ErrConversationTooLong))
}

func TestComplete_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewAnthropicClient("k", nil, WithBaseURL(srv.URL)).Complete(context.Background(), &Request{Model: "m", Query: "q"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusText(http.StatusBadGateway), apiErr.Message)
}

func TestComplete_DefaultMaxTokens(t *testing.T) {
	var got messagesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"ok"}],"usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer srv.Close()

	resp, err := NewAnthropicClient("k", nil, WithBaseURL(srv.URL)).Complete(context.Background(), &Request{Model: "fallback", Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, DefaultOutputTokenBudget, got.MaxTokens)
	assert.Equal(t, "fallback", resp.Model)
}

func TestBuildMessages(t *testing.T) {
	history := []models.Turn{
		{Role: models.RoleAssistant, Content: "orphan"},
		{Role: models.RoleUser, Content: "a"},
		{Role: models.RoleUser, Content: "b"},
		{Role: models.RoleAssistant, Content: "c"},
	}
	msgs := buildMessages(history, "d")

	require.Len(t, msgs, 3)
	assert.Equal(t, message{Role: "user", Content: "a\n\nb"}, msgs[0])
	assert.Equal(t, message{Role: "assistant", Content: "c"}, msgs[1])
	assert.Equal(t, message{Role: "user", Content: "d"}, msgs[2])
}

func TestMaxTokensFor(t *testing.T) {
	tests := []struct {
		bandwidth classify.Bandwidth
		budget    int64
		want      int64
	}{
		{classify.BandwidthLow, 4000, 1000},
		{classify.BandwidthMedium, 4000, 2000},
		{classify.BandwidthHigh, 4000, 4000},
		{classify.BandwidthHigh, 0, DefaultOutputTokenBudget},
		{classify.BandwidthLow, 2, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.bandwidth), func(t *testing.T) {
			assert.Equal(t, tt.want, MaxTokensFor(tt.bandwidth, tt.budget))
		})
	}
}

func TestPerspectives(t *testing.T) {
	assert.Equal(t, "1 perspective", Perspectives(classify.BandwidthLow))
	assert.Equal(t, "3 perspectives", Perspectives(classify.BandwidthMedium))
	assert.Equal(t, "5 perspectives", Perspectives(classify.BandwidthHigh))
	assert.Equal(t, "3 perspectives", Perspectives(""))
}

func TestSystemPrompt(t *testing.T) {
	p := SystemPrompt(classify.MethodCoachingPlan, classify.StyleStructured, classify.RoleProfessional, classify.BandwidthHigh)
	assert.Contains(t, p, "COACHING_PLAN")
	assert.Contains(t, p, "workplace")
	assert.Contains(t, p, "5 perspectives")
	assert.Contains(t, p, "headings")

	every := map[classify.Method]bool{}
	for _, m := range classify.Methods {
		every[m] = methodInstructions[m] != ""
	}
	for m, ok := range every {
		assert.True(t, ok, "missing instructions for %s", m)
	}
	assert.True(t, strings.HasPrefix(p, "You are Sage"))
}
