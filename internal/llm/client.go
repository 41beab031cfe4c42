// Package llm talks to the downstream language model.
//
// The Model interface is what the orchestrator depends on. AnthropicClient
// implements it against the Anthropic Messages API. Credentials are held in
// memory only and are never logged.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bigdegenenergy/open-cloud-ops/sage/internal/metrics"
	"github.com/bigdegenenergy/open-cloud-ops/sage/pkg/models"
)

const (
	// DefaultOutputTokenBudget caps completion length when none is configured.
	DefaultOutputTokenBudget int64 = 4000

	defaultBaseURL      = "https://api.anthropic.com"
	anthropicVersion    = "2023-06-01"
	maxResponseBodySize = 10 << 20 // 10 MB
)

// ErrConversationTooLong is returned when the model rejects the request
// because the conversation exceeds its context window.
var ErrConversationTooLong = errors.New("conversation too long")

// Request is one completion call.
type Request struct {
	Model     string
	System    string
	History   []models.Turn
	Query     string
	MaxTokens int64
}

// Usage is the token usage the model reported.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Response is a completed model call.
type Response struct {
	Text       string
	Model      string
	StopReason string
	Usage      Usage
}

// Model produces a completion for a request.
type Model interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// APIError is a non-2xx reply from the provider.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("anthropic: status %d: %s: %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("anthropic: status %d: %s", e.StatusCode, e.Message)
}

// AnthropicClient calls the Anthropic Messages API.
type AnthropicClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// ClientOption customises an AnthropicClient.
type ClientOption func(*AnthropicClient)

// WithBaseURL points the client at a different API host.
func WithBaseURL(u string) ClientOption {
	return func(c *AnthropicClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *AnthropicClient) { c.client = hc }
}

// NewAnthropicClient creates a client authenticated with apiKey.
func NewAnthropicClient(apiKey string, logger *zap.Logger, opts ...ClientOption) *AnthropicClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &AnthropicClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 5 * time.Minute},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int64     `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messagesResponse struct {
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Content    []contentBlock `json:"content"`
	Usage      Usage          `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends req and returns the model's text reply.
func (c *AnthropicClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	resp, err := c.complete(ctx, req)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.LLMRequestDuration.WithLabelValues(req.Model, status).Observe(time.Since(start).Seconds())
	if err == nil {
		metrics.LLMTokensUsed.WithLabelValues(req.Model, "input").Add(float64(resp.Usage.InputTokens))
		metrics.LLMTokensUsed.WithLabelValues(req.Model, "output").Add(float64(resp.Usage.OutputTokens))
	}
	return resp, err
}

func (c *AnthropicClient) complete(ctx context.Context, req *Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultOutputTokenBudget
	}
	body, err := json.Marshal(messagesRequest{
		Model:     req.Model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages:  buildMessages(req.History, req.Query),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding messages request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("reading upstream response: %w", err)
	}
	if int64(len(respBody)) > maxResponseBodySize {
		return nil, fmt.Errorf("upstream response too large")
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		apiErr := parseAPIError(httpResp.StatusCode, respBody)
		c.logger.Warn("model request rejected",
			zap.String("model", req.Model),
			zap.Int("status", apiErr.StatusCode),
			zap.String("type", apiErr.Type))
		if isTooLong(apiErr) {
			return nil, fmt.Errorf("%w: %s", ErrConversationTooLong, apiErr.Message)
		}
		return nil, apiErr
	}

	var parsed messagesResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decoding messages response: %w", err)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	model := parsed.Model
	if model == "" {
		model = req.Model
	}
	return &Response{
		Text:       text.String(),
		Model:      model,
		StopReason: parsed.StopReason,
		Usage:      parsed.Usage,
	}, nil
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		apiErr.Type = parsed.Error.Type
		apiErr.Message = parsed.Error.Message
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(body))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

func isTooLong(e *APIError) bool {
	if e.StatusCode != http.StatusBadRequest && e.StatusCode != http.StatusRequestEntityTooLarge {
		return false
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "too long") || strings.Contains(msg, "context window") ||
		strings.Contains(msg, "maximum context")
}

// buildMessages turns the history and the new query into the alternating
// user/assistant sequence the API requires. Consecutive turns from the same
// role are merged and the sequence always starts with a user turn.
func buildMessages(history []models.Turn, query string) []message {
	msgs := make([]message, 0, len(history)+1)
	appendTurn := func(role, content string) {
		if content == "" {
			return
		}
		if len(msgs) == 0 && role != string(models.RoleUser) {
			return
		}
		if n := len(msgs); n > 0 && msgs[n-1].Role == role {
			msgs[n-1].Content += "\n\n" + content
			return
		}
		msgs = append(msgs, message{Role: role, Content: content})
	}
	for _, t := range history {
		appendTurn(string(t.Role), t.Content)
	}
	appendTurn(string(models.RoleUser), query)
	return msgs
}
