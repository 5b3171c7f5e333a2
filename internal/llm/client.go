// Package llm talks to OpenAI-compatible chat-completions endpoints
// (OpenAI, Groq, OpenRouter) and provides a scripted client for dry runs.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/agentcheck/agentcheck/internal/config"
	"github.com/agentcheck/agentcheck/internal/core"
	"github.com/agentcheck/agentcheck/internal/registry"
)

func init() {
	for _, name := range []string{"openai", "groq", "openrouter"} {
		registry.RegisterClient(name, func(cfg *config.Config) (core.LLMClient, error) {
			if cfg.APIKey == "" {
				return nil, fmt.Errorf("%s: API key not set (LLM_API_KEY)", cfg.Provider)
			}
			c := NewClient(cfg.BaseURL, cfg.APIKey, cfg.Model)
			t := cfg.Temperature
			c.Temperature = &t
			return c, nil
		})
	}
}

// parseContent parses API content that may be string, null, or array of parts (e.g. [{"type":"text","text":"..."}]).
func parseContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []map[string]interface{}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var b strings.Builder
	for _, p := range parts {
		if t, ok := p["text"].(string); ok {
			b.WriteString(t)
		}
	}
	return b.String()
}

// chatRequest is the request body for chat completions, with optional tools.
type chatRequest struct {
	Model       string                `json:"model"`
	Messages    []core.Message        `json:"messages"`
	Temperature *float64              `json:"temperature,omitempty"`
	Tools       []core.ToolDefinition `json:"tools,omitempty"`
	ToolChoice  interface{}           `json:"tool_choice,omitempty"` // "auto" or object
}

// chatResponse includes tool_calls in the choice message.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   json.RawMessage `json:"content"`
			Role      string          `json:"role"`
			ToolCalls []core.ToolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Client calls an OpenAI-compatible API.
type Client struct {
	BaseURL     string
	APIKey      string
	Model       string
	// Temperature is sent when non-nil, zero included; nil leaves the provider default.
	Temperature *float64
	HTTP        *http.Client
	// MaxRetries applies to network errors, 429 and 5xx.
	MaxRetries int
	Backoff    time.Duration
}

// NewClient creates a client with the given endpoint, API key and model.
func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		Model:      model,
		HTTP:       &http.Client{Timeout: 120 * time.Second},
		MaxRetries: 3,
		Backoff:    time.Second,
	}
}

// ChatCompletion sends messages and returns the assistant reply content.
func (c *Client) ChatCompletion(ctx context.Context, messages []core.Message) (string, error) {
	out, err := c.send(ctx, chatRequest{Model: c.Model, Messages: messages})
	if err != nil {
		return "", err
	}
	return parseContent(out.Choices[0].Message.Content), nil
}

// ChatCompletionWithTools sends messages and tools; returns content and any tool_calls.
func (c *Client) ChatCompletionWithTools(ctx context.Context, messages []core.Message, tools []core.ToolDefinition) (string, []core.ToolCall, error) {
	body := chatRequest{Model: c.Model, Messages: messages, Tools: tools}
	if len(tools) > 0 {
		body.ToolChoice = "auto"
	}
	out, err := c.send(ctx, body)
	if err != nil {
		return "", nil, err
	}
	msg := out.Choices[0].Message
	for i, tc := range msg.ToolCalls {
		if tc.Function.Name == "" {
			return "", nil, fmt.Errorf("llm: malformed response: tool call %d has no function name", i)
		}
	}
	return parseContent(msg.Content), msg.ToolCalls, nil
}

// send posts body with exponential backoff on transient errors. A response
// it returns always has at least one choice.
func (c *Client) send(ctx context.Context, body chatRequest) (*chatResponse, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("llm: API key not set")
	}
	if c.Model == "" {
		return nil, fmt.Errorf("llm: model not set")
	}
	if c.Temperature != nil {
		t := *c.Temperature
		body.Temperature = &t
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	backoff := c.Backoff
	var resp *http.Response
	var lastErr error
	var bodyBytes []byte

	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Printf("[LLM] Retry %d/%d after %v...", attempt, c.MaxRetries, backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.APIKey)

		resp, lastErr = c.HTTP.Do(req)
		if lastErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("[LLM] Network error: %v", lastErr)
			continue
		}
		bodyBytes, _ = io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			log.Printf("[LLM] Retryable error: HTTP %d", resp.StatusCode)
			lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncateBody(bodyBytes))
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return nil, fmt.Errorf("llm: request failed after %d retries: %w", c.MaxRetries, lastErr)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llm: HTTP %d: %s", resp.StatusCode, truncateBody(bodyBytes))
	}
	var out chatResponse
	if err := json.Unmarshal(bodyBytes, &out); err != nil {
		return nil, fmt.Errorf("llm: decode: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("llm: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("llm: no choices in response (body: %s)", truncateBody(bodyBytes))
	}
	return &out, nil
}

func truncateBody(b []byte) string {
	const max = 500
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
