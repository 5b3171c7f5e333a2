package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/agentcheck/agentcheck/internal/config"
	"github.com/agentcheck/agentcheck/internal/core"
	"github.com/agentcheck/agentcheck/internal/registry"
)

func init() {
	registry.RegisterClient("scripted", func(cfg *config.Config) (core.LLMClient, error) {
		if cfg.ScriptPath == "" {
			return nil, fmt.Errorf("scripted: script_path not set")
		}
		return LoadScript(cfg.ScriptPath)
	})
}

// ExhaustedMessage is returned as plain content once a script runs out of steps.
const ExhaustedMessage = "(script exhausted)"

// ScriptCall is one tool call in a scripted response. Arguments may be a
// mapping (encoded to JSON) or a raw string passed through unchanged.
type ScriptCall struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Arguments any    `yaml:"arguments"`
}

// ScriptStep is one model response: tool calls, plain content, or an error.
type ScriptStep struct {
	Content   string       `yaml:"content"`
	ToolCalls []ScriptCall `yaml:"tool_calls"`
	Error     string       `yaml:"error"`
}

// Script is the YAML file format.
type Script struct {
	// Analysis answers ChatCompletion; empty makes it fail.
	Analysis string       `yaml:"analysis"`
	Steps    []ScriptStep `yaml:"steps"`
}

// ScriptedClient replays a fixed sequence of responses and records every
// conversation it is given. Safe for concurrent use, but the step cursor is
// shared; use Fork to give each session its own replay.
type ScriptedClient struct {
	script Script

	mu       sync.Mutex
	pos      int
	received [][]core.Message
}

// NewScriptedClient replays steps in order.
func NewScriptedClient(steps ...ScriptStep) *ScriptedClient {
	return &ScriptedClient{script: Script{Steps: steps}}
}

// LoadScript reads a YAML script file.
func LoadScript(path string) (*ScriptedClient, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScript(data)
}

// ParseScript decodes a YAML script.
func ParseScript(data []byte) (*ScriptedClient, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode script: %w", err)
	}
	for i, step := range s.Steps {
		for _, tc := range step.ToolCalls {
			if tc.Name == "" {
				return nil, fmt.Errorf("script step %d: tool call without name", i+1)
			}
		}
	}
	return &ScriptedClient{script: s}, nil
}

// WithAnalysis sets the ChatCompletion answer and returns c.
func (c *ScriptedClient) WithAnalysis(content string) *ScriptedClient {
	c.script.Analysis = content
	return c
}

// Fork returns a fresh replay of the same script.
func (c *ScriptedClient) Fork() *ScriptedClient {
	return &ScriptedClient{script: c.script}
}

// ChatCompletionWithTools returns the next scripted step.
func (c *ScriptedClient) ChatCompletionWithTools(ctx context.Context, messages []core.Message, tools []core.ToolDefinition) (string, []core.ToolCall, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received = append(c.received, append([]core.Message(nil), messages...))
	if c.pos >= len(c.script.Steps) {
		return ExhaustedMessage, nil, nil
	}
	step := c.script.Steps[c.pos]
	c.pos++
	if step.Error != "" {
		return "", nil, errors.New(step.Error)
	}
	calls := make([]core.ToolCall, 0, len(step.ToolCalls))
	for i, tc := range step.ToolCalls {
		args, err := encodeArguments(tc.Arguments)
		if err != nil {
			return "", nil, fmt.Errorf("script step %d: %w", c.pos, err)
		}
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d_%d", c.pos, i+1)
		}
		calls = append(calls, core.ToolCall{
			ID:       id,
			Type:     "function",
			Function: core.FunctionCall{Name: tc.Name, Arguments: args},
		})
	}
	return step.Content, calls, nil
}

// ChatCompletion returns the scripted analysis.
func (c *ScriptedClient) ChatCompletion(ctx context.Context, messages []core.Message) (string, error) {
	if c.script.Analysis == "" {
		return "", fmt.Errorf("scripted: no analysis response")
	}
	return c.script.Analysis, nil
}

// Received returns copies of the conversations passed to ChatCompletionWithTools.
func (c *ScriptedClient) Received() [][]core.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]core.Message, len(c.received))
	for i, msgs := range c.received {
		out[i] = append([]core.Message(nil), msgs...)
	}
	return out
}

// Calls is the number of ChatCompletionWithTools calls so far.
func (c *ScriptedClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.received)
}

func encodeArguments(v any) (string, error) {
	switch a := v.(type) {
	case nil:
		return "{}", nil
	case string:
		return a, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode arguments: %w", err)
	}
	return string(b), nil
}
