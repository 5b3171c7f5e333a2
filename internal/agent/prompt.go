package agent

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/agentcheck/agentcheck/internal/agent/templates"
	"github.com/agentcheck/agentcheck/internal/core"
)

// Template names the controller renders.
const (
	PromptSystem = "system.tmpl"
	PromptCase   = "case.tmpl"
)

// PromptRenderer renders a named prompt template.
type PromptRenderer interface {
	Render(name string, vars PromptVars) (string, error)
}

// PromptVars is the data available to prompt templates.
type PromptVars struct {
	Certificate         core.Certificate
	Authority           *core.Authority
	Correspondence      string
	Reply               *core.Reply
	Tools               []string
	MaxIterations       int
	ConfidenceThreshold float64
}

// TemplateRenderer renders text/template prompts.
type TemplateRenderer struct {
	t *template.Template
}

// NewTemplateRenderer parses the embedded prompts. When configDir is set,
// any *.tmpl in configDir/templates replaces the embedded file of the same name.
func NewTemplateRenderer(configDir string) (*TemplateRenderer, error) {
	t, err := template.New("prompts").Option("missingkey=error").ParseFS(templates.Default(), "*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse embedded prompts: %w", err)
	}
	if configDir != "" {
		matches, _ := filepath.Glob(filepath.Join(configDir, "templates", "*.tmpl"))
		for _, path := range matches {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read prompt %s: %w", path, err)
			}
			if _, err := t.New(filepath.Base(path)).Parse(string(data)); err != nil {
				return nil, fmt.Errorf("parse prompt %s: %w", path, err)
			}
		}
	}
	return &TemplateRenderer{t: t}, nil
}

// Render executes the template called name.
func (r *TemplateRenderer) Render(name string, vars PromptVars) (string, error) {
	var buf bytes.Buffer
	if err := r.t.ExecuteTemplate(&buf, name, vars); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
