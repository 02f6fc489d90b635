// Package repair asks a language model to fix the syntax of a diagram
// definition that failed to render.
package repair

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ziadkadry99/chatdiagram/internal/llm"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// ErrEmptyOutput is returned when the model answers with nothing usable.
var ErrEmptyOutput = errors.New("model returned no code")

const systemPrompt = `You repair Mermaid diagram syntax.
Rules:
- Fix syntax errors only. Keep every node, edge, label and the diagram type.
- Do not add explanations, comments or Markdown code fences.
- Remove characters Mermaid cannot parse inside labels, such as unquoted parentheses.
- Output only the corrected Mermaid code.`

// Fixer produces corrected definitions.
type Fixer struct {
	provider llm.Provider
	model    string
}

// NewFixer creates a Fixer.
func NewFixer(p llm.Provider, model string) *Fixer {
	if model == "" {
		model = DefaultModel
	}
	return &Fixer{provider: p, model: model}
}

// Model returns the model used for repairs.
func (f *Fixer) Model() string { return f.model }

// Fix returns a corrected version of code. renderError, when known, is
// passed along to steer the model.
func (f *Fixer) Fix(ctx context.Context, code, renderError string) (string, error) {
	user := "Fix this Mermaid code:\n\n" + code
	if strings.TrimSpace(renderError) != "" {
		user += "\n\nThe renderer reported:\n" + strings.TrimSpace(renderError)
	}
	resp, err := f.provider.Complete(ctx, llm.CompletionRequest{
		Model: f.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: user},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("repairing diagram: %w", err)
	}
	fixed := StripFences(resp.Content)
	if fixed == "" {
		return "", ErrEmptyOutput
	}
	return fixed, nil
}

// StripFences removes a surrounding Markdown code fence, if any, and
// trims the result.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
