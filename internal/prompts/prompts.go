// Package prompts holds the prompt templates compiled into the binary and a
// small registry for rendering them.
package prompts

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed templates/*.txt
var templateFS embed.FS

// Template names known to the registry.
const (
	CondenseQuestion = "condense_question"
	ContextAnswer    = "context_answer"
	SimpleSystem     = "simple_system"
	ChatSummary      = "chat_summary"
)

var required = []string{CondenseQuestion, ContextAnswer, SimpleSystem, ChatSummary}

// Registry resolves template names to their text and renders placeholders.
type Registry struct {
	templates map[string]string
}

// NewRegistry loads every required template from the embedded filesystem.
// A missing or empty template is a startup failure.
func NewRegistry() (*Registry, error) {
	r := &Registry{templates: make(map[string]string, len(required))}
	for _, name := range required {
		data, err := templateFS.ReadFile("templates/" + name + ".txt")
		if err != nil {
			return nil, fmt.Errorf("prompt template %q missing: %w", name, err)
		}
		text := string(data)
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("prompt template %q is empty", name)
		}
		r.templates[name] = text
	}
	return r, nil
}

// Get returns the raw template text.
func (r *Registry) Get(name string) (string, error) {
	text, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("unknown prompt template %q", name)
	}
	return text, nil
}

// Render substitutes {placeholder} occurrences in the named template.
func (r *Registry) Render(name string, vars map[string]string) (string, error) {
	text, err := r.Get(name)
	if err != nil {
		return "", err
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text), nil
}
