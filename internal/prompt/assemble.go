// Package prompt builds model-input payloads from persisted history.
// Assembly is pure: no I/O, deterministic for identical inputs.
package prompt

import (
	"fmt"
	"strings"

	"github.com/parleybot/parley/internal/history"
	"github.com/parleybot/parley/internal/llm"
)

// Assemble produces the backend message list: an optional system block
// followed by the turns in order. When labelSenders is set (group
// conversations), each user turn carrying a sender identity renders as
// "<content> (sent by <sender>)" so the model can tell speakers apart.
func Assemble(systemPrompt string, turns []history.Turn, labelSenders bool) []llm.Message {
	messages := make([]llm.Message, 0, len(turns)+1)

	if systemPrompt != "" {
		messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})
	}

	for _, t := range turns {
		messages = append(messages, llm.Message{
			Role:    t.Role,
			Content: renderContent(t, labelSenders),
		})
	}

	return messages
}

// WithTools appends tool-calling guidance to a base system prompt.
// toolList is one "name(params): description" line per tool, as
// produced by the tool registry.
func WithTools(base, toolList string) string {
	if strings.TrimSpace(toolList) == "" {
		return base
	}
	var b strings.Builder
	b.WriteString(base)
	if base != "" {
		b.WriteString("\n\n")
	}
	b.WriteString("You may call one tool per reply by emitting a fenced block:\n")
	b.WriteString("```tool_code\ntool_name(\"argument\")\n```\n")
	b.WriteString("Available tools:\n")
	b.WriteString(toolList)
	return b.String()
}

// Transcript renders turns as "role: content" lines for the decision
// gate, sender-labeled the same way as Assemble.
func Transcript(turns []history.Turn) string {
	lines := make([]string, len(turns))
	for i, t := range turns {
		lines[i] = fmt.Sprintf("%s: %s", t.Role, renderContent(t, true))
	}
	return strings.Join(lines, "\n")
}

func renderContent(t history.Turn, labelSenders bool) string {
	if labelSenders && t.Role == history.RoleUser && t.Sender != "" {
		return fmt.Sprintf("%s (sent by %s)", t.Content, t.Sender)
	}
	return t.Content
}
