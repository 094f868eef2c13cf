// Package gate implements the reply/observe decision for busy group
// conversations. The gate is stateless: a pure function of the recent
// turns, the bypass flag, and one cheap backend call.
package gate

import (
	"context"
	"log/slog"
	"strings"

	"github.com/parleybot/parley/internal/history"
	"github.com/parleybot/parley/internal/llm"
	"github.com/parleybot/parley/internal/prompt"
)

// Outcome is the gate's verdict for one inbound message.
type Outcome int

const (
	// Reply means the pipeline proceeds to generate an answer.
	Reply Outcome = iota
	// Observe means the message is recorded but not answered.
	Observe
)

// String returns the lowercase outcome name.
func (o Outcome) String() string {
	if o == Observe {
		return "observe"
	}
	return "reply"
}

// Window is how many trailing turns the gate shows the decision model.
const Window = 5

// instruction is the fixed decision prompt. The model is asked for a
// single-word verdict; anything that is not exactly "observe" is
// treated as "reply".
const instruction = "Based on the following conversation, should you reply to the user " +
	"or simply observe and add to history? Answer exactly with 'reply' or 'observe'. " +
	"If unsure, answer 'reply'."

// Completer is the single backend call the gate needs.
type Completer interface {
	Complete(ctx context.Context, model string, messages []llm.Message) (string, error)
}

// Gate decides reply-vs-observe using a secondary model.
type Gate struct {
	llm    Completer
	model  string
	logger *slog.Logger
}

// New creates a decision gate backed by the given model.
func New(client Completer, model string, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{llm: client, model: model, logger: logger}
}

// ShouldReply returns the verdict for a message whose conversation has
// the given recent turns. A true bypass (direct reply to the bot, or
// mention) forces Reply without consulting the backend at all.
//
// The gate fails open toward replying: backend errors, empty output,
// and anything that is not exactly "observe" (case-insensitive) all
// yield Reply. Going silent on a user is the worse failure mode.
func (g *Gate) ShouldReply(ctx context.Context, recent []history.Turn, bypass bool) Outcome {
	if bypass {
		return Reply
	}

	if len(recent) > Window {
		recent = recent[len(recent)-Window:]
	}

	messages := []llm.Message{
		{Role: "system", Content: instruction},
		{Role: "user", Content: prompt.Transcript(recent)},
	}

	verdict, err := g.llm.Complete(ctx, g.model, messages)
	if err != nil {
		g.logger.Warn("gate decision failed, defaulting to reply",
			"model", g.model,
			"error", err,
		)
		return Reply
	}

	return Parse(verdict)
}

// Parse maps raw decision-model output to an Outcome. Only a trimmed,
// case-insensitive match on "observe" observes; malformed, empty, or
// ambiguous output replies.
func Parse(verdict string) Outcome {
	if strings.EqualFold(strings.TrimSpace(verdict), "observe") {
		return Observe
	}
	return Reply
}
