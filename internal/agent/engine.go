// Package agent implements the conversation orchestration engine: the
// pipeline that turns an inbound message plus persisted history into
// zero or one outbound replies, including the reply/observe gate, the
// tool round loop, and outbound chunking.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/parleybot/parley/internal/events"
	"github.com/parleybot/parley/internal/gate"
	"github.com/parleybot/parley/internal/history"
	"github.com/parleybot/parley/internal/llm"
	"github.com/parleybot/parley/internal/prompt"
	"github.com/parleybot/parley/internal/tools"
)

// Completer is the inference backend call the engine depends on.
type Completer interface {
	Complete(ctx context.Context, model string, messages []llm.Message) (string, error)
}

// Transport delivers outbound text and typing signals to a chat
// service. SendTyping is best effort; delivery errors there are logged
// and ignored.
type Transport interface {
	SendText(ctx context.Context, key, text string) error
	SendTyping(ctx context.Context, key string) error
}

// Inbound is one message entering the pipeline.
type Inbound struct {
	// Key identifies the conversation ("tg-<chat id>").
	Key  string
	Text string
	// Sender is a display name, recorded on the turn whenever the
	// transport knows it. It is only rendered as a label in group
	// prompts.
	Sender string
	// Group marks multi-party conversations; sender labels are only
	// rendered there.
	Group bool
	// Bypass forces a reply without consulting the decision gate
	// (direct reply to the bot, or a mention).
	Bypass bool
}

// Outcome is the terminal state of one pipeline run.
type Outcome int

const (
	// Sent means a reply was delivered.
	Sent Outcome = iota
	// Observed means the gate chose to stay silent; the inbound turn
	// is persisted but nothing goes out.
	Observed
)

// Config carries the engine's tunables.
type Config struct {
	Model        string
	SystemPrompt string
	// MaxToolRounds bounds the tool loop; 0 means DefaultToolRounds.
	MaxToolRounds int
	// ChunkSize is the outbound message limit; 0 means
	// DefaultChunkSize.
	ChunkSize int
	// TypingInterval is the cadence of typing signals while a
	// completion is in flight; 0 means DefaultTypingInterval.
	TypingInterval time.Duration
}

const (
	// DefaultToolRounds bounds tool iterations per inbound message. A
	// buggy tool plus a persistent model could otherwise loop forever.
	DefaultToolRounds = 3

	// DefaultTypingInterval refreshes the transport's typing state
	// often enough that it never lapses (Telegram expires it after 5s).
	DefaultTypingInterval = 4 * time.Second
)

// Engine drives the per-message pipeline. Runs for distinct
// conversation keys proceed in parallel; runs for the same key are
// serialized to keep history ordering intact.
type Engine struct {
	store     *history.Store
	gate      *gate.Gate
	llm       Completer
	registry  *tools.Registry
	transport Transport
	bus       *events.Bus
	logger    *slog.Logger
	cfg       Config
	locks     *keyedMutex
}

// New creates an engine. The bus may be nil; publishing to a nil bus
// is a no-op.
func New(store *history.Store, g *gate.Gate, completer Completer, registry *tools.Registry, transport Transport, bus *events.Bus, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultToolRounds
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.TypingInterval <= 0 {
		cfg.TypingInterval = DefaultTypingInterval
	}
	return &Engine{
		store:     store,
		gate:      g,
		llm:       completer,
		registry:  registry,
		transport: transport,
		bus:       bus,
		logger:    logger,
		cfg:       cfg,
		locks:     newKeyedMutex(),
	}
}

// Process runs one inbound message through the pipeline. It returns
// the terminal outcome, or an error when persistence, the backend, or
// delivery failed. History committed before the failure is never
// rolled back.
func (e *Engine) Process(ctx context.Context, msg Inbound) (Outcome, error) {
	release := e.locks.Acquire(msg.Key)
	defer release()

	e.bus.Publish(events.Event{
		Source: events.SourceEngine,
		Kind:   events.KindMessageReceived,
		Data:   map[string]any{"key": msg.Key, "group": msg.Group, "bypass": msg.Bypass},
	})

	turn := history.Turn{Role: history.RoleUser, Content: msg.Text, Sender: msg.Sender}
	if err := e.store.Append(msg.Key, turn); err != nil {
		return 0, fmt.Errorf("appending user turn: %w", err)
	}

	recent, err := e.store.Recent(msg.Key, gate.Window)
	if err != nil {
		return 0, fmt.Errorf("loading recent turns: %w", err)
	}
	decision := e.gate.ShouldReply(ctx, recent, msg.Bypass)
	e.bus.Publish(events.Event{
		Source: events.SourceEngine,
		Kind:   events.KindGateDecision,
		Data:   map[string]any{"key": msg.Key, "decision": decision.String()},
	})
	if decision == gate.Observe {
		e.logger.Debug("observing, no reply", "key", msg.Key)
		e.bus.Publish(events.Event{
			Source: events.SourceEngine,
			Kind:   events.KindRequestComplete,
			Data:   map[string]any{"key": msg.Key, "outcome": "observed"},
		})
		return Observed, nil
	}

	reply, err := e.resolve(ctx, msg)
	if err != nil {
		return 0, err
	}

	if err := e.store.Append(msg.Key, history.Turn{Role: history.RoleAssistant, Content: reply}); err != nil {
		return 0, fmt.Errorf("appending assistant turn: %w", err)
	}

	chunks := SplitMessage(reply, e.cfg.ChunkSize)
	sent := 0
	for i, chunk := range chunks {
		// Telegram rejects empty text; an empty completion still
		// commits the assistant turn but delivers nothing.
		if chunk == "" {
			continue
		}
		if err := e.transport.SendText(ctx, msg.Key, chunk); err != nil {
			return 0, fmt.Errorf("delivering chunk %d/%d: %w", i+1, len(chunks), err)
		}
		sent++
	}
	e.bus.Publish(events.Event{
		Source: events.SourceEngine,
		Kind:   events.KindChunksSent,
		Data:   map[string]any{"key": msg.Key, "chunks": sent},
	})
	e.bus.Publish(events.Event{
		Source: events.SourceEngine,
		Kind:   events.KindRequestComplete,
		Data:   map[string]any{"key": msg.Key, "outcome": "sent"},
	})
	return Sent, nil
}

// resolve obtains the final reply text: the main completion followed
// by the bounded tool round loop. The typing signal runs for the whole
// duration and stops the moment the final text is known.
func (e *Engine) resolve(ctx context.Context, msg Inbound) (string, error) {
	typingCtx, stopTyping := context.WithCancel(ctx)
	defer stopTyping()
	go e.typingLoop(typingCtx, msg.Key)

	reply, err := e.complete(ctx, msg.Key, msg.Group)
	if err != nil {
		return "", err
	}

	for round := 0; round < e.cfg.MaxToolRounds; round++ {
		code, found := tools.ExtractCall(reply)
		if !found {
			break
		}

		output, final := e.runTool(ctx, msg.Key, code)
		if final {
			break
		}

		wrapped := tools.WrapOutput(output)
		if err := e.store.Append(msg.Key, history.Turn{Role: history.RoleUser, Content: wrapped}); err != nil {
			return "", fmt.Errorf("appending tool output: %w", err)
		}

		reply, err = e.complete(ctx, msg.Key, msg.Group)
		if err != nil {
			return "", err
		}
	}
	return reply, nil
}

// runTool parses and executes one tool_code block. Execution failures
// are surfaced to the model as output text so it can self-correct; only
// a malformed call ends the loop, with final=true telling the caller to
// use the surrounding reply verbatim.
func (e *Engine) runTool(ctx context.Context, key, code string) (output string, final bool) {
	e.bus.Publish(events.Event{
		Source: events.SourceEngine,
		Kind:   events.KindToolCall,
		Data:   map[string]any{"key": key, "code": code},
	})

	call, err := e.registry.Parse(code)
	if err != nil {
		var parseErr *tools.ParseError
		if errors.As(err, &parseErr) {
			e.logger.Warn("malformed tool call, using reply as-is", "key", key, "error", err)
			return "", true
		}
		// Unknown tool: tell the model instead of aborting.
		output = fmt.Sprintf("Error executing tool: %v", err)
	} else {
		out, err := e.registry.ExecuteCall(ctx, call)
		if err != nil {
			output = fmt.Sprintf("Error executing tool: %v", err)
		} else {
			output = out
		}
	}

	e.bus.Publish(events.Event{
		Source: events.SourceEngine,
		Kind:   events.KindToolDone,
		Data:   map[string]any{"key": key, "output_len": len(output)},
	})
	return output, false
}

// complete assembles the prompt over the full persisted window and
// invokes the backend.
func (e *Engine) complete(ctx context.Context, key string, group bool) (string, error) {
	turns, err := e.store.Load(key)
	if err != nil {
		return "", fmt.Errorf("loading history: %w", err)
	}
	messages := prompt.Assemble(e.cfg.SystemPrompt, turns, group)

	e.bus.Publish(events.Event{
		Source: events.SourceEngine,
		Kind:   events.KindLLMCall,
		Data:   map[string]any{"key": key, "model": e.cfg.Model, "messages": len(messages)},
	})
	reply, err := e.llm.Complete(ctx, e.cfg.Model, messages)
	if err != nil {
		return "", fmt.Errorf("completion failed: %w", err)
	}
	e.bus.Publish(events.Event{
		Source: events.SourceEngine,
		Kind:   events.KindLLMResponse,
		Data:   map[string]any{"key": key, "chars": len(reply)},
	})
	return reply, nil
}

// typingLoop keeps the transport's typing indicator alive until ctx is
// cancelled. The first signal goes out immediately.
func (e *Engine) typingLoop(ctx context.Context, key string) {
	ticker := time.NewTicker(e.cfg.TypingInterval)
	defer ticker.Stop()
	for {
		if err := e.transport.SendTyping(ctx, key); err != nil && ctx.Err() == nil {
			e.logger.Debug("typing signal failed", "key", key, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Reset clears a conversation's history. Used by the transport's
// /reset command.
func (e *Engine) Reset(key string) error {
	release := e.locks.Acquire(key)
	defer release()

	cleared, err := e.store.Count(key)
	if err != nil {
		cleared = 0
	}
	if err := e.store.Reset(key); err != nil {
		return fmt.Errorf("resetting history: %w", err)
	}
	e.logger.Info("history cleared", "key", key, "turns", cleared)
	e.bus.Publish(events.Event{
		Source: events.SourceEngine,
		Kind:   events.KindHistoryReset,
		Data:   map[string]any{"key": key, "turns_cleared": cleared},
	})
	return nil
}
