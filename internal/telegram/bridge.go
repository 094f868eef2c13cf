package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/parleybot/parley/internal/agent"
	"github.com/parleybot/parley/internal/events"
)

// handleTimeout bounds how long a single inbound message may be
// processed (gate + completion + tool rounds + delivery).
const handleTimeout = 5 * time.Minute

// pollErrorDelay is how long the update loop backs off after a failed
// getUpdates call before retrying.
const pollErrorDelay = 3 * time.Second

// queueDepth is the per-conversation backlog. When a chat's queue is
// full the poll loop blocks rather than reorder or drop messages.
const queueDepth = 32

// Runner abstracts the orchestration engine for testability. The real
// implementation is *agent.Engine.
type Runner interface {
	Process(ctx context.Context, msg agent.Inbound) (agent.Outcome, error)
	Reset(key string) error
}

// BridgeConfig holds the dependencies for a Bridge.
type BridgeConfig struct {
	Client *Client
	Runner Runner
	Logger *slog.Logger
	// Bus receives transport-level events; nil disables publishing.
	Bus *events.Bus
	// Username is the bot's own handle, without the leading @. Used
	// for mention detection; discovered via GetMe when empty.
	Username string
}

// Bridge long-polls Telegram for updates, routes each message through
// the engine, and replies via the client. Each conversation gets a
// single worker goroutine so its messages reach the engine in arrival
// order; distinct conversations run in parallel.
type Bridge struct {
	client   *Client
	runner   Runner
	logger   *slog.Logger
	bus      *events.Bus
	username string
	offset   int64

	mu     sync.Mutex
	queues map[string]chan *Message
}

// NewBridge creates a Telegram message bridge.
func NewBridge(cfg BridgeConfig) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		client:   cfg.Client,
		runner:   cfg.Runner,
		logger:   logger,
		bus:      cfg.Bus,
		username: strings.TrimPrefix(cfg.Username, "@"),
		queues:   make(map[string]chan *Message),
	}
}

// Start discovers the bot identity if needed and runs the update loop
// until ctx is cancelled.
func (b *Bridge) Start(ctx context.Context) error {
	if b.username == "" {
		me, err := b.client.GetMe(ctx)
		if err != nil {
			return fmt.Errorf("resolving bot identity: %w", err)
		}
		b.username = me.Username
	}
	b.logger.Info("telegram bridge started", "username", b.username)

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("telegram bridge shutting down")
			return nil
		default:
		}

		updates, err := b.client.GetUpdates(ctx, b.offset)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Warn("telegram poll failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pollErrorDelay):
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= b.offset {
				b.offset = update.UpdateID + 1
			}
			msg := update.Message
			if msg == nil || msg.Text == "" {
				continue
			}
			if msg.From != nil && msg.From.IsBot {
				continue
			}
			b.dispatch(ctx, msg)
		}
	}
}

// dispatch hands a message to its conversation's worker, starting one
// on first contact. Delivery order into the queue fixes the order the
// engine sees for that chat.
func (b *Bridge) dispatch(ctx context.Context, msg *Message) {
	key := ConversationKey(msg.Chat.ID)
	b.mu.Lock()
	queue, ok := b.queues[key]
	if !ok {
		queue = make(chan *Message, queueDepth)
		b.queues[key] = queue
		go b.conversationWorker(ctx, queue)
	}
	b.mu.Unlock()

	select {
	case queue <- msg:
	case <-ctx.Done():
	}
}

// conversationWorker drains one chat's queue until shutdown.
func (b *Bridge) conversationWorker(ctx context.Context, queue <-chan *Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-queue:
			b.handleMessage(ctx, msg)
		}
	}
}

// handleMessage processes one inbound message end to end.
func (b *Bridge) handleMessage(ctx context.Context, msg *Message) {
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	key := ConversationKey(msg.Chat.ID)
	sender := msg.From.DisplayName()

	b.logger.Info("telegram message received",
		"key", key,
		"sender", sender,
		"chat_type", msg.Chat.Type,
		"chat_title", msg.Chat.Title,
		"message_len", len(msg.Text),
	)
	b.bus.Publish(events.Event{
		Source: events.SourceTelegram,
		Kind:   events.KindMessageReceived,
		Data: map[string]any{
			"key":       key,
			"sender":    sender,
			"chat_type": msg.Chat.Type,
		},
	})

	if strings.TrimSpace(msg.Text) == "/reset" {
		b.handleReset(ctx, key, msg.Chat.ID)
		return
	}

	outcome, err := b.runner.Process(ctx, agent.Inbound{
		Key:    key,
		Text:   msg.Text,
		Sender: sender,
		Group:  msg.Chat.IsGroup(),
		Bypass: b.isBypass(msg),
	})
	if err != nil {
		b.logger.Error("telegram message processing failed",
			"key", key,
			"error", err,
		)
		return
	}
	b.logger.Debug("telegram message processed",
		"key", key,
		"outcome", outcome == agent.Sent,
	)
}

// handleReset clears the conversation and confirms to the chat.
func (b *Bridge) handleReset(ctx context.Context, key string, chatID int64) {
	if err := b.runner.Reset(key); err != nil {
		b.logger.Error("history reset failed", "key", key, "error", err)
		return
	}
	if _, err := b.client.SendMessage(ctx, chatID, "Conversation history cleared."); err != nil {
		b.logger.Warn("reset confirmation failed", "key", key, "error", err)
	}
}

// isBypass reports whether the message directly addresses the bot: a
// reply to one of the bot's messages, or an @mention of its username.
func (b *Bridge) isBypass(msg *Message) bool {
	if reply := msg.ReplyToMessage; reply != nil && reply.From != nil {
		if reply.From.IsBot || strings.EqualFold(reply.From.Username, b.username) {
			return true
		}
	}
	if b.username != "" &&
		strings.Contains(strings.ToLower(msg.Text), "@"+strings.ToLower(b.username)) {
		return true
	}
	return false
}

// ConversationKey renders a chat ID as the engine's conversation key.
func ConversationKey(chatID int64) string {
	return fmt.Sprintf("tg-%d", chatID)
}

// ParseConversationKey recovers the chat ID from a conversation key.
func ParseConversationKey(key string) (int64, error) {
	rest, ok := strings.CutPrefix(key, "tg-")
	if !ok {
		return 0, fmt.Errorf("not a telegram conversation key: %q", key)
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad chat id in key %q: %w", key, err)
	}
	return id, nil
}

// Transport adapts the client to the engine's outbound interface.
type Transport struct {
	client *Client
}

// NewTransport wraps a client for engine use.
func NewTransport(client *Client) *Transport {
	return &Transport{client: client}
}

// SendText delivers one chunk to the conversation's chat.
func (t *Transport) SendText(ctx context.Context, key, text string) error {
	chatID, err := ParseConversationKey(key)
	if err != nil {
		return err
	}
	_, err = t.client.SendMessage(ctx, chatID, text)
	return err
}

// SendTyping refreshes the typing indicator for the conversation.
func (t *Transport) SendTyping(ctx context.Context, key string) error {
	chatID, err := ParseConversationKey(key)
	if err != nil {
		return err
	}
	return t.client.SendTyping(ctx, chatID)
}
