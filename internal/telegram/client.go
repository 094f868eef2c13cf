package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/parleybot/parley/internal/buildinfo"
	"github.com/parleybot/parley/internal/httpkit"
)

const defaultAPIBase = "https://api.telegram.org"

// DefaultPollTimeout is the getUpdates long-poll window in seconds.
const DefaultPollTimeout = 30

// Client is a minimal Telegram Bot API client covering what the bridge
// needs: getMe, getUpdates long-polling, sendMessage, and
// sendChatAction.
type Client struct {
	baseURL     string
	token       string
	pollTimeout int
	httpClient  *http.Client
	logger      *slog.Logger
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// Token is the bot token from @BotFather.
	Token string
	// BaseURL overrides the API host, used in tests. Empty means the
	// production endpoint.
	BaseURL string
	// PollTimeoutSec is the long-poll window; 0 means
	// DefaultPollTimeout.
	PollTimeoutSec int
	Logger         *slog.Logger
}

// NewClient creates a Telegram Bot API client.
func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := cfg.BaseURL
	if base == "" {
		base = defaultAPIBase
	}
	timeout := cfg.PollTimeoutSec
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	return &Client{
		baseURL:     base,
		token:       cfg.Token,
		pollTimeout: timeout,
		// No client-level timeout: getUpdates holds the connection
		// open for the poll window. Per-call bounds come from ctx.
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithUserAgent(buildinfo.UserAgent()),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

// apiResponse is the Bot API envelope wrapping every method result.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	Description string          `json:"description,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
}

// call invokes a Bot API method with a JSON body and decodes the
// result envelope into out (which may be nil).
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encoding %s params: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if !envelope.OK {
		return fmt.Errorf("%s failed: %s (code %d)", method, envelope.Description, envelope.ErrorCode)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("decoding %s result: %w", method, err)
		}
	}
	return nil
}

// GetMe returns the bot's own account, used at startup to learn the
// username for mention detection.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var me User
	if err := c.call(ctx, "getMe", struct{}{}, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// GetUpdates long-polls for new updates past the given offset. The
// call blocks up to the poll window when no updates are pending.
func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	params := map[string]any{
		"offset":          offset,
		"timeout":         c.pollTimeout,
		"allowed_updates": []string{"message"},
	}

	// Give the HTTP exchange headroom past the server-side window.
	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.pollTimeout+10)*time.Second)
	defer cancel()

	var updates []Update
	if err := c.call(ctx, "getUpdates", params, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SendMessage delivers text to a chat and returns the sent message.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) (*Message, error) {
	params := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	var msg Message
	if err := c.call(ctx, "sendMessage", params, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendTyping shows the "typing…" indicator in a chat. Telegram expires
// it after about five seconds, so callers refresh it periodically.
func (c *Client) SendTyping(ctx context.Context, chatID int64) error {
	params := map[string]any{
		"chat_id": chatID,
		"action":  "typing",
	}
	return c.call(ctx, "sendChatAction", params, nil)
}
