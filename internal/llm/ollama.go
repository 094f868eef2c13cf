// Package llm provides the Ollama chat client.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/parleybot/parley/internal/config"
	"github.com/parleybot/parley/internal/httpkit"
)

// Sentinel errors distinguishing why a completion failed. Callers treat
// both as fatal for the current pipeline run.
var (
	// ErrUnavailable means the backend could not be reached or
	// answered with a non-OK status.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrTimeout means the request exceeded its deadline or was
	// cancelled mid-flight.
	ErrTimeout = errors.New("backend timeout")
)

// Message represents a chat message for the backend.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// Client is a client for the Ollama chat API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	options    map[string]any
	stream     bool
	logger     *slog.Logger
}

// Config holds client construction parameters.
type Config struct {
	// BaseURL of the Ollama server (default http://localhost:11434).
	BaseURL string
	// Options are free-form model parameters forwarded on every
	// request (temperature, num_predict, ...).
	Options map[string]any
	// Stream selects NDJSON streaming for Complete calls. The final
	// text is identical either way; streaming surfaces tokens earlier
	// to trace logging.
	Stream bool
	Logger *slog.Logger
}

// New creates an Ollama client.
func New(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// No client-level timeout: generation time is unbounded for
		// large models. Callers bound each request with a context.
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithLogger(logger),
		),
		options: cfg.Options,
		stream:  cfg.Stream,
		logger:  logger,
	}
}

// chatRequest is the request format for the Ollama chat API.
type chatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

// chatResponse is one response object from the Ollama chat API. For
// streaming requests a sequence of these arrives as NDJSON.
type chatResponse struct {
	Model   string  `json:"model"`
	Message Message `json:"message"`
	Done    bool    `json:"done"`
}

// StreamCallback is called for each streamed token.
type StreamCallback func(token string)

// Complete sends a chat completion request and returns the full
// response text, streaming or not per the client configuration.
func (c *Client) Complete(ctx context.Context, model string, messages []Message) (string, error) {
	var cb StreamCallback
	if c.stream && c.logger.Enabled(ctx, config.LevelTrace) {
		cb = func(token string) {
			c.logger.Log(ctx, config.LevelTrace, "token", "model", model, "content", token)
		}
	}
	if c.stream {
		return c.ChatStream(ctx, model, messages, cb)
	}
	return c.Chat(ctx, model, messages)
}

// Chat sends a non-streaming chat completion request.
func (c *Client) Chat(ctx context.Context, model string, messages []Message) (string, error) {
	body, err := c.do(ctx, model, messages, false)
	if err != nil {
		return "", err
	}
	defer body.Close()

	var resp chatResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return "", fmt.Errorf("decode response: %w: %w", err, ErrUnavailable)
	}
	return resp.Message.Content, nil
}

// ChatStream sends a streaming chat request, accumulating the NDJSON
// chunks into the final text. If callback is non-nil, tokens are
// forwarded to it as they arrive.
func (c *Client) ChatStream(ctx context.Context, model string, messages []Message, callback StreamCallback) (string, error) {
	body, err := c.do(ctx, model, messages, true)
	if err != nil {
		return "", err
	}
	defer body.Close()

	var content strings.Builder
	decoder := json.NewDecoder(body)
	for {
		var chunk chatResponse
		if err := decoder.Decode(&chunk); err != nil {
			if err == io.EOF {
				break
			}
			return "", c.wrapTransportErr(ctx, fmt.Errorf("decode stream chunk: %w", err))
		}

		if chunk.Message.Content != "" {
			content.WriteString(chunk.Message.Content)
			if callback != nil {
				callback(chunk.Message.Content)
			}
		}
		if chunk.Done {
			break
		}
	}

	return content.String(), nil
}

// do issues the chat request and returns the response body on HTTP 200.
func (c *Client) do(ctx context.Context, model string, messages []Message, stream bool) (io.ReadCloser, error) {
	req := chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   stream,
		Options:  c.options,
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.wrapTransportErr(ctx, err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := httpkit.ReadErrorBody(resp.Body, 2048)
		return nil, fmt.Errorf("API error %d: %s: %w", resp.StatusCode, msg, ErrUnavailable)
	}

	return resp.Body, nil
}

// wrapTransportErr classifies a transport failure as timeout or
// unavailable so the orchestrator can report the right failure mode.
func (c *Client) wrapTransportErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// Ping checks if the backend is reachable.
func (c *Client) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return c.wrapTransportErr(ctx, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error %d: %w", resp.StatusCode, ErrUnavailable)
	}
	return nil
}
