package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client is a minimal Telegram Bot API client. Each Call issues exactly one
// HTTP request and never retries.
type Client struct {
	apiBase    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// Option configures optional Client parameters.
type Option func(*Client)

// WithLimiter throttles outgoing calls (everything except getUpdates).
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a Telegram client for the given bot API base URL
// (e.g. "https://api.telegram.org/bot<token>"). requestTimeout must be longer
// than any long-poll timeout passed to GetUpdates.
func NewClient(apiBase string, requestTimeout time.Duration, opts ...Option) *Client {
	c := &Client{
		apiBase: strings.TrimRight(apiBase, "/"),
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BotURL builds the per-bot API base from a server URL and token.
func BotURL(server, token string) string {
	return strings.TrimRight(server, "/") + "/bot" + token
}

// envelope is the generic Telegram API response wrapper.
type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters,omitempty"`
}

// Call invokes a Bot API method with a JSON payload and decodes the result
// into out (which may be nil).
func (c *Client) Call(ctx context.Context, method string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram %s: marshal payload: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram %s: build request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Method: method, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Method: method, Err: fmt.Errorf("read body: %w", err)}
	}
	c.logger.Debug("telegram call",
		zap.String("method", method),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(started)),
	)

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &ProtocolError{Method: method, Status: resp.StatusCode, Err: err}
	}
	if !env.OK {
		apiErr := &APIError{Method: method, Code: env.ErrorCode, Description: env.Description}
		if env.Parameters != nil {
			apiErr.RetryAfter = env.Parameters.RetryAfter
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return &ProtocolError{Method: method, Status: resp.StatusCode, Err: errMissingResult}
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return &ProtocolError{Method: method, Status: resp.StatusCode, Err: fmt.Errorf("decode result: %w", err)}
	}
	return nil
}

func (c *Client) throttle(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram rate limiter: %w", err)
	}
	return nil
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
