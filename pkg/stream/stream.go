// Package stream drives one generation over the backend's /ws/llm channel.
// Each Generate call owns one WebSocket connection and settles exactly once:
// with a result on done, or with an error on error, cancelled, or transport
// failure.
package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/artasov/winky-cli/pkg/logging"
	"github.com/artasov/winky-cli/pkg/observability"
	"github.com/artasov/winky-cli/pkg/werrors"
)

const (
	// DefaultBaseURL is the hosted backend's site root; the LLM channel
	// hangs off it at /ws/llm.
	DefaultBaseURL = "https://xlartas.com"

	defaultDialTimeout = 15 * time.Second
	// readIdleTimeout bounds the gap between server events. A backend that
	// goes quiet mid-stream settles as a transport failure instead of
	// hanging the panel.
	readIdleTimeout = 120 * time.Second
	cancelFrameWait = 2 * time.Second
)

// Request describes one generation ask. ChatID is empty for the first
// message of a new chat; ParentMessageID is empty when continuing from the
// root.
type Request struct {
	Prompt          string
	ModelLevel      string
	ChatID          string
	ParentMessageID string
}

// Result is the settled outcome of one stream.
type Result struct {
	Text      string
	MessageID string
	ChatID    string
	Credits   float64
}

// Options configures a Client. BaseURL is the backend site root, not the
// /api/v1 prefix.
type Options struct {
	BaseURL     string
	Token       string
	DialTimeout time.Duration
	Logger      *logging.Logger
}

// Client opens generation streams. Safe for concurrent use; every Generate
// call dials its own connection.
type Client struct {
	wsURL       string
	dialTimeout time.Duration
	logger      *logging.Logger

	mu    sync.RWMutex
	token string
}

// New builds a stream client from options.
func New(opts Options) (*Client, error) {
	raw := strings.TrimSpace(opts.BaseURL)
	if raw == "" {
		raw = DefaultBaseURL
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, werrors.Wrap(err, werrors.ErrCodeInvalidInput, "invalid stream base url")
	}
	switch parsed.Scheme {
	case "http", "ws":
		parsed.Scheme = "ws"
	default:
		parsed.Scheme = "wss"
	}
	parsed.Path = path.Join(strings.TrimSuffix(parsed.Path, "/"), "/ws/llm")

	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	return &Client{
		wsURL:       parsed.String(),
		dialTimeout: timeout,
		logger:      opts.Logger,
		token:       strings.TrimSpace(opts.Token),
	}, nil
}

// URL reports the resolved websocket endpoint.
func (c *Client) URL() string { return c.wsURL }

// SetToken replaces the bearer token used for subsequent streams.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = strings.TrimSpace(token)
	c.mu.Unlock()
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

type clientFrame struct {
	Action          string `json:"action"`
	Prompt          string `json:"prompt,omitempty"`
	ModelLevel      string `json:"model_level,omitempty"`
	ChatID          string `json:"chat_id,omitempty"`
	ParentMessageID string `json:"parent_message_id,omitempty"`
}

type serverEvent struct {
	Type      string  `json:"type"`
	Text      string  `json:"text,omitempty"`
	MessageID string  `json:"message_id,omitempty"`
	ChatID    string  `json:"chat_id,omitempty"`
	Credits   float64 `json:"credits,omitempty"`
	Code      string  `json:"code,omitempty"`
	Message   string  `json:"message,omitempty"`
}

// Generate opens the LLM channel, sends the generate frame, and pumps
// server events until a terminal one arrives. Deltas are forwarded to
// onDelta as they arrive and accumulated into the result text. Cancelling
// ctx sends a best-effort cancel frame, tears the connection down, and
// settles with the cancellation error even when a done event races in.
func (c *Client) Generate(ctx context.Context, req Request, onDelta func(string)) (*Result, error) {
	started := time.Now()
	var (
		ttft    time.Duration
		chunks  int
		byteLen int
		outcome = "transport_error"
	)
	defer func() {
		observability.SetAttributes(ctx, observability.AttrStreamOutcome.String(outcome))
		c.logger.Info(logging.CategoryStream, "stream_settled", "", map[string]any{
			"outcome":     outcome,
			"ttft_ms":     ttft.Milliseconds(),
			"chunks":      chunks,
			"bytes":       byteLen,
			"duration_ms": time.Since(started).Milliseconds(),
		})
	}()

	header := http.Header{}
	if tok := c.bearer(); tok != "" {
		header.Set("Authorization", "Bearer "+tok)
	}
	dialCtx, cancelDial := context.WithTimeout(ctx, c.dialTimeout)
	conn, resp, err := websocket.Dial(dialCtx, c.wsURL, &websocket.DialOptions{HTTPHeader: header})
	cancelDial()
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, werrors.Wrap(err, werrors.ErrCodeUnauthorized, "stream dial rejected").
				WithUserMessage("Sign in to continue.")
		}
		return nil, werrors.Wrap(err, werrors.ErrCodeStreamTransport, "stream dial failed").
			WithRetryable(true).
			WithUserMessage("Couldn't connect to the server. Check your connection.")
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream settled")
	conn.SetReadLimit(1 << 20)

	frame, err := json.Marshal(clientFrame{
		Action:          "generate",
		Prompt:          req.Prompt,
		ModelLevel:      req.ModelLevel,
		ChatID:          req.ChatID,
		ParentMessageID: req.ParentMessageID,
	})
	if err != nil {
		return nil, werrors.Wrap(err, werrors.ErrCodeInvalidInput, "encode generate frame")
	}
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return nil, settleTransport(ctx, err)
	}

	// Reads run on a context detached from ctx so cancellation goes through
	// the watcher: cancel frame first, then close, then the read fails and
	// the cancellation error settles the call.
	readCtx := context.WithoutCancel(ctx)
	watcherDone := make(chan struct{})
	defer close(watcherDone)
	go func() {
		select {
		case <-watcherDone:
		case <-ctx.Done():
			frameCtx, cancel := context.WithTimeout(readCtx, cancelFrameWait)
			payload, _ := json.Marshal(clientFrame{Action: "cancel"})
			_ = conn.Write(frameCtx, websocket.MessageText, payload)
			cancel()
			_ = conn.Close(websocket.StatusNormalClosure, "cancelled")
		}
	}()

	var acc strings.Builder
	for {
		attemptCtx, cancelAttempt := context.WithTimeout(readCtx, readIdleTimeout)
		_, data, err := conn.Read(attemptCtx)
		cancelAttempt()
		if err != nil {
			if ctx.Err() != nil {
				outcome = "cancelled"
				return nil, cancelledErr(ctx.Err())
			}
			outcome = "transport_error"
			return nil, settleTransport(ctx, err)
		}
		if ttft == 0 {
			ttft = time.Since(started)
		}

		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			outcome = "protocol_error"
			return nil, werrors.Wrap(err, werrors.ErrCodeStreamProtocol, "malformed stream frame").
				WithUserMessage("The connection to the server broke. Try again.")
		}

		switch ev.Type {
		case "start":
		case "delta":
			chunks++
			byteLen += len(ev.Text)
			acc.WriteString(ev.Text)
			if onDelta != nil {
				onDelta(ev.Text)
			}
		case "done":
			if ctx.Err() != nil {
				// Cancellation was requested before the done arrived; the
				// caller already treats this generation as abandoned.
				outcome = "cancelled"
				return nil, cancelledErr(ctx.Err())
			}
			outcome = "done"
			return &Result{
				Text:      acc.String(),
				MessageID: ev.MessageID,
				ChatID:    ev.ChatID,
				Credits:   ev.Credits,
			}, nil
		case "cancelled":
			outcome = "cancelled"
			return nil, werrors.New(werrors.ErrCodeGenerationCancelled, "generation cancelled by server")
		case "error":
			outcome = "backend_error"
			return nil, mapServerError(ev)
		}
	}
}

func cancelledErr(cause error) error {
	return werrors.Wrap(cause, werrors.ErrCodeGenerationCancelled, "generation cancelled")
}

func settleTransport(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return cancelledErr(ctx.Err())
	}
	return werrors.Wrap(err, werrors.ErrCodeStreamTransport, "stream connection lost").
		WithRetryable(true).
		WithUserMessage("Connection to the server was lost. Try again.")
}

func mapServerError(ev serverEvent) error {
	msg := strings.TrimSpace(ev.Message)
	if msg == "" {
		msg = "generation failed"
	}
	if ev.Code == "insufficient_balance" {
		return werrors.New(werrors.ErrCodeInsufficientCredits, msg).
			WithContext("backend_code", ev.Code).
			WithUserMessage("Not enough credits to generate a response. Top up your balance and try again.")
	}
	werr := werrors.New(werrors.ErrCodeGenerationFailed, msg).
		WithUserMessage(msg)
	if ev.Code != "" {
		werr = werr.WithContext("backend_code", ev.Code)
	}
	return werr
}
