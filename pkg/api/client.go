// Package api is the REST client for the winky backend. Endpoints live under
// /api/v1 and follow the backend router's trailing-slash convention; error
// bodies are parsed into the shared error taxonomy with a bounded read.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/artasov/winky-cli/pkg/werrors"
)

const (
	// DefaultBaseURL is the hosted winky backend.
	DefaultBaseURL = "https://xlartas.com/api/v1"
	// LocalBaseURL points at a backend running on the developer's machine.
	LocalBaseURL = "http://127.0.0.1:8000/api/v1"

	defaultTimeout    = 120 * time.Second
	maxErrorBodyBytes = 64 << 10
)

// Options configures a Client. The zero value targets the hosted backend
// without authentication.
type Options struct {
	BaseURL string
	Token   string
	// Timeout bounds one request end to end. Defaults to two minutes, the
	// longest the backend takes on transcription uploads.
	Timeout time.Duration
	// Transport lets callers inject the network-logging round tripper.
	Transport http.RoundTripper
	Limiter   *rate.Limiter
}

// Client talks to the winky REST API. Safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter

	mu    sync.RWMutex
	token string
}

// New builds a client from options.
func New(opts Options) (*Client, error) {
	raw := strings.TrimSpace(opts.BaseURL)
	if raw == "" {
		raw = DefaultBaseURL
	}
	// Scheme-less hosts parse as paths; assume https.
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, werrors.Wrap(err, werrors.ErrCodeInvalidInput, "invalid base url")
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(8), 16)
	}

	return &Client{
		baseURL: parsed,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		limiter: limiter,
		token:   strings.TrimSpace(opts.Token),
	}, nil
}

// BaseURL reports the resolved backend base.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// SetToken replaces the bearer token used for subsequent requests.
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

// endpoint joins p onto the base path. path.Join strips trailing slashes,
// which the backend's router treats as different routes, so it is restored.
func (c *Client) endpoint(p string, query url.Values) string {
	u := *c.baseURL
	u.Path = path.Join(strings.TrimSuffix(u.Path, "/"), p)
	if strings.HasSuffix(p, "/") && !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, p string, query url.Values, body any) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, werrors.Wrap(err, werrors.ErrCodeInvalidInput, "encode request body")
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(p, query), rd)
	if err != nil {
		return nil, werrors.Wrap(err, werrors.ErrCodeAPIRequest, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if tok := c.bearer(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return req, nil
}

// do runs one request and decodes the response into out when non-nil.
func (c *Client) do(ctx context.Context, method, p string, query url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return werrors.Wrap(err, werrors.ErrCodeAPIRequest, "rate limit wait")
	}
	req, err := c.newRequest(ctx, method, p, query, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return werrors.Wrap(err, werrors.ErrCodeAPIRequest, "request failed").
			WithContext("path", p).
			WithRetryable(true).
			WithUserMessage("Couldn't reach the server. Check your connection.")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusError(resp, p)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return werrors.Wrap(err, werrors.ErrCodeAPIResponse, "decode response").
			WithContext("path", p)
	}
	return nil
}

func statusError(resp *http.Response, p string) error {
	data := readBodyLimited(resp.Body, maxErrorBodyBytes)
	code, msg := parseErrorBody(data)
	if msg == "" {
		msg = resp.Status
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return werrors.New(werrors.ErrCodeUnauthorized, msg).
			WithContext("path", p).
			WithContext("status", resp.StatusCode).
			WithUserMessage("Sign in to continue.").
			WithRemediation("Check the api token in the config file.")
	case resp.StatusCode == http.StatusPaymentRequired || code == "insufficient_balance":
		return werrors.New(werrors.ErrCodeInsufficientCredits, msg).
			WithContext("path", p).
			WithContext("status", resp.StatusCode).
			WithUserMessage("Not enough credits. Top up your balance and try again.")
	default:
		werr := werrors.New(werrors.ErrCodeBackendError, msg).
			WithContext("path", p).
			WithContext("status", resp.StatusCode).
			WithRetryable(resp.StatusCode >= 500).
			WithUserMessage(msg)
		if code != "" {
			werr = werr.WithContext("backend_code", code)
		}
		return werr
	}
}

// errorEnvelope covers the two failure shapes the backend emits:
// {"code","message"} from winky handlers and {"detail"} from the framework.
type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
	Error   string `json:"error"`
}

func parseErrorBody(data []byte) (code, message string) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return "", ""
	}
	var env errorEnvelope
	if err := json.Unmarshal(trimmed, &env); err == nil {
		msg := strings.TrimSpace(env.Message)
		if msg == "" {
			msg = strings.TrimSpace(env.Detail)
		}
		if msg == "" {
			msg = strings.TrimSpace(env.Error)
		}
		if msg != "" {
			return strings.TrimSpace(env.Code), msg
		}
	}
	return "", string(trimmed)
}

func readBodyLimited(r io.Reader, maxBytes int64) []byte {
	if r == nil || maxBytes <= 0 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(r, maxBytes))
	return data
}

// StatusOf returns the HTTP status recorded on a backend error, or 0 for
// errors that never reached the server.
func StatusOf(err error) int {
	for e := err; e != nil; e = errors.Unwrap(e) {
		werr, ok := e.(*werrors.Error)
		if !ok || werr.Context == nil {
			continue
		}
		if status, ok := werr.Context["status"].(int); ok {
			return status
		}
	}
	return 0
}
