// Package llm streams completions straight from model providers.
//
// Hosted mode goes through the winky channel instead; these providers
// serve the api-key and local modes, where the machine talks to OpenAI,
// Gemini, or a local Ollama server directly.
package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/artasov/winky-cli/pkg/werrors"
)

// defaultTimeout bounds a whole streaming request. Matches the 120s the
// desktop build used for direct provider calls.
const defaultTimeout = 120 * time.Second

// maxErrorBodyBytes caps how much of a provider error body is read.
const maxErrorBodyBytes = 64 * 1024

// Message is one turn of the conversation sent to a provider.
type Message struct {
	Role    string
	Content string
}

// Request describes a single streamed completion.
type Request struct {
	Model    string
	System   string
	Messages []Message
}

// Provider streams a completion, invoking onDelta for each text chunk,
// and returns the full accumulated text. Cancelling ctx surfaces as a
// GENERATION_CANCELLED error.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request, onDelta func(delta string)) (string, error)
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultTimeout}
}

// readErrorBody drains up to maxErrorBodyBytes of an error response.
func readErrorBody(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, maxErrorBodyBytes))
	return strings.TrimSpace(string(body))
}

// statusError maps a provider HTTP failure onto the error taxonomy.
func statusError(provider string, status int, body string) *werrors.Error {
	msg := fmt.Sprintf("%s request failed with status %d", provider, status)
	if body != "" {
		msg += ": " + body
	}
	err := werrors.New(werrors.ErrCodeGenerationFailed, msg)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return werrors.New(werrors.ErrCodeUnauthorized, msg).
			WithUserMessage(fmt.Sprintf("The %s API rejected your key. Check it in the config.", provider))
	case status == http.StatusTooManyRequests:
		return err.WithRetryable(true).
			WithUserMessage(fmt.Sprintf("The %s API is rate limiting requests. Try again shortly.", provider))
	case status >= 500:
		return err.WithRetryable(true).
			WithUserMessage(fmt.Sprintf("The %s API is unavailable right now.", provider))
	default:
		return err.WithUserMessage("Generation failed. Check the model name and try again.")
	}
}

// streamFailure classifies a mid-stream error, preferring cancellation
// when the caller's context is already done.
func streamFailure(ctx context.Context, provider string, err error) error {
	if ctx.Err() != nil {
		return werrors.Wrap(ctx.Err(), werrors.ErrCodeGenerationCancelled, "generation cancelled")
	}
	return werrors.Wrap(err, werrors.ErrCodeGenerationFailed, provider+" stream failed").
		WithRetryable(true).
		WithUserMessage("The connection to the model dropped. Try again.")
}
