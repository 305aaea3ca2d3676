// Package transcribe turns recorded audio into text.
//
// The speech mode in the config picks the route: the hosted backend
// (billed in credits), the user's own OpenAI or Gemini key, or a local
// fast-whisper server. Mode selection changes the request target and
// payload shape, nothing else about the contract.
package transcribe

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"context"

	"github.com/artasov/winky-cli/pkg/api"
	"github.com/artasov/winky-cli/pkg/config"
	"github.com/artasov/winky-cli/pkg/logging"
	"github.com/artasov/winky-cli/pkg/werrors"
)

// requestTimeout bounds one transcription end to end. Long clips take a
// while, so this matches the backend's two minute ceiling.
const requestTimeout = 120 * time.Second

// ConfigSource yields the current configuration. The config manager
// satisfies it, so mode changes apply to the next transcription without
// rewiring.
type ConfigSource interface {
	Config() *config.Config
}

// Options wires a Transcriber.
type Options struct {
	Source  ConfigSource
	Backend *api.Client
	Logger  *logging.Logger

	// Base URL overrides, mainly for tests. Empty means the public
	// endpoints (or the local defaults for whisper).
	OpenAIBaseURL  string
	GeminiBaseURL  string
	WhisperBaseURL string
}

// Transcriber dispatches speech to text across the configured modes.
type Transcriber struct {
	source  ConfigSource
	backend *api.Client
	logger  *logging.Logger

	openAIBase  string
	geminiBase  string
	whisperBase string
	httpClient  *http.Client
}

// New builds a Transcriber.
func New(opts Options) *Transcriber {
	openAIBase := opts.OpenAIBaseURL
	if openAIBase == "" {
		openAIBase = openAIAudioBaseURL
	}
	geminiBase := opts.GeminiBaseURL
	if geminiBase == "" {
		geminiBase = geminiAudioBaseURL
	}
	whisperBase := opts.WhisperBaseURL
	if whisperBase == "" {
		whisperBase = defaultWhisperBase()
	}
	return &Transcriber{
		source:      opts.Source,
		backend:     opts.Backend,
		logger:      opts.Logger,
		openAIBase:  strings.TrimRight(openAIBase, "/"),
		geminiBase:  strings.TrimRight(geminiBase, "/"),
		whisperBase: strings.TrimRight(whisperBase, "/"),
		httpClient:  &http.Client{Timeout: requestTimeout},
	}
}

// Transcribe recognizes speech in the audio clip and returns the text.
// An empty recognition result is its own error so callers can abort a
// voice flow early instead of sending a blank prompt.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if len(audio) == 0 {
		return "", werrors.New(werrors.ErrCodeInvalidInput, "no audio data")
	}

	cfg := t.source.Config()
	mode := cfg.Speech.Mode
	model := cfg.Speech.Model
	started := time.Now()

	var (
		text string
		err  error
	)
	switch mode {
	case config.ModeAPIKey:
		if config.IsGeminiModel(model) {
			text, err = t.gemini(ctx, cfg, audio, mimeType, model)
		} else {
			text, err = t.openAI(ctx, cfg, audio, mimeType, model)
		}
	case config.ModeLocal:
		text, err = t.whisper(ctx, audio, mimeType)
	default:
		text, err = t.hosted(ctx, audio, mimeType, model)
	}
	if err != nil {
		t.logError(mode, err)
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		err := werrors.New(werrors.ErrCodeTranscriptionEmpty, "transcription result is empty").
			WithUserMessage("Nothing was recognized. Try recording again.")
		t.logError(mode, err)
		return "", err
	}

	if t.logger != nil {
		_ = t.logger.Info(logging.CategoryTranscribe, "transcribed", "", map[string]any{
			"mode":        mode,
			"model":       model,
			"bytes":       len(audio),
			"chars":       len(text),
			"duration_ms": time.Since(started).Milliseconds(),
		})
	}
	return text, nil
}

func (t *Transcriber) hosted(ctx context.Context, audio []byte, mimeType, model string) (string, error) {
	if t.backend == nil {
		return "", werrors.New(werrors.ErrCodeSpeechUnavailable, "hosted transcription is not configured")
	}
	return t.backend.Transcribe(ctx, audio, filenameForMIME(mimeType), model)
}

func (t *Transcriber) logError(mode string, err error) {
	if t.logger == nil {
		return
	}
	_ = t.logger.Error(logging.CategoryTranscribe, "transcription_failed", err.Error(), map[string]any{
		"mode": mode,
	})
}

// filenameForMIME names the upload part after the container format.
// Providers sniff the extension, not the content type.
func filenameForMIME(mimeType string) string {
	base := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(base, ";"); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	switch base {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "recording.wav"
	case "audio/webm":
		return "recording.webm"
	case "audio/mpeg", "audio/mp3":
		return "recording.mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "recording.m4a"
	case "audio/ogg":
		return "recording.ogg"
	case "audio/flac", "audio/x-flac":
		return "recording.flac"
	default:
		return "recording.bin"
	}
}

// httpError maps a provider HTTP failure onto the error taxonomy.
func httpError(provider string, status int, body string) *werrors.Error {
	msg := fmt.Sprintf("%s transcription failed with status %d", provider, status)
	if body != "" {
		msg += ": " + body
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return werrors.New(werrors.ErrCodeUnauthorized, msg).
			WithUserMessage(fmt.Sprintf("The %s API rejected your key. Check it in the config.", provider))
	}
	return werrors.New(werrors.ErrCodeTranscriptionFailed, msg).
		WithRetryable(status >= 500).
		WithUserMessage("Transcription failed. Try again.")
}
