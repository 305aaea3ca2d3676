package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/artasov/winky-cli/pkg/werrors"
)

const (
	whisperDefaultHost = "127.0.0.1"
	whisperDefaultPort = "8868"
	whisperProbe       = 2 * time.Second
)

// defaultWhisperBase resolves the local fast-whisper address, honoring
// the same environment overrides the server's start scripts read.
func defaultWhisperBase() string {
	host := os.Getenv("FAST_FAST_WHISPER_HOST")
	if host == "" {
		host = os.Getenv("HOST")
	}
	if host == "" {
		host = whisperDefaultHost
	}
	port := os.Getenv("FAST_FAST_WHISPER_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = whisperDefaultPort
	}
	return fmt.Sprintf("http://%s:%s", host, port)
}

// whisper posts the clip to the local fast-whisper server.
func (t *Transcriber) whisper(ctx context.Context, audio []byte, mimeType string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filenameForMIME(mimeType))
	if err != nil {
		return "", werrors.Wrap(err, werrors.ErrCodeTranscriptionFailed, "build upload")
	}
	if _, err := part.Write(audio); err != nil {
		return "", werrors.Wrap(err, werrors.ErrCodeTranscriptionFailed, "build upload")
	}
	if err := mw.Close(); err != nil {
		return "", werrors.Wrap(err, werrors.ErrCodeTranscriptionFailed, "build upload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.whisperBase+"/transcribe", &buf)
	if err != nil {
		return "", werrors.Wrap(err, werrors.ErrCodeTranscriptionFailed, "creating whisper request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", werrors.Wrap(err, werrors.ErrCodeSpeechUnavailable, "connecting to local speech server").
			WithRetryable(true).
			WithUserMessage("The local speech server is not running. Start it and try again.")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return "", httpError("local speech server", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", werrors.Wrap(err, werrors.ErrCodeTranscriptionFailed, "decoding whisper response")
	}
	return out.Text, nil
}

// WhisperAvailable reports whether the local speech server answers its
// health check.
func (t *Transcriber) WhisperAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, whisperProbe)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.whisperBase+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
