package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/artasov/winky-cli/pkg/config"
	"github.com/artasov/winky-cli/pkg/werrors"
)

const openAIAudioBaseURL = "https://api.openai.com/v1"

// openAI posts the clip to /audio/transcriptions with the user's key.
func (t *Transcriber) openAI(ctx context.Context, cfg *config.Config, audio []byte, mimeType, model string) (string, error) {
	key := cfg.OpenAIKey()
	if key == "" {
		return "", werrors.New(werrors.ErrCodeUnauthorized, "openai api key is missing").
			WithUserMessage("Add your OpenAI API key to the config or set OPENAI_API_KEY.")
	}
	if strings.TrimSpace(model) == "" {
		model = config.DefaultSpeechModel
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filenameForMIME(mimeType))
	if err != nil {
		return "", werrors.Wrap(err, werrors.ErrCodeTranscriptionFailed, "build upload")
	}
	if _, err := part.Write(audio); err != nil {
		return "", werrors.Wrap(err, werrors.ErrCodeTranscriptionFailed, "build upload")
	}
	if err := mw.WriteField("model", model); err != nil {
		return "", werrors.Wrap(err, werrors.ErrCodeTranscriptionFailed, "build upload")
	}
	if err := mw.Close(); err != nil {
		return "", werrors.Wrap(err, werrors.ErrCodeTranscriptionFailed, "build upload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.openAIBase+"/audio/transcriptions", &buf)
	if err != nil {
		return "", werrors.Wrap(err, werrors.ErrCodeTranscriptionFailed, "creating openai request")
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", werrors.Wrap(err, werrors.ErrCodeTranscriptionFailed, "openai request failed").
			WithRetryable(true).
			WithUserMessage("Couldn't reach OpenAI. Check your connection.")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return "", httpError("OpenAI", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", werrors.Wrap(err, werrors.ErrCodeTranscriptionFailed, "decoding openai response")
	}
	return out.Text, nil
}
