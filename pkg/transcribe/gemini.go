package transcribe

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/artasov/winky-cli/pkg/config"
	"github.com/artasov/winky-cli/pkg/werrors"
)

const geminiAudioBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// geminiTranscribePrompt keeps the model from editorializing.
const geminiTranscribePrompt = "Transcribe the audio exactly as spoken. Reply with only the transcription text."

type geminiInlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiAudioPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiAudioRequest struct {
	Contents []struct {
		Parts []geminiAudioPart `json:"parts"`
	} `json:"contents"`
}

type geminiAudioResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// gemini sends the clip inline to generateContent. Gemini has no
// dedicated transcription endpoint, so the audio rides along with an
// instruction to transcribe it.
func (t *Transcriber) gemini(ctx context.Context, cfg *config.Config, audio []byte, mimeType, model string) (string, error) {
	key := cfg.GoogleKey()
	if key == "" {
		return "", werrors.New(werrors.ErrCodeUnauthorized, "gemini api key is missing").
			WithUserMessage("Add your Google AI API key to the config or set GEMINI_API_KEY.")
	}

	var payload geminiAudioRequest
	payload.Contents = append(payload.Contents, struct {
		Parts []geminiAudioPart `json:"parts"`
	}{
		Parts: []geminiAudioPart{
			{Text: geminiTranscribePrompt},
			{InlineData: &geminiInlineData{
				MIMEType: mimeType,
				Data:     base64.StdEncoding.EncodeToString(audio),
			}},
		},
	})

	body, err := json.Marshal(payload)
	if err != nil {
		return "", werrors.Wrap(err, werrors.ErrCodeTranscriptionFailed, "marshaling gemini request")
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		t.geminiBase, url.PathEscape(model), url.QueryEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", werrors.Wrap(err, werrors.ErrCodeTranscriptionFailed, "creating gemini request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", werrors.Wrap(err, werrors.ErrCodeTranscriptionFailed, "gemini request failed").
			WithRetryable(true).
			WithUserMessage("Couldn't reach Gemini. Check your connection.")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return "", httpError("Gemini", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	var out geminiAudioResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", werrors.Wrap(err, werrors.ErrCodeTranscriptionFailed, "decoding gemini response")
	}

	var b strings.Builder
	for _, cand := range out.Candidates {
		for _, part := range cand.Content.Parts {
			b.WriteString(part.Text)
		}
	}
	return b.String(), nil
}
