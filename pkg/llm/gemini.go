package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/artasov/winky-cli/pkg/werrors"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini streams completions from the Gemini API.
type Gemini struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewGemini builds a provider for the given key. An empty baseURL uses
// the public API.
func NewGemini(apiKey, baseURL string) *Gemini {
	if baseURL == "" {
		baseURL = geminiBaseURL
	}
	return &Gemini{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(),
	}
}

func (p *Gemini) Name() string { return "gemini" }

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
}

type geminiChunk struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Text string `json:"text"`
}

// chunkText joins every text part of a streamed chunk, falling back to
// a top-level text field when no candidates are present.
func (g geminiChunk) chunkText() string {
	var b strings.Builder
	for _, cand := range g.Candidates {
		for _, part := range cand.Content.Parts {
			b.WriteString(part.Text)
		}
	}
	if b.Len() == 0 {
		return g.Text
	}
	return b.String()
}

// Stream posts to streamGenerateContent with alt=sse. Some chunks carry
// cumulative candidate text rather than increments, so each chunk is
// diffed against what was already emitted and only the new suffix is
// forwarded.
func (p *Gemini) Stream(ctx context.Context, req Request, onDelta func(string)) (string, error) {
	if p.apiKey == "" {
		return "", werrors.New(werrors.ErrCodeUnauthorized, "gemini api key is missing").
			WithUserMessage("Add your Google AI API key to the config or set GEMINI_API_KEY.")
	}
	if strings.TrimSpace(req.Model) == "" {
		return "", werrors.New(werrors.ErrCodeInvalidInput, "gemini model is missing")
	}

	payload := geminiRequest{}
	if req.System != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	for _, m := range req.Messages {
		role := m.Role
		// Gemini names the assistant side "model".
		if role == "assistant" {
			role = "model"
		}
		payload.Contents = append(payload.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", werrors.Wrap(err, werrors.ErrCodeGenerationFailed, "marshaling gemini request")
	}

	endpoint := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s",
		p.baseURL, url.PathEscape(req.Model), url.QueryEscape(p.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", werrors.Wrap(err, werrors.ErrCodeGenerationFailed, "creating gemini request")
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", streamFailure(ctx, "Gemini", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError("Gemini", resp.StatusCode, readErrorBody(resp.Body))
	}

	full := ""
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		data := line
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			data = strings.TrimSpace(rest)
		}
		if data == "[DONE]" {
			return full, nil
		}
		if data == "[" || data == "]" {
			continue
		}

		var chunk geminiChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		text := chunk.chunkText()
		if text == "" {
			continue
		}

		var delta string
		if strings.HasPrefix(text, full) {
			delta = text[len(full):]
			full = text
		} else {
			delta = text
			full += text
		}
		if delta == "" {
			continue
		}
		if onDelta != nil {
			onDelta(delta)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", streamFailure(ctx, "Gemini", err)
	}
	return full, nil
}
