package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/artasov/winky-cli/pkg/werrors"
)

const ollamaBaseURL = "http://127.0.0.1:11434"

// probeTimeout bounds the availability check. A local server either
// answers fast or is not there.
const probeTimeout = 2 * time.Second

// Ollama streams completions from a local Ollama server.
type Ollama struct {
	baseURL    string
	httpClient *http.Client
}

// NewOllama builds a provider for the server at baseURL, defaulting to
// the standard local address.
func NewOllama(baseURL string) *Ollama {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = ollamaBaseURL
	}
	return &Ollama{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(),
	}
}

func (p *Ollama) Name() string { return "ollama" }

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaChunk struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// Stream posts to /api/chat and reads NDJSON chunks until one arrives
// with done set.
func (p *Ollama) Stream(ctx context.Context, req Request, onDelta func(string)) (string, error) {
	payload := ollamaRequest{
		Model:  req.Model,
		Stream: true,
	}
	if req.System != "" {
		payload.Messages = append(payload.Messages, ollamaMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		payload.Messages = append(payload.Messages, ollamaMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", werrors.Wrap(err, werrors.ErrCodeGenerationFailed, "marshaling ollama request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", werrors.Wrap(err, werrors.ErrCodeGenerationFailed, "creating ollama request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", p.connectError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError("Ollama", resp.StatusCode, readErrorBody(resp.Body))
	}

	var full strings.Builder
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var chunk ollamaChunk
			if jsonErr := json.Unmarshal(bytes.TrimSpace(line), &chunk); jsonErr == nil {
				if delta := chunk.Message.Content; delta != "" {
					full.WriteString(delta)
					if onDelta != nil {
						onDelta(delta)
					}
				}
				if chunk.Done {
					return full.String(), nil
				}
			}
		}
		if err == io.EOF {
			return full.String(), nil
		}
		if err != nil {
			return "", streamFailure(ctx, "Ollama", err)
		}
	}
}

// ListModels returns the names of models the server has pulled.
func (p *Ollama) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, werrors.Wrap(err, werrors.ErrCodeGenerationFailed, "creating ollama request")
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, p.connectError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("Ollama", resp.StatusCode, readErrorBody(resp.Body))
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, werrors.Wrap(err, werrors.ErrCodeGenerationFailed, "decoding ollama model list")
	}

	names := make([]string, 0, len(result.Models))
	for _, m := range result.Models {
		if name := strings.TrimSpace(m.Name); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// Available reports whether the server answers at all.
func (p *Ollama) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (p *Ollama) connectError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return werrors.Wrap(ctx.Err(), werrors.ErrCodeGenerationCancelled, "generation cancelled")
	}
	return werrors.Wrap(err, werrors.ErrCodeGenerationFailed, "connecting to ollama").
		WithRetryable(true).
		WithUserMessage("Could not reach the local Ollama server. Is it running?")
}
