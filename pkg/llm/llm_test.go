package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/artasov/winky-cli/pkg/werrors"
)

func sseLine(w http.ResponseWriter, data string) {
	fmt.Fprintf(w, "data: %s\n\n", data)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func TestOpenAIStreamAccumulatesDeltas(t *testing.T) {
	var gotBody openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("Authorization = %q", auth)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotBody); err != nil {
			t.Errorf("request body: %v", err)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		sseLine(w, `{"choices":[{"delta":{"content":"Hel"}}]}`)
		sseLine(w, `{"choices":[{"delta":{"content":"lo"}}]}`)
		sseLine(w, `{"choices":[{"delta":{}}]}`)
		sseLine(w, "[DONE]")
	}))
	defer srv.Close()

	p := NewOpenAI("sk-test", srv.URL)
	var deltas []string
	full, err := p.Stream(context.Background(), Request{
		Model:  "o4-mini",
		System: "Be brief.",
		Messages: []Message{
			{Role: "user", Content: "Say hello"},
		},
	}, func(d string) { deltas = append(deltas, d) })
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	if full != "Hello" {
		t.Errorf("full = %q, want Hello", full)
	}
	if strings.Join(deltas, "|") != "Hel|lo" {
		t.Errorf("deltas = %v", deltas)
	}
	if !gotBody.Stream {
		t.Error("request should set stream")
	}
	if gotBody.Model != "o4-mini" {
		t.Errorf("model = %q", gotBody.Model)
	}
	if len(gotBody.Messages) != 2 || gotBody.Messages[0].Role != "system" {
		t.Errorf("messages = %+v, want system first", gotBody.Messages)
	}
}

func TestOpenAIUnauthorizedMapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"Incorrect API key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewOpenAI("sk-bad", srv.URL)
	_, err := p.Stream(context.Background(), Request{Model: "o4-mini"}, nil)
	if !werrors.IsCode(err, werrors.ErrCodeUnauthorized) {
		t.Fatalf("error code = %v, want UNAUTHORIZED", werrors.CodeOf(err))
	}
	if werrors.NoticeOf(err) == "" {
		t.Error("expected a user notice")
	}
}

func TestOpenAIMissingKeyRejectsLocally(t *testing.T) {
	p := NewOpenAI("  ", "http://127.0.0.1:1")
	_, err := p.Stream(context.Background(), Request{Model: "o4-mini"}, nil)
	if !werrors.IsCode(err, werrors.ErrCodeUnauthorized) {
		t.Fatalf("error code = %v, want UNAUTHORIZED", werrors.CodeOf(err))
	}
}

func TestOpenAIServerErrorRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewOpenAI("sk-test", srv.URL)
	_, err := p.Stream(context.Background(), Request{Model: "o4-mini"}, nil)
	if !werrors.IsCode(err, werrors.ErrCodeGenerationFailed) {
		t.Fatalf("error code = %v, want GENERATION_FAILED", werrors.CodeOf(err))
	}
	if !werrors.IsRetryable(err) {
		t.Error("5xx should be retryable")
	}
}

func TestOpenAICancelMapsToCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		sseLine(w, `{"choices":[{"delta":{"content":"partial"}}]}`)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewOpenAI("sk-test", srv.URL)
	_, err := p.Stream(ctx, Request{Model: "o4-mini"}, func(string) { cancel() })
	if !werrors.IsCode(err, werrors.ErrCodeGenerationCancelled) {
		t.Fatalf("error code = %v, want GENERATION_CANCELLED", werrors.CodeOf(err))
	}
}

func TestGeminiDiffsCumulativeChunks(t *testing.T) {
	var gotBody geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "gemini-2.0-flash:streamGenerateContent") {
			t.Errorf("path = %q", r.URL.Path)
		}
		if key := r.URL.Query().Get("key"); key != "g-test" {
			t.Errorf("key = %q", key)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotBody); err != nil {
			t.Errorf("request body: %v", err)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		sseLine(w, `{"candidates":[{"content":{"parts":[{"text":"Hel"}]}}]}`)
		// Cumulative replay of everything so far plus the new tail.
		sseLine(w, `{"candidates":[{"content":{"parts":[{"text":"Hello wor"}]}}]}`)
		sseLine(w, `{"candidates":[{"content":{"parts":[{"text":"ld!"}]}}]}`)
	}))
	defer srv.Close()

	p := NewGemini("g-test", srv.URL)
	var deltas []string
	full, err := p.Stream(context.Background(), Request{
		Model:  "gemini-2.0-flash",
		System: "Be brief.",
		Messages: []Message{
			{Role: "user", Content: "Say hello"},
			{Role: "assistant", Content: "Hi"},
			{Role: "user", Content: "Again"},
		},
	}, func(d string) { deltas = append(deltas, d) })
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	if full != "Hello world!" {
		t.Errorf("full = %q", full)
	}
	if strings.Join(deltas, "|") != "Hel|lo wor|ld!" {
		t.Errorf("deltas = %v", deltas)
	}
	if gotBody.SystemInstruction == nil || len(gotBody.SystemInstruction.Parts) != 1 {
		t.Error("system instruction missing from request")
	}
	if len(gotBody.Contents) != 3 || gotBody.Contents[1].Role != "model" {
		t.Errorf("contents = %+v, want assistant mapped to model", gotBody.Contents)
	}
}

func TestGeminiIgnoresArrayFraming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		sseLine(w, "[")
		sseLine(w, `{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`)
		sseLine(w, "]")
		sseLine(w, "[DONE]")
	}))
	defer srv.Close()

	p := NewGemini("g-test", srv.URL)
	full, err := p.Stream(context.Background(), Request{Model: "gemini-2.0-flash"}, nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if full != "ok" {
		t.Errorf("full = %q", full)
	}
}

func TestGeminiMissingModelRejected(t *testing.T) {
	p := NewGemini("g-test", "http://127.0.0.1:1")
	_, err := p.Stream(context.Background(), Request{Model: "  "}, nil)
	if !werrors.IsCode(err, werrors.ErrCodeInvalidInput) {
		t.Fatalf("error code = %v, want INVALID_INPUT", werrors.CodeOf(err))
	}
}

func TestOllamaStreamReadsNDJSON(t *testing.T) {
	var gotBody ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotBody); err != nil {
			t.Errorf("request body: %v", err)
		}

		lines := []string{
			`{"message":{"role":"assistant","content":"He"},"done":false}`,
			`{"message":{"role":"assistant","content":"y"},"done":false}`,
			`{"message":{"role":"assistant","content":""},"done":true}`,
		}
		for _, line := range lines {
			fmt.Fprintln(w, line)
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}))
	defer srv.Close()

	p := NewOllama(srv.URL)
	var deltas []string
	full, err := p.Stream(context.Background(), Request{
		Model:  "llama3.2",
		System: "Be brief.",
		Messages: []Message{
			{Role: "user", Content: "Say hey"},
		},
	}, func(d string) { deltas = append(deltas, d) })
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	if full != "Hey" {
		t.Errorf("full = %q", full)
	}
	if len(deltas) != 2 {
		t.Errorf("deltas = %v", deltas)
	}
	if !gotBody.Stream || gotBody.Model != "llama3.2" {
		t.Errorf("request = %+v", gotBody)
	}
	if len(gotBody.Messages) != 2 || gotBody.Messages[0].Role != "system" {
		t.Errorf("messages = %+v, want system first", gotBody.Messages)
	}
}

func TestOllamaListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"models":[{"name":"llama3.2"},{"name":"  "},{"name":"qwen2.5"}]}`)
	}))
	defer srv.Close()

	p := NewOllama(srv.URL)
	models, err := p.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if strings.Join(models, ",") != "llama3.2,qwen2.5" {
		t.Errorf("models = %v", models)
	}
}

func TestOllamaAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[]}`)
	}))
	p := NewOllama(srv.URL)
	if !p.Available(context.Background()) {
		t.Error("running server should be available")
	}

	srv.Close()
	if p.Available(context.Background()) {
		t.Error("closed server should not be available")
	}
}

func TestOllamaConnectErrorMapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	p := NewOllama(srv.URL)
	_, err := p.Stream(context.Background(), Request{Model: "llama3.2"}, nil)
	if !werrors.IsCode(err, werrors.ErrCodeGenerationFailed) {
		t.Fatalf("error code = %v, want GENERATION_FAILED", werrors.CodeOf(err))
	}
	if !werrors.IsRetryable(err) {
		t.Error("connection failure should be retryable")
	}
	if !strings.Contains(werrors.NoticeOf(err), "Ollama") {
		t.Errorf("notice = %q", werrors.NoticeOf(err))
	}
}

func TestOllamaProbeTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(10 * time.Second):
		}
	}))
	defer srv.Close()

	p := NewOllama(srv.URL)
	start := time.Now()
	if p.Available(context.Background()) {
		t.Error("hung server should not count as available")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("probe took %v, want a bounded wait", elapsed)
	}
}
