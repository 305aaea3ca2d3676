package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/artasov/winky-cli/pkg/observability"
	"github.com/artasov/winky-cli/pkg/werrors"
)

func wsServer(t *testing.T, fn func(ctx context.Context, conn *websocket.Conn)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth header = %q", got)
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "server done")
		fn(r.Context(), conn)
	}))
	t.Cleanup(srv.Close)

	client, err := New(Options{BaseURL: srv.URL, Token: "tok"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func readFrame(ctx context.Context, conn *websocket.Conn) (clientFrame, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return clientFrame{}, err
	}
	var f clientFrame
	err = json.Unmarshal(data, &f)
	return f, err
}

func sendEvent(ctx context.Context, conn *websocket.Conn, ev serverEvent) {
	data, _ := json.Marshal(ev)
	_ = conn.Write(ctx, websocket.MessageText, data)
}

func TestGenerateAccumulatesDeltas(t *testing.T) {
	client := wsServer(t, func(ctx context.Context, conn *websocket.Conn) {
		frame, err := readFrame(ctx, conn)
		if err != nil {
			t.Errorf("read generate frame: %v", err)
			return
		}
		if frame.Action != "generate" || frame.Prompt != "hi" || frame.ModelLevel != "o4-mini" {
			t.Errorf("frame = %+v", frame)
		}
		if frame.ChatID != "c3" || frame.ParentMessageID != "m2" {
			t.Errorf("frame routing = %+v", frame)
		}
		sendEvent(ctx, conn, serverEvent{Type: "start"})
		sendEvent(ctx, conn, serverEvent{Type: "delta", Text: "Hel"})
		sendEvent(ctx, conn, serverEvent{Type: "delta", Text: "lo"})
		sendEvent(ctx, conn, serverEvent{Type: "done", MessageID: "m7", ChatID: "c3", Credits: 41.5})
	})

	var deltas []string
	res, err := client.Generate(context.Background(), Request{
		Prompt:          "hi",
		ModelLevel:      "o4-mini",
		ChatID:          "c3",
		ParentMessageID: "m2",
	}, func(d string) { deltas = append(deltas, d) })
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if res.Text != "Hello" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.MessageID != "m7" || res.ChatID != "c3" || res.Credits != 41.5 {
		t.Errorf("result = %+v", res)
	}
	if len(deltas) != 2 || deltas[0] != "Hel" || deltas[1] != "lo" {
		t.Errorf("deltas = %v", deltas)
	}
}

func TestInsufficientBalanceMapped(t *testing.T) {
	client := wsServer(t, func(ctx context.Context, conn *websocket.Conn) {
		if _, err := readFrame(ctx, conn); err != nil {
			return
		}
		sendEvent(ctx, conn, serverEvent{Type: "error", Code: "insufficient_balance", Message: "Balance too low"})
	})

	_, err := client.Generate(context.Background(), Request{Prompt: "hi"}, nil)
	if !werrors.IsCode(err, werrors.ErrCodeInsufficientCredits) {
		t.Fatalf("err = %v, want INSUFFICIENT_CREDITS", err)
	}
	if got := werrors.NoticeOf(err); got != "Not enough credits to generate a response. Top up your balance and try again." {
		t.Errorf("notice = %q", got)
	}
}

func TestBackendErrorPassesMessageThrough(t *testing.T) {
	client := wsServer(t, func(ctx context.Context, conn *websocket.Conn) {
		if _, err := readFrame(ctx, conn); err != nil {
			return
		}
		sendEvent(ctx, conn, serverEvent{Type: "error", Code: "model_error", Message: "Model provider unavailable"})
	})

	_, err := client.Generate(context.Background(), Request{Prompt: "hi"}, nil)
	if !werrors.IsCode(err, werrors.ErrCodeGenerationFailed) {
		t.Fatalf("err = %v, want GENERATION_FAILED", err)
	}
	if got := werrors.NoticeOf(err); got != "Model provider unavailable" {
		t.Errorf("notice = %q, want backend message passed through", got)
	}
}

func TestServerCancelledEvent(t *testing.T) {
	client := wsServer(t, func(ctx context.Context, conn *websocket.Conn) {
		if _, err := readFrame(ctx, conn); err != nil {
			return
		}
		sendEvent(ctx, conn, serverEvent{Type: "start"})
		sendEvent(ctx, conn, serverEvent{Type: "cancelled"})
	})

	_, err := client.Generate(context.Background(), Request{Prompt: "hi"}, nil)
	if !werrors.IsCode(err, werrors.ErrCodeGenerationCancelled) {
		t.Fatalf("err = %v, want GENERATION_CANCELLED", err)
	}
}

func TestContextCancelSendsCancelFrame(t *testing.T) {
	sawGenerate := make(chan struct{})
	gotCancel := make(chan clientFrame, 1)
	client := wsServer(t, func(ctx context.Context, conn *websocket.Conn) {
		if _, err := readFrame(ctx, conn); err != nil {
			return
		}
		close(sawGenerate)
		sendEvent(ctx, conn, serverEvent{Type: "start"})
		// The next client frame should be the cancel.
		if f, err := readFrame(ctx, conn); err == nil {
			gotCancel <- f
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := client.Generate(ctx, Request{Prompt: "hi"}, nil)
		done <- err
	}()

	select {
	case <-sawGenerate:
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the generate frame")
	}
	cancel()

	select {
	case err := <-done:
		if !werrors.IsCode(err, werrors.ErrCodeGenerationCancelled) {
			t.Fatalf("err = %v, want GENERATION_CANCELLED", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Generate did not settle after cancel")
	}

	select {
	case f := <-gotCancel:
		if f.Action != "cancel" {
			t.Errorf("frame action = %q, want cancel", f.Action)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the cancel frame")
	}
}

func TestCloseBeforeTerminalIsTransportError(t *testing.T) {
	client := wsServer(t, func(ctx context.Context, conn *websocket.Conn) {
		if _, err := readFrame(ctx, conn); err != nil {
			return
		}
		sendEvent(ctx, conn, serverEvent{Type: "start"})
		sendEvent(ctx, conn, serverEvent{Type: "delta", Text: "partial"})
		// Handler returns; the deferred close drops the stream without a
		// terminal event.
	})

	_, err := client.Generate(context.Background(), Request{Prompt: "hi"}, nil)
	if !werrors.IsCode(err, werrors.ErrCodeStreamTransport) {
		t.Fatalf("err = %v, want STREAM_TRANSPORT", err)
	}
	if !werrors.IsRetryable(err) {
		t.Error("transport failures should be retryable")
	}
}

func TestMalformedFrameRejects(t *testing.T) {
	client := wsServer(t, func(ctx context.Context, conn *websocket.Conn) {
		if _, err := readFrame(ctx, conn); err != nil {
			return
		}
		_ = conn.Write(ctx, websocket.MessageText, []byte("not json at all"))
	})

	_, err := client.Generate(context.Background(), Request{Prompt: "hi"}, nil)
	if !werrors.IsCode(err, werrors.ErrCodeStreamProtocol) {
		t.Fatalf("err = %v, want STREAM_PROTOCOL", err)
	}
}

func TestEndpointDerivation(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"https://xlartas.com", "wss://xlartas.com/ws/llm"},
		{"http://127.0.0.1:8000", "ws://127.0.0.1:8000/ws/llm"},
		{"example.com", "wss://example.com/ws/llm"},
		{"", "wss://xlartas.com/ws/llm"},
	}
	for _, tt := range tests {
		client, err := New(Options{BaseURL: tt.base})
		if err != nil {
			t.Fatalf("New(%q): %v", tt.base, err)
		}
		if got := client.URL(); got != tt.want {
			t.Errorf("URL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestGenerateRecordsOutcomeOnSpan(t *testing.T) {
	var buf bytes.Buffer
	tp, err := observability.Setup("winky-test", "0.0.1", &buf)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	client := wsServer(t, func(ctx context.Context, conn *websocket.Conn) {
		if _, err := readFrame(ctx, conn); err != nil {
			t.Errorf("read generate frame: %v", err)
			return
		}
		sendEvent(ctx, conn, serverEvent{Type: "done", MessageID: "m1", ChatID: "c1"})
	})

	ctx, span := observability.StartSpan(context.Background(), "chat.generate")
	if _, err := client.Generate(ctx, Request{Prompt: "hi"}, nil); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	span.End()

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if out := buf.String(); !strings.Contains(out, "winky.stream.outcome") {
		t.Errorf("trace output missing stream outcome:\n%s", out)
	}
}
