package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/artasov/winky-cli/pkg/werrors"
)

func TestTranscribeUploadsMultipart(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/winky/transcriptions/" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok123" {
			t.Errorf("auth = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != "gpt-4o-mini-transcribe" {
			t.Errorf("model field = %q", got)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("file field: %v", err)
		}
		defer file.Close()
		if header.Filename != "recording.wav" {
			t.Errorf("filename = %q", header.Filename)
		}
		data, _ := io.ReadAll(file)
		if string(data) != "RIFFfake" {
			t.Errorf("file body = %q", data)
		}
		fmt.Fprint(w, `{"text": "hello there"}`)
	})

	text, err := client.Transcribe(context.Background(), []byte("RIFFfake"), "recording.wav", "gpt-4o-mini-transcribe")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello there" {
		t.Errorf("text = %q", text)
	}
}

func TestTranscribeCreditFailure(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		fmt.Fprint(w, `{"code": "insufficient_balance", "message": "Balance too low"}`)
	})

	_, err := client.Transcribe(context.Background(), []byte("audio"), "recording.wav", "")
	if !werrors.IsCode(err, werrors.ErrCodeInsufficientCredits) {
		t.Fatalf("error code = %v, want INSUFFICIENT_CREDITS", werrors.CodeOf(err))
	}
}
