package main

import (
	"errors"
	"reflect"
	"testing"

	"github.com/artasov/winky-cli/pkg/werrors"
)

func TestParseStartupOptions(t *testing.T) {
	opts, err := parseStartupOptions([]string{
		"--config", "/tmp/winky.yaml", "--debug", "chats", "list", "--page", "2",
	})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if opts.configPath != "/tmp/winky.yaml" {
		t.Errorf("configPath = %q", opts.configPath)
	}
	if !opts.debug {
		t.Error("debug flag not set")
	}
	want := []string{"chats", "list", "--page", "2"}
	if !reflect.DeepEqual(opts.args, want) {
		t.Errorf("args = %v, want %v", opts.args, want)
	}
}

func TestParseStartupOptionsEqualsForm(t *testing.T) {
	opts, err := parseStartupOptions([]string{"--config=/etc/winky.yaml", "--no-color", "-q", "chat"})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if opts.configPath != "/etc/winky.yaml" {
		t.Errorf("configPath = %q", opts.configPath)
	}
	if !opts.noColor || !opts.quiet {
		t.Error("flag form not recognized")
	}
	if !reflect.DeepEqual(opts.args, []string{"chat"}) {
		t.Errorf("args = %v", opts.args)
	}
}

func TestParseStartupOptionsDanglingConfig(t *testing.T) {
	if _, err := parseStartupOptions([]string{"--config"}); err == nil {
		t.Fatal("expected error for --config without a path")
	}
}

func TestParseStartupOptionsEnvDefaults(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	t.Setenv("WINKY_QUIET", "true")
	opts, err := parseStartupOptions(nil)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !opts.noColor || !opts.quiet {
		t.Error("environment defaults not applied")
	}
}

func TestExitCodeForError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{werrors.New(werrors.ErrCodeInvalidInput, "x"), exitUsage},
		{werrors.New(werrors.ErrCodeConfigParse, "x"), exitConfig},
		{werrors.New(werrors.ErrCodeUnauthorized, "x"), exitAuth},
		{werrors.New(werrors.ErrCodeInsufficientCredits, "x"), exitCredits},
		{werrors.New(werrors.ErrCodeGenerationCancelled, "x"), exitOK},
		{werrors.New(werrors.ErrCodeBackendError, "x").WithRetryable(true), exitTransient},
		{errors.New("plain"), exitFailure},
	}
	for _, tc := range cases {
		if got := exitCodeForError(tc.err); got != tc.want {
			t.Errorf("exitCodeForError(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestUserFacingPrefersNotice(t *testing.T) {
	err := werrors.New(werrors.ErrCodeBackendError, "internal detail").
		WithUserMessage("Something went wrong on the server.")
	if got := userFacing(err); got != "Something went wrong on the server." {
		t.Errorf("userFacing = %q", got)
	}
	if got := userFacing(errors.New("plain")); got != "plain" {
		t.Errorf("userFacing plain = %q", got)
	}
}

func TestPatchForKey(t *testing.T) {
	patch, err := patchForKey("llm.mode", "api-key")
	if err != nil {
		t.Fatalf("patchForKey failed: %v", err)
	}
	llm, ok := patch["llm"].(map[string]any)
	if !ok || llm["mode"] != "api-key" {
		t.Errorf("patch = %#v", patch)
	}

	patch, err = patchForKey("mic.completion_sound_volume", "0.5")
	if err != nil {
		t.Fatalf("patchForKey failed: %v", err)
	}
	mic := patch["mic"].(map[string]any)
	if v, ok := mic["completion_sound_volume"].(float64); !ok || v != 0.5 {
		t.Errorf("value not parsed as number: %#v", mic)
	}

	patch, err = patchForKey("setup_completed", "true")
	if err != nil {
		t.Fatalf("patchForKey failed: %v", err)
	}
	if v, ok := patch["setup_completed"].(bool); !ok || !v {
		t.Errorf("value not parsed as bool: %#v", patch)
	}

	if _, err := patchForKey("llm..mode", "x"); err == nil {
		t.Error("expected error for malformed key")
	}
}

func TestAudioMIME(t *testing.T) {
	cases := map[string]string{
		"clip.wav":    "audio/wav",
		"CLIP.MP3":    "audio/mpeg",
		"voice.m4a":   "audio/mp4",
		"memo.ogg":    "audio/ogg",
		"take.flac":   "audio/flac",
		"rec.webm":    "audio/webm",
		"mystery.bin": "application/octet-stream",
	}
	for path, want := range cases {
		if got := audioMIME(path); got != want {
			t.Errorf("audioMIME(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestRedactKey(t *testing.T) {
	if got := redactKey(""); got != "" {
		t.Errorf("empty key = %q", got)
	}
	if got := redactKey("short"); got != "********" {
		t.Errorf("short key = %q", got)
	}
	got := redactKey("sk-abcdefghijklmnop")
	if got != "sk-a…mnop" {
		t.Errorf("long key = %q", got)
	}
}

func TestOneLine(t *testing.T) {
	if got := oneLine("a\n b\t\tc"); got != "a b c" {
		t.Errorf("oneLine = %q", got)
	}
}
