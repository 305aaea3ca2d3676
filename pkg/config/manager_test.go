package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/artasov/winky-cli/pkg/events"
)

func newTestManager(t *testing.T) (*Manager, *events.Hub) {
	t.Helper()
	clearKeyEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	hub := events.NewHub()
	t.Cleanup(hub.Close)
	m, err := NewManager(path, hub, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, hub
}

func TestUpdateMergesNestedFields(t *testing.T) {
	m, _ := newTestManager(t)

	updated, err := m.Update(map[string]any{
		"llm": map[string]any{"model": "gpt-5"},
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	if updated.LLM.Model != "gpt-5" {
		t.Errorf("llm model = %q, want gpt-5", updated.LLM.Model)
	}
	if updated.LLM.Mode != ModeHosted {
		t.Errorf("llm mode = %q, want untouched hosted", updated.LLM.Mode)
	}
	if updated.Speech.Model != DefaultSpeechModel {
		t.Errorf("speech model = %q, want untouched", updated.Speech.Model)
	}

	// The change must be on disk, not just in memory.
	reloaded, err := Load(m.Path())
	if err != nil {
		t.Fatalf("Load after update: %v", err)
	}
	if reloaded.LLM.Model != "gpt-5" {
		t.Errorf("persisted llm model = %q, want gpt-5", reloaded.LLM.Model)
	}
}

func TestUpdateReplacesActionList(t *testing.T) {
	m, _ := newTestManager(t)

	seed := m.Config()
	seed.Actions = []Action{
		{ID: "a1", Name: "One", Prompt: "p1"},
		{ID: "a2", Name: "Two", Prompt: "p2"},
	}
	if _, err := m.Set(seed); err != nil {
		t.Fatalf("Set: %v", err)
	}

	updated, err := m.Update(map[string]any{
		"actions": []any{
			map[string]any{"id": "a3", "name": "Three", "prompt": "p3"},
		},
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(updated.Actions) != 1 || updated.Actions[0].ID != "a3" {
		t.Errorf("actions = %+v, want replaced by the patch list", updated.Actions)
	}
}

func TestUpdatePublishesEvent(t *testing.T) {
	m, hub := newTestManager(t)
	ch, cancel := hub.Subscribe(events.EventConfigUpdated)
	defer cancel()

	if _, err := m.Update(map[string]any{"setup_completed": true}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Type != events.EventConfigUpdated {
			t.Errorf("event type = %q", ev.Type)
		}
		if reason, _ := ev.Data["reason"].(string); reason != "update" {
			t.Errorf("reason = %q, want update", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config.updated")
	}
}

func TestSetNormalizes(t *testing.T) {
	m, _ := newTestManager(t)

	cfg := m.Config()
	cfg.LLM.Mode = "nonsense"
	cfg.Speech.Model = ""
	got, err := m.Set(cfg)
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got.LLM.Mode != ModeHosted {
		t.Errorf("llm mode = %q, want normalized to hosted", got.LLM.Mode)
	}
	if got.Speech.Model != DefaultSpeechModel {
		t.Errorf("speech model = %q, want default", got.Speech.Model)
	}
}

func TestReloadDetectsExternalEdit(t *testing.T) {
	m, _ := newTestManager(t)

	changed, err := m.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if changed {
		t.Error("reload without edits should report no change")
	}

	external := "llm:\n  model: gpt-9-test\n"
	if err := os.WriteFile(m.Path(), []byte(external), 0o600); err != nil {
		t.Fatal(err)
	}

	changed, err = m.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if !changed {
		t.Fatal("reload should detect the external edit")
	}
	if got := m.Config().LLM.Model; got != "gpt-9-test" {
		t.Errorf("llm model = %q, want gpt-9-test", got)
	}
}

func TestWatchReloadsOnExternalWrite(t *testing.T) {
	m, hub := newTestManager(t)
	ch, cancelSub := hub.Subscribe(events.EventConfigUpdated)
	defer cancelSub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- m.Watch(ctx)
	}()

	// Give the watcher time to register before writing.
	time.Sleep(200 * time.Millisecond)

	// A sibling file must not trigger a reload.
	sibling := filepath.Join(filepath.Dir(m.Path()), "other.yaml")
	if err := os.WriteFile(sibling, []byte("ignored: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event for sibling file: %+v", ev)
	case <-time.After(400 * time.Millisecond):
	}

	external := "llm:\n  model: watched-model\n"
	if err := os.WriteFile(m.Path(), []byte(external), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-ch:
		if reason, _ := ev.Data["reason"].(string); reason != "reload" {
			t.Errorf("reason = %q, want reload", reason)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload event")
	}
	if got := m.Config().LLM.Model; got != "watched-model" {
		t.Errorf("llm model after watch reload = %q", got)
	}

	cancel()
	select {
	case err := <-watchErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Watch returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not stop on cancel")
	}
}

func TestConfigReturnsCopies(t *testing.T) {
	m, _ := newTestManager(t)

	first := m.Config()
	first.LLM.Model = "scribbled"

	if got := m.Config().LLM.Model; got != DefaultLLMModel {
		t.Errorf("manager state changed through a returned copy: %q", got)
	}
}
