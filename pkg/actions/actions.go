// Package actions runs configured voice actions end to end: transcribe a
// recording, feed the text through the action's prompt, and record the run
// in history.
package actions

import (
	"context"
	"strings"
	"time"

	"github.com/artasov/winky-cli/pkg/config"
	"github.com/artasov/winky-cli/pkg/events"
	"github.com/artasov/winky-cli/pkg/logging"
	"github.com/artasov/winky-cli/pkg/observability"
	"github.com/artasov/winky-cli/pkg/storage"
	"github.com/artasov/winky-cli/pkg/werrors"
)

// textPlaceholder marks where the transcription lands inside an action
// prompt. Prompts without it get the transcription appended after a blank
// line instead.
const textPlaceholder = "{{text}}"

// Transcriber turns a recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// Generator produces the model reply for one composed prompt. The engine
// routes it to the hosted stream or a direct provider depending on
// llm.mode.
type Generator interface {
	Generate(ctx context.Context, prompt, model string) (string, error)
}

// HistoryStore records completed runs. *storage.Store satisfies it.
type HistoryStore interface {
	AppendActionHistory(storage.ActionHistoryEntry) (*storage.ActionHistoryEntry, error)
}

// ConfigSource hands out the current configuration.
type ConfigSource interface {
	Config() *config.Config
}

// Options wires a Runner.
type Options struct {
	Source      ConfigSource
	Transcriber Transcriber
	Generator   Generator
	History     HistoryStore
	Hub         *events.Hub
	Logger      *logging.Logger
}

// Runner executes voice actions.
type Runner struct {
	source  ConfigSource
	trans   Transcriber
	gen     Generator
	history HistoryStore
	hub     *events.Hub
	logger  *logging.Logger
}

// New builds a Runner from options.
func New(opts Options) *Runner {
	return &Runner{
		source:  opts.Source,
		trans:   opts.Transcriber,
		gen:     opts.Generator,
		history: opts.History,
		hub:     opts.Hub,
		logger:  opts.Logger,
	}
}

// Run executes the action with the given id against a recording. The
// returned entry carries the transcription, the model reply when the action
// has a prompt, and the final result text. Actions with a blank prompt are
// transcription-only and skip the model entirely.
//
// History persistence is best-effort: a failed append is logged and the
// entry comes back without an id, but the run still succeeds.
func (r *Runner) Run(ctx context.Context, actionID string, audio []byte, mimeType string) (*storage.ActionHistoryEntry, error) {
	started := time.Now()
	cfg := r.source.Config()

	ctx, span := observability.StartSpan(ctx, "action.run")
	defer span.End()
	observability.SetAttributes(ctx,
		observability.AttrActionID.String(actionID),
		observability.AttrAudioBytes.Int(len(audio)),
	)

	action := cfg.ActionByID(actionID)
	if action == nil {
		return nil, werrors.New(werrors.ErrCodeActionNotFound, "unknown action").
			WithContext("action_id", actionID).
			WithUserMessage("That action does not exist. Check your configured actions.")
	}

	text, err := r.trans.Transcribe(ctx, audio, mimeType)
	if err != nil {
		// Empty or failed transcription aborts without touching the
		// model; the mic flow resets and the user just retries.
		observability.RecordError(ctx, err)
		r.notifySoft(err)
		r.logError(action, "transcription_failed", err)
		return nil, err
	}

	entry := storage.ActionHistoryEntry{
		ActionID:      action.ID,
		ActionName:    action.Name,
		ActionPrompt:  action.Prompt,
		Transcription: text,
	}

	if prompt := strings.TrimSpace(action.Prompt); prompt == "" {
		entry.ResultText = text
	} else {
		model := strings.TrimSpace(action.Model)
		if model == "" {
			model = cfg.LLM.Model
		}
		reply, err := r.gen.Generate(ctx, composePrompt(prompt, text), model)
		if err != nil {
			observability.RecordError(ctx, err)
			if !werrors.IsCode(err, werrors.ErrCodeGenerationCancelled) {
				r.notifySoft(err)
			}
			r.logError(action, "generation_failed", err)
			return nil, err
		}
		entry.LLMResponse = reply
		entry.ResultText = strings.TrimSpace(reply)
	}

	saved, err := r.history.AppendActionHistory(entry)
	if err != nil {
		r.logError(action, "history_append_failed", err)
	} else {
		entry = *saved
		r.hub.Publish(events.Event{Type: events.EventHistoryUpdated, Data: map[string]any{
			"op": "append",
			"id": saved.ID,
		}})
	}

	if r.logger != nil {
		_ = r.logger.Info(logging.CategoryAction, "action_completed", "", map[string]any{
			"action_id":   action.ID,
			"action_name": action.Name,
			"chars_in":    len(text),
			"chars_out":   len(entry.ResultText),
			"duration_ms": time.Since(started).Milliseconds(),
		})
	}
	return &entry, nil
}

// composePrompt merges the transcription into the action prompt.
func composePrompt(prompt, text string) string {
	if strings.Contains(prompt, textPlaceholder) {
		return strings.ReplaceAll(prompt, textPlaceholder, text)
	}
	return prompt + "\n\n" + text
}

func (r *Runner) notifySoft(err error) {
	msg := werrors.NoticeOf(err)
	if msg == "" {
		msg = "The action could not finish. Try again."
	}
	r.hub.Publish(events.Notification(events.SeveritySoft, msg))
}

func (r *Runner) logError(action *config.Action, event string, err error) {
	if r.logger == nil {
		return
	}
	_ = r.logger.Error(logging.CategoryAction, event, err.Error(), map[string]any{
		"action_id":   action.ID,
		"action_name": action.Name,
	})
}
