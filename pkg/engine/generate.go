package engine

import (
	"context"
	"time"

	"github.com/artasov/winky-cli/pkg/chat"
	"github.com/artasov/winky-cli/pkg/config"
	"github.com/artasov/winky-cli/pkg/llm"
	"github.com/artasov/winky-cli/pkg/logging"
	"github.com/artasov/winky-cli/pkg/observability"
	"github.com/artasov/winky-cli/pkg/stream"
	"github.com/artasov/winky-cli/pkg/werrors"
)

// generationRouter picks the transport for each generation. New chats follow
// llm.mode at send time; existing chats keep the transport they were born
// on, so flipping the mode mid-session never splices messages from one
// source into a tree owned by another.
type generationRouter struct {
	engine *Engine
	nav    *chat.Navigator
}

func (r *generationRouter) Generate(ctx context.Context, req chat.GenerateRequest, onDelta func(string)) (*chat.GenerateResult, error) {
	cfg := r.engine.configMgr.Config()
	hosted := cfg.LLM.Mode == config.ModeHosted
	if req.ChatID != "" {
		hosted = !IsLocalChat(req.ChatID)
	}
	mode := cfg.LLM.Mode
	if hosted {
		mode = config.ModeHosted
	}

	ctx, span := observability.StartSpan(ctx, "chat.generate")
	defer span.End()
	observability.SetAttributes(ctx,
		observability.AttrMode.String(mode),
		observability.AttrModel.String(cfg.LLM.Model),
		observability.AttrChatID.String(req.ChatID),
	)

	var (
		res *chat.GenerateResult
		err error
	)
	if hosted {
		res, err = r.engine.hostedGenerate(ctx, cfg, req, onDelta)
	} else {
		res, err = r.engine.directGenerate(ctx, cfg, req, r.nav, onDelta)
	}
	if err != nil {
		observability.RecordError(ctx, err)
		observability.SetAttributes(ctx,
			observability.AttrErrorCode.String(string(werrors.CodeOf(err))))
		return nil, err
	}
	if req.ChatID == "" {
		r.engine.rememberNavigator(res.ChatID, r.nav)
	}
	observability.SetAttributes(ctx,
		observability.AttrMessageID.String(res.MessageID),
		observability.AttrChatID.String(res.ChatID))
	return res, nil
}

func (e *Engine) hostedGenerate(ctx context.Context, cfg *config.Config, req chat.GenerateRequest, onDelta func(string)) (*chat.GenerateResult, error) {
	res, err := e.stream.Generate(ctx, stream.Request{
		Prompt:          req.Prompt,
		ModelLevel:      cfg.LLM.Model,
		ChatID:          req.ChatID,
		ParentMessageID: req.ParentMessageID,
	}, onDelta)
	if err != nil {
		return nil, err
	}
	if res.Credits > 0 {
		e.logUsage(res.Credits, res.ChatID)
	}
	return &chat.GenerateResult{
		Text:      res.Text,
		MessageID: res.MessageID,
		ChatID:    res.ChatID,
		Credits:   res.Credits,
	}, nil
}

// directGenerate streams from a provider and records the exchange in the
// local tree. The navigator's visible branch, which already ends with the
// optimistic prompt, is the context window sent to the model.
func (e *Engine) directGenerate(ctx context.Context, cfg *config.Config, req chat.GenerateRequest, nav *chat.Navigator, onDelta func(string)) (*chat.GenerateResult, error) {
	provider, err := e.providerFor(cfg, cfg.LLM.Model)
	if err != nil {
		return nil, err
	}

	var msgs []llm.Message
	if nav != nil {
		msgs = flattenBranch(nav.Branch())
	}
	if len(msgs) == 0 {
		msgs = []llm.Message{{Role: string(chat.RoleUser), Content: req.Prompt}}
	}

	text, err := provider.Stream(ctx, llm.Request{Model: cfg.LLM.Model, Messages: msgs}, onDelta)
	if err != nil {
		return nil, err
	}

	chatID := req.ChatID
	if chatID == "" {
		chatID = newLocalChatID()
	}
	user := e.local.append(chatID, req.ParentMessageID, chat.RoleUser, req.Prompt)
	assistant := e.local.append(chatID, user.ID.Value, chat.RoleAssistant, text)
	return &chat.GenerateResult{
		Text:      text,
		MessageID: assistant.ID.Value,
		ChatID:    chatID,
	}, nil
}

// providerFor resolves the direct provider for a model under the current
// mode. Hosted mode has none; a local chat continued after switching back
// to hosted lands here and gets told to switch modes instead of silently
// writing backend messages into a local tree.
func (e *Engine) providerFor(cfg *config.Config, model string) (llm.Provider, error) {
	switch cfg.LLM.Mode {
	case config.ModeLocal:
		return llm.NewOllama(e.opts.OllamaBaseURL), nil
	case config.ModeAPIKey:
		if config.IsGeminiModel(model) {
			return llm.NewGemini(cfg.GoogleKey(), e.opts.GeminiBaseURL), nil
		}
		return llm.NewOpenAI(cfg.OpenAIKey(), e.opts.OpenAIBaseURL), nil
	default:
		return nil, werrors.New(werrors.ErrCodeConfigInvalid, "no direct provider in mode "+cfg.LLM.Mode).
			WithUserMessage("This chat lives only on this machine. Set llm.mode to api-key or local to continue it, or start a new chat.")
	}
}

func flattenBranch(branch chat.Branch) []llm.Message {
	out := make([]llm.Message, 0, len(branch))
	for _, m := range branch {
		out = append(out, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// oneShotGenerator adapts the engine's transports to the single-prompt shape
// voice actions use. Hosted one-shots run inside a scratch backend chat that
// is deleted afterwards, keeping action runs out of the chat list.
type oneShotGenerator struct {
	engine *Engine
}

func (g oneShotGenerator) Generate(ctx context.Context, prompt, model string) (string, error) {
	cfg := g.engine.configMgr.Config()

	ctx, span := observability.StartSpan(ctx, "action.generate")
	defer span.End()
	observability.SetAttributes(ctx,
		observability.AttrMode.String(cfg.LLM.Mode),
		observability.AttrModel.String(model),
	)

	if cfg.LLM.Mode == config.ModeHosted {
		res, err := g.engine.stream.Generate(ctx, stream.Request{
			Prompt:     prompt,
			ModelLevel: model,
		}, nil)
		if err != nil {
			observability.RecordError(ctx, err)
			return "", err
		}
		if res.Credits > 0 {
			g.engine.logUsage(res.Credits, res.ChatID)
		}
		g.engine.discardScratchChat(res.ChatID)
		return res.Text, nil
	}

	provider, err := g.engine.providerFor(cfg, model)
	if err != nil {
		return "", err
	}
	text, err := provider.Stream(ctx, llm.Request{
		Model:    model,
		Messages: []llm.Message{{Role: string(chat.RoleUser), Content: prompt}},
	}, nil)
	if err != nil {
		observability.RecordError(ctx, err)
		return "", err
	}
	return text, nil
}

// discardScratchChat deletes the backend chat a hosted one-shot created.
// Failures only log; the result is already in hand.
func (e *Engine) discardScratchChat(chatID string) {
	if chatID == "" {
		return
	}
	e.background(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := e.api.DeleteChat(ctx, chatID); err != nil {
			e.logError(logging.CategoryChat, "scratch_chat_delete_failed", err,
				map[string]any{"chat_id": chatID})
		}
	})
}
