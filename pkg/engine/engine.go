// Package engine wires the application together: configuration, storage,
// the event hub, logging, backend clients, direct providers, and the
// services built on top of them. Commands construct one Engine per process
// and reach every subsystem through it.
package engine

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/artasov/winky-cli/pkg/actions"
	"github.com/artasov/winky-cli/pkg/api"
	"github.com/artasov/winky-cli/pkg/chat"
	"github.com/artasov/winky-cli/pkg/config"
	"github.com/artasov/winky-cli/pkg/events"
	"github.com/artasov/winky-cli/pkg/logging"
	"github.com/artasov/winky-cli/pkg/notes"
	"github.com/artasov/winky-cli/pkg/paths"
	"github.com/artasov/winky-cli/pkg/storage"
	"github.com/artasov/winky-cli/pkg/stream"
	"github.com/artasov/winky-cli/pkg/transcribe"
	"github.com/artasov/winky-cli/pkg/werrors"
)

// Options override construction defaults. The zero value builds a
// production engine; tests inject fakes and temp paths.
type Options struct {
	// DatabasePath overrides the default SQLite location.
	DatabasePath string
	// LogsDir overrides where session logs are written.
	LogsDir string
	// SessionID names the log session; a fresh uuid when empty.
	SessionID string
	// NetworkLogs mirrors backend traffic into network.jsonl.
	NetworkLogs bool
	// PageSize overrides the navigator's branch page size.
	PageSize int

	Hub    *events.Hub
	Logger *logging.Logger
	API    *api.Client
	Stream *stream.Client

	// Direct provider endpoints, overridable for tests.
	OpenAIBaseURL  string
	GeminiBaseURL  string
	OllamaBaseURL  string
	WhisperBaseURL string
}

// Engine owns every subsystem for one process.
type Engine struct {
	opts Options

	configMgr   *config.Manager
	hub         *events.Hub
	logger      *logging.Logger
	store       *storage.Store
	api         *api.Client
	stream      *stream.Client
	transcriber *transcribe.Transcriber
	notes       *notes.Service
	actions     *actions.Runner
	local       *localTree

	ownHub    bool
	ownLogger bool

	cancelBackground context.CancelFunc
	wg               sync.WaitGroup

	mu         sync.Mutex
	navigators map[string]*chat.Navigator
}

// New builds an engine around the config file at configPath, or the
// default location when empty.
func New(configPath string, opts Options) (*Engine, error) {
	e := &Engine{
		opts:       opts,
		local:      newLocalTree(),
		navigators: make(map[string]*chat.Navigator),
	}

	e.hub = opts.Hub
	if e.hub == nil {
		e.hub = events.NewHub()
		e.ownHub = true
	}

	e.logger = opts.Logger
	if e.logger == nil {
		sessionID := opts.SessionID
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		logsDir := opts.LogsDir
		if logsDir == "" {
			logsDir = paths.LogsDir()
		}
		// A broken log directory degrades to no logging rather than
		// refusing to start; every Logger method is nil-safe.
		if logger, err := logging.NewLogger(logsDir, sessionID); err == nil {
			e.logger = logger
			e.ownLogger = true
		}
	}

	mgr, err := config.NewManager(configPath, e.hub, e.logger)
	if err != nil {
		e.closePartial()
		return nil, err
	}
	e.configMgr = mgr
	cfg := mgr.Config()
	token := cfg.BackendToken()

	dbPath := opts.DatabasePath
	if dbPath == "" {
		dbPath = paths.DatabaseFile()
	}
	store, err := storage.New(dbPath)
	if err != nil {
		e.closePartial()
		return nil, err
	}
	e.store = store

	e.api = opts.API
	if e.api == nil {
		client, err := api.New(api.Options{
			BaseURL:   apiBaseURL(cfg.Backend.BaseURL),
			Token:     token,
			Transport: logging.NewTransport(nil, opts.NetworkLogs),
		})
		if err != nil {
			e.closePartial()
			return nil, err
		}
		e.api = client
	}

	e.stream = opts.Stream
	if e.stream == nil {
		client, err := stream.New(stream.Options{
			BaseURL: cfg.Backend.BaseURL,
			Token:   token,
			Logger:  e.logger,
		})
		if err != nil {
			e.closePartial()
			return nil, err
		}
		e.stream = client
	}

	e.transcriber = transcribe.New(transcribe.Options{
		Source:         mgr,
		Backend:        e.api,
		Logger:         e.logger,
		OpenAIBaseURL:  opts.OpenAIBaseURL,
		GeminiBaseURL:  opts.GeminiBaseURL,
		WhisperBaseURL: opts.WhisperBaseURL,
	})

	e.notes = notes.NewService(&modalNotesBackend{
		source: mgr,
		local:  notes.NewLocalBackend(store),
		remote: notes.NewAPIBackend(e.api),
	}, e.hub, e.logger)

	e.actions = actions.New(actions.Options{
		Source:      mgr,
		Transcriber: e.transcriber,
		Generator:   oneShotGenerator{engine: e},
		History:     store,
		Hub:         e.hub,
		Logger:      e.logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	e.cancelBackground = cancel
	e.background(func() { _ = mgr.Watch(ctx) })
	e.background(func() { e.followConfig(ctx) })

	return e, nil
}

// apiBaseURL derives the REST base from the configured site root. An empty
// root keeps the client's hosted default.
func apiBaseURL(siteRoot string) string {
	root := strings.TrimSpace(siteRoot)
	if root == "" {
		return ""
	}
	return strings.TrimRight(root, "/") + "/api/v1"
}

func (e *Engine) ConfigManager() *config.Manager { return e.configMgr }

func (e *Engine) Hub() *events.Hub { return e.hub }

func (e *Engine) Logger() *logging.Logger { return e.logger }

func (e *Engine) Store() *storage.Store { return e.store }

func (e *Engine) API() *api.Client { return e.api }

func (e *Engine) Notes() *notes.Service { return e.notes }

func (e *Engine) Actions() *actions.Runner { return e.actions }

func (e *Engine) Transcriber() *transcribe.Transcriber { return e.transcriber }

// OpenChat returns the navigator for a chat, creating and caching it on
// first use. Navigators are shared so every surface sees one branch state
// and the per-chat locks actually serialize.
func (e *Engine) OpenChat(chatID string) *chat.Navigator {
	if chatID == "" {
		return e.NewChat()
	}
	e.mu.Lock()
	if nav, ok := e.navigators[chatID]; ok {
		e.mu.Unlock()
		return nav
	}
	nav := e.newNavigator(chatID, e.sourceFor(chatID))
	e.navigators[chatID] = nav
	e.mu.Unlock()

	e.hub.Publish(events.Event{Type: events.EventChatOpened, ChatID: chatID})
	return nav
}

// NewChat returns a navigator for a chat that does not exist yet. Its id
// is adopted from the first generation, and the navigator is indexed under
// it at that point so OpenChat finds it afterwards.
func (e *Engine) NewChat() *chat.Navigator {
	src := chat.BranchSource(e.api)
	if e.configMgr.Config().LLM.Mode != config.ModeHosted {
		src = e.local
	}
	return e.newNavigator("", src)
}

func (e *Engine) newNavigator(chatID string, src chat.BranchSource) *chat.Navigator {
	router := &generationRouter{engine: e}
	nav := chat.NewNavigator(chatID, src, router, chat.NavigatorOptions{
		Leaves:   e.store,
		Hub:      e.hub,
		Logger:   e.logger,
		PageSize: e.opts.PageSize,
	})
	router.nav = nav
	return nav
}

func (e *Engine) sourceFor(chatID string) chat.BranchSource {
	if IsLocalChat(chatID) {
		return e.local
	}
	return e.api
}

// rememberNavigator indexes a navigator under its adopted chat id.
func (e *Engine) rememberNavigator(chatID string, nav *chat.Navigator) {
	if chatID == "" || nav == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.navigators[chatID]; !ok {
		e.navigators[chatID] = nav
	}
}

// CloseChat cancels any in-flight generation and drops the cached
// navigator. The chat itself is untouched.
func (e *Engine) CloseChat(chatID string) {
	e.mu.Lock()
	nav := e.navigators[chatID]
	delete(e.navigators, chatID)
	e.mu.Unlock()
	if nav != nil {
		nav.Cancel()
	}
}

// DeleteChat removes a chat wherever it lives: the backend for hosted
// chats, the in-process tree for local ones. The saved leaf goes with it.
func (e *Engine) DeleteChat(ctx context.Context, chatID string) error {
	if strings.TrimSpace(chatID) == "" {
		return werrors.New(werrors.ErrCodeInvalidInput, "chat id required").
			WithUserMessage("Pick a chat to delete.")
	}
	if IsLocalChat(chatID) {
		e.local.deleteChat(chatID)
	} else if err := e.api.DeleteChat(ctx, chatID); err != nil {
		return err
	}
	if err := e.store.DeleteLeaf(chatID); err != nil {
		e.logError(logging.CategoryStorage, "leaf_delete_failed", err,
			map[string]any{"chat_id": chatID})
	}
	e.CloseChat(chatID)
	e.hub.Publish(events.Event{
		Type:   events.EventChatDeleted,
		ChatID: chatID,
	})
	return nil
}

// followConfig pushes credential changes into the live clients. Base URL
// changes still need a restart; tokens are cheap to swap.
func (e *Engine) followConfig(ctx context.Context) {
	ch, cancel := e.hub.Subscribe(events.EventConfigUpdated)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			token := e.configMgr.Config().BackendToken()
			e.api.SetToken(token)
			e.stream.SetToken(token)
		}
	}
}

// background runs fn on a goroutine Close waits for.
func (e *Engine) background(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

func (e *Engine) logError(category logging.Category, event string, err error, details map[string]any) {
	if e.logger == nil {
		return
	}
	_ = e.logger.Error(category, event, err.Error(), details)
}

// logUsage mirrors credit spend into usage.jsonl.
func (e *Engine) logUsage(credits float64, chatID string) {
	if e.logger == nil {
		return
	}
	_ = e.logger.Log(logging.Event{
		Level:     logging.LevelInfo,
		Category:  logging.CategoryUsage,
		EventType: "credits_spent",
		ChatID:    chatID,
		Details:   map[string]any{"credits": credits},
	})
}

// Close cancels in-flight work and releases everything the engine built.
// Injected hubs and loggers stay open for their owners.
func (e *Engine) Close() error {
	e.mu.Lock()
	navs := make([]*chat.Navigator, 0, len(e.navigators))
	for _, nav := range e.navigators {
		navs = append(navs, nav)
	}
	e.navigators = make(map[string]*chat.Navigator)
	e.mu.Unlock()
	for _, nav := range navs {
		nav.Cancel()
	}

	if e.cancelBackground != nil {
		e.cancelBackground()
	}
	e.wg.Wait()

	var first error
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			first = err
		}
	}
	if e.ownHub {
		e.hub.Close()
	}
	if e.ownLogger {
		if err := e.logger.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (e *Engine) closePartial() {
	if e.store != nil {
		_ = e.store.Close()
	}
	if e.ownLogger {
		_ = e.logger.Close()
	}
	if e.ownHub {
		e.hub.Close()
	}
}

// modalNotesBackend routes each call to whichever backend the config
// currently names, so flipping notes_storage_mode applies to the next
// operation without rebuilding the service.
type modalNotesBackend struct {
	source *config.Manager
	local  *notes.LocalBackend
	remote *notes.APIBackend
}

func (b *modalNotesBackend) pick() notes.Backend {
	if b.source.Config().NotesStorageMode == config.NotesModeLocal {
		return b.local
	}
	return b.remote
}

func (b *modalNotesBackend) List(ctx context.Context, page, pageSize int) (*notes.Page, error) {
	return b.pick().List(ctx, page, pageSize)
}

func (b *modalNotesBackend) Create(ctx context.Context, input notes.Input) (*notes.Note, error) {
	return b.pick().Create(ctx, input)
}

func (b *modalNotesBackend) Update(ctx context.Context, id string, patch notes.Patch) (*notes.Note, error) {
	return b.pick().Update(ctx, id, patch)
}

func (b *modalNotesBackend) Delete(ctx context.Context, id string) error {
	return b.pick().Delete(ctx, id)
}

func (b *modalNotesBackend) BulkDelete(ctx context.Context, ids []string) (int, error) {
	return b.pick().BulkDelete(ctx, ids)
}
