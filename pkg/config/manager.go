package config

import (
	"context"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/artasov/winky-cli/pkg/events"
	"github.com/artasov/winky-cli/pkg/logging"
	"github.com/artasov/winky-cli/pkg/paths"
	"github.com/artasov/winky-cli/pkg/werrors"
)

// debounceWindow batches rapid file events. Editors often truncate and
// rewrite, which fires several events for one logical save.
const debounceWindow = 200 * time.Millisecond

// Manager owns the live configuration. Reads return copies, writes go
// through merge patches, and an optional watcher picks up edits made
// outside the process.
type Manager struct {
	mu     sync.RWMutex
	path   string
	cfg    *Config
	hub    *events.Hub
	logger *logging.Logger
}

// NewManager loads the config at path (default location when empty) and
// returns a manager around it. A missing file is created with defaults.
func NewManager(path string, hub *events.Hub, logger *logging.Logger) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if path == "" {
		// Load resolved the default location; resolve it again so the
		// manager knows where to save.
		path = paths.ConfigFile()
	}
	return &Manager{
		path:   path,
		cfg:    cfg,
		hub:    hub,
		logger: logger,
	}, nil
}

// Path returns the config file location.
func (m *Manager) Path() string {
	return m.path
}

// Config returns a copy of the current configuration.
func (m *Manager) Config() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Clone()
}

// Update applies a merge patch: maps merge recursively, everything else
// replaces. The merged result is normalized, persisted, and swapped in,
// and a config.updated event is published.
func (m *Manager) Update(patch map[string]any) (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := toMap(m.cfg)
	if err != nil {
		return nil, err
	}
	merged := deepMerge(current, patch)

	next, err := fromMap(merged)
	if err != nil {
		return nil, err
	}
	next.Normalize()

	if err := Save(next, m.path); err != nil {
		return nil, err
	}
	m.cfg = next
	m.publishUpdated("update")
	return next.Clone(), nil
}

// Set replaces the whole configuration.
func (m *Manager) Set(cfg *Config) (*Config, error) {
	next := cfg.Clone()
	next.Normalize()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := Save(next, m.path); err != nil {
		return nil, err
	}
	m.cfg = next
	m.publishUpdated("set")
	return next.Clone(), nil
}

// Reload reads the file again and swaps the result in. Returns true
// when the loaded config differs from the current one.
func (m *Manager) Reload() (bool, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if reflect.DeepEqual(cfg, m.cfg) {
		return false, nil
	}
	m.cfg = cfg
	m.publishUpdated("reload")
	return true, nil
}

// Watch follows the config file until ctx is cancelled and reloads it
// when something else writes to it. The parent directory is watched
// rather than the file, because editors replace files and the watch on
// the old inode dies with it. Reloads that produce an identical config
// publish nothing, which also swallows echoes of our own saves.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return werrors.Wrap(err, werrors.ErrCodeConfigLoad, "creating config watcher")
	}
	defer watcher.Close()

	dir := filepath.Dir(m.path)
	if err := watcher.Add(dir); err != nil {
		return werrors.Wrap(err, werrors.ErrCodeConfigLoad, "watching config directory").
			WithContext("dir", dir)
	}

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filepath.Base(m.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounceWindow)
			}
			pending = timer.C
		case <-pending:
			pending = nil
			if _, err := m.Reload(); err != nil {
				m.logError("config.reload_failed", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logError("config.watch_error", err)
		}
	}
}

func (m *Manager) publishUpdated(reason string) {
	if m.hub == nil {
		return
	}
	m.hub.Publish(events.Event{
		Type: events.EventConfigUpdated,
		Data: map[string]any{"reason": reason},
	})
}

func (m *Manager) logError(eventType string, err error) {
	if m.logger == nil {
		return
	}
	_ = m.logger.Error(logging.CategoryConfig, eventType, err.Error(), nil)
}

// toMap round-trips a config through YAML into a generic map so merge
// patches can be applied at the document level.
func toMap(cfg *Config) (map[string]any, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, werrors.Wrap(err, werrors.ErrCodeConfigInvalid, "encoding config")
	}
	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, werrors.Wrap(err, werrors.ErrCodeConfigInvalid, "decoding config")
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func fromMap(doc map[string]any) (*Config, error) {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, werrors.Wrap(err, werrors.ErrCodeConfigInvalid, "encoding merged config")
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, werrors.Wrap(err, werrors.ErrCodeConfigParse, "applying config patch").
			WithUserMessage("That change does not fit the config format.")
	}
	return cfg, nil
}

// deepMerge merges patch into base. Nested maps merge key by key, any
// other value replaces wholesale. Slices replace, matching how partial
// updates treat action lists as atomic.
func deepMerge(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		pv, pok := v.(map[string]any)
		bv, bok := out[k].(map[string]any)
		if pok && bok {
			out[k] = deepMerge(bv, pv)
			continue
		}
		out[k] = v
	}
	return out
}
