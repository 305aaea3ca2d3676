// Package config manages the Winky configuration file.
//
// Configuration lives in a single YAML file under the Winky home
// directory. Loading is tolerant: a missing file produces defaults and
// writes them back, and every loaded config passes through Normalize so
// the rest of the program never sees a blank mode or model. Updates are
// merge patches, so callers only send the fields they changed.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/artasov/winky-cli/pkg/paths"
	"github.com/artasov/winky-cli/pkg/werrors"
)

// Provider modes for speech and LLM backends.
const (
	// ModeHosted routes requests through the Winky backend.
	ModeHosted = "hosted"
	// ModeAPIKey calls the provider directly with the user's own key.
	ModeAPIKey = "api-key"
	// ModeLocal talks to a model server running on this machine.
	ModeLocal = "local"
)

// Notes storage modes.
const (
	NotesModeLocal = "local"
	NotesModeAPI   = "api"
)

// Default models per concern.
const (
	DefaultSpeechModel = "gpt-4o-mini-transcribe"
	DefaultLLMModel    = "o4-mini"
	DefaultMicHotkey   = "Alt+Q"
	DefaultMicAnchor   = "bottom-right"
	DefaultTokenEnv    = "WINKY_TOKEN"
)

// Config is the full Winky configuration.
type Config struct {
	Speech           SpeechConfig  `yaml:"speech"`
	LLM              LLMConfig     `yaml:"llm"`
	APIKeys          APIKeys       `yaml:"api_keys"`
	Actions          []Action      `yaml:"actions"`
	NotesStorageMode string        `yaml:"notes_storage_mode"`
	Mic              MicConfig     `yaml:"mic"`
	Backend          BackendConfig `yaml:"backend"`
	SetupCompleted   bool          `yaml:"setup_completed"`
}

// SpeechConfig selects the transcription backend.
type SpeechConfig struct {
	Mode  string `yaml:"mode"`
	Model string `yaml:"model"`
}

// LLMConfig selects the generation backend.
type LLMConfig struct {
	Mode  string `yaml:"mode"`
	Model string `yaml:"model"`
}

// APIKeys holds provider keys for api-key mode. Environment variables
// take precedence over these values at resolution time.
type APIKeys struct {
	OpenAI string `yaml:"openai"`
	Google string `yaml:"google"`
}

// Action is a voice action: transcribe, fill the prompt template, run
// the result through the configured model.
type Action struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Prompt     string `yaml:"prompt"`
	Model      string `yaml:"model,omitempty"`
	OutputMode string `yaml:"output_mode,omitempty"`
	Hotkey     string `yaml:"hotkey,omitempty"`
}

// MicConfig holds recording preferences.
type MicConfig struct {
	Hotkey                string  `yaml:"hotkey"`
	Anchor                string  `yaml:"anchor"`
	AutoStartRecording    bool    `yaml:"auto_start_recording"`
	CompletionSoundVolume float64 `yaml:"completion_sound_volume"`
}

// BackendConfig points at the Winky backend. The auth token is never
// stored in the file, only the name of the environment variable that
// holds it.
type BackendConfig struct {
	BaseURL  string `yaml:"base_url,omitempty"`
	TokenEnv string `yaml:"token_env"`
}

// Default returns the configuration used when no file exists yet.
func Default() *Config {
	return &Config{
		Speech: SpeechConfig{
			Mode:  ModeHosted,
			Model: DefaultSpeechModel,
		},
		LLM: LLMConfig{
			Mode:  ModeHosted,
			Model: DefaultLLMModel,
		},
		NotesStorageMode: NotesModeAPI,
		Mic: MicConfig{
			Hotkey:                DefaultMicHotkey,
			Anchor:                DefaultMicAnchor,
			AutoStartRecording:    true,
			CompletionSoundVolume: 1.0,
		},
		Backend: BackendConfig{
			TokenEnv: DefaultTokenEnv,
		},
	}
}

// Normalize fills blanks and repairs invalid values in place. Every
// config handed to the rest of the program has been normalized, so
// downstream code can rely on modes and models being non-empty.
func (c *Config) Normalize() {
	c.Speech.Mode = normalizeMode(c.Speech.Mode)
	c.LLM.Mode = normalizeMode(c.LLM.Mode)

	if strings.TrimSpace(c.Speech.Model) == "" {
		c.Speech.Model = DefaultSpeechModel
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		c.LLM.Model = DefaultLLMModel
	}

	// Api-key mode without the key the model needs cannot work, so it
	// quietly falls back to hosted rather than failing every request.
	// Keys can come from the file or the environment.
	if c.Speech.Mode == ModeAPIKey && c.KeyForModel(c.Speech.Model) == "" {
		c.Speech.Mode = ModeHosted
	}
	if c.LLM.Mode == ModeAPIKey && c.KeyForModel(c.LLM.Model) == "" {
		c.LLM.Mode = ModeHosted
	}

	if c.NotesStorageMode != NotesModeLocal && c.NotesStorageMode != NotesModeAPI {
		c.NotesStorageMode = NotesModeAPI
	}

	if strings.TrimSpace(c.Mic.Hotkey) == "" {
		c.Mic.Hotkey = DefaultMicHotkey
	}
	if strings.TrimSpace(c.Mic.Anchor) == "" {
		c.Mic.Anchor = DefaultMicAnchor
	}
	if c.Mic.CompletionSoundVolume < 0 {
		c.Mic.CompletionSoundVolume = 0
	}
	if c.Mic.CompletionSoundVolume > 1 {
		c.Mic.CompletionSoundVolume = 1
	}

	if strings.TrimSpace(c.Backend.TokenEnv) == "" {
		c.Backend.TokenEnv = DefaultTokenEnv
	}

	for i := range c.Actions {
		if strings.TrimSpace(c.Actions[i].ID) == "" {
			c.Actions[i].ID = uuid.NewString()
		}
		c.Actions[i].Name = strings.TrimSpace(c.Actions[i].Name)
	}
}

func normalizeMode(mode string) string {
	switch mode {
	case ModeHosted, ModeAPIKey, ModeLocal:
		return mode
	default:
		return ModeHosted
	}
}

// IsGeminiModel reports whether a model name belongs to the Gemini family.
// Routing between the OpenAI and Google providers keys off this.
func IsGeminiModel(model string) bool {
	return strings.HasPrefix(strings.ToLower(model), "gemini")
}

// OpenAIKey resolves the OpenAI key, preferring the environment.
func (c *Config) OpenAIKey() string {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return key
	}
	return strings.TrimSpace(c.APIKeys.OpenAI)
}

// GoogleKey resolves the Gemini key, preferring the environment.
// GEMINI_API_KEY wins, GOOGLE_API_KEY is accepted as an alias.
func (c *Config) GoogleKey() string {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		return key
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		return key
	}
	return strings.TrimSpace(c.APIKeys.Google)
}

// KeyForModel resolves the API key the given model needs, including
// environment overrides. Returns "" when no key is available.
func (c *Config) KeyForModel(model string) string {
	if IsGeminiModel(model) {
		return c.GoogleKey()
	}
	return c.OpenAIKey()
}

// BackendToken reads the backend auth token from the environment
// variable named by backend.token_env. Tokens never live in the file.
func (c *Config) BackendToken() string {
	env := c.Backend.TokenEnv
	if env == "" {
		env = DefaultTokenEnv
	}
	return os.Getenv(env)
}

// ActionByID finds a configured action. Returns nil when absent.
func (c *Config) ActionByID(id string) *Action {
	for i := range c.Actions {
		if c.Actions[i].ID == id {
			return &c.Actions[i]
		}
	}
	return nil
}

// Clone returns a deep copy. Callers get copies so a config read never
// races with an update.
func (c *Config) Clone() *Config {
	out := *c
	if c.Actions != nil {
		out.Actions = make([]Action, len(c.Actions))
		copy(out.Actions, c.Actions)
	}
	return &out
}

// Load reads the config at path, or the default location when path is
// empty. A missing file yields defaults and writes them back so the
// user has a file to edit.
func Load(path string) (*Config, error) {
	if path == "" {
		path = paths.ConfigFile()
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := Default()
		cfg.Normalize()
		if err := Save(cfg, path); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, werrors.Wrap(err, werrors.ErrCodeConfigLoad, "reading config file").
			WithContext("path", path)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, werrors.Wrap(err, werrors.ErrCodeConfigParse, "parsing config file").
			WithContext("path", path).
			WithUserMessage("The config file is not valid YAML. Fix it or delete it to start fresh.")
	}
	cfg.Normalize()
	return cfg, nil
}

// Save writes the config to path with private permissions. The file can
// hold API keys, so it is never group or world readable.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return werrors.Wrap(err, werrors.ErrCodeConfigInvalid, "encoding config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return werrors.Wrap(err, werrors.ErrCodeStorageWrite, "creating config directory")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return werrors.Wrap(err, werrors.ErrCodeStorageWrite, "writing config file").
			WithContext("path", path)
	}
	return nil
}
