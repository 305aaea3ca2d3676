package main

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/artasov/winky-cli/pkg/werrors"
)

func runConfigCommand(c *cli) error {
	sub := "show"
	args := c.args
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}
	switch sub {
	case "show":
		return showConfig(c)
	case "set":
		return setConfig(c, args)
	case "path":
		c.out.Println("%s", c.engine.ConfigManager().Path())
		return nil
	default:
		return werrors.New(werrors.ErrCodeInvalidInput, "unknown config subcommand "+sub).
			WithUserMessage("Usage: winky config show|set|path")
	}
}

func showConfig(c *cli) error {
	cfg := c.engine.ConfigManager().Config().Clone()
	cfg.APIKeys.OpenAI = redactKey(cfg.APIKeys.OpenAI)
	cfg.APIKeys.Google = redactKey(cfg.APIKeys.Google)
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return werrors.Wrap(err, werrors.ErrCodeInternal, "marshal config")
	}
	c.out.Print("%s", string(out))
	return nil
}

func setConfig(c *cli, args []string) error {
	if len(args) < 2 {
		return werrors.New(werrors.ErrCodeInvalidInput, "key and value required").
			WithUserMessage("Usage: winky config set <dotted.key> <value>")
	}
	patch, err := patchForKey(args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	if _, err := c.engine.ConfigManager().Update(patch); err != nil {
		return err
	}
	c.out.Success("Set %s", args[0])
	return nil
}

// patchForKey turns a dotted key and a scalar into the nested merge patch
// the manager applies. The value goes through YAML so bools and numbers
// keep their types.
func patchForKey(key, raw string) (map[string]any, error) {
	parts := strings.Split(key, ".")
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return nil, werrors.New(werrors.ErrCodeInvalidInput, "malformed config key "+key).
				WithUserMessage("Config keys look like llm.mode or mic.hotkey.")
		}
	}

	var value any
	if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
		value = raw
	}

	patch := map[string]any{parts[len(parts)-1]: value}
	for i := len(parts) - 2; i >= 0; i-- {
		patch = map[string]any{parts[i]: patch}
	}
	return patch, nil
}

// redactKey keeps enough of a key to recognize it without printing it.
func redactKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "********"
	}
	return key[:4] + "…" + key[len(key)-4:]
}
