package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/artasov/winky-cli/pkg/terminal"
	"github.com/artasov/winky-cli/pkg/werrors"
)

func runActionsCommand(c *cli) error {
	sub := "list"
	args := c.args
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}
	switch sub {
	case "list":
		return listActions(c)
	case "run":
		return runAction(c, args)
	default:
		return werrors.New(werrors.ErrCodeInvalidInput, "unknown actions subcommand "+sub).
			WithUserMessage("Usage: winky actions list|run")
	}
}

func listActions(c *cli) error {
	cfg := c.engine.ConfigManager().Config()
	if len(cfg.Actions) == 0 {
		c.out.Info("No actions configured. Add them under 'actions:' in %s", c.engine.ConfigManager().Path())
		return nil
	}
	for _, a := range cfg.Actions {
		line := a.ID + "  " + a.Name
		if a.Hotkey != "" {
			line += "  [" + a.Hotkey + "]"
		}
		c.out.Println("%s", line)
		if strings.TrimSpace(a.Prompt) == "" {
			c.out.Dim("  (transcription only)")
		} else {
			c.out.Dim("  %s", terminal.Truncate(oneLine(a.Prompt), 90))
		}
	}
	return nil
}

func runAction(c *cli, args []string) error {
	if len(args) < 2 {
		return werrors.New(werrors.ErrCodeInvalidInput, "action id and audio file required").
			WithUserMessage("Usage: winky actions run <action-id> <audio-file>")
	}
	audio, mimeType, err := readAudioFile(args[1])
	if err != nil {
		return err
	}

	entry, err := c.engine.Actions().Run(context.Background(), args[0], audio, mimeType)
	if err != nil {
		return err
	}
	if c.out.Color() {
		if mdErr := c.out.Markdown(entry.ResultText); mdErr == nil {
			return nil
		}
	}
	c.out.Println("%s", entry.ResultText)
	return nil
}

// readAudioFile loads an audio file and derives its MIME type from the
// extension, matching what the transcription providers accept.
func readAudioFile(path string) ([]byte, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", werrors.Wrap(err, werrors.ErrCodeInvalidInput, "read audio file").
			WithUserMessage("Could not read " + path + ".")
	}
	if len(data) == 0 {
		return nil, "", werrors.New(werrors.ErrCodeInvalidInput, "empty audio file").
			WithUserMessage(path + " is empty.")
	}
	return data, audioMIME(path), nil
}

func audioMIME(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".ogg":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	case ".webm":
		return "audio/webm"
	default:
		return "application/octet-stream"
	}
}
