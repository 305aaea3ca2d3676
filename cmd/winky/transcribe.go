package main

import (
	"context"

	"github.com/artasov/winky-cli/pkg/werrors"
)

func runTranscribeCommand(c *cli) error {
	if len(c.args) < 1 {
		return werrors.New(werrors.ErrCodeInvalidInput, "audio file required").
			WithUserMessage("Usage: winky transcribe <audio-file>")
	}
	audio, mimeType, err := readAudioFile(c.args[0])
	if err != nil {
		return err
	}
	text, err := c.engine.Transcriber().Transcribe(context.Background(), audio, mimeType)
	if err != nil {
		return err
	}
	c.out.Println("%s", text)
	return nil
}
