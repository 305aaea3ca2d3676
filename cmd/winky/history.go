package main

import (
	"flag"
	"strings"

	"github.com/artasov/winky-cli/pkg/terminal"
	"github.com/artasov/winky-cli/pkg/werrors"
)

func runHistoryCommand(c *cli) error {
	if len(c.args) > 0 && c.args[0] == "clear" {
		n, err := c.engine.Store().ClearActionHistory()
		if err != nil {
			return err
		}
		c.out.Success("Cleared %d history entries", n)
		return nil
	}

	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "entries to show")
	full := fs.Bool("full", false, "print full transcription and result text")
	if err := fs.Parse(c.args); err != nil {
		return werrors.Wrap(err, werrors.ErrCodeInvalidInput, "bad flags")
	}

	entries, err := c.engine.Store().ListActionHistory(*limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		c.out.Info("No action runs yet.")
		return nil
	}
	for _, e := range entries {
		c.out.Bold("%s  %s", e.CreatedAt.Local().Format("2006-01-02 15:04"), e.ActionName)
		if *full {
			c.out.Println("  heard:  %s", e.Transcription)
			if e.LLMResponse != "" {
				c.out.Println("  result: %s", e.ResultText)
			}
			continue
		}
		c.out.Dim("  heard:  %s", terminal.Truncate(oneLine(e.Transcription), 90))
		if e.LLMResponse != "" {
			c.out.Dim("  result: %s", terminal.Truncate(oneLine(e.ResultText), 90))
		}
	}
	return nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
