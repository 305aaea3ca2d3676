package main

import (
	"context"
	"flag"
	"strings"

	"github.com/artasov/winky-cli/pkg/notes"
	"github.com/artasov/winky-cli/pkg/terminal"
	"github.com/artasov/winky-cli/pkg/werrors"
)

func runNotesCommand(c *cli) error {
	sub := "list"
	args := c.args
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}
	switch sub {
	case "list":
		return listNotes(c, args)
	case "add":
		return addNote(c, args)
	case "edit":
		return editNote(c, args)
	case "rm", "delete":
		return removeNotes(c, args)
	default:
		return werrors.New(werrors.ErrCodeInvalidInput, "unknown notes subcommand "+sub).
			WithUserMessage("Usage: winky notes list|add|edit|rm")
	}
}

func listNotes(c *cli, args []string) error {
	fs := flag.NewFlagSet("notes list", flag.ContinueOnError)
	page := fs.Int("page", 1, "page number")
	pageSize := fs.Int("page-size", 20, "notes per page")
	if err := fs.Parse(args); err != nil {
		return werrors.Wrap(err, werrors.ErrCodeInvalidInput, "bad flags")
	}

	res, err := c.engine.Notes().List(context.Background(), *page, *pageSize)
	if err != nil {
		return err
	}
	if len(res.Results) == 0 {
		c.out.Info("No notes.")
		return nil
	}
	for _, n := range res.Results {
		line := n.ID + "  " + terminal.Truncate(n.Title, 40)
		if n.XUsername != "" {
			line += "  @" + n.XUsername
		}
		c.out.Println("%s", line)
		if strings.TrimSpace(n.Description) != "" {
			c.out.Dim("%s", terminal.Indent(terminal.Truncate(n.Description, 100), 2))
		}
	}
	c.out.Dim("%d notes total, page %d", res.Count, *page)
	return nil
}

func addNote(c *cli, args []string) error {
	fs := flag.NewFlagSet("notes add", flag.ContinueOnError)
	description := fs.String("description", "", "note body")
	xUsername := fs.String("x-username", "", "associated X username")
	if err := fs.Parse(args); err != nil {
		return werrors.Wrap(err, werrors.ErrCodeInvalidInput, "bad flags")
	}
	title := strings.Join(fs.Args(), " ")
	n, err := c.engine.Notes().Create(context.Background(), notes.Input{
		Title:       title,
		Description: *description,
		XUsername:   *xUsername,
	})
	if err != nil {
		return err
	}
	c.out.Success("Added note %s", n.ID)
	return nil
}

func editNote(c *cli, args []string) error {
	fs := flag.NewFlagSet("notes edit", flag.ContinueOnError)
	title := fs.String("title", "", "new title")
	description := fs.String("description", "", "new body")
	xUsername := fs.String("x-username", "", "new X username")
	if err := fs.Parse(args); err != nil {
		return werrors.Wrap(err, werrors.ErrCodeInvalidInput, "bad flags")
	}
	if fs.NArg() < 1 {
		return werrors.New(werrors.ErrCodeInvalidInput, "note id required").
			WithUserMessage("Usage: winky notes edit <id> [--title ...] [--description ...] [--x-username ...]")
	}

	var patch notes.Patch
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "title":
			patch.Title = title
		case "description":
			patch.Description = description
		case "x-username":
			patch.XUsername = xUsername
		}
	})
	n, err := c.engine.Notes().Update(context.Background(), fs.Arg(0), patch)
	if err != nil {
		return err
	}
	c.out.Success("Updated note %s", n.ID)
	return nil
}

func removeNotes(c *cli, args []string) error {
	if len(args) == 0 {
		return werrors.New(werrors.ErrCodeInvalidInput, "note id required").
			WithUserMessage("Usage: winky notes rm <id> [id...]")
	}
	ctx := context.Background()
	if len(args) == 1 {
		if err := c.engine.Notes().Delete(ctx, args[0]); err != nil {
			return err
		}
		c.out.Success("Deleted note %s", args[0])
		return nil
	}
	deleted, err := c.engine.Notes().BulkDelete(ctx, args)
	if err != nil {
		return err
	}
	c.out.Success("Deleted %d notes", deleted)
	return nil
}
