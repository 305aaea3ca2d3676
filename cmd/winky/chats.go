package main

import (
	"context"
	"flag"
	"strings"

	"github.com/artasov/winky-cli/pkg/api"
	"github.com/artasov/winky-cli/pkg/terminal"
	"github.com/artasov/winky-cli/pkg/werrors"
)

func runChatsCommand(c *cli) error {
	sub := "list"
	args := c.args
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}
	switch sub {
	case "list":
		return listChats(c, args)
	case "rename":
		return renameChat(c, args)
	case "delete", "rm":
		return deleteChat(c, args)
	default:
		return werrors.New(werrors.ErrCodeInvalidInput, "unknown chats subcommand "+sub).
			WithUserMessage("Usage: winky chats list|rename|delete")
	}
}

func listChats(c *cli, args []string) error {
	fs := flag.NewFlagSet("chats list", flag.ContinueOnError)
	page := fs.Int("page", 1, "page number")
	pageSize := fs.Int("page-size", 20, "chats per page")
	if err := fs.Parse(args); err != nil {
		return werrors.Wrap(err, werrors.ErrCodeInvalidInput, "bad flags")
	}

	ctx := context.Background()
	res, err := c.engine.API().ListChats(ctx, *page, *pageSize)
	if err != nil {
		return err
	}
	if len(res.Results) == 0 {
		c.out.Info("No chats.")
		return nil
	}
	for _, ch := range res.Results {
		title := ch.Title
		if strings.TrimSpace(title) == "" {
			title = "(untitled)"
		}
		c.out.Println("%s  %s  %s",
			ch.ID,
			ch.UpdatedAt.Local().Format("2006-01-02 15:04"),
			terminal.Truncate(title, 60))
	}
	c.out.Dim("%d chats total, page %d", res.Count, *page)
	if res.NextPage != nil {
		c.out.Dim("more: winky chats list --page %d", *res.NextPage)
	}
	return nil
}

func renameChat(c *cli, args []string) error {
	if len(args) < 2 {
		return werrors.New(werrors.ErrCodeInvalidInput, "chat id and title required").
			WithUserMessage("Usage: winky chats rename <id> <title>")
	}
	title := strings.Join(args[1:], " ")
	ctx := context.Background()
	ch, err := c.engine.API().UpdateChat(ctx, args[0], api.ChatPatch{Title: &title})
	if err != nil {
		return err
	}
	c.out.Success("Renamed %s to %q", ch.ID, ch.Title)
	return nil
}

func deleteChat(c *cli, args []string) error {
	if len(args) < 1 {
		return werrors.New(werrors.ErrCodeInvalidInput, "chat id required").
			WithUserMessage("Usage: winky chats delete <id>")
	}
	ctx := context.Background()
	if err := c.engine.DeleteChat(ctx, args[0]); err != nil {
		return err
	}
	c.out.Success("Deleted %s", args[0])
	return nil
}
