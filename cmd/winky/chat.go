package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/artasov/winky-cli/pkg/chat"
	"github.com/artasov/winky-cli/pkg/events"
	"github.com/artasov/winky-cli/pkg/llm"
	"github.com/artasov/winky-cli/pkg/terminal"
)

// runChatCommand opens the interactive REPL on one chat. With no argument a
// new chat starts; its id is adopted from the first completed generation.
func runChatCommand(c *cli) error {
	chatID := ""
	if len(c.args) > 0 {
		chatID = c.args[0]
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	nav := c.engine.OpenChat(chatID)
	repl := &chatREPL{cli: c, nav: nav}

	if chatID != "" {
		if err := nav.Load(ctx); err != nil {
			return err
		}
		repl.renderBranch()
		repl.prefetch(ctx)
	} else {
		c.out.Info("New chat. Type a message, or /help for commands.")
	}

	// From here on the hub is the only reporting channel; navigator errors
	// always arrive as notify events, so command results are not re-printed.
	done := repl.follow(ctx)
	defer func() { stop(); <-done }()

	// Ctrl-C cancels an in-flight generation; at the prompt it exits.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			if nav.Generating() {
				nav.Cancel()
				continue
			}
			stop()
			_ = c.engine.Close()
			os.Exit(130)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		c.out.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if repl.command(ctx, line) {
				return nil
			}
			continue
		}
		// Other failures are surfaced by the follow goroutine; ErrBusy is
		// returned without a notification, so report it here.
		if err := nav.Send(ctx, line); err == chat.ErrBusy {
			c.out.Warn("A generation is already running; /cancel it first.")
		}
	}
}

type chatREPL struct {
	cli *cli
	nav *chat.Navigator
}

// follow renders hub traffic: streamed deltas, terminal stream events, and
// user-facing notifications. It owns all asynchronous output so the prompt
// loop never races it mid-line.
func (r *chatREPL) follow(ctx context.Context) <-chan struct{} {
	ch, cancel := r.cli.engine.Hub().Subscribe(
		events.EventStreamDelta,
		events.EventStreamDone,
		events.EventStreamCancelled,
		events.EventStreamErrored,
		events.EventNotify,
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		streaming := false
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				switch ev.Type {
				case events.EventStreamDelta:
					if text, ok := ev.Data["text"].(string); ok {
						streaming = true
						r.cli.out.Stream(text)
					}
				case events.EventStreamDone, events.EventStreamCancelled, events.EventStreamErrored:
					if streaming {
						r.cli.out.StreamEnd()
						streaming = false
					}
				case events.EventNotify:
					if streaming {
						r.cli.out.StreamEnd()
						streaming = false
					}
					if ev.Severity == events.SeverityBlocking {
						r.cli.out.Error("%s", ev.Message)
					} else {
						r.cli.out.Warn("%s", ev.Message)
					}
				}
			}
		}
	}()
	return done
}

// command executes one slash command and reports whether the REPL should
// exit. Navigator failures surface through the hub follower, so they are
// not re-printed here.
func (r *chatREPL) command(ctx context.Context, line string) (quit bool) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/help":
		r.help()
	case "/branch":
		r.renderBranch()
	case "/older":
		if !r.nav.HasMore() {
			r.cli.out.Info("Already at the start of the conversation.")
			return false
		}
		if err := r.nav.LoadOlder(ctx); err == nil {
			r.renderBranch()
		}
	case "/prev", "/next":
		dir := chat.DirectionPrev
		if fields[0] == "/next" {
			dir = chat.DirectionNext
		}
		msg, ok := r.messageArg(fields)
		if !ok {
			return false
		}
		if err := r.nav.SwitchSibling(ctx, msg.ID, dir); err == nil {
			r.renderBranch()
			r.prefetch(ctx)
		}
	case "/edit":
		msg, ok := r.messageArg(fields)
		if !ok {
			return false
		}
		if len(fields) < 3 {
			r.cli.out.Warn("Usage: /edit <n> <new text>")
			return false
		}
		rest := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))
		text := strings.TrimSpace(strings.TrimPrefix(rest, fields[1]))
		if err := r.nav.Edit(ctx, msg.ID, text); err == chat.ErrBusy {
			r.cli.out.Warn("A generation is already running; /cancel it first.")
		}
	case "/cancel":
		r.nav.Cancel()
	case "/tokens":
		n := llm.EstimateTokens(branchMessages(r.nav.Branch()))
		r.cli.out.Info("~%d prompt tokens in the visible branch", n)
	case "/quit", "/exit", "/q":
		return true
	default:
		r.cli.out.Warn("Unknown command %s; try /help", fields[0])
	}
	return false
}

// messageArg resolves a 1-based branch position from the command's second
// field.
func (r *chatREPL) messageArg(fields []string) (chat.Message, bool) {
	if len(fields) < 2 {
		r.cli.out.Warn("Usage: %s <n>", fields[0])
		return chat.Message{}, false
	}
	n, err := strconv.Atoi(fields[1])
	branch := r.nav.Branch()
	if err != nil || n < 1 || n > len(branch) {
		r.cli.out.Warn("No message #%s in this branch (1-%d)", fields[1], len(branch))
		return chat.Message{}, false
	}
	return branch[n-1], true
}

func (r *chatREPL) renderBranch() {
	branch := r.nav.Branch()
	if len(branch) == 0 {
		r.cli.out.Info("Empty chat.")
		return
	}
	if r.nav.HasMore() {
		r.cli.out.Dim("(older messages available - /older)")
	}
	for i, msg := range branch {
		label := fmt.Sprintf("#%d %s", i+1, msg.Role)
		if msg.SiblingCount > 1 {
			label += fmt.Sprintf(" (%d/%d)", msg.SiblingIndex+1, msg.SiblingCount)
		}
		if msg.ID.Pending {
			label += " (sending)"
		}
		r.cli.out.Bold("%s", label)
		if msg.Role == chat.RoleAssistant && r.cli.out.Color() {
			if err := r.cli.out.Markdown(msg.Content); err != nil {
				r.cli.out.Println("%s", msg.Content)
			}
		} else {
			r.cli.out.Println("%s", terminal.Indent(msg.Content, 2))
		}
	}
}

// prefetch warms the sibling cache for the visible branch so /prev and
// /next answer without a fetch.
func (r *chatREPL) prefetch(ctx context.Context) {
	branch := r.nav.Branch()
	ids := make([]chat.MessageID, 0, len(branch))
	for _, msg := range branch {
		ids = append(ids, msg.ID)
	}
	go r.nav.PrefetchSiblings(ctx, ids)
}

func (r *chatREPL) help() {
	r.cli.out.Print(`In-chat commands:
  /branch           Redraw the conversation
  /older            Load older messages
  /prev <n>         Switch message n to its previous sibling
  /next <n>         Switch message n to its next sibling
  /edit <n> <text>  Edit user message n and regenerate
  /cancel           Cancel the in-flight generation (also Ctrl-C)
  /tokens           Estimate prompt tokens for the visible branch
  /quit             Leave the chat
Anything else is sent as a message.
`)
}

func branchMessages(branch chat.Branch) []llm.Message {
	out := make([]llm.Message, 0, len(branch))
	for _, m := range branch {
		out = append(out, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}
