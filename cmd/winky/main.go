package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/artasov/winky-cli/pkg/engine"
	"github.com/artasov/winky-cli/pkg/observability"
	"github.com/artasov/winky-cli/pkg/paths"
	"github.com/artasov/winky-cli/pkg/terminal"
)

// Version information - set via ldflags during build
var (
	version   = "1.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// startupOptions are the global flags, parsed before subcommand dispatch so
// they may appear anywhere on the command line.
type startupOptions struct {
	configPath string
	debug      bool
	quiet      bool
	noColor    bool
	args       []string
}

func main() {
	opts, err := parseStartupOptions(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	os.Exit(dispatch(opts))
}

func dispatch(opts *startupOptions) int {
	if len(opts.args) == 0 {
		printHelp()
		return 0
	}
	switch opts.args[0] {
	case "--version", "-v", "version":
		printVersion()
		return 0
	case "--help", "-h", "help":
		printHelp()
		return 0
	case "chat":
		return runCommand(opts, runChatCommand)
	case "chats":
		return runCommand(opts, runChatsCommand)
	case "notes":
		return runCommand(opts, runNotesCommand)
	case "history":
		return runCommand(opts, runHistoryCommand)
	case "actions":
		return runCommand(opts, runActionsCommand)
	case "transcribe":
		return runCommand(opts, runTranscribeCommand)
	case "config":
		return runCommand(opts, runConfigCommand)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", opts.args[0])
		printHelp()
		return 2
	}
}

// cli bundles what every subcommand needs: the engine, the writer, and the
// remaining arguments after the subcommand name.
type cli struct {
	engine *engine.Engine
	out    *terminal.Writer
	args   []string
}

func runCommand(opts *startupOptions, handler func(*cli) error) int {
	out := newWriter(opts)

	var tracer *observability.TracerProvider
	if opts.debug {
		tp, err := observability.Setup("winky", version, os.Stderr)
		if err != nil {
			out.Warn("tracing disabled: %v", err)
		} else {
			tracer = tp
		}
	}

	eng, err := engine.New(opts.configPath, engine.Options{NetworkLogs: opts.debug})
	if err != nil {
		out.Error("%v", err)
		return exitCodeForError(err)
	}
	defer func() {
		_ = eng.Close()
		if tracer != nil {
			_ = tracer.Shutdown(shutdownContext())
		}
	}()

	c := &cli{engine: eng, out: out, args: opts.args[1:]}
	if err := handler(c); err != nil {
		out.Error("%s", userFacing(err))
		return exitCodeForError(err)
	}
	return 0
}

func newWriter(opts *startupOptions) *terminal.Writer {
	return terminal.New(os.Stdout, terminal.Options{
		Color: !opts.noColor && terminal.IsTerminal(os.Stdout),
		Quiet: opts.quiet,
		Width: terminal.DetectWidth(),
	})
}

// parseStartupOptions pulls the global flags out of raw, leaving the
// subcommand and its own flags in args. NO_COLOR and WINKY_QUIET seed the
// defaults.
func parseStartupOptions(raw []string) (*startupOptions, error) {
	opts := &startupOptions{}
	if os.Getenv("NO_COLOR") != "" {
		opts.noColor = true
	}
	if v := os.Getenv("WINKY_QUIET"); v == "1" || strings.EqualFold(v, "true") {
		opts.quiet = true
	}

	filtered := make([]string, 0, len(raw))
	var nextConfig bool
	for _, arg := range raw {
		if nextConfig {
			opts.configPath = arg
			nextConfig = false
			continue
		}
		switch {
		case arg == "--config":
			nextConfig = true
		case strings.HasPrefix(arg, "--config="):
			opts.configPath = strings.TrimPrefix(arg, "--config=")
		case arg == "--debug":
			opts.debug = true
		case arg == "--quiet", arg == "-q":
			opts.quiet = true
		case arg == "--no-color":
			opts.noColor = true
		default:
			filtered = append(filtered, arg)
		}
	}
	if nextConfig {
		return nil, fmt.Errorf("--config requires a path")
	}
	opts.args = filtered
	return opts, nil
}

func printVersion() {
	fmt.Printf("winky %s (commit %s, built %s)\n", version, commit, buildDate)
}

func printHelp() {
	fmt.Printf(`winky - terminal client for the Winky assistant

Usage:
  winky <command> [arguments]

Commands:
  chat [id]                  Open a chat (or start a new one) interactively
  chats list|rename|delete   Manage chats
  notes list|add|edit|rm     Manage notes
  history [clear]            Show or clear action history
  actions list|run           List voice actions or run one on an audio file
  transcribe <file>          Transcribe an audio file
  config show|set|path       Inspect or change configuration
  version                    Print version information

Global flags:
  --config <path>   Config file (default %s)
  --debug           Verbose logging and stdout trace spans
  --no-color        Disable styled output (NO_COLOR is honored)
  --quiet, -q       Suppress informational output

Run 'winky chat' and type /help for the in-chat commands.
`, paths.ConfigFile())
}
