// Agent chat terminal client.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ashureev/agent-chat/internal/agent"
	"github.com/ashureev/agent-chat/internal/config"
	"github.com/ashureev/agent-chat/internal/eventloop"
	"github.com/ashureev/agent-chat/internal/feed"
	"github.com/ashureev/agent-chat/internal/tui"
	"github.com/ashureev/agent-chat/internal/turn"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "chat:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML client config file")
	once := fs.String("once", "", "send one message, print the reply and exit")
	file := fs.String("file", "", "attach a file to the -once message")
	watch := fs.Bool("watch", false, "print turns answered by the server as they happen")
	watchSession := fs.String("watch-session", "", "only watch turns of this session id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	_ = godotenv.Load()

	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		return err
	}

	headless := *watch || *once != "" || *file != ""
	logger, closeLog, err := newLogger(cfg, headless)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *watch {
		slog.Info("Watching transcript feed", "url", cfg.FeedURL())
		return feed.Watch(ctx, cfg.FeedURL(), *watchSession, func(ev feed.Event) {
			printTurn(os.Stdout, ev)
		})
	}

	loop := eventloop.New(256, logger)
	go func() {
		if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Event loop stopped", "error", err)
		}
	}()

	client := agent.NewClient(cfg.AgentURL, logger, agent.WithSessionID(cfg.SessionID))
	orch := turn.New(loop, client, turn.ConfigFromClient(cfg), logger)
	bridge, err := tui.NewBridge(loop, orch)
	if err != nil {
		return err
	}
	defer func() { _ = bridge.Close() }()

	slog.Info("Chat client started", "agent_url", cfg.AgentURL, "session_id", cfg.SessionID)

	if headless {
		return tui.RunOnce(ctx, bridge, *once, *file, os.Stdout)
	}
	return tui.Run(bridge, bridge.Updates(), tui.Options{
		GlamourStyle: cfg.GlamourStyle,
		Logger:       logger,
	})
}

// newLogger writes JSON logs to the configured file. Without one, headless
// runs log to stderr and the full-screen UI discards logs.
func newLogger(cfg *config.ClientConfig, headless bool) (*slog.Logger, func(), error) {
	opts := &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.LogLevel)}

	if cfg.LogFile == "" {
		var w io.Writer = io.Discard
		if headless {
			w = os.Stderr
		}
		return slog.New(slog.NewJSONHandler(w, opts)), func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	closeFn := func() {
		_ = f.Close()
	}
	return slog.New(slog.NewJSONHandler(f, opts)), closeFn, nil
}

func printTurn(w io.Writer, ev feed.Event) {
	t := ev.Turn
	status := ""
	if t.Failed {
		status = " (failed)"
	}
	fmt.Fprintf(w, "[%s] %s via %s%s\n", humanize.Time(t.CreatedAt), t.SessionID, t.Provider, status)
	fmt.Fprintf(w, "  > %s\n", t.UserMessage)
	fmt.Fprintf(w, "  < %s\n\n", t.Response)
}
