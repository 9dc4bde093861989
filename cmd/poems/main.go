// Command poems is a study companion for classical Chinese poetry: it serves
// the dictation and chat API and offers the same sessions on the terminal.
//
// Usage:
//
//	poems [-config file] <command> [flags]
//
// Commands are list, show, dictate, chat and serve (the default).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/jerryz/poems/internal/app"
	"github.com/jerryz/poems/internal/config"
	"github.com/jerryz/poems/internal/observe"
	"github.com/jerryz/poems/internal/poem"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout))
}

func run(args []string, stdin io.Reader, stdout io.Writer) int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	fs := flag.NewFlagSet("poems", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the YAML configuration file; defaults plus POEMS_* environment when empty")
	fs.Usage = func() { usage(fs) }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	// A .env file is optional; the environment always wins over it.
	envErr := godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "poems: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "poems: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		slog.Warn("could not read .env", "err", envErr)
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	command, rest := "serve", fs.Args()
	if len(rest) > 0 {
		command, rest = rest[0], rest[1:]
	}

	switch command {
	case "list":
		err = cmdList(ctx, cfg, rest, stdout)
	case "show":
		err = cmdShow(ctx, cfg, rest, stdout)
	case "dictate":
		err = cmdDictate(ctx, cfg, rest, stdin, stdout)
	case "chat":
		err = cmdChat(ctx, cfg, rest, stdin, stdout)
	case "serve":
		err = cmdServe(ctx, cfg, *configPath)
	default:
		fmt.Fprintf(os.Stderr, "poems: unknown command %q\n", command)
		usage(fs)
		return 2
	}
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		slog.Error("poems: "+command, "err", err)
		return 1
	}
	return 0
}

func usage(fs *flag.FlagSet) {
	out := fs.Output()
	fmt.Fprintln(out, "usage: poems [-config file] <command> [flags]")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "commands:")
	fmt.Fprintln(out, "  list    [-q query] [-tag tag]   list or search poems")
	fmt.Fprintln(out, "  show    -poem id                print a poem with notes")
	fmt.Fprintln(out, "  dictate -poem id [-count n]     recite from generated questions")
	fmt.Fprintln(out, "  chat    -poem id                ask questions about a poem")
	fmt.Fprintln(out, "  serve                           run the HTTP API (default)")
	fmt.Fprintln(out)
	fs.PrintDefaults()
}

// loadConfig reads path, or builds the config from defaults and the
// environment when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := &config.Config{}
	if err := config.Resolve(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadPoems loads the configured corpus without opening the store or
// building a provider.
func loadPoems(ctx context.Context, cfg *config.Config) (*poem.Repository, error) {
	src := cfg.Corpus.Source
	if src == "" {
		src = poem.DefaultSource
	}
	repo := poem.NewRepository(poem.SourceFor(src))
	if err := repo.Load(ctx); err != nil {
		return nil, fmt.Errorf("load poems from %s: %w", src, err)
	}
	return repo, nil
}

// newApp builds the provider chain and the application around it.
func newApp(ctx context.Context, cfg *config.Config, opts ...app.Option) (*app.App, error) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg.Resilience.RequestTimeout)

	providers, err := buildProviders(cfg, reg, nil)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, providers, opts...)
}

// shutdownApp gives in-flight replies up to 15s to be persisted.
func shutdownApp(application *app.App) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return application.Shutdown(ctx)
}

func cmdServe(ctx context.Context, cfg *config.Config, configPath string) error {
	slog.Info("poems starting",
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "poems"})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	printStartupSummary(os.Stdout, cfg)

	application, err := newApp(ctx, cfg, app.WithMetricsHandler(tel.MetricsHandler()))
	if err != nil {
		return err
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx)
	if runErr != nil && errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("stopping")
	if err := shutdownApp(application); err != nil {
		return errors.Join(runErr, fmt.Errorf("shutdown: %w", err))
	}
	if runErr == nil {
		slog.Info("goodbye")
	}
	return runErr
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
