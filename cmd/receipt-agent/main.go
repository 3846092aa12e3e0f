package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/receipt-agent/internal/config"
	"github.com/zombor/receipt-agent/internal/delivery"
	"github.com/zombor/receipt-agent/internal/receipt"
	"github.com/zombor/receipt-agent/internal/scanning"
	"github.com/zombor/receipt-agent/internal/telegram"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

const shutdownTimeout = 30 * time.Second

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	// Check for version flag before parsing other flags
	for _, arg := range args {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Fprintln(stdout, version)
			return 0
		}
	}

	var (
		cfg      config.Config
		exitCode int
	)

	rootFlags := ff.NewFlagSet("receipt-agent")
	cfg.RegisterFlags(rootFlags)
	rootFlags.BoolLong("version", "Show version information")

	extractCmd := &ff.Command{
		Name:      "extract",
		Usage:     "receipt-agent extract [FLAGS] <path>",
		ShortHelp: "extract receipt details from an image file",
		Flags:     ff.NewFlagSet("extract").SetParent(rootFlags),
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("extract requires exactly one image path")
			}
			exitCode = runExtract(ctx, cfg, args[0], stdout, stderr)
			return nil
		},
	}

	serveFlags := ff.NewFlagSet("serve").SetParent(rootFlags)
	cfg.RegisterServeFlags(serveFlags)
	serveCmd := &ff.Command{
		Name:      "serve",
		Usage:     "receipt-agent serve [FLAGS]",
		ShortHelp: "answer receipt photos sent to a Telegram bot via webhook",
		Flags:     serveFlags,
		Exec: func(ctx context.Context, args []string) error {
			return runServe(ctx, cfg)
		},
	}

	root := &ff.Command{
		Name:        "receipt-agent",
		Usage:       "receipt-agent <SUBCOMMAND> [FLAGS]",
		ShortHelp:   "extract structured data from receipt photos",
		Flags:       rootFlags,
		Subcommands: []*ff.Command{extractCmd, serveCmd},
	}

	if err := root.Parse(args, ff.WithEnvVarPrefix(config.EnvVarPrefix)); err != nil {
		selected := root.GetSelected()
		if selected == nil {
			selected = root
		}
		fmt.Fprintf(stderr, "%s\n", ffhelp.Command(selected))
		if errors.Is(err, ff.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	cfg.ApplyEnvFallbacks(os.Getenv)

	logger, err := cfg.NewLogger(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	slog.SetDefault(logger)

	if err := root.Run(ctx); err != nil {
		if errors.Is(err, ff.ErrNoExec) {
			fmt.Fprintf(stderr, "%s\n", ffhelp.Command(root))
			return 1
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return exitCode
}

func runExtract(ctx context.Context, cfg config.Config, path string, stdout, stderr io.Writer) int {
	if err := cfg.ValidateExtract(); err != nil {
		fmt.Fprintf(stderr, "error: invalid configuration: %v\n", err)
		return delivery.ExitFailure
	}

	extractor, loc, err := newExtractor(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return delivery.ExitFailure
	}
	defer extractor.Close()

	local := delivery.NewLocalDelivery(extractor, receipt.NewFormatter(loc), stdout, stderr)
	return local.Run(ctx, path)
}

func runServe(ctx context.Context, cfg config.Config) error {
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	extractor, loc, err := newExtractor(cfg)
	if err != nil {
		return err
	}
	defer extractor.Close()

	bot, err := telegram.NewClient(cfg.TelegramToken, telegram.WithBaseURL(cfg.TelegramAPIURL))
	if err != nil {
		return fmt.Errorf("creating telegram client: %w", err)
	}
	me, err := bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("checking telegram token: %w", err)
	}
	slog.Info("Connected to Telegram", "bot", me.Username)

	chat := delivery.NewChatDelivery(extractor, bot, receipt.NewFormatter(loc), cfg.WebhookSecret,
		delivery.WithFetchTimeout(cfg.FetchTimeout),
	)
	server := delivery.NewServer(chat, delivery.WithProcessTimeout(cfg.ProcessTimeout))
	if cfg.WebhookSecret == "" {
		slog.Warn("No webhook secret configured; updates are not authenticated")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Start(cfg.Addr)
	})

	if cfg.PublicURL != "" {
		g.Go(func() error {
			if err := bot.SetWebhook(gctx, cfg.PublicURL, cfg.WebhookSecret); err != nil {
				return fmt.Errorf("registering webhook: %w", err)
			}
			slog.Info("Webhook registered", "url", cfg.PublicURL)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if cfg.PublicURL != "" {
			if err := bot.DeleteWebhook(shutdownCtx, false); err != nil {
				slog.Error("Failed to remove webhook", "error", err)
			}
		}
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newExtractor(cfg config.Config) (*scanning.Extractor, *time.Location, error) {
	policy, err := cfg.Policy()
	if err != nil {
		return nil, nil, err
	}

	var model scanning.Model
	switch cfg.Provider {
	case config.ProviderGemini:
		slog.Info("Initializing Gemini model...", "model", cfg.GeminiModel)
		model, err = scanning.NewGemini(cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing Gemini: %w", err)
		}
	case config.ProviderOllama:
		slog.Info("Initializing Ollama model...", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
		model, err = scanning.NewOllama(cfg.OllamaURL, cfg.OllamaModel)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing Ollama: %w", err)
		}
	default:
		return nil, nil, fmt.Errorf("invalid provider %q: valid providers are gemini or ollama", cfg.Provider)
	}

	extractor := scanning.NewExtractor(model,
		scanning.WithTimeout(cfg.ModelTimeout),
		scanning.WithValidator(receipt.NewValidator(policy)),
	)
	return extractor, policy.Location, nil
}
