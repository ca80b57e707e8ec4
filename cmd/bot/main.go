package main

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-telegram/bot"

	flowchat "github.com/set-night/flowchat"
	"github.com/set-night/flowchat/internal/config"
	"github.com/set-night/flowchat/internal/flowise"
	"github.com/set-night/flowchat/internal/handler"
	"github.com/set-night/flowchat/internal/middleware"
	"github.com/set-night/flowchat/internal/state"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.BotToken == "" {
		slog.Error("BOT_TOKEN is required for the telegram bridge")
		os.Exit(1)
	}

	// Setup context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load embedded migrations
	migrationsFS, err := fs.Sub(flowchat.MigrationsFS, "migrations")
	if err != nil {
		slog.Error("failed to load embedded migrations", "error", err)
		os.Exit(1)
	}

	// Open local state database (runs migrations)
	states, err := state.Open(ctx, cfg.StateDBPath, migrationsFS)
	if err != nil {
		slog.Error("failed to open state database", "error", err)
		os.Exit(1)
	}
	defer states.Close()

	// Chatflow backend client
	client := flowise.New(cfg.BaseURL, cfg.APIKey)

	// Create bot
	opts := []bot.Option{
		bot.WithMiddlewares(
			middleware.Recover(),
			middleware.Logging(),
		),
	}

	b, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		slog.Error("failed to create bot", "error", err)
		os.Exit(1)
	}

	if cfg.DropPendingUpdates {
		b.DeleteWebhook(ctx, &bot.DeleteWebhookParams{DropPendingUpdates: true})
	}

	// Initialize handler
	h := handler.New(handler.Deps{
		Bot:    b,
		Cfg:    cfg,
		Client: client,
		States: states,
	})

	// Register command and callback handlers
	h.Register()

	// Default handler: free text and media become conversation turns
	b.RegisterHandler(bot.HandlerTypeMessageText, "", bot.MatchTypePrefix, h.HandleMessage)

	// Start bot
	slog.Info("starting bot", "flow", cfg.FlowID, "base_url", cfg.BaseURL)
	b.Start(ctx)

	// Graceful shutdown
	slog.Info("bot stopped gracefully")
}
