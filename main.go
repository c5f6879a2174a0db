// Command steam-sales-notifier scrapes the Steam specials catalog on a fixed
// schedule, stores the current snapshot, and alerts Telegram subscribers and
// per-title watchers about newly discounted games.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"steam-sales-notifier/config"
	"steam-sales-notifier/dispatch"
	"steam-sales-notifier/ingest"
	"steam-sales-notifier/scraper"
	"steam-sales-notifier/server"
	"steam-sales-notifier/store"
	"steam-sales-notifier/telegram"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Logging.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if cfg.Telegram.BotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	catalog := store.NewCatalog(db)
	registry := store.NewRegistry(db)

	source := scraper.New(&http.Client{Timeout: 30 * time.Second}, cfg.Scan.URL, logger)
	dispatcher := dispatch.New(cfg.Dispatch.MaxAttempts, logger)

	monitor := ingest.NewMonitor(source, catalog, registry, dispatcher, logger, ingest.Options{
		Interval:          cfg.Scan.Interval(),
		Backoff:           cfg.Scan.Backoff(),
		ToleranceFraction: cfg.Scan.ToleranceFraction,
		AlertOnFirstRun:   cfg.Scan.AlertOnFirstRun,
	})

	client := telegram.NewClient(cfg.Telegram.BotToken, logger)
	bot := telegram.NewBot(client, catalog, registry, dispatcher, logger, telegram.Options{
		DrainInterval: cfg.Dispatch.DrainInterval(),
		PageSize:      cfg.Telegram.PageSize,
	})

	srv := server.New(catalog, monitor, dispatcher, logger)

	logger.Info("Steam sales notifier starting",
		"database", cfg.Database.Path,
		"http_addr", cfg.HTTP.Addr,
		"scan_interval", cfg.Scan.Interval().String())

	go monitor.Run(ctx)
	go bot.Run(ctx)

	if err := srv.Run(ctx, cfg.HTTP.Addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("Shutdown complete")
	return nil
}
