// Package main contains the entrypoint for the WhatsApp digest bot.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sikumbot/internal/bot"
	"sikumbot/internal/commands"
	"sikumbot/internal/config"
	"sikumbot/internal/database"
	"sikumbot/internal/embeddings"
	"sikumbot/internal/gemini"
	"sikumbot/internal/logger"
	"sikumbot/internal/retry"
	"sikumbot/internal/summarizer"
	"sikumbot/internal/webhook"
	"sikumbot/internal/whatsapp"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes all components (config, logger, db, ai client, whatsapp
// client, pipeline, scheduler, webhook server), handles graceful shutdown,
// and returns an exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	retryPolicy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		MinWait:     cfg.Retry.MinWait,
		MaxWait:     cfg.Retry.MaxWait,
	}

	aiClient, err := gemini.NewClient(ctx, cfg.Gemini, retryPolicy, log)
	if err != nil {
		log.Error("Failed to initialize Gemini client", "error", err)
		return 1
	}

	waClient := whatsapp.NewClient(cfg.WhatsApp, retryPolicy, log)

	// The bot's own JID filters its echoes out of ingestion and summaries.
	botJID, err := waClient.OwnJID(ctx)
	if err != nil {
		log.Error("Failed to resolve own JID", "error", err)
		return 1
	}

	engine, err := summarizer.NewEngine(store, aiClient, cfg.Summary, botJID, log)
	if err != nil {
		log.Error("Failed to create summarization engine", "error", err)
		return 1
	}
	coordinator := summarizer.NewCoordinator(store, waClient, cfg.Summary.RecipientPhone, engine.Location(), log)
	service := summarizer.NewService(engine, coordinator, log)

	router := commands.NewRouter(waClient, cfg.Summary.RecipientPhone, log)
	commands.RegisterDefaults(router, service, store, cfg.Summary)

	var workers []bot.Runner
	var embedder bot.Embedder
	if cfg.Embeddings.Enabled {
		worker := embeddings.NewWorker(store, aiClient, cfg.Embeddings.QueueSize, log)
		embedder = worker
		workers = append(workers, worker)
	}

	pipeline := bot.NewPipeline(store, router, embedder, botJID, cfg.Ingest.QueueSize, log)
	server := webhook.NewServer(cfg.Webhook.Port, pipeline, log)

	scheduler, err := bot.NewScheduler(service, cfg.Summary.ScheduleHour, cfg.Summary.Timezone, log)
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	app := bot.New(store, waClient, pipeline, server, scheduler, log, workers...)
	app.SyncGroups(ctx)

	log.Info("Starting bot...")
	runErr := app.Run(ctx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Bot stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Bot stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}
