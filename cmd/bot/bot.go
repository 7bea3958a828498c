package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/abelzeko/river-monitor/internal/api"
	"github.com/abelzeko/river-monitor/internal/config"
	"github.com/abelzeko/river-monitor/internal/integration/openai"
	"github.com/abelzeko/river-monitor/internal/repository"
	"github.com/abelzeko/river-monitor/internal/usecases"
)

func main() {
	// Configure logging
	log.SetOutput(os.Stdout)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("Starting River Monitor Bot...")

	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Get the bot token from config or RIVER_TELEGRAM_TOKEN
	if cfg.Telegram.Token == "" {
		log.Fatal("telegram.token is not set (RIVER_TELEGRAM_TOKEN)")
	}

	repo, err := repository.NewSQLiteMeasurementRepository(cfg.Database.Path, cfg.SourceLocation())
	if err != nil {
		log.Fatalf("Failed to initialize repository: %v", err)
	}
	defer repo.Close()

	// Free text goes through OpenAI only when a key is configured
	var interpreter api.MessageInterpreter
	if cfg.OpenAI.APIKey != "" {
		svc, err := openai.NewOpenAIService(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
		if err != nil {
			log.Fatalf("Failed to initialize OpenAI service: %v", err)
		}
		interpreter = svc
		log.Printf("Free-text interpretation enabled (model %s)", cfg.OpenAI.Model)
	}

	telegramBot, err := api.NewTelegramBot(cfg.Telegram.Token, usecases.NewQueryUseCase(repo), interpreter)
	if err != nil {
		log.Fatalf("Failed to initialize Telegram bot: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telegramBot.Start(ctx)
}
