package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abelzeko/river-monitor/internal/api"
	"github.com/abelzeko/river-monitor/internal/config"
	"github.com/abelzeko/river-monitor/internal/integration"
	"github.com/abelzeko/river-monitor/internal/observability"
	"github.com/abelzeko/river-monitor/internal/repository"
	"github.com/abelzeko/river-monitor/internal/usecases"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
)

func main() {
	// Configure logging
	log.SetOutput(os.Stdout)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("Starting River Monitor read API...")

	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	repo, err := repository.NewSQLiteMeasurementRepository(cfg.Database.Path, cfg.SourceLocation())
	if err != nil {
		log.Fatalf("Failed to initialize repository: %v", err)
	}
	defer repo.Close()

	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	var tracer api.TraceProvider
	if cfg.API.DebugEnabled {
		scraper := integration.NewWaterScraper(cfg.Source.URL,
			integration.WithTimeout(cfg.Source.Timeout),
			integration.WithUserAgent(cfg.Source.UserAgent),
		)
		tracer = usecases.NewIngestUseCase(repo, scraper, metrics, clock, cfg.SourceLocation(), cfg.Retention.Window)
		log.Println("Debug trace endpoint enabled at /debug/trace")
	}

	gin.SetMode(gin.ReleaseMode)
	srv := api.NewHTTPServer(cfg.API.Addr, usecases.NewQueryUseCase(repo), tracer, metrics, clock, cfg.SourceLocation())
	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start read API: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Read API shutdown error: %v", err)
	}
}
