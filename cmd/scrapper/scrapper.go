package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abelzeko/river-monitor/internal/config"
	"github.com/abelzeko/river-monitor/internal/entities"
	"github.com/abelzeko/river-monitor/internal/integration"
	"github.com/abelzeko/river-monitor/internal/observability"
	"github.com/abelzeko/river-monitor/internal/repository"
	"github.com/abelzeko/river-monitor/internal/usecases"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	cfgFile string
	once    bool
	debug   bool
	output  string
)

var rootCmd = &cobra.Command{
	Use:   "scrapper",
	Short: "Fetch river measurements on a schedule",
	Long: `scrapper pulls the measured-data table from the hydrology service,
stores new observations and purges rows past the retention window.

By default it runs on the configured cron schedule. Use --once for a single
cycle (exit status reflects the outcome) or --debug to print the row trace
without touching the database.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.Flags().BoolVar(&once, "once", false, "run a single cycle and exit")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "print the parse trace instead of storing anything")
	rootCmd.Flags().StringVar(&output, "output", "json", "trace output format: json, yaml")
}

func main() {
	// Configure logging
	log.SetOutput(os.Stdout)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newScraper(cfg *config.Config) *integration.WaterScraper {
	return integration.NewWaterScraper(cfg.Source.URL,
		integration.WithTimeout(cfg.Source.Timeout),
		integration.WithUserAgent(cfg.Source.UserAgent),
	)
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scraper := newScraper(cfg)

	if debug {
		// The trace path never opens the database
		useCase := usecases.NewIngestUseCase(nil, scraper, nil, clockwork.NewRealClock(), cfg.SourceLocation(), cfg.Retention.Window)
		trace, err := useCase.DebugTrace(ctx)
		if err != nil {
			return err
		}
		return writeTrace(cmd.OutOrStdout(), trace, output)
	}

	log.Println("Starting River Monitor Scraper...")

	repo, err := repository.NewSQLiteMeasurementRepository(cfg.Database.Path, cfg.SourceLocation())
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()

	metrics := observability.NewMetrics()
	useCase := usecases.NewIngestUseCase(repo, scraper, metrics, clockwork.NewRealClock(), cfg.SourceLocation(), cfg.Retention.Window)

	if once {
		_, err := useCase.RefreshMeasurements(ctx)
		return err
	}

	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr)
	}

	if cfg.Schedule.RunOnStart {
		if _, err := useCase.RefreshMeasurements(ctx); err != nil {
			log.Printf("Initial data refresh failed: %v", err)
		}
	}

	cronLogger := cron.VerbosePrintfLogger(log.New(os.Stdout, "cron: ", log.Ldate|log.Ltime))
	c := cron.New(
		cron.WithLocation(cfg.SourceLocation()),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger)),
	)
	_, err = c.AddFunc(cfg.Schedule.Cron, func() {
		if _, err := useCase.RefreshMeasurements(ctx); err != nil {
			log.Printf("Scheduled data refresh failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to set up cron job: %w", err)
	}

	log.Printf("Scraper has been scheduled with %q", cfg.Schedule.Cron)
	c.Start()

	<-ctx.Done()
	log.Println("Shutting down, waiting for running cycle...")
	<-c.Stop().Done()
	log.Println("Shutdown complete")
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("Metrics listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("Metrics server error: %v", err)
	}
}

func writeTrace(w io.Writer, trace *entities.ParseTrace, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(trace)
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(trace)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
