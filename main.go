package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"docdl/api"
	"docdl/config"
	"docdl/fetch"
	"docdl/providers"
	"docdl/providers/feed"
	"docdl/providers/iea"
	"docdl/providers/imf"
	"docdl/services"
	"docdl/storage"
	"docdl/store"
	"docdl/summarizer"
)

// documentStore ist ein Backend, das Pipeline und API gleichzeitig bedient.
type documentStore interface {
	store.DocumentStore
	store.Reader
}

// app hält die verdrahteten Komponenten eines Prozesses.
type app struct {
	cfg    *config.Config
	store  documentStore
	runner *services.Runner
	close  func()
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cliApp := &cli.App{
		Name:  "docdl",
		Usage: "Discover, download and enrich publications of configured sources",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "sources",
				Aliases: []string{"s"},
				Usage:   "Path to the sources YAML file (overrides SOURCES_FILE)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Start the HTTP API and the scheduled runs",
				Action: func(c *cli.Context) error {
					return serveCommand(c, logging)
				},
			},
			{
				Name:  "run",
				Usage: "Execute one ingestion run and print the run report as JSON",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Re-enrich documents even if their content is unchanged",
					},
				},
				Action: func(c *cli.Context) error {
					return runCommand(c, logging)
				},
			},
		},
		DefaultCommand: "serve",
	}

	if err := cliApp.Run(os.Args); err != nil {
		logging.Fatal("docdl failed", zap.Error(err))
	}
}

func serveCommand(c *cli.Context, logging *zap.Logger) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, c, logging)
	if err != nil {
		return err
	}
	defer a.close()

	// Setup Cron
	cronScheduler := cron.New()
	_, err = cronScheduler.AddFunc(a.cfg.CronSchedule, func() {
		logging.Info("Running scheduled ingestion run...")
		report, err := a.runner.Run(ctx)
		if errors.Is(err, services.ErrRunInProgress) {
			logging.Warn("Skipping scheduled run, another run is in progress")
			return
		}
		if err != nil {
			logging.Error("Cron job failed", zap.Error(err))
			return
		}
		logging.Info("Cron job completed",
			zap.String("run_id", report.RunID),
			zap.Int("processed", report.Counts.Processed),
			zap.Int("failed", report.Counts.Failed))
	})
	if err != nil {
		return fmt.Errorf("invalid CRON_SCHEDULE %q: %w", a.cfg.CronSchedule, err)
	}
	cronScheduler.Start()
	defer cronScheduler.Stop()

	router := api.NewRouter(a.cfg.APISecretKey, a.runner, a.store, logging)

	logging.Info("Starting server", zap.String("port", a.cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + a.cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Warn("Server shutdown failed", zap.Error(err))
		}
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to run server: %w", err)
	}
	return nil
}

func runCommand(c *cli.Context, logging *zap.Logger) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, c, logging)
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.runner.Run(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// setup lädt Konfiguration und Quellen und verdrahtet alle Komponenten.
func setup(ctx context.Context, c *cli.Context, logging *zap.Logger) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config load error: %w", err)
	}
	if err := cfg.ValidatePipeline(); err != nil {
		return nil, fmt.Errorf("config load error: %w", err)
	}
	if path := c.String("sources"); path != "" {
		cfg.SourcesFile = path
	}
	if c.Bool("force") {
		cfg.DedupeEnabled = false
	}

	sources, err := config.LoadSources(cfg.SourcesFile)
	if err != nil {
		return nil, err
	}
	logging.Info("Sources loaded", zap.String("file", cfg.SourcesFile), zap.Int("count", len(sources)))

	st, closeStore, err := openStore(cfg, logging)
	if err != nil {
		return nil, err
	}

	fetcher, err := fetch.New(fetch.Config{
		UserAgent:       cfg.UserAgent,
		Timeout:         cfg.HTTPTimeout,
		MaxRetries:      cfg.MaxRetries,
		BackoffStatuses: cfg.BackoffStatuses,
	}, nil, fetch.NewRateLimiter(cfg.RateLimitRPS), logging)
	if err != nil {
		closeStore()
		return nil, err
	}

	// Setup Providers
	registry := providers.NewRegistry(
		imf.New(fetcher, logging),
		iea.New(fetcher, logging),
		feed.New(fetcher, logging),
	)

	var normalizer *services.TextNormalizer
	if cfg.NormalizeText {
		normalizer = services.NewTextNormalizer(services.DefaultNormalizeOptions(), logging)
	}

	sum, err := summarizer.New(summarizer.Config{
		BaseURL:  cfg.OpenAIBaseURL,
		APIKey:   cfg.OpenAIAPIKey,
		Model:    cfg.OpenAIModel,
		MaxChars: cfg.EnrichMaxChars,
	}, logging)
	if err != nil {
		closeStore()
		return nil, err
	}

	artifacts, err := storage.NewLocal(cfg.DataDir)
	if err != nil {
		closeStore()
		return nil, err
	}

	deps := services.Dependencies{
		Getter:     fetcher,
		Store:      st,
		Registry:   registry,
		Extractor:  services.NewPDFExtractor(normalizer, logging),
		Summarizer: sum,
		Artifacts:  artifacts,
	}
	if cfg.S3Enabled() {
		s3cfg := storage.S3Config{
			URL:    cfg.S3URL,
			Region: cfg.S3Region,
			Key:    cfg.S3Key,
			Secret: cfg.S3Secret,
			Bucket: cfg.S3Bucket,
			Prefix: storage.DirRaw + "/",
		}
		s3Client, err := storage.NewS3Client(ctx, s3cfg)
		if err != nil {
			closeStore()
			return nil, fmt.Errorf("S3 client creation failed: %w", err)
		}
		deps.Mirror = storage.NewS3Mirror(s3Client, s3cfg)
		logging.Info("S3 mirror enabled", zap.String("bucket", cfg.S3Bucket))
	}

	pipeline, err := services.NewPipeline(deps, services.Options{
		Sources:       sources,
		DedupeEnabled: cfg.DedupeEnabled,
		Workers:       cfg.Workers,
		RunTimeout:    cfg.RunTimeout,
	}, logging)
	if err != nil {
		closeStore()
		return nil, err
	}

	return &app{
		cfg:    cfg,
		store:  st,
		runner: services.NewRunner(pipeline.Run, logging),
		close:  closeStore,
	}, nil
}

// openStore öffnet das konfigurierte Backend und führt bei Postgres die
// Migration aus.
func openStore(cfg *config.Config, logging *zap.Logger) (documentStore, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendBadger:
		bs, err := store.OpenBadgerStore(cfg.BadgerDir, logging)
		if err != nil {
			return nil, nil, err
		}
		logging.Info("Opened badger store", zap.String("dir", cfg.BadgerDir))
		return bs, func() {
			if err := bs.Close(); err != nil {
				logging.Warn("Failed to close badger store", zap.Error(err))
			}
		}, nil
	default:
		db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		logging.Info("Successfully connected to database.")

		gs := store.NewGormStore(db)
		logging.Info("Running database auto-migration...")
		if err := gs.Migrate(); err != nil {
			return nil, nil, fmt.Errorf("auto-migration failed: %w", err)
		}
		return gs, func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}, nil
	}
}
