package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bc-dunia/casgen/internal/api"
	"github.com/bc-dunia/casgen/internal/cache"
	"github.com/bc-dunia/casgen/internal/config"
	"github.com/bc-dunia/casgen/internal/events"
	"github.com/bc-dunia/casgen/internal/jobrunner"
	"github.com/bc-dunia/casgen/internal/metrics"
	"github.com/bc-dunia/casgen/internal/otel"
	"github.com/bc-dunia/casgen/internal/refdata"
	"github.com/bc-dunia/casgen/internal/schedule"
	"github.com/bc-dunia/casgen/internal/store"
	"github.com/bc-dunia/casgen/internal/validation"
)

func main() {
	rateLimit := flag.Float64("rate-limit", 50, "API rate limit in requests/second (0 to disable)")
	rateBurst := flag.Int("rate-burst", 100, "API rate limit burst size")
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	events.SetGlobalEventLogger(events.NewEventLogger())

	// Reference data is embedded; a load failure is a packaging error.
	ref, err := refdata.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading reference data: %v\n", err)
		os.Exit(1)
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	sharedCache, err := cache.New(cfg.CacheSize, rdb, cfg.CacheTTL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating cache: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	var jobStore store.Store
	var pgStore *store.PostgresStore
	if cfg.DatabaseURL != "" {
		pgStore, err = store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error connecting to database: %v\n", err)
			os.Exit(1)
		}
		jobStore = pgStore
	} else {
		jobStore = store.NewMemoryStore()
	}

	otelMetrics, err := otel.NewMetrics(ctx, &otel.MetricsConfig{
		Enabled:      cfg.OTELExporter != "" && cfg.OTELExporter != "none",
		ServiceName:  "casgen",
		ExporterType: otel.ExporterType(cfg.OTELExporter),
		OTLPEndpoint: cfg.OTELEndpoint,
		OTLPInsecure: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing metrics: %v\n", err)
		os.Exit(1)
	}
	otel.SetGlobalMetrics(otelMetrics)

	builder := schedule.NewBuilder(ref, sharedCache)
	if cfg.CacheWarmup {
		schedule.Warm(ctx, sharedCache, schedule.DefaultWarmup())
	}

	collector := metrics.NewCollector()
	manager := jobrunner.NewManager(jobrunner.Config{
		OutputDir:         cfg.OutputDir,
		ChunkSize:         cfg.ChunkSize,
		FlushInterval:     cfg.FlushInterval,
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		Limits: jobrunner.Limits{
			MaxMemoryMB:    cfg.MaxMemoryMB,
			MaxCPUSeconds:  cfg.MaxCPUSeconds,
			MaxWallSeconds: cfg.MaxWallSeconds,
		},
	}, jobStore, ref, builder, collector, otelMetrics)

	validator := validation.New(ref)

	server := api.NewServer(cfg.ListenAddr, manager, validator, collector)
	server.SetRateLimiterConfig(&api.RateLimiterConfig{
		RequestsPerSecond: *rateLimit,
		BurstSize:         *rateBurst,
		Enabled:           *rateLimit > 0,
	})

	if err := server.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting server: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("casgen listening on %s\n", server.URL())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error waiting for jobs: %v\n", err)
	}
	_ = otelMetrics.Shutdown(shutdownCtx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	fmt.Println("Server stopped")
}
