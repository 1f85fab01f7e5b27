// Package config holds service configuration with environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Default configuration constants for job execution and output.
const (
	DefaultMaxConcurrentJobs = 2
	DefaultMaxMemoryMB       = 512
	DefaultMaxCPUSeconds     = 300
	DefaultMaxWallSeconds    = 600
	DefaultChunkSize         = 1000
	DefaultFlushInterval     = 100
	DefaultOutputDir         = "./output"
	DefaultListenAddr        = ":8080"
	DefaultCacheSize         = 256
	DefaultCacheTTL          = time.Hour
)

// Config is the resolved service configuration.
type Config struct {
	MaxConcurrentJobs int
	MaxMemoryMB       int
	MaxCPUSeconds     int
	MaxWallSeconds    int
	ChunkSize         int
	FlushInterval     int
	OutputDir         string
	DatabaseURL       string
	RedisAddr         string
	CacheWarmup       bool
	CacheSize         int
	CacheTTL          time.Duration
	ListenAddr        string
	OTELExporter      string
	OTELEndpoint      string
}

// WithDefaults returns a Config populated with default values.
func WithDefaults() *Config {
	return &Config{
		MaxConcurrentJobs: DefaultMaxConcurrentJobs,
		MaxMemoryMB:       DefaultMaxMemoryMB,
		MaxCPUSeconds:     DefaultMaxCPUSeconds,
		MaxWallSeconds:    DefaultMaxWallSeconds,
		ChunkSize:         DefaultChunkSize,
		FlushInterval:     DefaultFlushInterval,
		OutputDir:         DefaultOutputDir,
		CacheWarmup:       true,
		CacheSize:         DefaultCacheSize,
		CacheTTL:          DefaultCacheTTL,
		ListenAddr:        DefaultListenAddr,
		OTELExporter:      "none",
	}
}

// FromEnv builds a Config from defaults overridden by CASGEN_* environment
// variables. Malformed numeric values are rejected.
func FromEnv() (*Config, error) {
	cfg := WithDefaults()
	var err error

	if cfg.MaxConcurrentJobs, err = intEnv("CASGEN_MAX_CONCURRENT_JOBS", cfg.MaxConcurrentJobs); err != nil {
		return nil, err
	}
	if cfg.MaxMemoryMB, err = intEnv("CASGEN_MAX_MEMORY_MB", cfg.MaxMemoryMB); err != nil {
		return nil, err
	}
	if cfg.MaxCPUSeconds, err = intEnv("CASGEN_MAX_CPU_SECONDS", cfg.MaxCPUSeconds); err != nil {
		return nil, err
	}
	if cfg.MaxWallSeconds, err = intEnv("CASGEN_MAX_WALL_SECONDS", cfg.MaxWallSeconds); err != nil {
		return nil, err
	}
	if cfg.ChunkSize, err = intEnv("CASGEN_CHUNK_SIZE", cfg.ChunkSize); err != nil {
		return nil, err
	}
	if cfg.FlushInterval, err = intEnv("CASGEN_FLUSH_INTERVAL", cfg.FlushInterval); err != nil {
		return nil, err
	}
	if cfg.CacheSize, err = intEnv("CASGEN_CACHE_SIZE", cfg.CacheSize); err != nil {
		return nil, err
	}

	cfg.OutputDir = strEnv("CASGEN_OUTPUT_DIR", cfg.OutputDir)
	cfg.DatabaseURL = strEnv("CASGEN_DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisAddr = strEnv("CASGEN_REDIS_ADDR", cfg.RedisAddr)
	cfg.ListenAddr = strEnv("CASGEN_LISTEN_ADDR", cfg.ListenAddr)
	cfg.OTELExporter = strEnv("CASGEN_OTEL_EXPORTER", cfg.OTELExporter)
	cfg.OTELEndpoint = strEnv("CASGEN_OTEL_ENDPOINT", cfg.OTELEndpoint)

	if v, ok := os.LookupEnv("CASGEN_CACHE_WARMUP"); ok {
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			return nil, fmt.Errorf("CASGEN_CACHE_WARMUP: %w", perr)
		}
		cfg.CacheWarmup = b
	}

	if cfg.MaxConcurrentJobs < 1 {
		return nil, fmt.Errorf("CASGEN_MAX_CONCURRENT_JOBS must be at least 1")
	}
	if cfg.ChunkSize < 1 {
		return nil, fmt.Errorf("CASGEN_CHUNK_SIZE must be at least 1")
	}
	return cfg, nil
}

func intEnv(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func strEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
