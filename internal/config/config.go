package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the people-counter server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Fetch    FetchConfig
	Decode   DecodeConfig
	Detector DetectorConfig
	Worker   WorkerConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type FetchConfig struct {
	S3Region     string
	HTTPTimeout  time.Duration
	MaxAttempts  int
	MaxVideoSize int64
}

type DecodeConfig struct {
	FFmpegPath  string
	FFprobePath string
	// SampleInterval is how much video time passes between sampled frames.
	SampleInterval time.Duration
}

type DetectorConfig struct {
	Provider            string
	BaseURL             string
	RequestTimeout      time.Duration
	MaxConcurrency      int64
	ConfidenceThreshold float64
	TargetLabel         string
}

type WorkerConfig struct {
	PoolSize          int64
	JobTimeout        time.Duration
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	// StaleAfter is how long a processing job may go without a heartbeat
	// before restart recovery resets it to pending.
	StaleAfter   time.Duration
	DrainTimeout time.Duration
}

var validProviders = map[string]bool{
	"http": true,
	"mock": true,
}

// Load reads configuration from environment variables and returns a validated
// Config. Returns an error with a descriptive message if any required value
// is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("PEOPLECOUNTER_PORT", 8080),
			Env:  envString("PEOPLECOUNTER_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Fetch: FetchConfig{
			S3Region:     envString("AWS_DEFAULT_REGION", "us-east-1"),
			HTTPTimeout:  envDuration("FETCH_HTTP_TIMEOUT", 2*time.Minute),
			MaxAttempts:  envInt("FETCH_MAX_ATTEMPTS", 3),
			MaxVideoSize: envInt64("FETCH_MAX_VIDEO_BYTES", 2<<30),
		},
		Decode: DecodeConfig{
			FFmpegPath:     envString("FFMPEG_PATH", "ffmpeg"),
			FFprobePath:    envString("FFPROBE_PATH", "ffprobe"),
			SampleInterval: envDuration("FRAME_SAMPLE_INTERVAL", 2*time.Second),
		},
		Detector: DetectorConfig{
			Provider:            os.Getenv("DETECTOR_PROVIDER"),
			BaseURL:             os.Getenv("DETECTOR_BASE_URL"),
			RequestTimeout:      envDuration("DETECTOR_REQUEST_TIMEOUT", 30*time.Second),
			MaxConcurrency:      int64(envInt("DETECTOR_MAX_CONCURRENCY", 0)),
			ConfidenceThreshold: envFloat("DETECTOR_CONFIDENCE_THRESHOLD", 0.5),
			TargetLabel:         envString("DETECTOR_TARGET_LABEL", "person"),
		},
		Worker: WorkerConfig{
			PoolSize:          int64(envInt("WORKER_POOL_SIZE", 2)),
			JobTimeout:        envDuration("JOB_TIMEOUT", 15*time.Minute),
			PollInterval:      envDuration("DISPATCH_POLL_INTERVAL", 2*time.Second),
			HeartbeatInterval: envDuration("JOB_HEARTBEAT_INTERVAL", 10*time.Second),
			StaleAfter:        envDuration("JOB_STALE_AFTER", time.Minute),
			DrainTimeout:      envDuration("WORKER_DRAIN_TIMEOUT", 30*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Detector.Provider == "" {
		return fmt.Errorf("DETECTOR_PROVIDER is required")
	}
	if !validProviders[c.Detector.Provider] {
		return fmt.Errorf("DETECTOR_PROVIDER must be one of http, mock; got %q", c.Detector.Provider)
	}

	if c.Detector.Provider == "http" {
		if c.Detector.BaseURL == "" {
			return fmt.Errorf("DETECTOR_BASE_URL is required when DETECTOR_PROVIDER is http")
		}
		if !strings.HasPrefix(c.Detector.BaseURL, "http://") && !strings.HasPrefix(c.Detector.BaseURL, "https://") {
			return fmt.Errorf("DETECTOR_BASE_URL must start with http:// or https://, got %q", c.Detector.BaseURL)
		}
	}

	if c.Detector.ConfidenceThreshold < 0 || c.Detector.ConfidenceThreshold > 1 {
		return fmt.Errorf("DETECTOR_CONFIDENCE_THRESHOLD must be within [0, 1], got %v", c.Detector.ConfidenceThreshold)
	}

	if c.Worker.PoolSize < 1 {
		return fmt.Errorf("WORKER_POOL_SIZE must be at least 1, got %d", c.Worker.PoolSize)
	}

	if c.Worker.HeartbeatInterval >= c.Worker.StaleAfter {
		return fmt.Errorf("JOB_HEARTBEAT_INTERVAL (%s) must be shorter than JOB_STALE_AFTER (%s)",
			c.Worker.HeartbeatInterval, c.Worker.StaleAfter)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
