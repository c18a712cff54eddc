package common

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lss53/tencent-table-ocr-batch/constants"
)

// Config holds all application configuration
type Config struct {
	Input    InputConfig
	Output   OutputConfig
	OCR      OCRConfig
	Pipeline PipelineConfig
	Retry    RetryConfig
	Metrics  MetricsConfig
	LogLevel string
}

// InputConfig holds scan-related configuration
type InputConfig struct {
	Dir           string
	MaxImageBytes int64
	SkipHidden    bool
}

// OutputConfig holds artifact-related configuration
type OutputConfig struct {
	Dir    string
	LogDir string
}

// OCRConfig holds recognition-service configuration
type OCRConfig struct {
	Endpoint          string
	Region            string
	SecretID          string
	SecretKey         string
	RequestTimeout    time.Duration
	RequestsPerSecond float64
}

// PipelineConfig holds dispatcher and checkpoint configuration
type PipelineConfig struct {
	Workers   int
	QueueSize int
	BatchSize int
	Resume    bool
}

// RetryConfig holds the bounded retry schedule for transient failures
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// MetricsConfig holds the optional metrics listener configuration
type MetricsConfig struct {
	Addr string
}

// LoadConfig loads configuration from environment variables. CLI flags may
// override individual fields afterwards.
func LoadConfig() *Config {
	return &Config{
		Input: InputConfig{
			Dir:           getEnv("IMAGE_DIR", ""),
			MaxImageBytes: getEnvAsInt64("MAX_IMAGE_BYTES", constants.MaxImageSize),
			SkipHidden:    getEnvAsBool("SKIP_HIDDEN", true),
		},
		Output: OutputConfig{
			Dir:    getEnv("OUTPUT_DIR", ""),
			LogDir: getEnv("LOG_DIR", ""),
		},
		OCR: OCRConfig{
			Endpoint:          getEnv("OCR_ENDPOINT", "https://ocr.tencentcloudapi.com"),
			Region:            getEnv("OCR_REGION", "ap-chongqing"),
			SecretID:          getEnv("OCR_SECRET_ID", ""),
			SecretKey:         getEnv("OCR_SECRET_KEY", ""),
			RequestTimeout:    getEnvAsDuration("OCR_REQUEST_TIMEOUT", 30*time.Second),
			RequestsPerSecond: getEnvAsFloat64("OCR_REQUESTS_PER_SECOND", 5),
		},
		Pipeline: PipelineConfig{
			Workers:   getEnvAsInt("MAX_WORKERS", 2),
			QueueSize: getEnvAsInt("QUEUE_SIZE", 64),
			BatchSize: getEnvAsInt("BATCH_SIZE", 10),
			Resume:    getEnvAsBool("RESUME", true),
		},
		Retry: RetryConfig{
			MaxAttempts:    getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
			InitialBackoff: getEnvAsDuration("RETRY_INITIAL_BACKOFF", 2*time.Second),
			MaxBackoff:     getEnvAsDuration("RETRY_MAX_BACKOFF", 30*time.Second),
			Multiplier:     getEnvAsFloat64("RETRY_MULTIPLIER", 2.0),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ""),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Validate checks everything the run needs before any processing starts.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Input.Dir) == "" {
		return ConfigError("IMAGE_DIR (or --dir) is required")
	}
	if strings.TrimSpace(c.Output.Dir) == "" {
		return ConfigError("OUTPUT_DIR (or --out-dir) is required")
	}
	if c.OCR.SecretID == "" || c.OCR.SecretKey == "" {
		return ConfigError("OCR_SECRET_ID and OCR_SECRET_KEY are required")
	}
	if c.OCR.Endpoint == "" {
		return ConfigError("OCR_ENDPOINT is required")
	}
	if c.Pipeline.Workers <= 0 {
		return ConfigError("worker count must be positive")
	}
	if c.Pipeline.BatchSize <= 0 {
		return ConfigError("batch size must be positive")
	}
	if c.Input.MaxImageBytes <= 0 {
		return ConfigError("max image size must be positive")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
