package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	Server   ServerConfig   `json:"server"`
	Detector DetectorConfig `json:"detector"`
	Security SecurityConfig `json:"security"`
	Cache    CacheConfig    `json:"cache"`
	Pipeline PipelineConfig `json:"pipeline"`
	Logging  LoggingConfig  `json:"logging"`
}

type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	Environment  string        `json:"environment"`
}

type DetectorConfig struct {
	EndpointURL string        `json:"endpoint_url"`
	APIKey      string        `json:"-"`
	TargetClass string        `json:"target_class"`
	Timeout     time.Duration `json:"timeout"`
}

type SecurityConfig struct {
	AllowedOrigins []string      `json:"allowed_origins"`
	RateLimitRPS   int           `json:"rate_limit_rps"`
	RateLimitBurst int           `json:"rate_limit_burst"`
	MaxRequestSize int64         `json:"max_request_size"`
	RequestTimeout time.Duration `json:"request_timeout"`
}

type CacheConfig struct {
	MaxEntries int           `json:"max_entries"`
	TTL        time.Duration `json:"ttl"`
}

type PipelineConfig struct {
	QueueSize int `json:"queue_size"`
	Workers   int `json:"workers"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

func LoadConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 10*time.Minute),
			IdleTimeout:  getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			Environment:  getEnv("ENVIRONMENT", "development"),
		},
		Detector: DetectorConfig{
			EndpointURL: getEnv("DETECTOR_URL", "https://detect.roboflow.com/infer/workflows/scalp/detect-and-segment"),
			APIKey:      getEnv("DETECTOR_API_KEY", ""),
			TargetClass: getEnv("DETECTOR_TARGET_CLASS", "balding"),
			Timeout:     getEnvAsDuration("DETECTOR_TIMEOUT", 60*time.Second),
		},
		Security: SecurityConfig{
			AllowedOrigins: getEnvAsStringSlice("ALLOWED_ORIGINS", []string{"*"}),
			RateLimitRPS:   getEnvAsInt("RATE_LIMIT_RPS", 5),
			RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 10),
			MaxRequestSize: getEnvAsInt64("MAX_REQUEST_SIZE", 32*1024*1024), // two photos
			RequestTimeout: getEnvAsDuration("REQUEST_TIMEOUT", 5*time.Minute),
		},
		Cache: CacheConfig{
			MaxEntries: getEnvAsInt("CACHE_MAX_ENTRIES", 500),
			TTL:        getEnvAsDuration("CACHE_TTL", 10*time.Minute),
		},
		Pipeline: PipelineConfig{
			QueueSize: getEnvAsInt("PIPELINE_QUEUE_SIZE", 32),
			Workers:   getEnvAsInt("PIPELINE_WORKERS", 4),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

func (c *Config) ValidateConfig(logger *zap.Logger) error {
	var errors []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, "server port must be between 1 and 65535")
	}

	if c.Detector.EndpointURL == "" {
		errors = append(errors, "detector endpoint URL is required")
	}

	if c.Detector.TargetClass == "" {
		errors = append(errors, "detector target class is required")
	}

	if c.Detector.APIKey == "" {
		// Not fatal at startup: the health endpoint stays up and every
		// comparison reports a configuration error frame instead.
		logger.Warn("detector API key not set, comparisons will fail")
	}

	if c.Security.MaxRequestSize <= 0 {
		errors = append(errors, "max request size must be positive")
	}

	if c.Pipeline.Workers < 1 {
		errors = append(errors, "pipeline workers must be at least 1")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, ", "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
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

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
