package common

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Pipeline PipelineConfig
	Detect   DetectConfig
	OCR      OCRConfig
	Server   ServerConfig
}

// DatabaseConfig holds ledger connection settings. DSN is either a Postgres
// DSN or "sqlite:<path>" / "sqlite::memory:".
type DatabaseConfig struct {
	DSN             string
	AutoMigrate     bool
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

type PipelineConfig struct {
	ModelPath           string
	ConfidenceThreshold float64
	CropPadding         int
	ExtractClasses      []string
	PersistToLedger     bool
	OutputDir           string
}

type DetectConfig struct {
	OllamaHost string
}

type OCRConfig struct {
	Backend     string // "cli" or "embedded"
	Binary      string
	TessdataDir string
	Language    string
	EngineArgs  string
	Workers     int
}

type ServerConfig struct {
	HTTPAddr   string
	UploadBase string
	JWTSecret  string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:             getEnv("DB_DSN", ""),
			AutoMigrate:     getEnvAsBool("DB_AUTO_MIGRATE", true),
			MaxConns:        getEnvAsInt32("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt32("DB_MIN_CONNS", 1),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:     getEnvAsDuration("DB_DIAL_TIMEOUT", 5*time.Second),
		},
		Pipeline: PipelineConfig{
			ModelPath:           getEnv("MODEL_PATH", "llava:13b"),
			ConfidenceThreshold: getEnvAsFloat("CONF_THRESHOLD", 0.25),
			CropPadding:         getEnvAsInt("CROP_PADDING", 10),
			ExtractClasses:      getEnvAsList("EXTRACT_CLASSES", []string{"IC"}),
			PersistToLedger:     getEnvAsBool("PERSIST_TO_LEDGER", true),
			OutputDir:           getEnv("OUTPUT_DIR", "outputs"),
		},
		Detect: DetectConfig{
			OllamaHost: getEnv("OLLAMA_HOST", "http://127.0.0.1:11434"),
		},
		OCR: OCRConfig{
			Backend:     getEnv("OCR_BACKEND", "cli"),
			Binary:      getEnv("TESSERACT_BIN", "tesseract"),
			TessdataDir: getEnv("TESSDATA_PREFIX", ""),
			Language:    getEnv("OCR_LANG", "eng"),
			EngineArgs:  getEnv("OCR_CONFIG", "--psm 6 --oem 3"),
			Workers:     getEnvAsInt("OCR_WORKERS", 4),
		},
		Server: ServerConfig{
			HTTPAddr:   getEnv("HTTP_ADDR", ":8081"),
			UploadBase: getEnv("UPLOAD_BASE", "uploads"),
			JWTSecret:  getEnv("JWT_SECRET", ""),
		},
	}
}

// Validate checks the values a run cannot recover from.
func (c *Config) Validate() error {
	if c.Pipeline.PersistToLedger && c.Database.DSN == "" {
		return InvalidInput("config", "DB_DSN is required when PERSIST_TO_LEDGER is true")
	}
	if t := c.Pipeline.ConfidenceThreshold; t <= 0 || t >= 1 {
		return InvalidInput("config", "CONF_THRESHOLD must be in (0,1)")
	}
	if c.Pipeline.CropPadding < 0 {
		return InvalidInput("config", "CROP_PADDING must be >= 0")
	}
	switch c.OCR.Backend {
	case "cli", "embedded":
	default:
		return InvalidInput("config", "OCR_BACKEND must be cli or embedded")
	}
	if c.OCR.Workers <= 0 {
		return InvalidInput("config", "OCR_WORKERS must be positive")
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

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
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

// getEnvAsBool treats false/0/no (any case) as false, anything else as true.
func getEnvAsBool(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "false", "0", "no":
		return false
	}
	return true
}

func getEnvAsList(key string, defaultValue []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	return SplitList(v)
}

// SplitList splits a comma separated list, dropping empty entries.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
