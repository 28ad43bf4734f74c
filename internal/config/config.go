package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	applog "wastelog/internal/log"
)

type Config struct {
	// HTTP Server
	Port string

	// Backend selection: memory or sqlite
	DataBackend  string
	SQLiteDBPath string
	// ReportYear dates the initial ledger of the memory backend
	ReportYear int

	// AMQP, optional for the server, required by the worker
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Extraction port
	Extractor         string
	ExtractorURL      string
	ExtractorAPIKey   string
	ExtractionTimeout time.Duration

	// Upload sessions
	SessionTTL  time.Duration
	MaxSessions int

	// Spreadsheet mirror (worker)
	GoogleSpreadsheetID string
	GoogleSheetName     string

	// Worker
	SyncBatchSize int
	SyncInterval  time.Duration

	LogLevel string
}

var (
	validBackends   = []string{"memory", "sqlite"}
	validExtractors = []string{"fixed", "remote"}
)

func Load() *Config {
	return &Config{
		Port: getEnv("PORT", "8081"),

		DataBackend:  getEnv("DATA_BACKEND", "memory"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/wastelog.db"),
		ReportYear:   getEnvInt("REPORT_YEAR", time.Now().Year()),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "wastelog"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "report_verified"),

		Extractor:         getEnv("EXTRACTOR", "fixed"),
		ExtractorURL:      getEnv("EXTRACTOR_URL", ""),
		ExtractorAPIKey:   getEnv("EXTRACTOR_API_KEY", ""),
		ExtractionTimeout: getEnvDuration("EXTRACTION_TIMEOUT", 30*time.Second),

		SessionTTL:  getEnvDuration("SESSION_TTL", 2*time.Hour),
		MaxSessions: getEnvInt("MAX_SESSIONS", 500),

		GoogleSpreadsheetID: getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:     getEnv("GOOGLE_SHEET_NAME", "Registro"),

		SyncBatchSize: getEnvInt("SYNC_BATCH_SIZE", 12),
		SyncInterval:  getEnvDuration("SYNC_INTERVAL", 30*time.Second),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Validate checks the server configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if !slices.Contains(validBackends, c.DataBackend) {
		errs = append(errs, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}
	if c.DataBackend == "sqlite" {
		errs = append(errs, c.validateSQLitePath()...)
	}
	if c.ReportYear < 2000 || c.ReportYear > 2100 {
		errs = append(errs, fmt.Sprintf("invalid report year %d: must be between 2000 and 2100", c.ReportYear))
	}

	errs = append(errs, c.validateAMQP()...)

	if !slices.Contains(validExtractors, c.Extractor) {
		errs = append(errs, fmt.Sprintf("invalid extractor '%s': must be one of %v", c.Extractor, validExtractors))
	}
	if c.Extractor == "remote" {
		if c.ExtractorURL == "" {
			errs = append(errs, "EXTRACTOR_URL is required when using the remote extractor")
		} else if u, err := url.Parse(c.ExtractorURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Sprintf("invalid extractor URL '%s': must be http or https", c.ExtractorURL))
		}
	}
	if c.ExtractionTimeout < time.Second || c.ExtractionTimeout > 10*time.Minute {
		errs = append(errs, fmt.Sprintf("invalid extraction timeout %v: must be between 1s and 10m", c.ExtractionTimeout))
	}

	if c.SessionTTL < time.Minute {
		errs = append(errs, fmt.Sprintf("invalid session TTL %v: must be at least 1 minute", c.SessionTTL))
	}
	if c.MaxSessions < 1 {
		errs = append(errs, fmt.Sprintf("invalid max sessions %d: must be at least 1", c.MaxSessions))
	}

	if _, err := applog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err.Error())
	}

	return joinErrors(errs)
}

// ValidateWorker checks what the mirror worker needs: the SQLite outbox, a
// broker and a spreadsheet.
func (c *Config) ValidateWorker() error {
	var errs []string

	if c.DataBackend != "sqlite" {
		errs = append(errs, fmt.Sprintf("worker requires the sqlite backend, got '%s'", c.DataBackend))
	}
	errs = append(errs, c.validateSQLitePath()...)
	if c.AMQPURL == "" {
		errs = append(errs, "AMQP_URL is required by the worker")
	}
	errs = append(errs, c.validateAMQP()...)
	if c.GoogleSpreadsheetID == "" {
		errs = append(errs, "GOOGLE_SPREADSHEET_ID is required by the worker")
	}

	if c.SyncBatchSize < 1 {
		errs = append(errs, fmt.Sprintf("invalid sync batch size %d: must be at least 1", c.SyncBatchSize))
	} else if c.SyncBatchSize > 1000 {
		errs = append(errs, fmt.Sprintf("invalid sync batch size %d: must be at most 1000", c.SyncBatchSize))
	}
	if c.SyncInterval < time.Second {
		errs = append(errs, fmt.Sprintf("invalid sync interval %v: must be at least 1 second", c.SyncInterval))
	} else if c.SyncInterval > 24*time.Hour {
		errs = append(errs, fmt.Sprintf("invalid sync interval %v: must be at most 24 hours", c.SyncInterval))
	}
	if _, err := applog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err.Error())
	}

	return joinErrors(errs)
}

func (c *Config) validateSQLitePath() []string {
	if c.SQLiteDBPath == "" {
		return []string{"SQLite database path cannot be empty when using sqlite backend"}
	}
	dir := filepath.Dir(c.SQLiteDBPath)
	if dir == "." || dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return []string{fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err)}
		}
	}
	return nil
}

func (c *Config) validateAMQP() []string {
	if c.AMQPURL == "" {
		return nil
	}
	var errs []string
	if u, err := url.Parse(c.AMQPURL); err != nil {
		errs = append(errs, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
	} else if u.Scheme != "amqp" && u.Scheme != "amqps" {
		errs = append(errs, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", u.Scheme))
	}
	if c.AMQPExchange == "" {
		errs = append(errs, "AMQP exchange name cannot be empty when AMQP URL is provided")
	}
	if c.AMQPQueue == "" {
		errs = append(errs, "AMQP queue name cannot be empty when AMQP URL is provided")
	}
	return errs
}

func joinErrors(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
