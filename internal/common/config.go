package common

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// OCR engines.
const (
	EngineExec      = "exec"
	EngineGosseract = "gosseract"
)

// Config holds all application configuration
type Config struct {
	Intake   IntakeConfig
	OCR      OCRConfig
	Worker   WorkerConfig
	Queue    QueueConfig
	Database DatabaseConfig
	Storage  StorageConfig
	Server   ServerConfig
	Log      LogConfig
}

// IntakeConfig holds submission limits
type IntakeConfig struct {
	MaxFileSizeBytes int64
	ResultTTL        time.Duration
}

// OCRConfig holds decoding and extraction configuration
type OCRConfig struct {
	Engine            string
	Tesseract         string
	Pdftoppm          string
	Pdfinfo           string
	TesseractLang     string
	TessdataDir       string
	DPI               int
	MaxPages          int
	MaxImageDimension int
	PageTimeout       time.Duration
	TempDir           string
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	Workers         int
	JobTimeout      time.Duration
	RetryAttempts   int
	RetryBackoff    time.Duration
	RetryMaxBackoff time.Duration
	ReapInterval    time.Duration
}

// QueueConfig holds job queue configuration
type QueueConfig struct {
	Size         int
	Lease        time.Duration
	PollInterval time.Duration
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver          string
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// StorageConfig holds payload storage configuration
type StorageConfig struct {
	BaseDir string
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr string
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from environment variables. A .env file
// (or the file named by ENV_FILE) is read first when present; variables
// already set in the environment win.
func LoadConfig() (*Config, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, NewAppError("CONFIG_ERROR", "load "+envFile, err)
	}

	return &Config{
		Intake: IntakeConfig{
			MaxFileSizeBytes: getEnvAsInt64("MAX_FILE_SIZE_MB", 10) << 20,
			ResultTTL:        getEnvAsDuration("RESULT_TTL", 24*time.Hour),
		},
		OCR: OCRConfig{
			Engine:            getEnv("OCR_ENGINE", EngineExec),
			Tesseract:         getEnv("TESSERACT", "tesseract"),
			Pdftoppm:          getEnv("PDFTOPPM", "pdftoppm"),
			Pdfinfo:           getEnv("PDFINFO", "pdfinfo"),
			TesseractLang:     getEnv("TESSERACT_LANG", "eng"),
			TessdataDir:       getEnv("TESSDATA_PREFIX", ""),
			DPI:               getEnvAsInt("PDF_DPI", 300),
			MaxPages:          getEnvAsInt("MAX_PDF_PAGES", 20),
			MaxImageDimension: getEnvAsInt("MAX_IMAGE_DIMENSION", 4000),
			PageTimeout:       getEnvAsDuration("OCR_TIMEOUT_PER_PAGE", 10*time.Second),
			TempDir:           getEnv("TEMP_DIR", ""),
		},
		Worker: WorkerConfig{
			Workers:         getEnvAsInt("WORKERS", 2),
			JobTimeout:      getEnvAsDuration("JOB_TIMEOUT", 5*time.Minute),
			RetryAttempts:   getEnvAsInt("STORE_RETRY_ATTEMPTS", 5),
			RetryBackoff:    getEnvAsDuration("STORE_RETRY_BACKOFF", 200*time.Millisecond),
			RetryMaxBackoff: getEnvAsDuration("STORE_RETRY_MAX_BACKOFF", 5*time.Second),
			ReapInterval:    getEnvAsDuration("REAP_INTERVAL", 10*time.Minute),
		},
		Queue: QueueConfig{
			Size:         getEnvAsInt("QUEUE_SIZE", 256),
			Lease:        getEnvAsDuration("QUEUE_LEASE", 10*time.Minute),
			PollInterval: getEnvAsDuration("QUEUE_POLL_INTERVAL", 500*time.Millisecond),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("STORE_DRIVER", DriverMemory),
			DSN:             getEnv("DB_URL", ""),
			MaxConns:        getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:        getEnvAsInt32("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:     getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
		},
		Storage: StorageConfig{
			BaseDir: getEnv("STORAGE_DIR", "./data"),
		},
		Server: ServerConfig{
			GRPCAddr: getEnv("GRPC_ADDR", ":8080"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}, nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
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

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("10s") and bare integers as seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	v := NewValidator().
		Field("MAX_FILE_SIZE_MB", c.Intake.MaxFileSizeBytes, Positive).
		Field("RESULT_TTL", c.Intake.ResultTTL, Positive).
		Field("MAX_PDF_PAGES", c.OCR.MaxPages, Positive).
		Field("OCR_TIMEOUT_PER_PAGE", c.OCR.PageTimeout, Positive).
		Field("PDF_DPI", c.OCR.DPI, Positive).
		Field("MAX_IMAGE_DIMENSION", c.OCR.MaxImageDimension, NonNegative).
		Field("OCR_ENGINE", c.OCR.Engine, OneOf(EngineExec, EngineGosseract)).
		Field("TESSERACT_LANG", c.OCR.TesseractLang, Required).
		Field("WORKERS", c.Worker.Workers, NonNegative).
		Field("JOB_TIMEOUT", c.Worker.JobTimeout, Positive).
		Field("STORE_RETRY_ATTEMPTS", c.Worker.RetryAttempts, Positive).
		Field("STORE_RETRY_BACKOFF", c.Worker.RetryBackoff, Positive).
		Field("REAP_INTERVAL", c.Worker.ReapInterval, Positive).
		Field("QUEUE_SIZE", c.Queue.Size, Positive).
		Field("QUEUE_LEASE", c.Queue.Lease, Positive).
		Field("QUEUE_POLL_INTERVAL", c.Queue.PollInterval, Positive).
		Field("STORE_DRIVER", c.Database.Driver, OneOf(DriverMemory, DriverSQLite, DriverPostgres)).
		Field("STORAGE_DIR", c.Storage.BaseDir, Required).
		Field("GRPC_ADDR", c.Server.GRPCAddr, Required).
		Field("LOG_LEVEL", strings.ToLower(c.Log.Level), OneOf("debug", "info", "warn", "error")).
		Field("LOG_FORMAT", strings.ToLower(c.Log.Format), OneOf("json", "text"))

	v.Check(c.Database.Driver == DriverMemory || c.Database.DSN != "", "DB_URL", c.Database.DSN,
		"is required for STORE_DRIVER "+c.Database.Driver)
	v.Check(c.Queue.Lease > c.Worker.JobTimeout, "QUEUE_LEASE", c.Queue.Lease,
		"must exceed JOB_TIMEOUT")
	v.Check(c.Worker.RetryMaxBackoff >= c.Worker.RetryBackoff, "STORE_RETRY_MAX_BACKOFF", c.Worker.RetryMaxBackoff,
		"must not be below STORE_RETRY_BACKOFF")

	if v.HasErrors() {
		return NewAppError("CONFIG_ERROR", v.ErrorMessage(), ErrInvalidInput)
	}
	return nil
}
