package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/findoc-analyzer/pkg/icron"
	"github.com/MimeLyc/findoc-analyzer/pkg/log"
)

// Config holds all application configuration
// Supports environment variables with sensible defaults
//
// Environment Variables:
// Process:
// - MODE: all | api | worker (default: all)
// - HTTP_ADDR: listen address (default: :8000)
// - LOG_LEVEL: debug | info | warn | error (default: info)
//
// Storage:
// - DB_DRIVER: sqlite | postgres | mongo (default: sqlite)
// - DB_PATH: SQLite file (default: ./data/analyzer.db)
// - DATABASE_URL: PostgreSQL connection string
// - MONGO_URI: MongoDB connection string
// - MONGO_DATABASE: MongoDB database name (default: findoc)
// - SCRATCH_DIR: where uploaded documents wait for analysis (default: ./data/uploads)
//
// Intake:
// - MAX_UPLOAD_BYTES: upload limit (default: 10485760)
// - ACCEPTED_CONTENT_TYPES: comma separated allow-list (default: application/pdf)
//
// Worker:
// - WORKER_COUNT: concurrent analyses (default: 2)
// - QUEUE_SIZE: dispatch buffer (default: 256)
// - POLL_INTERVAL_SEC: store poll for queued jobs, 0 disables (default: 5)
// - ANALYSIS_TIMEOUT_SEC: per-job pipeline timeout (default: 600)
// - RECOVER_INTERRUPTED: fail jobs left running by a dead worker (default: true)
// - JOB_LEASE_SEC: a running job not heartbeated for this long counts as interrupted (default: 120)
// - RETENTION_CRON: sweep schedule (default: 0 3 * * *)
// - RETENTION_MAX_AGE_HOURS: delete terminal jobs older than this, 0 keeps forever (default: 0)
//
// Analysis:
// - PIPELINE: crew | metrics (default: crew when LLM_API_KEY is set, metrics otherwise)
// - PDFTOTEXT_BIN: text extractor binary (default: pdftotext)
//
// LLM Configuration:
// - LLM_API_KEY: API key for the LLM provider (required for the crew pipeline)
// - LLM_API_URL: API endpoint URL (default: https://openrouter.ai/api/v1)
// - LLM_MODEL: Model name to use (default: openai/gpt-4o-mini)
// - LLM_MAX_TOKENS: Maximum tokens for responses (default: 4000)
// - LLM_TEMPERATURE: Temperature for responses (default: 0.2)
// - LLM_TIMEOUT: Request timeout in seconds (default: 60)
// - LLM_MAX_RETRIES: retries on 429, 5xx and network errors (default: 3)
// - LLM_SITE_URL: Site URL for HTTP referer header (optional)
// - LLM_APP_NAME: Application name for X-Title header (optional)
//
// Search / Agent:
// - SEARCH_API_KEY: Tavily API key, enables web_search (optional)
// - SEARCH_API_URL: Tavily endpoint (default: https://api.tavily.com/search)
// - AGENT_MAX_ITERATIONS: Max tool calling iterations per task (default: 8)
//
// CORS:
// - CORS_ALLOWED_ORIGINS (default: *), CORS_ALLOWED_METHODS, CORS_ALLOWED_HEADERS,
//   CORS_ALLOW_CREDENTIALS (default: true), CORS_MAX_AGE (default: 600)

type Config struct {
	Mode     Mode   `json:"mode"`
	LogLevel string `json:"log_level"`

	HTTP      HTTPConfig      `json:"http"`
	Storage   StorageConfig   `json:"storage"`
	Intake    IntakeConfig    `json:"intake"`
	Worker    WorkerConfig    `json:"worker"`
	Retention RetentionConfig `json:"retention"`
	Analysis  AnalysisConfig  `json:"analysis"`
	LLM       LLMConfig       `json:"llm"`
	Search    SearchConfig    `json:"search"`
	Agent     AgentConfig     `json:"agent"`
}

type Mode string

const (
	ModeAll    Mode = "all"
	ModeAPI    Mode = "api"
	ModeWorker Mode = "worker"
)

func (m Mode) ServesHTTP() bool { return m == ModeAll || m == ModeAPI }
func (m Mode) RunsWorker() bool { return m == ModeAll || m == ModeWorker }

type HTTPConfig struct {
	Addr string     `json:"addr"`
	CORS CORSConfig `json:"cors"`
}

type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age"`
}

type StorageConfig struct {
	Driver        string `json:"driver"`
	SQLitePath    string `json:"sqlite_path"`
	DatabaseURL   string `json:"-"`
	MongoURI      string `json:"-"`
	MongoDatabase string `json:"mongo_database"`
	ScratchDir    string `json:"scratch_dir"`
}

type IntakeConfig struct {
	MaxUploadBytes       int64    `json:"max_upload_bytes"`
	AcceptedContentTypes []string `json:"accepted_content_types"`
}

type WorkerConfig struct {
	Count              int           `json:"count"`
	QueueSize          int           `json:"queue_size"`
	PollInterval       time.Duration `json:"poll_interval"`
	AnalysisTimeout    time.Duration `json:"analysis_timeout"`
	RecoverInterrupted bool          `json:"recover_interrupted"`
	LeaseTTL           time.Duration `json:"lease_ttl"`
}

type RetentionConfig struct {
	CronExpr string        `json:"cron_expr"`
	MaxAge   time.Duration `json:"max_age"`
}

// Enabled reports whether old terminal jobs should be swept at all.
func (r RetentionConfig) Enabled() bool { return r.MaxAge > 0 }

type AnalysisConfig struct {
	Pipeline     string `json:"pipeline"`
	PdfToTextBin string `json:"pdftotext_bin"`
}

// SearchConfig holds the configuration for web search tool
type SearchConfig struct {
	APIKey string `json:"-"`      // Tavily API key
	APIURL string `json:"api_url"` // Tavily API URL
}

// AgentConfig holds the configuration for the agent
type AgentConfig struct {
	MaxIterations int `json:"max_iterations"` // Max tool calling iterations
}

// LLMConfig holds the configuration for LLM client
// Supports any OpenAI compatible provider (OpenRouter, OpenAI, etc.)
type LLMConfig struct {
	APIKey      string  `json:"-"`
	APIURL      string  `json:"api_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"`
	MaxRetries  int     `json:"max_retries"`
	SiteURL     string  `json:"site_url"`
	AppName     string  `json:"app_name"`
}

const (
	PipelineCrew    = "crew"
	PipelineMetrics = "metrics"
)

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		Mode:     Mode(strings.ToLower(getEnvString("MODE", string(ModeAll)))),
		LogLevel: getEnvString("LOG_LEVEL", "info"),
		HTTP: HTTPConfig{
			Addr: getEnvString("HTTP_ADDR", ":8000"),
			CORS: CORSConfig{
				AllowedOrigins:   getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
				AllowedMethods:   getEnvList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
				AllowedHeaders:   getEnvList("CORS_ALLOWED_HEADERS", []string{"*"}),
				AllowCredentials: getEnvBool("CORS_ALLOW_CREDENTIALS", true),
				MaxAge:           getEnvInt("CORS_MAX_AGE", 600),
			},
		},
		Storage: StorageConfig{
			Driver:        strings.ToLower(getEnvString("DB_DRIVER", "sqlite")),
			SQLitePath:    getEnvString("DB_PATH", "./data/analyzer.db"),
			DatabaseURL:   getEnvString("DATABASE_URL", ""),
			MongoURI:      getEnvString("MONGO_URI", ""),
			MongoDatabase: getEnvString("MONGO_DATABASE", "findoc"),
			ScratchDir:    getEnvString("SCRATCH_DIR", "./data/uploads"),
		},
		Intake: IntakeConfig{
			MaxUploadBytes:       int64(getEnvInt("MAX_UPLOAD_BYTES", 10*1024*1024)),
			AcceptedContentTypes: getEnvList("ACCEPTED_CONTENT_TYPES", []string{"application/pdf"}),
		},
		Worker: WorkerConfig{
			Count:              getEnvInt("WORKER_COUNT", 2),
			QueueSize:          getEnvInt("QUEUE_SIZE", 256),
			PollInterval:       time.Duration(getEnvInt("POLL_INTERVAL_SEC", 5)) * time.Second,
			AnalysisTimeout:    time.Duration(getEnvInt("ANALYSIS_TIMEOUT_SEC", 600)) * time.Second,
			RecoverInterrupted: getEnvBool("RECOVER_INTERRUPTED", true),
			LeaseTTL:           time.Duration(getEnvInt("JOB_LEASE_SEC", 120)) * time.Second,
		},
		Retention: RetentionConfig{
			CronExpr: getEnvString("RETENTION_CRON", "0 3 * * *"),
			MaxAge:   time.Duration(getEnvInt("RETENTION_MAX_AGE_HOURS", 0)) * time.Hour,
		},
		Analysis: AnalysisConfig{
			Pipeline:     strings.ToLower(getEnvString("PIPELINE", "")),
			PdfToTextBin: getEnvString("PDFTOTEXT_BIN", "pdftotext"),
		},
		LLM: LLMConfig{
			APIKey:      getEnvString("LLM_API_KEY", ""),
			APIURL:      getEnvString("LLM_API_URL", "https://openrouter.ai/api/v1"),
			Model:       getEnvString("LLM_MODEL", "openai/gpt-4o-mini"),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 4000),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.2),
			Timeout:     getEnvInt("LLM_TIMEOUT", 60),
			MaxRetries:  getEnvInt("LLM_MAX_RETRIES", 3),
			SiteURL:     getEnvString("LLM_SITE_URL", ""),
			AppName:     getEnvString("LLM_APP_NAME", "findoc-analyzer"),
		},
		Search: SearchConfig{
			APIKey: getEnvString("SEARCH_API_KEY", ""),
			APIURL: getEnvString("SEARCH_API_URL", "https://api.tavily.com/search"),
		},
		Agent: AgentConfig{
			MaxIterations: getEnvInt("AGENT_MAX_ITERATIONS", 8),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	if config.Analysis.Pipeline == "" {
		if config.LLM.APIKey != "" {
			config.Analysis.Pipeline = PipelineCrew
		} else {
			config.Analysis.Pipeline = PipelineMetrics
		}
	}

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Info("Config: mode=%s driver=%s pipeline=%s workers=%d", config.Mode, config.Storage.Driver, config.Analysis.Pipeline, config.Worker.Count)
	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	switch c.Mode {
	case ModeAll, ModeAPI, ModeWorker:
	default:
		return fmt.Errorf("MODE must be one of all, api, worker; got %q", c.Mode)
	}

	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("DB_PATH is required for the sqlite driver")
		}
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	case "mongo":
		if c.Storage.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required for the mongo driver")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Storage.Driver)
	}

	if c.Storage.ScratchDir == "" {
		return fmt.Errorf("SCRATCH_DIR is required")
	}
	if c.Intake.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if len(c.Intake.AcceptedContentTypes) == 0 {
		return fmt.Errorf("ACCEPTED_CONTENT_TYPES must not be empty")
	}
	if c.Worker.Count <= 0 {
		return fmt.Errorf("WORKER_COUNT must be positive")
	}
	if c.Worker.AnalysisTimeout <= 0 {
		return fmt.Errorf("ANALYSIS_TIMEOUT_SEC must be positive")
	}
	if c.Worker.LeaseTTL <= 0 {
		return fmt.Errorf("JOB_LEASE_SEC must be positive")
	}

	switch c.Analysis.Pipeline {
	case PipelineMetrics:
	case PipelineCrew:
		if c.LLM.APIKey == "" {
			return fmt.Errorf("LLM_API_KEY is required for the crew pipeline")
		}
	default:
		return fmt.Errorf("unsupported PIPELINE %q", c.Analysis.Pipeline)
	}

	if c.Retention.Enabled() {
		if err := icron.Validate(c.Retention.CronExpr); err != nil {
			return fmt.Errorf("invalid RETENTION_CRON: %w", err)
		}
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping empty items.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	ret := make([]string, 0)
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			ret = append(ret, item)
		}
	}
	if len(ret) == 0 {
		return defaultValue
	}
	return ret
}
