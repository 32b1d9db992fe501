package conf

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/DevRickLin/chat-digest/internal/biz/domain"
	"github.com/DevRickLin/chat-digest/internal/biz/usecase"
	"github.com/DevRickLin/chat-digest/internal/infra/openai"
	"github.com/DevRickLin/chat-digest/internal/logger"
)

// Config represents application configuration
type Config struct {
	// Feishu configuration
	Feishu FeishuConfig

	// Language model configuration
	LLM LLMConfig

	// Database path
	DBPath string

	// Pipeline configuration
	Pipeline PipelineConfig

	// Ingestion configuration
	Ingest IngestConfig

	// Retention configuration
	Retention RetentionConfig

	// Digest delivery configuration
	Report ReportConfig

	// HTTP query API listen address (empty disables it)
	APIAddr string

	// Logging configuration
	Log logger.Config

	// Prompts configuration (loaded from YAML)
	Prompts *PromptsConfig
}

// FeishuConfig contains Feishu configuration
type FeishuConfig struct {
	AppID     string
	AppSecret string
	PageSize  int
}

// LLMConfig contains language model configuration
type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// PipelineConfig contains run and analysis configuration
type PipelineConfig struct {
	Window           time.Duration
	StartAt          time.Time // Zero means bootstrap from now
	Workers          int
	MaxPromptChars   int
	ClassifyLookback time.Duration
	Tick             time.Duration // How often the scheduler checks for due windows
	LeaseTTL         time.Duration // How long a run stays claimed without renewal
}

// IngestConfig contains fetch retry configuration
type IngestConfig struct {
	Retries int
	Backoff time.Duration
}

// RetentionConfig contains cleanup horizons (0 keeps forever)
type RetentionConfig struct {
	MessageDays int
	RunDays     int
}

// ReportConfig contains digest delivery settings (empty target disables delivery)
type ReportConfig struct {
	TargetID   string
	TargetType string // chat_id, open_id, user_id or email
	MaxItems   int
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		homeDir, _ := os.UserHomeDir()
		dbPath = filepath.Join(homeDir, ".chat-digest", "digest.db")
	}

	window := getEnvDuration("PIPELINE_WINDOW", time.Hour)

	var startAt time.Time
	if val := os.Getenv("PIPELINE_START_AT"); val != "" {
		if parsed, err := time.Parse(time.RFC3339, val); err == nil {
			startAt = parsed.UTC()
		}
	}

	// Load prompts from YAML
	promptsConfig, err := LoadPromptsConfig(os.Getenv("PROMPTS_CONFIG_PATH"))
	if err != nil {
		promptsConfig = DefaultPromptsConfig()
	}

	return &Config{
		Feishu: FeishuConfig{
			AppID:     os.Getenv("FEISHU_APP_ID"),
			AppSecret: os.Getenv("FEISHU_APP_SECRET"),
			PageSize:  getEnvInt("INGEST_PAGE_SIZE", 50),
		},
		LLM: LLMConfig{
			APIKey:      os.Getenv("LLM_API_KEY"),
			BaseURL:     os.Getenv("LLM_BASE_URL"),
			Model:       os.Getenv("LLM_MODEL"),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 1000),
			Temperature: float32(getEnvFloat("LLM_TEMPERATURE", 0.7)),
			Timeout:     getEnvDuration("LLM_TIMEOUT", 60*time.Second),
		},
		DBPath: dbPath,
		Pipeline: PipelineConfig{
			Window:           window,
			StartAt:          startAt,
			Workers:          getEnvInt("PIPELINE_WORKERS", 4),
			MaxPromptChars:   getEnvInt("PIPELINE_MAX_PROMPT_CHARS", 16000),
			ClassifyLookback: getEnvDuration("PIPELINE_CLASSIFY_LOOKBACK", window),
			Tick:             getEnvDuration("PIPELINE_TICK", time.Minute),
			LeaseTTL:         getEnvDuration("PIPELINE_LEASE_TTL", 5*time.Minute),
		},
		Ingest: IngestConfig{
			Retries: getEnvInt("INGEST_RETRIES", 3),
			Backoff: getEnvDuration("INGEST_BACKOFF", 2*time.Second),
		},
		Retention: RetentionConfig{
			MessageDays: getEnvInt("RETENTION_MESSAGES_DAYS", 90),
			RunDays:     getEnvInt("RETENTION_RUNS_DAYS", 365),
		},
		Report: ReportConfig{
			TargetID:   os.Getenv("REPORT_TARGET_ID"),
			TargetType: getEnv("REPORT_TARGET_TYPE", "chat_id"),
			MaxItems:   getEnvInt("REPORT_MAX_ITEMS", 5),
		},
		APIAddr: getEnv("API_ADDR", "127.0.0.1:8089"),
		Log: logger.Config{
			Level:  getEnv("LOG_LEVEL", "info"),
			Pretty: os.Getenv("LOG_PRETTY") == "true",
		},
		Prompts: promptsConfig,
	}
}

// Validate validates the settings every command needs
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return &ConfigError{Field: "DATABASE_PATH", Message: "required"}
	}
	if c.Pipeline.Window <= 0 {
		return &ConfigError{Field: "PIPELINE_WINDOW", Message: "must be positive"}
	}
	if c.Pipeline.Workers <= 0 {
		return &ConfigError{Field: "PIPELINE_WORKERS", Message: "must be positive"}
	}
	if c.Pipeline.MaxPromptChars <= 0 {
		return &ConfigError{Field: "PIPELINE_MAX_PROMPT_CHARS", Message: "must be positive"}
	}
	if c.Pipeline.LeaseTTL <= 0 {
		return &ConfigError{Field: "PIPELINE_LEASE_TTL", Message: "must be positive"}
	}
	if c.Ingest.Retries < 1 {
		return &ConfigError{Field: "INGEST_RETRIES", Message: "must be at least 1"}
	}
	switch c.Report.TargetType {
	case "chat_id", "open_id", "user_id", "email":
	default:
		return &ConfigError{Field: "REPORT_TARGET_TYPE", Message: "must be chat_id, open_id, user_id or email"}
	}
	return nil
}

// ValidatePipeline validates the settings needed to ingest and analyze
func (c *Config) ValidatePipeline() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Feishu.AppID == "" || c.Feishu.AppSecret == "" {
		return &ConfigError{Field: "FEISHU_APP_ID/FEISHU_APP_SECRET", Message: "required"}
	}
	if c.LLM.APIKey == "" {
		return &ConfigError{Field: "LLM_API_KEY", Message: "required"}
	}
	return nil
}

// ValidateNotify validates the settings needed to deliver digests
func (c *Config) ValidateNotify() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Feishu.AppID == "" || c.Feishu.AppSecret == "" {
		return &ConfigError{Field: "FEISHU_APP_ID/FEISHU_APP_SECRET", Message: "required"}
	}
	if c.Report.TargetID == "" {
		return &ConfigError{Field: "REPORT_TARGET_ID", Message: "required"}
	}
	return nil
}

// ToOpenAIConfig converts to the language model client configuration
func (c *LLMConfig) ToOpenAIConfig() openai.Config {
	return openai.Config{
		APIKey:      c.APIKey,
		BaseURL:     c.BaseURL,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		Timeout:     c.Timeout,
	}
}

// ToIngestConfig converts to the ingestion usecase configuration
func (c *Config) ToIngestConfig() usecase.IngestConfig {
	return usecase.IngestConfig{
		Retries:          c.Ingest.Retries,
		Backoff:          c.Ingest.Backoff,
		WorkKeywords:     c.Prompts.Classifier.WorkKeywords,
		PersonalKeywords: c.Prompts.Classifier.PersonalKeywords,
	}
}

// ToAnalyzeConfig converts to the summarization usecase configuration
func (c *Config) ToAnalyzeConfig() usecase.AnalyzeConfig {
	return usecase.AnalyzeConfig{
		SystemPrompt:      c.Prompts.Summary.SystemPrompt,
		UserTemplate:      c.Prompts.Summary.UserTemplate,
		StrictInstruction: c.Prompts.Summary.StrictInstruction,
		TruncatedMarker:   c.Prompts.Summary.TruncatedMarker,
		MaxPromptChars:    c.Pipeline.MaxPromptChars,
		Timeout:           c.LLM.Timeout,
	}
}

// ToRunConfig converts to the run coordinator configuration
func (c *Config) ToRunConfig() usecase.RunConfig {
	return usecase.RunConfig{
		Window:           c.Pipeline.Window,
		StartAt:          c.Pipeline.StartAt,
		Workers:          c.Pipeline.Workers,
		ClassifyLookback: c.Pipeline.ClassifyLookback,
		LeaseTTL:         c.Pipeline.LeaseTTL,
	}
}

// ToDeliveryConfig converts to the digest delivery configuration
func (c *Config) ToDeliveryConfig() usecase.DeliveryConfig {
	return usecase.DeliveryConfig{
		Target:   domain.DigestTarget{IDType: c.Report.TargetType, ID: c.Report.TargetID},
		MaxItems: c.Report.MaxItems,
	}
}

// ToRetentionConfig converts to the retention usecase configuration
func (c *Config) ToRetentionConfig() usecase.RetentionConfig {
	return usecase.RetentionConfig{
		MessageAge: time.Duration(c.Retention.MessageDays) * 24 * time.Hour,
		RunAge:     time.Duration(c.Retention.RunDays) * 24 * time.Hour,
	}
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 32); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}
