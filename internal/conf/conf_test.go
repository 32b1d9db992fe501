package conf

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DevRickLin/chat-digest/internal/biz/domain"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	t.Setenv("DATABASE_PATH", "/tmp/digest-test.db")
	t.Setenv("PIPELINE_WINDOW", "")
	t.Setenv("PIPELINE_CLASSIFY_LOOKBACK", "")
	t.Setenv("PIPELINE_START_AT", "")
	t.Setenv("INGEST_RETRIES", "")
	t.Setenv("PIPELINE_LEASE_TTL", "")
	t.Setenv("REPORT_TARGET_ID", "")
	t.Setenv("REPORT_TARGET_TYPE", "")

	cfg := LoadFromEnv()

	if cfg.DBPath != "/tmp/digest-test.db" {
		t.Errorf("Expected DATABASE_PATH to be used, got %s", cfg.DBPath)
	}
	if cfg.Pipeline.Window != time.Hour {
		t.Errorf("Expected 1h window, got %v", cfg.Pipeline.Window)
	}
	if cfg.Pipeline.ClassifyLookback != cfg.Pipeline.Window {
		t.Errorf("Expected lookback to default to the window, got %v", cfg.Pipeline.ClassifyLookback)
	}
	if !cfg.Pipeline.StartAt.IsZero() {
		t.Errorf("Expected zero start, got %v", cfg.Pipeline.StartAt)
	}
	if cfg.Ingest.Retries != 3 {
		t.Errorf("Expected 3 retries, got %d", cfg.Ingest.Retries)
	}
	if cfg.ToRunConfig().LeaseTTL != 5*time.Minute {
		t.Errorf("Expected 5m lease, got %v", cfg.ToRunConfig().LeaseTTL)
	}
	if target := cfg.ToDeliveryConfig().Target; target.ID != "" || target.IDType != "chat_id" {
		t.Errorf("Expected delivery disabled with chat_id type, got %+v", target)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got %v", err)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("PIPELINE_WINDOW", "30m")
	t.Setenv("PIPELINE_CLASSIFY_LOOKBACK", "")
	t.Setenv("PIPELINE_START_AT", "2024-03-04T09:00:00+02:00")
	t.Setenv("PIPELINE_WORKERS", "8")
	t.Setenv("RETENTION_MESSAGES_DAYS", "0")
	t.Setenv("LLM_TEMPERATURE", "0.2")
	t.Setenv("PIPELINE_LEASE_TTL", "90s")
	t.Setenv("REPORT_TARGET_ID", "ou_lead")
	t.Setenv("REPORT_TARGET_TYPE", "open_id")

	cfg := LoadFromEnv()

	if cfg.Pipeline.Window != 30*time.Minute || cfg.Pipeline.ClassifyLookback != 30*time.Minute {
		t.Errorf("Expected 30m window and lookback, got %v/%v", cfg.Pipeline.Window, cfg.Pipeline.ClassifyLookback)
	}
	want := time.Date(2024, 3, 4, 7, 0, 0, 0, time.UTC)
	if !cfg.Pipeline.StartAt.Equal(want) || cfg.Pipeline.StartAt.Location() != time.UTC {
		t.Errorf("Expected start %v in UTC, got %v", want, cfg.Pipeline.StartAt)
	}
	if cfg.Pipeline.Workers != 8 {
		t.Errorf("Expected 8 workers, got %d", cfg.Pipeline.Workers)
	}
	if cfg.ToRetentionConfig().MessageAge != 0 {
		t.Errorf("Expected message retention disabled, got %v", cfg.ToRetentionConfig().MessageAge)
	}
	if cfg.LLM.Temperature < 0.19 || cfg.LLM.Temperature > 0.21 {
		t.Errorf("Expected temperature 0.2, got %v", cfg.LLM.Temperature)
	}
	if cfg.ToRunConfig().LeaseTTL != 90*time.Second {
		t.Errorf("Expected 90s lease, got %v", cfg.ToRunConfig().LeaseTTL)
	}
	wantTarget := domain.DigestTarget{IDType: "open_id", ID: "ou_lead"}
	if got := cfg.ToDeliveryConfig().Target; got != wantTarget {
		t.Errorf("Expected target %+v, got %+v", wantTarget, got)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		t.Setenv("DATABASE_PATH", "/tmp/digest-test.db")
		return LoadFromEnv()
	}

	cfg := base()
	cfg.Pipeline.Workers = 0
	var cfgErr *ConfigError
	if err := cfg.Validate(); !errors.As(err, &cfgErr) || cfgErr.Field != "PIPELINE_WORKERS" {
		t.Errorf("Expected PIPELINE_WORKERS error, got %v", err)
	}

	cfg = base()
	cfg.Pipeline.Window = 0
	if err := cfg.Validate(); !errors.As(err, &cfgErr) || cfgErr.Field != "PIPELINE_WINDOW" {
		t.Errorf("Expected PIPELINE_WINDOW error, got %v", err)
	}

	cfg = base()
	cfg.Pipeline.LeaseTTL = 0
	if err := cfg.Validate(); !errors.As(err, &cfgErr) || cfgErr.Field != "PIPELINE_LEASE_TTL" {
		t.Errorf("Expected PIPELINE_LEASE_TTL error, got %v", err)
	}

	cfg = base()
	cfg.Report.TargetType = "room"
	if err := cfg.Validate(); !errors.As(err, &cfgErr) || cfgErr.Field != "REPORT_TARGET_TYPE" {
		t.Errorf("Expected REPORT_TARGET_TYPE error, got %v", err)
	}

	cfg = base()
	cfg.Feishu.AppID, cfg.Feishu.AppSecret = "id", "secret"
	cfg.Report.TargetID = ""
	if err := cfg.ValidateNotify(); !errors.As(err, &cfgErr) || cfgErr.Field != "REPORT_TARGET_ID" {
		t.Errorf("Expected REPORT_TARGET_ID error, got %v", err)
	}
	cfg.Report.TargetID = "oc_leads"
	if err := cfg.ValidateNotify(); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}

	cfg = base()
	cfg.Feishu.AppID, cfg.Feishu.AppSecret = "id", "secret"
	cfg.LLM.APIKey = ""
	if err := cfg.ValidatePipeline(); !errors.As(err, &cfgErr) || cfgErr.Field != "LLM_API_KEY" {
		t.Errorf("Expected LLM_API_KEY error, got %v", err)
	}

	cfg.LLM.APIKey = "key"
	if err := cfg.ValidatePipeline(); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestLoadPromptsConfig_FillsDefaultsAndSeeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	content := `summary:
  user_template: "{{messages}}"
filters:
  - kind: deny_chat
    value: oc_family
  - kind: mute
    value: ignored
  - kind: keyword
    value: ""
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadPromptsConfig(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	defaults := DefaultPromptsConfig()
	if cfg.Summary.UserTemplate != "{{messages}}" {
		t.Errorf("Expected custom template, got %q", cfg.Summary.UserTemplate)
	}
	if cfg.Summary.SystemPrompt != defaults.Summary.SystemPrompt {
		t.Error("Expected default system prompt to be filled in")
	}
	if len(cfg.Classifier.WorkKeywords) != len(defaults.Classifier.WorkKeywords) {
		t.Errorf("Expected default work keywords, got %d", len(cfg.Classifier.WorkKeywords))
	}

	seeds := cfg.SeedFilters()
	if len(seeds) != 1 || seeds[0].Kind != domain.FilterDenyChat || seeds[0].Value != "oc_family" {
		t.Errorf("Expected only the valid deny_chat seed, got %+v", seeds)
	}
}

func TestLoadPromptsConfig_MissingExplicitPath(t *testing.T) {
	if _, err := LoadPromptsConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for a missing explicit path")
	}
}
