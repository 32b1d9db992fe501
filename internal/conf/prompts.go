package conf

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/DevRickLin/chat-digest/internal/biz/domain"
)

// PromptsConfig contains prompt, keyword and seed filter configuration loaded from YAML
type PromptsConfig struct {
	Summary    SummaryPrompts   `yaml:"summary"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Filters    []FilterSeed     `yaml:"filters"`
}

// SummaryPrompts contains the summarization prompts
type SummaryPrompts struct {
	SystemPrompt      string `yaml:"system_prompt"`
	UserTemplate      string `yaml:"user_template"`
	StrictInstruction string `yaml:"strict_instruction"`
	TruncatedMarker   string `yaml:"truncated_marker"`
}

// ClassifierConfig contains keyword lists for per-message business scoring
type ClassifierConfig struct {
	WorkKeywords     []string `yaml:"work_keywords"`
	PersonalKeywords []string `yaml:"personal_keywords"`
}

// FilterSeed is a filter rule declared in YAML and added on startup
type FilterSeed struct {
	Kind  string `yaml:"kind"`
	Value string `yaml:"value"`
}

// LoadPromptsConfig loads prompts configuration from YAML file
func LoadPromptsConfig(configPath string) (*PromptsConfig, error) {
	// Try multiple paths
	paths := []string{configPath}
	if configPath == "" {
		paths = []string{
			"configs/prompts.yaml",
			"/etc/chat-digest/prompts.yaml",
		}
		// Add path relative to executable
		if execPath, err := os.Executable(); err == nil {
			paths = append(paths, filepath.Join(filepath.Dir(execPath), "configs", "prompts.yaml"))
		}
	}

	var data []byte
	var loadedPath string
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err == nil {
			data = b
			loadedPath = p
			break
		}
	}

	if data == nil {
		if configPath != "" {
			return nil, fmt.Errorf("failed to read prompts config %s", configPath)
		}
		log.Info().Str("component", "Config").Msg("No prompts.yaml found, using defaults")
		return DefaultPromptsConfig(), nil
	}

	log.Info().Str("component", "Config").Str("path", loadedPath).Msg("Loading prompts")

	var config PromptsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse prompts.yaml: %w", err)
	}

	// Fill in defaults for empty values
	config.fillDefaults()

	return &config, nil
}

// fillDefaults fills in default values for empty fields
func (c *PromptsConfig) fillDefaults() {
	defaults := DefaultPromptsConfig()

	if c.Summary.SystemPrompt == "" {
		c.Summary.SystemPrompt = defaults.Summary.SystemPrompt
	}
	if c.Summary.UserTemplate == "" {
		c.Summary.UserTemplate = defaults.Summary.UserTemplate
	}
	if c.Summary.StrictInstruction == "" {
		c.Summary.StrictInstruction = defaults.Summary.StrictInstruction
	}
	if c.Summary.TruncatedMarker == "" {
		c.Summary.TruncatedMarker = defaults.Summary.TruncatedMarker
	}

	if len(c.Classifier.WorkKeywords) == 0 {
		c.Classifier.WorkKeywords = defaults.Classifier.WorkKeywords
	}
	if len(c.Classifier.PersonalKeywords) == 0 {
		c.Classifier.PersonalKeywords = defaults.Classifier.PersonalKeywords
	}
}

// SeedFilters returns the declared filters with valid kinds
func (c *PromptsConfig) SeedFilters() []domain.Filter {
	var out []domain.Filter
	for _, s := range c.Filters {
		kind := domain.FilterKind(s.Kind)
		if !kind.Valid() || s.Value == "" {
			log.Warn().Str("component", "Config").Str("kind", s.Kind).Msg("Ignoring invalid seed filter")
			continue
		}
		out = append(out, domain.Filter{Kind: kind, Value: s.Value})
	}
	return out
}

// DefaultPromptsConfig returns the default prompts configuration
func DefaultPromptsConfig() *PromptsConfig {
	return &PromptsConfig{
		Summary: SummaryPrompts{
			SystemPrompt: `You are a business analyst reviewing a work chat. Read the conversation and extract:

SUMMARY: agreements reached and key decisions
RISKS: risks, blockers and open problems
ACTIONS: recommended next steps and action items

Answer with exactly these three headed sections, one item per line starting with "- ".
Write "- none" under a section with nothing to report. Be concise and factual.`,
			UserTemplate: `Chat: {{chat_title}}
Window: {{window_start}} - {{window_end}} (UTC)
Messages: {{message_count}}

{{messages}}`,
			StrictInstruction: `Your previous answer could not be parsed. Respond with ONLY a JSON object of the form
{"summary": ["..."], "risks": ["..."], "actions": ["..."]}
with no other text.`,
			TruncatedMarker: "[... later messages truncated ...]",
		},
		Classifier: ClassifierConfig{
			WorkKeywords: []string{
				"contract", "estimate", "brief", "deal", "roi", "kpi", "project", "task",
				"deadline", "report", "meeting", "call", "client", "development", "bug",
				"feature", "testing", "release", "marketing", "sales", "analytics",
				"budget", "strategy", "presentation", "document", "approval", "plan",
				"payment", "invoice", "order", "delivery", "logistics", "production",
				"quality", "license", "investment", "finance", "audit", "tax", "accounting",
				"hiring", "training", "salary", "server", "database", "api", "integration",
				"security", "compliance",
			},
			PersonalKeywords: []string{
				"how are you", "family", "friends", "vacation", "weekend", "shopping",
				"dinner", "movie", "book", "sport", "hobby", "weather", "mood",
				"birthday", "holiday", "travel", "health", "doctor", "hospital",
				"love", "wedding", "kids", "school", "party", "game", "music",
				"concert", "theater", "museum", "restaurant",
			},
		},
	}
}
