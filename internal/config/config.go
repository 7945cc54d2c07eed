package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Config represents the application configuration
type Config struct {
	General struct {
		Model                       string   `koanf:"model"`
		FallbackModels              []string `koanf:"fallback_models"`
		MaxModelTokens              int      `koanf:"max_model_tokens"`
		CustomModelMaxTokens        int      `koanf:"custom_model_max_tokens"`
		PatchExtraLinesBefore       int      `koanf:"patch_extra_lines_before"`
		PatchExtraLinesAfter        int      `koanf:"patch_extra_lines_after"`
		TokenEstimateFactor         float64  `koanf:"model_token_count_estimate_factor"`
		PatchExtensionSkipTypes     []string `koanf:"patch_extension_skip_types"`
		AllowDynamicContext         bool     `koanf:"allow_dynamic_context"`
		MaxExtraLinesDynamicContext int      `koanf:"max_extra_lines_before_dynamic_context"`
		SecretMasking               bool     `koanf:"secret_masking"`
		LargePatchPolicy            string   `koanf:"large_patch_policy"`
		OutputBufferTokensSoft      int      `koanf:"output_buffer_tokens_soft_threshold"`
		OutputBufferTokensHard      int      `koanf:"output_buffer_tokens_hard_threshold"`
		Temperature                 float64  `koanf:"temperature"`
		DisableAutoFeedback         bool     `koanf:"disable_auto_feedback"`
		PublishOutput               bool     `koanf:"publish_output"`
	} `koanf:"config"`

	Ignore struct {
		Glob  []string `koanf:"glob"`
		Regex []string `koanf:"regex"`
	} `koanf:"ignore"`

	Extensions struct {
		Allow []string `koanf:"allow"`
	} `koanf:"extensions"`

	Review struct {
		NumMaxFindings        int    `koanf:"num_max_findings"`
		RequireScoreReview    bool   `koanf:"require_score_review"`
		RequireTestsReview    bool   `koanf:"require_tests_review"`
		RequireSecurityReview bool   `koanf:"require_security_review"`
		PersistentComment     bool   `koanf:"persistent_comment"`
		EnableEffortLabels    bool   `koanf:"enable_review_labels_effort"`
		EnableSecurityLabels  bool   `koanf:"enable_review_labels_security"`
		ExtraInstructions     string `koanf:"extra_instructions"`
	} `koanf:"review"`

	Describe struct {
		PublishDescription     bool   `koanf:"publish_description"`
		GenerateAITitle        bool   `koanf:"generate_ai_title"`
		AddOriginalDescription bool   `koanf:"add_original_user_description"`
		TypeSection            bool   `koanf:"enable_pr_type"`
		FileTable              bool   `koanf:"enable_semantic_files_types"`
		CollapsibleFileList    string `koanf:"collapsible_file_list"`
		CollapsibleThreshold   int    `koanf:"collapsible_file_list_threshold"`
		PublishLabels          bool   `koanf:"publish_labels"`
		ExtraInstructions      string `koanf:"extra_instructions"`
	} `koanf:"describe"`

	Improve struct {
		NumCodeSuggestions      int    `koanf:"num_code_suggestions"`
		ScoreThreshold          int    `koanf:"suggestions_score_threshold"`
		CommitableCode          bool   `koanf:"commitable_code_suggestions"`
		DualPublishingThreshold int    `koanf:"dual_publishing_score_threshold"`
		ScoreHighThreshold      int    `koanf:"score_threshold_high"`
		ScoreMediumThreshold    int    `koanf:"score_threshold_medium"`
		PersistentComment       bool   `koanf:"persistent_comment"`
		SelfReview              bool   `koanf:"demand_self_review"`
		SelfReviewText          string `koanf:"self_review_text"`
		ApproveOnSelfReview     bool   `koanf:"approve_pr_on_self_review"`
		FoldOnSelfReview        bool   `koanf:"fold_suggestions_on_self_review"`
		ExtraInstructions       string `koanf:"extra_instructions"`
	} `koanf:"improve"`

	AI struct {
		Provider string `koanf:"provider"`
		APIKey   string `koanf:"api_key"`
		BaseURL  string `koanf:"base_url"`
	} `koanf:"ai"`

	GitHub struct {
		DeploymentType   string `koanf:"deployment_type"`
		BaseURL          string `koanf:"base_url"`
		UserToken        string `koanf:"user_token"`
		AppID            int64  `koanf:"app_id"`
		PrivateKeyPath   string `koanf:"private_key_path"`
		WebhookSecret    string `koanf:"webhook_secret"`
		RatelimitRetries int    `koanf:"ratelimit_retries"`
		IgnoreBotPRs     bool   `koanf:"ignore_bot_prs"`
	} `koanf:"github"`

	GitLab struct {
		URL           string `koanf:"url"`
		Token         string `koanf:"token"`
		WebhookSecret string `koanf:"webhook_secret"`
	} `koanf:"gitlab"`

	Filters struct {
		IgnoreTitles         []string `koanf:"ignore_pr_titles"`
		IgnoreAuthors        []string `koanf:"ignore_pr_authors"`
		IgnoreRepositories   []string `koanf:"ignore_repositories"`
		IgnoreLabels         []string `koanf:"ignore_pr_labels"`
		IgnoreSourceBranches []string `koanf:"ignore_pr_source_branches"`
		IgnoreTargetBranches []string `koanf:"ignore_pr_target_branches"`
	} `koanf:"filters"`

	Server struct {
		Host               string   `koanf:"host"`
		Port               int      `koanf:"port"`
		AdminTokenHash     string   `koanf:"admin_token_hash"`
		PRActions          []string `koanf:"handle_pr_actions"`
		PRCommands         []string `koanf:"pr_commands"`
		PushCommands       []string `koanf:"push_commands"`
		HandlePushTrigger  bool     `koanf:"handle_push_trigger"`
		PushBacklogEnabled bool     `koanf:"push_pending_backlog"`
		PushPendingTTL     int      `koanf:"push_pending_ttl_seconds"`
	} `koanf:"server"`

	Database struct {
		URL string `koanf:"url"`
	} `koanf:"database"`

	Queue struct {
		MaxWorkers        int `koanf:"max_workers"`
		MaxRetries        int `koanf:"max_retries"`
		JobTimeoutSeconds int `koanf:"job_timeout_seconds"`
	} `koanf:"queue"`

	sourcePath string
}

// defaults returns the built-in configuration values, applied before any
// file or environment overrides.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"config.model":                                  "gpt-5.2-2025-12-11",
		"config.fallback_models":                        []string{"o4-mini"},
		"config.max_model_tokens":                       32000,
		"config.custom_model_max_tokens":                0,
		"config.patch_extra_lines_before":               5,
		"config.patch_extra_lines_after":                1,
		"config.model_token_count_estimate_factor":      0.3,
		"config.patch_extension_skip_types":             []string{".md", ".txt"},
		"config.allow_dynamic_context":                  true,
		"config.max_extra_lines_before_dynamic_context": 10,
		"config.secret_masking":                         true,
		"config.large_patch_policy":                     "clip",
		"config.output_buffer_tokens_soft_threshold":    1500,
		"config.output_buffer_tokens_hard_threshold":    1000,
		"config.temperature":                            0.2,
		"config.publish_output":                         true,
		"review.num_max_findings":                       3,
		"review.require_tests_review":                   true,
		"review.require_security_review":                true,
		"review.persistent_comment":                     true,
		"review.enable_review_labels_effort":            true,
		"review.enable_review_labels_security":          true,
		"describe.add_original_user_description":        true,
		"describe.enable_pr_type":                       true,
		"describe.enable_semantic_files_types":          true,
		"describe.collapsible_file_list":                "adaptive",
		"describe.collapsible_file_list_threshold":      6,
		"improve.num_code_suggestions":                  4,
		"improve.dual_publishing_score_threshold":       -1,
		"improve.score_threshold_high":                  9,
		"improve.score_threshold_medium":                7,
		"improve.persistent_comment":                    true,
		"improve.self_review_text":                      "**Author self-review**: I have reviewed the PR code suggestions, and addressed the relevant ones.",
		"improve.fold_suggestions_on_self_review":       true,
		"ai.provider":                                   "openai",
		"github.deployment_type":                        "user",
		"github.base_url":                               "https://api.github.com",
		"github.ratelimit_retries":                      5,
		"github.ignore_bot_prs":                         true,
		"gitlab.url":                                    "https://gitlab.com",
		"server.host":                                   "0.0.0.0",
		"server.port":                                   8080,
		"server.handle_pr_actions":                      []string{"opened", "reopened", "ready_for_review", "review_requested"},
		"server.pr_commands":                            []string{"/describe", "/review"},
		"server.push_commands":                          []string{"/review"},
		"server.handle_push_trigger":                    false,
		"server.push_pending_backlog":                   true,
		"server.push_pending_ttl_seconds":               300,
		"queue.max_workers":                             4,
		"queue.max_retries":                             3,
		"queue.job_timeout_seconds":                     600,
	}
}

// LoadConfig loads the configuration from a file
func LoadConfig(configPath string) (*Config, error) {
	return loadConfig(configPath, nil)
}

// Layer applies repo- or org-level TOML overrides between the base file and
// the environment, returning a new Config. The receiver is not modified;
// webhook handlers use this to scope settings to one request.
func (c *Config) Layer(tomlOverrides ...string) (*Config, error) {
	return loadConfig(c.sourcePath, tomlOverrides)
}

func loadConfig(configPath string, overlays []string) (*Config, error) {
	var k = koanf.New(".")

	k.Load(confmap.Provider(defaults(), "."), nil)

	// Load from TOML file if it exists
	resolved := ""
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
		resolved = configPath
	} else {
		defaultPaths := []string{"./patchpilot.toml", "$HOME/.patchpilot.toml", "/etc/patchpilot/patchpilot.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					resolved = path
					break
				}
			}
		}
	}

	for _, overlay := range overlays {
		if strings.TrimSpace(overlay) == "" {
			continue
		}
		if err := k.Load(rawbytes.Provider([]byte(overlay)), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error applying settings overlay: %w", err)
		}
	}

	// Load from environment variables with prefix PATCHPILOT_. The first
	// underscore after the prefix separates the section from the key, so
	// PATCHPILOT_CONFIG_MAX_MODEL_TOKENS maps to config.max_model_tokens.
	k.Load(env.Provider("PATCHPILOT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "PATCHPILOT_")), "_", ".", 1)
	}), nil)

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	config.sourcePath = resolved

	return &config, nil
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# PatchPilot Configuration

[config]
model = "gpt-5.2-2025-12-11"
fallback_models = ["o4-mini"]
patch_extra_lines_before = 5
patch_extra_lines_after = 1
secret_masking = true

[ignore]
glob = ["*.lock", "vendor/**"]

[ai]
provider = "openai"
api_key = "your-api-key"

[github]
deployment_type = "user"
user_token = "your-github-token"

[gitlab]
url = "https://gitlab.com"
token = "your-gitlab-token"

[server]
host = "0.0.0.0"
port = 8080
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	if config.General.Model == "" {
		return fmt.Errorf("config.model is required")
	}
	if config.General.PatchExtraLinesBefore < 0 || config.General.PatchExtraLinesAfter < 0 {
		return fmt.Errorf("patch_extra_lines_before/after must be non-negative")
	}
	if config.General.MaxModelTokens <= 0 {
		return fmt.Errorf("config.max_model_tokens must be positive")
	}

	switch config.GitHub.DeploymentType {
	case "", "user", "app":
	default:
		return fmt.Errorf("github.deployment_type must be \"user\" or \"app\", got %q", config.GitHub.DeploymentType)
	}
	if config.GitHub.DeploymentType == "app" {
		if config.GitHub.AppID == 0 {
			return fmt.Errorf("github.app_id is required for app deployment")
		}
		if config.GitHub.PrivateKeyPath == "" {
			return fmt.Errorf("github.private_key_path is required for app deployment")
		}
	}

	return nil
}

// Redacted returns a copy of the config with secrets replaced, safe for
// logging and the config command output.
func (c *Config) Redacted() Config {
	out := *c
	if out.AI.APIKey != "" {
		out.AI.APIKey = "***"
	}
	if out.GitHub.UserToken != "" {
		out.GitHub.UserToken = "***"
	}
	if out.GitHub.WebhookSecret != "" {
		out.GitHub.WebhookSecret = "***"
	}
	if out.GitLab.Token != "" {
		out.GitLab.Token = "***"
	}
	if out.GitLab.WebhookSecret != "" {
		out.GitLab.WebhookSecret = "***"
	}
	if out.Server.AdminTokenHash != "" {
		out.Server.AdminTokenHash = "***"
	}
	if out.Database.URL != "" {
		out.Database.URL = "***"
	}
	return out
}
