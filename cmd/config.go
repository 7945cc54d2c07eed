package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/patchpilot/internal/config"
)

// ConfigCommand returns the config command.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Initialize a new configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path",
						Value:   "patchpilot.toml",
					},
				},
				Action: runConfigInit,
			},
			{
				Name:   "validate",
				Usage:  "Validate the configuration file",
				Action: runConfigValidate,
			},
			{
				Name:   "show",
				Usage:  "Print the effective configuration with secrets redacted",
				Action: runConfigShow,
			},
			{
				Name:   "check",
				Usage:  "Check which credentials are configured",
				Action: runConfigCheck,
			},
		},
	}
}

func runConfigInit(c *cli.Context) error {
	outputPath := c.String("output")

	if err := config.InitConfig(outputPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Created configuration file at %s\n", outputPath)
	return nil
}

func runConfigValidate(c *cli.Context) error {
	configPath := c.String("config")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fmt.Println("Configuration is valid")
	return nil
}

func runConfigShow(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	out, err := json.MarshalIndent(cfg.Redacted(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// configCheckResult holds the result of the credential check.
type configCheckResult struct {
	Missing  []string          // Settings nothing will work without
	Present  map[string]string // Configured settings (masked values)
	Warnings []string          // Non-fatal gaps
}

// checkCredentials reports which credentials are configured and which
// capabilities the gaps disable.
func checkCredentials(cfg *config.Config) *configCheckResult {
	result := &configCheckResult{
		Missing:  []string{},
		Present:  map[string]string{},
		Warnings: []string{},
	}

	if cfg.AI.APIKey == "" {
		result.Missing = append(result.Missing, "ai.api_key")
	} else {
		result.Present["ai.api_key"] = maskSecret(cfg.AI.APIKey)
	}

	githubReady := cfg.GitHub.UserToken != "" ||
		(cfg.GitHub.DeploymentType == "app" && cfg.GitHub.AppID != 0 && cfg.GitHub.PrivateKeyPath != "")
	if githubReady {
		if cfg.GitHub.UserToken != "" {
			result.Present["github.user_token"] = maskSecret(cfg.GitHub.UserToken)
		} else {
			result.Present["github.app_id"] = fmt.Sprintf("%d", cfg.GitHub.AppID)
		}
	}
	if cfg.GitLab.Token != "" {
		result.Present["gitlab.token"] = maskSecret(cfg.GitLab.Token)
	}
	if !githubReady && cfg.GitLab.Token == "" {
		result.Missing = append(result.Missing, "github.user_token or gitlab.token")
	}

	if cfg.GitHub.WebhookSecret == "" && cfg.GitLab.WebhookSecret == "" {
		result.Warnings = append(result.Warnings, "no webhook secret configured, the serve command will reject all webhooks")
	}
	if cfg.Database.URL == "" {
		result.Warnings = append(result.Warnings, "no database.url configured, review history and the job queue are disabled")
	}
	if cfg.Server.AdminTokenHash == "" {
		result.Warnings = append(result.Warnings, "no server.admin_token_hash configured, the reviews API is disabled")
	}

	return result
}

func runConfigCheck(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	result := checkCredentials(cfg)

	fmt.Println("=== Configuration Check ===")
	fmt.Println("")

	if len(result.Missing) > 0 {
		fmt.Println("❌ Missing required settings:")
		for _, v := range result.Missing {
			fmt.Printf("   - %s\n", v)
		}
		fmt.Println("")
	}

	if len(result.Present) > 0 {
		fmt.Println("✓ Configured settings:")
		for k, v := range result.Present {
			fmt.Printf("   - %s = %s\n", k, v)
		}
		fmt.Println("")
	}

	for _, w := range result.Warnings {
		fmt.Printf("⚠ Warning: %s\n", w)
	}

	if len(result.Missing) == 0 {
		fmt.Println("✓ All required settings are present")
	}

	fmt.Println("============================")

	if len(result.Missing) > 0 {
		return fmt.Errorf("%d required setting(s) missing", len(result.Missing))
	}
	return nil
}

// maskSecret masks a secret value for display, showing only the first and
// last 2 characters.
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}
