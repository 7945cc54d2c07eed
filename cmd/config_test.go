package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchpilot/internal/config"
)

func TestParseOverrides(t *testing.T) {
	overrides, err := parseOverrides([]string{"AI.MODEL=gpt-4o", "review.num_max_findings=5"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", overrides["ai.model"])
	assert.Equal(t, "5", overrides["review.num_max_findings"])
}

func TestParseOverridesMalformed(t *testing.T) {
	_, err := parseOverrides([]string{"no-equals-sign"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-equals-sign")
}

func TestCheckCredentialsAllMissing(t *testing.T) {
	result := checkCredentials(&config.Config{})

	assert.Contains(t, result.Missing, "ai.api_key")
	assert.Contains(t, result.Missing, "github.user_token or gitlab.token")
	assert.Empty(t, result.Present)
	assert.NotEmpty(t, result.Warnings)
}

func TestCheckCredentialsConfigured(t *testing.T) {
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	cfg.AI.APIKey = "sk-abcdefghijklmnop"
	cfg.GitHub.UserToken = "ghp_0123456789abcdef"
	cfg.GitHub.WebhookSecret = "hush"
	cfg.Database.URL = "postgres://localhost/patchpilot"
	cfg.Server.AdminTokenHash = "$2a$10$x"

	result := checkCredentials(cfg)

	assert.Empty(t, result.Missing)
	assert.Equal(t, "sk****op", result.Present["ai.api_key"])
	assert.Equal(t, "gh****ef", result.Present["github.user_token"])
	assert.Empty(t, result.Warnings)
}

func TestCheckCredentialsAppDeployment(t *testing.T) {
	cfg := &config.Config{}
	cfg.AI.APIKey = "sk-abcdefghijklmnop"
	cfg.GitHub.DeploymentType = "app"
	cfg.GitHub.AppID = 12345
	cfg.GitHub.PrivateKeyPath = "/etc/patchpilot/app.pem"

	result := checkCredentials(cfg)

	assert.Empty(t, result.Missing)
	assert.Equal(t, "12345", result.Present["github.app_id"])
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "****", maskSecret("short"))
	assert.Equal(t, "****", maskSecret(""))
	assert.Equal(t, "gl****yz", maskSecret("glpat-abcdefgxyz"))
}
