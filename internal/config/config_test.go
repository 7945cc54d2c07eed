package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "gpt-5.2-2025-12-11", cfg.General.Model)
	assert.Equal(t, []string{"o4-mini"}, cfg.General.FallbackModels)
	assert.Equal(t, 5, cfg.General.PatchExtraLinesBefore)
	assert.Equal(t, 1, cfg.General.PatchExtraLinesAfter)
	assert.Equal(t, 32000, cfg.General.MaxModelTokens)
	assert.Equal(t, 1500, cfg.General.OutputBufferTokensSoft)
	assert.Equal(t, 1000, cfg.General.OutputBufferTokensHard)
	assert.True(t, cfg.General.SecretMasking)
	assert.Equal(t, 5, cfg.GitHub.RatelimitRetries)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Review.EnableEffortLabels)
	assert.True(t, cfg.Review.EnableSecurityLabels)
	assert.False(t, cfg.Describe.PublishDescription)
	assert.True(t, cfg.Describe.AddOriginalDescription)
	assert.Equal(t, "adaptive", cfg.Describe.CollapsibleFileList)
	assert.Equal(t, 6, cfg.Describe.CollapsibleThreshold)
	assert.Equal(t, -1, cfg.Improve.DualPublishingThreshold)
	assert.Equal(t, 9, cfg.Improve.ScoreHighThreshold)
	assert.Equal(t, 7, cfg.Improve.ScoreMediumThreshold)
	assert.True(t, cfg.Improve.FoldOnSelfReview)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patchpilot.toml")
	content := `
[config]
model = "gpt-4o"
patch_extra_lines_before = 3

[ignore]
glob = ["*.lock"]

[gitlab]
token = "glpat-test"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", cfg.General.Model)
	assert.Equal(t, 3, cfg.General.PatchExtraLinesBefore)
	// Untouched keys keep their defaults.
	assert.Equal(t, 1, cfg.General.PatchExtraLinesAfter)
	assert.Equal(t, []string{"*.lock"}, cfg.Ignore.Glob)
	assert.Equal(t, "glpat-test", cfg.GitLab.Token)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("PATCHPILOT_CONFIG_MODEL", "o4-mini")
	t.Setenv("PATCHPILOT_GITHUB_USER_TOKEN", "ghp_test")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "o4-mini", cfg.General.Model)
	assert.Equal(t, "ghp_test", cfg.GitHub.UserToken)
}

func TestLayerAppliesOverlays(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	scoped, err := cfg.Layer(`
[review]
num_max_findings = 7
`, `
[config]
model = "claude-3-5-sonnet-20241022"
`)
	require.NoError(t, err)

	assert.Equal(t, 7, scoped.Review.NumMaxFindings)
	assert.Equal(t, "claude-3-5-sonnet-20241022", scoped.General.Model)
	// Base config is untouched.
	assert.Equal(t, 3, cfg.Review.NumMaxFindings)
}

func TestLayerEmptyOverlayIsNoop(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	scoped, err := cfg.Layer("", "   ")
	require.NoError(t, err)
	assert.Equal(t, cfg.General.Model, scoped.General.Model)
}

func TestValidate(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.NoError(t, Validate(cfg))

	bad := *cfg
	bad.General.Model = ""
	assert.Error(t, Validate(&bad))

	bad = *cfg
	bad.General.PatchExtraLinesBefore = -1
	assert.Error(t, Validate(&bad))

	bad = *cfg
	bad.GitHub.DeploymentType = "app"
	assert.Error(t, Validate(&bad), "app deployment without app_id must fail")
}

func TestRedacted(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	cfg.GitLab.Token = "glpat-secret"
	cfg.AI.APIKey = "sk-secret"

	red := cfg.Redacted()
	assert.Equal(t, "***", red.GitLab.Token)
	assert.Equal(t, "***", red.AI.APIKey)
	// Original keeps its values.
	assert.Equal(t, "glpat-secret", cfg.GitLab.Token)
}
