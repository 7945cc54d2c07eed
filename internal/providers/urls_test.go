package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURLGitHubWeb(t *testing.T) {
	parsed, err := ParseURL("https://github.com/owner/repo/pull/123")
	require.NoError(t, err)
	assert.Equal(t, "github", parsed.Provider)
	assert.Equal(t, "owner", parsed.Owner)
	assert.Equal(t, "repo", parsed.Repo)
	assert.Equal(t, "owner/repo", parsed.Project)
	assert.Equal(t, 123, parsed.Number)
}

func TestParseURLGitHubAPI(t *testing.T) {
	parsed, err := ParseURL("https://api.github.com/repos/owner/repo/pulls/456")
	require.NoError(t, err)
	assert.Equal(t, "github", parsed.Provider)
	assert.Equal(t, "owner", parsed.Owner)
	assert.Equal(t, 456, parsed.Number)
}

func TestParseURLGitHubEnterprise(t *testing.T) {
	parsed, err := ParseURL("https://github.example.com/api/v3/repos/org/repo/pulls/99")
	require.NoError(t, err)
	assert.Equal(t, "github", parsed.Provider)
	assert.Equal(t, "org", parsed.Owner)
	assert.Equal(t, "repo", parsed.Repo)
	assert.Equal(t, 99, parsed.Number)
}

func TestParseURLGitLabNestedGroups(t *testing.T) {
	parsed, err := ParseURL("https://gitlab.com/group/subgroup/project/-/merge_requests/10")
	require.NoError(t, err)
	assert.Equal(t, "gitlab", parsed.Provider)
	assert.Equal(t, "group/subgroup", parsed.Owner)
	assert.Equal(t, "project", parsed.Repo)
	assert.Equal(t, "group/subgroup/project", parsed.Project)
	assert.Equal(t, 10, parsed.Number)
}

func TestParseURLGitLabSimple(t *testing.T) {
	parsed, err := ParseURL("https://gitlab.com/owner/repo/-/merge_requests/5")
	require.NoError(t, err)
	assert.Equal(t, "owner", parsed.Owner)
	assert.Equal(t, "repo", parsed.Repo)
	assert.Equal(t, "owner/repo", parsed.Project)
	assert.Equal(t, 5, parsed.Number)
}

func TestParseURLSelfHostedGitLab(t *testing.T) {
	// Custom domain, detected by the merge_requests path segment.
	parsed, err := ParseURL("https://git.example.io/team/tool/-/merge_requests/7")
	require.NoError(t, err)
	assert.Equal(t, "gitlab", parsed.Provider)
	assert.Equal(t, "team/tool", parsed.Project)
	assert.Equal(t, 7, parsed.Number)
}

func TestParseURLRejectsInvalid(t *testing.T) {
	cases := []string{
		"not-a-url",
		"https://github.com/owner/repo",
		"https://github.com/owner/repo/pull/0",
		"https://github.com/owner/repo/issues/5",
		"https://gitlab.com/owner/repo/-/merge_requests/abc",
		"https://example.com/some/random/path",
	}
	for _, raw := range cases {
		_, err := ParseURL(raw)
		assert.Error(t, err, "expected error for %s", raw)
	}
}
