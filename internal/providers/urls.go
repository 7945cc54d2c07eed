package providers

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ParsedURL identifies a merge request from its web URL.
type ParsedURL struct {
	// Provider is "github" or "gitlab".
	Provider string
	Owner    string
	Repo     string
	// Project is the full project path: "owner/repo" on GitHub, the
	// complete namespace path ("group/subgroup/project") on GitLab.
	Project string
	Number  int
}

// ParseURL extracts the provider, project and MR number from a pull/merge
// request URL. Self-hosted GitLab instances on custom domains are detected
// by the merge_requests path segment.
func ParseURL(raw string) (ParsedURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return ParsedURL{}, fmt.Errorf("invalid merge request URL: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return ParsedURL{}, fmt.Errorf("merge request URL has no host: %s", raw)
	}

	path := strings.TrimPrefix(u.Path, "/api/v3")
	path = strings.TrimPrefix(path, "/api/v4")
	var parts []string
	for _, p := range strings.Split(strings.Trim(path, "/"), "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}

	switch {
	case strings.Contains(host, "github"):
		return parseGitHubURL(parts, raw)
	case strings.Contains(host, "gitlab") || hasSegment(parts, "merge_requests"):
		return parseGitLabURL(parts, raw)
	}
	return ParsedURL{}, fmt.Errorf("unrecognized merge request URL: %s", raw)
}

// parseGitHubURL handles both the web form ({owner}/{repo}/pull/{n}) and
// the API form (repos/{owner}/{repo}/pulls/{n}).
func parseGitHubURL(parts []string, raw string) (ParsedURL, error) {
	if len(parts) >= 5 && parts[0] == "repos" {
		parts = parts[1:]
	}
	if len(parts) < 4 || (parts[2] != "pull" && parts[2] != "pulls") {
		return ParsedURL{}, fmt.Errorf("invalid GitHub pull request URL: %s", raw)
	}
	number, err := parseMRNumber(parts[3], raw)
	if err != nil {
		return ParsedURL{}, err
	}
	return ParsedURL{
		Provider: "github",
		Owner:    parts[0],
		Repo:     parts[1],
		Project:  parts[0] + "/" + parts[1],
		Number:   number,
	}, nil
}

func parseGitLabURL(parts []string, raw string) (ParsedURL, error) {
	idx := -1
	for i, p := range parts {
		if p == "merge_requests" {
			idx = i
			break
		}
	}
	if idx == -1 || idx+1 >= len(parts) {
		return ParsedURL{}, fmt.Errorf("invalid GitLab merge request URL: %s", raw)
	}
	number, err := parseMRNumber(parts[idx+1], raw)
	if err != nil {
		return ParsedURL{}, err
	}

	project := parts[:idx]
	if n := len(project); n > 0 && project[n-1] == "-" {
		project = project[:n-1]
	}
	if len(project) == 0 {
		return ParsedURL{}, fmt.Errorf("invalid GitLab merge request URL: empty project path: %s", raw)
	}

	return ParsedURL{
		Provider: "gitlab",
		Owner:    strings.Join(project[:len(project)-1], "/"),
		Repo:     project[len(project)-1],
		Project:  strings.Join(project, "/"),
		Number:   number,
	}, nil
}

func parseMRNumber(s, raw string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid merge request number %q in URL %s", s, raw)
	}
	return n, nil
}

func hasSegment(parts []string, seg string) bool {
	for _, p := range parts {
		if p == seg {
			return true
		}
	}
	return false
}
