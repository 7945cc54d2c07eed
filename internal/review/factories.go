package review

import (
	"context"
	"fmt"

	"github.com/patchpilot/internal/config"
	"github.com/patchpilot/internal/providers"
	"github.com/patchpilot/internal/providers/github"
	"github.com/patchpilot/internal/providers/gitlab"
)

// NewProvider builds the platform provider matching the merge request URL's
// host and shape.
func NewProvider(ctx context.Context, cfg *config.Config, prURL string) (providers.Provider, error) {
	parsed, err := providers.ParseURL(prURL)
	if err != nil {
		return nil, err
	}

	switch parsed.Provider {
	case "github":
		return github.New(ctx, github.Config{
			BaseURL:          cfg.GitHub.BaseURL,
			DeploymentType:   cfg.GitHub.DeploymentType,
			UserToken:        cfg.GitHub.UserToken,
			AppID:            cfg.GitHub.AppID,
			PrivateKeyPath:   cfg.GitHub.PrivateKeyPath,
			RatelimitRetries: cfg.GitHub.RatelimitRetries,
		}, prURL)
	case "gitlab":
		return gitlab.New(gitlab.Config{
			URL:   cfg.GitLab.URL,
			Token: cfg.GitLab.Token,
		}, prURL)
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", parsed.Provider)
	}
}
