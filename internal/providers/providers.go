// Package providers defines the interface to git hosting platforms and the
// publishing helpers shared by all of them.
package providers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/patchpilot/pkg/models"
)

// Provider is a code hosting platform (GitHub, GitLab) bound to a single
// merge request. GetMergeRequestDetails must run first; it binds the
// provider to the MR named by the URL, and every later call operates on
// that MR.
type Provider interface {
	Name() string

	GetMergeRequestDetails(ctx context.Context, prURL string) (*models.MergeRequestDetails, error)
	GetMergeRequestChanges(ctx context.Context, prURL string) ([]*models.FileChange, error)
	GetFileContent(ctx context.Context, path, ref string) (string, error)
	GetCommitMessages(ctx context.Context) (string, error)
	GetLatestCommitURL(ctx context.Context) (string, error)
	GetIssueComments(ctx context.Context) ([]models.IssueComment, error)

	// PublishComment posts a top-level comment and returns its ID.
	PublishComment(ctx context.Context, body string) (string, error)
	EditComment(ctx context.Context, commentID, body string) error
	RemoveComment(ctx context.Context, commentID string) error
	ReplyToComment(ctx context.Context, commentID int64, body string) error
	PublishDescription(ctx context.Context, title, body string) error
	PublishLabels(ctx context.Context, labels []string) error
	PublishInlineComments(ctx context.Context, comments []models.Comment) error
	PublishCodeSuggestions(ctx context.Context, suggestions []models.InlineSuggestion) error
	AddReaction(ctx context.Context, commentID int64, emoji string) (int64, error)
	RemoveReaction(ctx context.Context, commentID, reactionID int64) error

	// ApprovePullRequest approves the bound merge request on behalf of the
	// configured token's user.
	ApprovePullRequest(ctx context.Context) error

	// GetLineLink builds a web URL pointing at the given new-file line
	// range. start -1 links to the file without an anchor; end 0 or equal
	// to start anchors a single line.
	GetLineLink(file string, start, end int) string

	// IsSupported reports whether the platform supports a named capability
	// such as "gfm_markdown" or "code_suggestions".
	IsSupported(capability string) bool
}

// PublishPersistentComment finds the existing comment starting with marker
// and edits it in place, or creates a new comment when none exists. On
// update the marker line gains an "updated until commit" header, and when
// finalUpdateMessage is set a short notification comment links back to the
// refreshed one.
func PublishPersistentComment(ctx context.Context, p Provider, text, marker, name string, finalUpdateMessage bool) error {
	comments, err := p.GetIssueComments(ctx)
	if err != nil {
		return err
	}

	for _, c := range comments {
		if !strings.HasPrefix(c.Body, marker) {
			continue
		}
		log.Info().Int64("comment_id", c.ID).Msg("updating existing persistent comment")

		commitURL, _ := p.GetLatestCommitURL(ctx)
		updated := text
		if commitURL != "" {
			header := fmt.Sprintf("%s\n\n#### (%s updated until commit %s)\n", marker, capitalizeFirst(name), commitURL)
			updated = strings.ReplaceAll(text, marker, header)
		}

		if err := p.EditComment(ctx, strconv.FormatInt(c.ID, 10), updated); err != nil {
			return err
		}

		if finalUpdateMessage && c.URL != "" && commitURL != "" {
			notification := fmt.Sprintf("**[Persistent %s](%s)** updated to latest commit %s", name, c.URL, commitURL)
			if _, err := p.PublishComment(ctx, notification); err != nil {
				log.Warn().Err(err).Msg("failed to post persistent comment notification")
			}
		}
		return nil
	}

	log.Info().Msg("creating new persistent comment")
	_, err = p.PublishComment(ctx, text)
	return err
}

func capitalizeFirst(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}
