// Package gitlab implements the provider interface over the GitLab API
// using the official client library. Inline comments and code suggestions
// are posted as positioned discussions against the merge request's diff
// refs, with a plain-note fallback when GitLab rejects the position.
package gitlab

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/patchpilot/internal/providers"
	"github.com/patchpilot/pkg/models"
)

// GitLab rejects note bodies above 1,000,000 characters.
const maxNoteChars = 1000000

// Config is the GitLab connection settings subset the provider needs.
type Config struct {
	URL   string
	Token string
}

// Provider talks to the GitLab API for a single merge request.
type Provider struct {
	client *gitlab.Client
	webURL string

	project  string
	iid      int
	mrWebURL string
	refs     models.DiffRefs
}

// New builds a provider bound to the merge request at mrURL.
func New(cfg Config, mrURL string) (*Provider, error) {
	base := strings.TrimSuffix(cfg.URL, "/")
	if base == "" {
		base = "https://gitlab.com"
	}

	client, err := gitlab.NewClient(cfg.Token, gitlab.WithBaseURL(base))
	if err != nil {
		return nil, fmt.Errorf("gitlab: create client: %w", err)
	}

	p := &Provider{client: client, webURL: base}
	if err := p.bind(mrURL); err != nil {
		return nil, err
	}
	return p, nil
}

// Name implements providers.Provider.
func (p *Provider) Name() string { return "gitlab" }

func (p *Provider) bind(mrURL string) error {
	parsed, err := providers.ParseURL(mrURL)
	if err != nil {
		return err
	}
	if parsed.Provider != "gitlab" {
		return fmt.Errorf("not a GitLab merge request URL: %s", mrURL)
	}
	p.project = parsed.Project
	p.iid = parsed.Number
	return nil
}

// ensureRefs fetches and caches the MR's diff refs and web URL when a
// method needs them before GetMergeRequestDetails has run.
func (p *Provider) ensureRefs(ctx context.Context) error {
	if p.refs.HeadSHA != "" {
		return nil
	}
	mr, _, err := p.client.MergeRequests.GetMergeRequest(p.project, p.iid, nil, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("gitlab: get merge request %s!%d: %w", p.project, p.iid, err)
	}
	p.cacheMR(mr)
	return nil
}

func (p *Provider) cacheMR(mr *gitlab.MergeRequest) {
	p.mrWebURL = mr.WebURL
	p.refs = models.DiffRefs{
		BaseSHA:  mr.DiffRefs.BaseSha,
		HeadSHA:  mr.DiffRefs.HeadSha,
		StartSHA: mr.DiffRefs.StartSha,
	}
	if p.refs.HeadSHA == "" {
		p.refs.HeadSHA = mr.SHA
	}
}

// GetMergeRequestDetails implements providers.Provider.
func (p *Provider) GetMergeRequestDetails(ctx context.Context, mrURL string) (*models.MergeRequestDetails, error) {
	if err := p.bind(mrURL); err != nil {
		return nil, err
	}
	mr, _, err := p.client.MergeRequests.GetMergeRequest(p.project, p.iid, nil, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("gitlab: get merge request %s!%d: %w", p.project, p.iid, err)
	}
	p.cacheMR(mr)

	author := ""
	if mr.Author != nil {
		author = mr.Author.Username
	}

	return &models.MergeRequestDetails{
		Provider:     "gitlab",
		ProjectID:    p.project,
		Number:       mr.IID,
		Title:        mr.Title,
		Description:  mr.Description,
		Author:       author,
		SourceBranch: mr.SourceBranch,
		TargetBranch: mr.TargetBranch,
		Refs:         p.refs,
		WebURL:       mr.WebURL,
		State:        mr.State,
		IsDraft:      mr.Draft,
		Labels:       []string(mr.Labels),
	}, nil
}

// GetMergeRequestChanges fetches the per-file diffs, plus the full
// new-file content for every file that still exists at head. Content
// fetch failures degrade to an empty NewContent rather than failing the
// run.
func (p *Provider) GetMergeRequestChanges(ctx context.Context, mrURL string) ([]*models.FileChange, error) {
	if err := p.bind(mrURL); err != nil {
		return nil, err
	}
	if err := p.ensureRefs(ctx); err != nil {
		return nil, err
	}

	var diffs []*gitlab.MergeRequestDiff
	opt := &gitlab.ListMergeRequestDiffsOptions{
		ListOptions: gitlab.ListOptions{PerPage: 100},
	}
	for {
		page, resp, err := p.client.MergeRequests.ListMergeRequestDiffs(p.project, p.iid, opt, gitlab.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("gitlab: list diffs %s!%d: %w", p.project, p.iid, err)
		}
		diffs = append(diffs, page...)
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}

	changes := make([]*models.FileChange, 0, len(diffs))
	for _, d := range diffs {
		editType := models.EditModified
		switch {
		case d.NewFile:
			editType = models.EditAdded
		case d.DeletedFile:
			editType = models.EditDeleted
		case d.RenamedFile:
			editType = models.EditRenamed
		}

		path := d.NewPath
		if path == "" {
			path = d.OldPath
		}
		oldPath := ""
		if d.RenamedFile {
			oldPath = d.OldPath
		}

		newContent := ""
		if editType != models.EditDeleted {
			content, err := p.GetFileContent(ctx, path, p.refs.HeadSHA)
			if err != nil {
				log.Debug().Err(err).Str("file", path).Msg("head file content unavailable")
			} else {
				newContent = content
			}
		}

		changes = append(changes, &models.FileChange{
			Path:       path,
			OldPath:    oldPath,
			Diff:       d.Diff,
			NewContent: newContent,
			EditType:   editType,
		})
	}
	return changes, nil
}

// GetFileContent implements providers.Provider.
func (p *Provider) GetFileContent(ctx context.Context, path, ref string) (string, error) {
	raw, _, err := p.client.RepositoryFiles.GetRawFile(p.project, path, &gitlab.GetRawFileOptions{
		Ref: gitlab.Ptr(ref),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("gitlab: raw file %s@%s: %w", path, ref, err)
	}
	return string(raw), nil
}

func (p *Provider) listCommits(ctx context.Context) ([]*gitlab.Commit, error) {
	commits, _, err := p.client.MergeRequests.GetMergeRequestCommits(p.project, p.iid,
		&gitlab.GetMergeRequestCommitsOptions{PerPage: 100}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("gitlab: list commits %s!%d: %w", p.project, p.iid, err)
	}
	return commits, nil
}

// GetCommitMessages returns the MR's commit messages as a numbered list,
// newest first the way the API returns them.
func (p *Provider) GetCommitMessages(ctx context.Context) (string, error) {
	commits, err := p.listCommits(ctx)
	if err != nil {
		return "", err
	}
	lines := make([]string, 0, len(commits))
	for i, c := range commits {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, strings.TrimSpace(c.Message)))
	}
	return strings.Join(lines, "\n"), nil
}

// GetLatestCommitURL implements providers.Provider.
func (p *Provider) GetLatestCommitURL(ctx context.Context) (string, error) {
	commits, err := p.listCommits(ctx)
	if err != nil {
		return "", err
	}
	if len(commits) == 0 {
		return "", nil
	}
	return commits[0].WebURL, nil
}

// GetIssueComments lists the MR's discussion notes in creation order,
// skipping system notes.
func (p *Provider) GetIssueComments(ctx context.Context) ([]models.IssueComment, error) {
	if err := p.ensureRefs(ctx); err != nil {
		return nil, err
	}

	opt := &gitlab.ListMergeRequestNotesOptions{
		ListOptions: gitlab.ListOptions{PerPage: 100},
		OrderBy:     gitlab.Ptr("created_at"),
		Sort:        gitlab.Ptr("asc"),
	}
	var comments []models.IssueComment
	for {
		notes, resp, err := p.client.Notes.ListMergeRequestNotes(p.project, p.iid, opt, gitlab.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("gitlab: list notes %s!%d: %w", p.project, p.iid, err)
		}
		for _, n := range notes {
			if n.System {
				continue
			}
			created := ""
			if n.CreatedAt != nil {
				created = n.CreatedAt.Format(time.RFC3339)
			}
			comments = append(comments, models.IssueComment{
				ID:        int64(n.ID),
				Body:      n.Body,
				User:      n.Author.Username,
				CreatedAt: created,
				URL:       fmt.Sprintf("%s#note_%d", p.mrWebURL, n.ID),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return comments, nil
}

// PublishComment posts a top-level note, truncating to the platform's
// size limit at a rune boundary.
func (p *Provider) PublishComment(ctx context.Context, body string) (string, error) {
	body = truncateRunes(body, maxNoteChars)
	note, _, err := p.client.Notes.CreateMergeRequestNote(p.project, p.iid,
		&gitlab.CreateMergeRequestNoteOptions{Body: gitlab.Ptr(body)}, gitlab.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("gitlab: create note on %s!%d: %w", p.project, p.iid, err)
	}
	return strconv.Itoa(note.ID), nil
}

// EditComment implements providers.Provider.
func (p *Provider) EditComment(ctx context.Context, commentID, body string) error {
	noteID, err := strconv.Atoi(commentID)
	if err != nil {
		return fmt.Errorf("gitlab: invalid note id %q", commentID)
	}
	_, _, err = p.client.Notes.UpdateMergeRequestNote(p.project, p.iid, noteID,
		&gitlab.UpdateMergeRequestNoteOptions{Body: gitlab.Ptr(body)}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("gitlab: update note %d: %w", noteID, err)
	}
	return nil
}

// RemoveComment implements providers.Provider.
func (p *Provider) RemoveComment(ctx context.Context, commentID string) error {
	noteID, err := strconv.Atoi(commentID)
	if err != nil {
		return fmt.Errorf("gitlab: invalid note id %q", commentID)
	}
	if _, err := p.client.Notes.DeleteMergeRequestNote(p.project, p.iid, noteID, gitlab.WithContext(ctx)); err != nil {
		return fmt.Errorf("gitlab: delete note %d: %w", noteID, err)
	}
	return nil
}

// ReplyToComment answers inside the discussion thread that contains the
// given note.
func (p *Provider) ReplyToComment(ctx context.Context, commentID int64, body string) error {
	discussionID, err := p.findDiscussion(ctx, int(commentID))
	if err != nil {
		return err
	}
	_, _, err = p.client.Discussions.AddMergeRequestDiscussionNote(p.project, p.iid, discussionID,
		&gitlab.AddMergeRequestDiscussionNoteOptions{Body: gitlab.Ptr(body)}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("gitlab: reply to note %d: %w", commentID, err)
	}
	return nil
}

func (p *Provider) findDiscussion(ctx context.Context, noteID int) (string, error) {
	opt := &gitlab.ListMergeRequestDiscussionsOptions{PerPage: 100}
	for {
		discussions, resp, err := p.client.Discussions.ListMergeRequestDiscussions(p.project, p.iid, opt, gitlab.WithContext(ctx))
		if err != nil {
			return "", fmt.Errorf("gitlab: list discussions %s!%d: %w", p.project, p.iid, err)
		}
		for _, d := range discussions {
			for _, n := range d.Notes {
				if n.ID == noteID {
					return d.ID, nil
				}
			}
		}
		if resp.NextPage == 0 {
			return "", fmt.Errorf("gitlab: no discussion contains note %d", noteID)
		}
		opt.Page = resp.NextPage
	}
}

// PublishDescription implements providers.Provider.
func (p *Provider) PublishDescription(ctx context.Context, title, body string) error {
	_, _, err := p.client.MergeRequests.UpdateMergeRequest(p.project, p.iid, &gitlab.UpdateMergeRequestOptions{
		Title:       gitlab.Ptr(title),
		Description: gitlab.Ptr(body),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("gitlab: update merge request %s!%d: %w", p.project, p.iid, err)
	}
	return nil
}

// PublishLabels adds the labels to the merge request, keeping whatever
// labels it already carries.
func (p *Provider) PublishLabels(ctx context.Context, labels []string) error {
	add := gitlab.LabelOptions(labels)
	_, _, err := p.client.MergeRequests.UpdateMergeRequest(p.project, p.iid, &gitlab.UpdateMergeRequestOptions{
		AddLabels: &add,
	}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("gitlab: add labels to %s!%d: %w", p.project, p.iid, err)
	}
	return nil
}

// PublishInlineComments posts each comment as a positioned discussion.
// Comments whose position GitLab rejects (typically lines outside the
// diff) fall back to a plain note naming the file and line, best effort.
func (p *Provider) PublishInlineComments(ctx context.Context, comments []models.Comment) error {
	if len(comments) == 0 {
		return nil
	}
	if err := p.ensureRefs(ctx); err != nil {
		return err
	}

	for _, c := range comments {
		if err := p.createPositionedDiscussion(ctx, c.Body, c.Path, c.Line, c.OldLine); err != nil {
			log.Warn().Str("file", c.Path).Int("line", c.Line).Err(err).
				Msg("positioned comment rejected, falling back to plain note")
			fallback := fmt.Sprintf("**Comment for %s, line %d:**\n\n%s", c.Path, c.Line, c.Body)
			if _, err := p.PublishComment(ctx, fallback); err != nil {
				log.Warn().Str("file", c.Path).Err(err).Msg("fallback note failed")
			}
		}
	}
	return nil
}

func (p *Provider) createPositionedDiscussion(ctx context.Context, body, path string, newLine, oldLine int) error {
	path = strings.TrimPrefix(path, "/")
	pos := &gitlab.PositionOptions{
		BaseSHA:      gitlab.Ptr(p.refs.BaseSHA),
		HeadSHA:      gitlab.Ptr(p.refs.HeadSHA),
		StartSHA:     gitlab.Ptr(p.refs.StartSHA),
		NewPath:      gitlab.Ptr(path),
		OldPath:      gitlab.Ptr(path),
		PositionType: gitlab.Ptr("text"),
	}
	if newLine > 0 {
		pos.NewLine = gitlab.Ptr(newLine)
	}
	if oldLine > 0 {
		pos.OldLine = gitlab.Ptr(oldLine)
	}

	_, _, err := p.client.Discussions.CreateMergeRequestDiscussion(p.project, p.iid,
		&gitlab.CreateMergeRequestDiscussionOptions{
			Body:     gitlab.Ptr(body),
			Position: pos,
		}, gitlab.WithContext(ctx))
	return err
}

// PublishCodeSuggestions posts suggestions as positioned discussions with
// native ```suggestion blocks anchored at the start line and spanning to
// the end line. Returns an error when any suggestion is rejected so the
// caller can fall back to a summary comment.
func (p *Provider) PublishCodeSuggestions(ctx context.Context, suggestions []models.InlineSuggestion) error {
	if len(suggestions) == 0 {
		return nil
	}
	if err := p.ensureRefs(ctx); err != nil {
		return err
	}

	failed := 0
	for _, s := range suggestions {
		span := s.EndLine - s.StartLine
		if span < 0 {
			span = 0
		}
		body := fmt.Sprintf("%s\n\n```suggestion:-0+%d\n%s\n```", s.Body, span, s.ImprovedCode)
		if err := p.createPositionedDiscussion(ctx, body, s.Path, s.StartLine, 0); err != nil {
			failed++
			log.Warn().Str("file", s.Path).Int("line", s.StartLine).Err(err).Msg("code suggestion rejected")
		}
	}
	if failed > 0 {
		return fmt.Errorf("gitlab: %d of %d code suggestions rejected", failed, len(suggestions))
	}
	return nil
}

// AddReaction implements providers.Provider.
func (p *Provider) AddReaction(ctx context.Context, commentID int64, emoji string) (int64, error) {
	award, _, err := p.client.AwardEmoji.CreateMergeRequestAwardEmojiOnNote(p.project, p.iid, int(commentID),
		&gitlab.CreateAwardEmojiOptions{Name: emoji}, gitlab.WithContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("gitlab: add %q award to note %d: %w", emoji, commentID, err)
	}
	return int64(award.ID), nil
}

// RemoveReaction implements providers.Provider.
func (p *Provider) RemoveReaction(ctx context.Context, commentID, reactionID int64) error {
	_, err := p.client.AwardEmoji.DeleteMergeRequestAwardEmojiOnNote(p.project, p.iid, int(commentID), int(reactionID),
		gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("gitlab: remove award %d from note %d: %w", reactionID, commentID, err)
	}
	return nil
}

// ApprovePullRequest implements providers.Provider.
func (p *Provider) ApprovePullRequest(ctx context.Context) error {
	_, _, err := p.client.MergeRequestApprovals.ApproveMergeRequest(p.project, p.iid, nil, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("gitlab: approve %s!%d: %w", p.project, p.iid, err)
	}
	return nil
}

// GetLineLink points at the file blob at the MR's head commit. start
// below 1 links the file itself, otherwise the line range.
func (p *Provider) GetLineLink(file string, start, end int) string {
	ref := p.refs.HeadSHA
	if ref == "" {
		ref = "HEAD"
	}
	link := fmt.Sprintf("%s/%s/-/blob/%s/%s", p.webURL, p.project, ref, strings.TrimPrefix(file, "/"))
	if start < 1 {
		return link
	}
	link += fmt.Sprintf("#L%d", start)
	if end > start {
		link += fmt.Sprintf("-%d", end)
	}
	return link
}

// IsSupported implements providers.Provider.
func (p *Provider) IsSupported(capability string) bool {
	switch capability {
	case "gfm_markdown", "labels", "reactions", "code_suggestions", "inline_comments":
		return true
	}
	return false
}

func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	end := max
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	return s[:end]
}
