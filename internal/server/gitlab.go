package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/patchpilot/internal/review"
)

type gitlabUser struct {
	Username string `json:"username"`
	Name     string `json:"name"`
}

type gitlabProject struct {
	PathWithNamespace string `json:"path_with_namespace"`
	WebURL            string `json:"web_url"`
}

type gitlabLabel struct {
	Title string `json:"title"`
}

type gitlabCommit struct {
	ID string `json:"id"`
}

type gitlabObjectAttributes struct {
	IID            int           `json:"iid"`
	Title          string        `json:"title"`
	State          string        `json:"state"`
	Action         string        `json:"action"`
	SourceBranch   string        `json:"source_branch"`
	TargetBranch   string        `json:"target_branch"`
	URL            string        `json:"url"`
	Draft          bool          `json:"draft"`
	WorkInProgress bool          `json:"work_in_progress"`
	OldRev         string        `json:"oldrev"`
	LastCommit     gitlabCommit  `json:"last_commit"`
	AuthorID       int           `json:"author_id"`
	Note           string        `json:"note"`
	NoteableType   string        `json:"noteable_type"`
	ID             int64         `json:"id"`
	Description    string        `json:"description"`
	Labels         []gitlabLabel `json:"labels"`
}

type gitlabMergeRequest struct {
	IID          int    `json:"iid"`
	Title        string `json:"title"`
	State        string `json:"state"`
	SourceBranch string `json:"source_branch"`
	TargetBranch string `json:"target_branch"`
	URL          string `json:"url"`
}

// gitlabPayload covers Merge Request Hook and Note Hook events.
type gitlabPayload struct {
	ObjectKind       string                 `json:"object_kind"`
	EventType        string                 `json:"event_type"`
	User             gitlabUser             `json:"user"`
	Project          gitlabProject          `json:"project"`
	ObjectAttributes gitlabObjectAttributes `json:"object_attributes"`
	MergeRequest     *gitlabMergeRequest    `json:"merge_request"`
	Labels           []gitlabLabel          `json:"labels"`
}

// handleGitLabWebhook authenticates the request by shared token,
// acknowledges it with 200 and dispatches in the background.
func (s *Server) handleGitLabWebhook(c echo.Context) error {
	secret := s.cfg.GitLab.WebhookSecret
	if secret == "" {
		log.Error().Msg("gitlab webhook secret not configured, rejecting request")
		return c.String(http.StatusForbidden, "webhook secret not configured")
	}

	token := c.Request().Header.Get("X-Gitlab-Token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
		log.Warn().Msg("gitlab webhook token mismatch")
		return c.String(http.StatusForbidden, "token verification failed")
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.String(http.StatusBadRequest, "unreadable body")
	}

	var payload gitlabPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Warn().Err(err).Msg("gitlab webhook payload is not valid JSON")
		return c.String(http.StatusBadRequest, "invalid JSON")
	}

	event := c.Request().Header.Get("X-Gitlab-Event")
	log.Info().Str("event", event).Str("kind", payload.ObjectKind).
		Str("action", payload.ObjectAttributes.Action).Msg("gitlab webhook received")

	go s.dispatchGitLab(&payload)

	return c.String(http.StatusOK, "ok")
}

// dispatchGitLab routes a verified event to its handler.
func (s *Server) dispatchGitLab(p *gitlabPayload) {
	switch p.ObjectKind {
	case "merge_request":
		s.handleMergeRequestEvent(p)
	case "note":
		s.handleNoteEvent(p)
	default:
		log.Debug().Str("kind", p.ObjectKind).Msg("ignoring unsupported gitlab event")
	}
}

func (s *Server) handleMergeRequestEvent(p *gitlabPayload) {
	attrs := &p.ObjectAttributes
	mrURL := gitlabMRURL(p)
	if mrURL == "" {
		log.Warn().Msg("merge_request event without URL")
		return
	}

	if s.shouldIgnoreMR(p) {
		return
	}

	if attrs.State == "merged" || attrs.Action == "merge" {
		log.Info().Str("url", mrURL).Msg("merge request merged")
		return
	}
	if attrs.Draft || attrs.WorkInProgress {
		log.Info().Str("url", mrURL).Msg("skipping draft merge request")
		return
	}
	if attrs.State != "opened" {
		log.Info().Str("url", mrURL).Str("state", attrs.State).Msg("skipping non-open merge request")
		return
	}

	switch {
	case slices.Contains(s.cfg.Server.PRActions, normalizeGitLabAction(attrs.Action)):
		if s.cfg.General.DisableAutoFeedback {
			log.Info().Str("url", mrURL).Msg("auto feedback disabled, skipping pr_commands")
			return
		}
		log.Info().Str("url", mrURL).Str("action", attrs.Action).Msg("handling merge_request event")
		s.process(mrURL, s.cfg.Server.PRCommands, 0, "gitlab")
	case attrs.Action == "update" && attrs.OldRev != "" && s.cfg.Server.HandlePushTrigger:
		s.handleGitLabPushTrigger(attrs, mrURL)
	default:
		log.Debug().Str("action", attrs.Action).Msg("ignoring merge_request action")
	}
}

// handleGitLabPushTrigger runs push_commands when new commits land on an
// open MR. An update whose oldrev matches the new head is a no-op push.
func (s *Server) handleGitLabPushTrigger(attrs *gitlabObjectAttributes, mrURL string) {
	if attrs.OldRev == attrs.LastCommit.ID {
		log.Debug().Str("url", mrURL).Msg("skipping push trigger: revision unchanged")
		return
	}

	ttl := time.Duration(s.cfg.Server.PushPendingTTL) * time.Second
	if !s.dedup.acquire(context.Background(), mrURL, s.cfg.Server.PushBacklogEnabled, ttl) {
		log.Info().Str("url", mrURL).Msg("push trigger deduplicated, skipping")
		return
	}
	defer s.dedup.release(mrURL)

	log.Info().Str("url", mrURL).Msg("handling push trigger")
	s.process(mrURL, s.cfg.Server.PushCommands, 0, "gitlab")
}

// normalizeGitLabAction maps GitLab action names onto the ones used in
// [server] handle_pr_actions.
func normalizeGitLabAction(action string) string {
	switch action {
	case "open":
		return "opened"
	case "reopen":
		return "reopened"
	}
	return action
}

// shouldIgnoreMR applies the [filters] lists to a merge request event.
func (s *Server) shouldIgnoreMR(p *gitlabPayload) bool {
	attrs := &p.ObjectAttributes
	f := s.cfg.Filters

	if matchAnyPattern(f.IgnoreTitles, attrs.Title, "ignore_pr_titles") {
		log.Info().Str("title", attrs.Title).Msg("ignoring merge request: title matches ignore pattern")
		return true
	}
	if p.User.Username != "" && slices.Contains(f.IgnoreAuthors, p.User.Username) {
		log.Info().Str("author", p.User.Username).Msg("ignoring merge request: author in ignore list")
		return true
	}
	if p.Project.PathWithNamespace != "" &&
		matchAnyPattern(f.IgnoreRepositories, p.Project.PathWithNamespace, "ignore_repositories") {
		log.Info().Str("repo", p.Project.PathWithNamespace).Msg("ignoring merge request: repository matches ignore pattern")
		return true
	}
	labels := p.Labels
	if len(labels) == 0 {
		labels = attrs.Labels
	}
	for _, label := range labels {
		if slices.Contains(f.IgnoreLabels, label.Title) {
			log.Info().Str("label", label.Title).Msg("ignoring merge request: label in ignore list")
			return true
		}
	}
	if attrs.SourceBranch != "" && matchAnyPattern(f.IgnoreSourceBranches, attrs.SourceBranch, "ignore_pr_source_branches") {
		log.Info().Str("branch", attrs.SourceBranch).Msg("ignoring merge request: source branch matches ignore pattern")
		return true
	}
	if attrs.TargetBranch != "" && matchAnyPattern(f.IgnoreTargetBranches, attrs.TargetBranch, "ignore_pr_target_branches") {
		log.Info().Str("branch", attrs.TargetBranch).Msg("ignoring merge request: target branch matches ignore pattern")
		return true
	}
	return false
}

func (s *Server) handleNoteEvent(p *gitlabPayload) {
	attrs := &p.ObjectAttributes
	if attrs.NoteableType != "MergeRequest" {
		log.Debug().Str("noteable", attrs.NoteableType).Msg("ignoring note on non-MR object")
		return
	}

	body := strings.TrimSpace(attrs.Note)
	if !strings.HasPrefix(body, "/") {
		log.Debug().Msg("ignoring non-command note")
		return
	}

	command, _ := review.ParseCommand(body)
	if !review.KnownCommand(command) {
		log.Debug().Str("command", command).Msg("ignoring unknown command from note")
		return
	}

	mrURL := ""
	if p.MergeRequest != nil {
		mrURL = p.MergeRequest.URL
		if mrURL == "" && p.Project.WebURL != "" {
			mrURL = fmt.Sprintf("%s/-/merge_requests/%d", p.Project.WebURL, p.MergeRequest.IID)
		}
	}
	if mrURL == "" {
		log.Warn().Msg("note command without a merge request URL")
		return
	}

	log.Info().Str("url", mrURL).Str("command", body).Msg("handling note command")
	s.process(mrURL, []string{body}, attrs.ID, "gitlab")
}

// gitlabMRURL resolves the web URL of the merge request an event is about.
func gitlabMRURL(p *gitlabPayload) string {
	if p.ObjectAttributes.URL != "" {
		return p.ObjectAttributes.URL
	}
	if p.Project.WebURL != "" && p.ObjectAttributes.IID > 0 {
		return fmt.Sprintf("%s/-/merge_requests/%d", p.Project.WebURL, p.ObjectAttributes.IID)
	}
	return ""
}
