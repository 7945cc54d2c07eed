// Package server hosts the webhook endpoints that turn GitHub and GitLab
// merge request activity into review runs. Events are verified against the
// configured secrets, acknowledged immediately, and processed in the
// background, either inline or through the job queue when one is wired in.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/patchpilot/internal/config"
	"github.com/patchpilot/internal/review"
	"github.com/patchpilot/pkg/models"
)

// Store persists completed runs and serves the recent-runs API. The
// concrete implementation lives in internal/store.
type Store interface {
	Save(ctx context.Context, run *models.ReviewRun) error
	Recent(ctx context.Context, limit int) ([]*models.ReviewRun, error)
}

// Queue hands review work to a background worker pool instead of running
// it in-process.
type Queue interface {
	EnqueueReview(ctx context.Context, url string, commands []string, provider string, reactTo int64) error
}

// RunFunc executes a batch of slash commands against a merge request and
// returns the completed runs.
type RunFunc func(ctx context.Context, cfg *config.Config, prURL string, commands []string, reactTo int64) []*models.ReviewRun

// Server is the webhook and admin API server.
type Server struct {
	cfg   *config.Config
	echo  *echo.Echo
	store Store
	queue Queue
	dedup *pushDeduplicator
	run   RunFunc
}

// New builds the server. store and queue may be nil: without a store runs
// are not persisted, and without a queue webhook work runs in-process.
func New(cfg *config.Config, st Store, q Queue) (*Server, error) {
	if _, err := loadOpenAPISpec(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.BodyLimit("2M"))

	s := &Server{
		cfg:   cfg,
		echo:  e,
		store: st,
		queue: q,
		dedup: newPushDeduplicator(),
		run:   review.ExecuteCommands,
	}

	s.setupRoutes()
	return s, nil
}

// setupRoutes configures all endpoints.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	v1 := s.echo.Group("/api/v1")
	v1.POST("/webhooks/github", s.handleGitHubWebhook)
	v1.POST("/webhooks/gitlab", s.handleGitLabWebhook)
	v1.GET("/reviews", s.getReviews, s.adminAuth)
	v1.GET("/openapi.yaml", s.getOpenAPISpec)
}

// Start runs the server until an interrupt or termination signal arrives,
// then shuts down gracefully.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	go func() {
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("webhook server failed")
		}
	}()
	log.Info().Str("addr", addr).Msg("webhook server listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(ctx)
}

// adminAuth guards an endpoint with the configured bcrypt admin token
// hash. Clients present the raw token as "Authorization: Bearer <token>".
// With no hash configured the endpoint is disabled outright.
func (s *Server) adminAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		hash := s.cfg.Server.AdminTokenHash
		if hash == "" {
			return echo.NewHTTPError(http.StatusForbidden, "admin token not configured")
		}
		token := strings.TrimSpace(strings.TrimPrefix(c.Request().Header.Get("Authorization"), "Bearer "))
		if token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing admin token")
		}
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid admin token")
		}
		return next(c)
	}
}

// getReviews returns the most recent review runs, newest first.
func (s *Server) getReviews(c echo.Context) error {
	if s.store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no database configured")
	}

	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		if n > 100 {
			n = 100
		}
		limit = n
	}

	runs, err := s.store.Recent(c.Request().Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("recent runs query failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "query failed")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"count":   len(runs),
		"reviews": runs,
	})
}

// process runs commands for a merge request, preferring the queue when one
// is configured. Inline runs are persisted when a store is present. Called
// from webhook dispatch goroutines.
func (s *Server) process(prURL string, commands []string, reactTo int64, providerName string) {
	if len(commands) == 0 {
		return
	}
	ctx := context.Background()

	if s.queue != nil {
		err := s.queue.EnqueueReview(ctx, prURL, commands, providerName, reactTo)
		if err == nil {
			log.Info().Str("url", prURL).Strs("commands", commands).Msg("review enqueued")
			return
		}
		log.Error().Err(err).Str("url", prURL).Msg("enqueue failed, running inline")
	}

	runs := s.run(ctx, s.cfg, prURL, commands, reactTo)
	if s.store == nil {
		return
	}
	for _, run := range runs {
		if err := s.store.Save(ctx, run); err != nil {
			log.Warn().Err(err).Str("run_id", run.ID).Msg("run not persisted")
		}
	}
}
