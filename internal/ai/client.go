package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/patchpilot/internal/config"
	"github.com/patchpilot/internal/retry"
)

// Completer is the completion surface the review tools depend on.
// *Connector implements it; tests substitute scripted fakes.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
	Model() string
}

// Client resolves completions against the configured model chain: the
// primary model first, then each fallback model in order. Each model is
// retried with backoff before the walk moves on.
type Client struct {
	cfg      *config.Config
	retryCfg retry.Config
	dial     func(ctx context.Context, model string) (Completer, error)
}

// NewClient builds a client over the [config] model and fallback_models.
func NewClient(cfg *config.Config) *Client {
	c := &Client{cfg: cfg, retryCfg: retry.ForModelCalls()}
	c.dial = func(ctx context.Context, model string) (Completer, error) {
		return New(ctx, OptionsForModel(cfg, model))
	}
	return c
}

// OptionsForModel derives connection options for one model in the chain.
// The configured [ai] key and base URL apply only when the model resolves
// to the configured provider; fallback models on other vendors pick their
// credentials up from the vendor environment variables instead.
func OptionsForModel(cfg *config.Config, model string) Options {
	configured := Provider(cfg.AI.Provider)
	provider := InferProvider(model, configured)

	opts := Options{
		Provider:    provider,
		Model:       model,
		Temperature: cfg.General.Temperature,
	}
	if provider == configured || configured == "" {
		opts.APIKey = cfg.AI.APIKey
		opts.BaseURL = cfg.AI.BaseURL
	}
	return opts
}

// Models returns the model chain in resolution order: the primary model,
// then fallbacks with blanks and duplicates of the primary dropped.
func (c *Client) Models() []string {
	chain := []string{c.cfg.General.Model}
	for _, m := range c.cfg.General.FallbackModels {
		if m = strings.TrimSpace(m); m != "" && m != c.cfg.General.Model {
			chain = append(chain, m)
		}
	}
	return chain
}

// CompleteWithFallback walks the model chain until one completion succeeds,
// returning the response and the model that produced it. Transient failures
// are retried on the same model before the walk falls through to the next.
func (c *Client) CompleteWithFallback(ctx context.Context, prompt string, maxTokens int) (string, string, error) {
	var lastErr error
	for i, model := range c.Models() {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}

		conn, err := c.dial(ctx, model)
		if err != nil {
			log.Warn().Err(err).Str("model", model).Msg("model connection failed, trying next")
			lastErr = err
			continue
		}

		var out string
		res := retry.Do(ctx, c.retryCfg, func() error {
			text, err := conn.Complete(ctx, prompt, maxTokens)
			if err != nil {
				return err
			}
			out = text
			return nil
		})
		if res.Success {
			if i > 0 {
				log.Info().Str("model", model).Msg("fallback model answered")
			}
			return out, model, nil
		}

		lastErr = res.LastError
		log.Warn().
			Err(res.LastError).
			Str("model", model).
			Int("attempts", res.Attempts).
			Msg("model failed, falling back")
	}
	return "", "", fmt.Errorf("all models failed: %w", lastErr)
}
