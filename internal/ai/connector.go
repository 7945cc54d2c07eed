package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/cohere"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/patchpilot/internal/tokens"
)

// Provider identifies a model vendor.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderClaude Provider = "claude"
	ProviderGemini Provider = "gemini"
	ProviderCohere Provider = "cohere"
	ProviderOllama Provider = "ollama"
	ProviderLocal  Provider = "local"
)

// InferProvider guesses the vendor from a model identifier. Identifiers may
// carry a routing prefix ("anthropic/claude-...", "ollama/llama3") or a bare
// vendor-specific name; dflt wins when neither form is recognized.
func InferProvider(model string, dflt Provider) Provider {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(m, "anthropic/"), strings.HasPrefix(m, "claude"):
		return ProviderClaude
	case strings.HasPrefix(m, "gemini"), strings.HasPrefix(m, "google/"):
		return ProviderGemini
	case strings.HasPrefix(m, "ollama/"):
		return ProviderOllama
	case strings.HasPrefix(m, "cohere/"), strings.HasPrefix(m, "command"):
		return ProviderCohere
	case strings.HasPrefix(m, "openai/"), strings.HasPrefix(m, "azure/"),
		strings.HasPrefix(m, "gpt-"), strings.HasPrefix(m, "o1"),
		strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return ProviderOpenAI
	}
	return dflt
}

// vendorModel strips the routing prefix from a model identifier so the
// vendor API receives the bare name it expects.
func vendorModel(model string) string {
	prefixes := []string{
		"openai/", "azure/", "anthropic/", "gemini/", "google/",
		"cohere/", "ollama/", "deepseek/", "groq/", "xai/", "mistral/",
	}
	for _, prefix := range prefixes {
		if rest, ok := strings.CutPrefix(model, prefix); ok {
			return rest
		}
	}
	return model
}

// Options configures a single vendor connection.
type Options struct {
	Provider    Provider
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
}

// Connector is a live connection to one model. It hides the vendor SDK
// differences behind Complete.
type Connector struct {
	provider    Provider
	model       string
	temperature float64
	llm         llms.Model
}

// New dials the vendor for opts.Model. Vendors that read credentials from
// their own environment variables accept an empty APIKey.
func New(ctx context.Context, opts Options) (*Connector, error) {
	if opts.Provider == "" {
		opts.Provider = InferProvider(opts.Model, ProviderOpenAI)
	}

	log.Debug().
		Str("provider", string(opts.Provider)).
		Str("model", opts.Model).
		Msg("creating model connector")

	var (
		model llms.Model
		err   error
	)
	switch opts.Provider {
	case ProviderOpenAI:
		model, err = newOpenAI(opts)
	case ProviderClaude:
		model, err = newClaude(opts)
	case ProviderGemini:
		model, err = newGemini(ctx, opts)
	case ProviderCohere:
		model, err = newCohere(opts)
	case ProviderOllama, ProviderLocal:
		model, err = newOllama(opts)
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", opts.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s model %s: %w", opts.Provider, opts.Model, err)
	}

	return &Connector{
		provider:    opts.Provider,
		model:       opts.Model,
		temperature: opts.Temperature,
		llm:         model,
	}, nil
}

func newOpenAI(opts Options) (llms.Model, error) {
	o := []openai.Option{openai.WithModel(vendorModel(opts.Model))}
	if opts.APIKey != "" {
		o = append(o, openai.WithToken(opts.APIKey))
	}
	if opts.BaseURL != "" {
		o = append(o, openai.WithBaseURL(opts.BaseURL))
	}
	return openai.New(o...)
}

func newClaude(opts Options) (llms.Model, error) {
	o := []anthropic.Option{anthropic.WithModel(vendorModel(opts.Model))}
	if opts.APIKey != "" {
		o = append(o, anthropic.WithToken(opts.APIKey))
	}
	return anthropic.New(o...)
}

func newGemini(ctx context.Context, opts Options) (llms.Model, error) {
	o := []googleai.Option{googleai.WithDefaultModel(vendorModel(opts.Model))}
	if opts.APIKey != "" {
		o = append(o, googleai.WithAPIKey(opts.APIKey))
	}
	return googleai.New(ctx, o...)
}

func newCohere(opts Options) (llms.Model, error) {
	o := []cohere.Option{cohere.WithModel(vendorModel(opts.Model))}
	if opts.APIKey != "" {
		o = append(o, cohere.WithToken(opts.APIKey))
	}
	if opts.BaseURL != "" {
		o = append(o, cohere.WithBaseURL(opts.BaseURL))
	}
	return cohere.New(o...)
}

func newOllama(opts Options) (llms.Model, error) {
	url := opts.BaseURL
	if url == "" {
		url = "http://localhost:11434"
	}
	return ollama.New(ollama.WithServerURL(url), ollama.WithModel(vendorModel(opts.Model)))
}

// Complete runs one completion and returns the raw response text. maxTokens
// caps the response length when positive. Reasoning models that reject the
// temperature parameter are called without it.
func (c *Connector) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	var callOpts []llms.CallOption
	if !tokens.IsNoTemperatureModel(c.model) {
		callOpts = append(callOpts, llms.WithTemperature(c.temperature))
	}
	if maxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(maxTokens))
	}

	out, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt, callOpts...)
	if err != nil {
		return "", fmt.Errorf("model %s: %w", c.model, err)
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("model %s: empty response", c.model)
	}

	log.Debug().
		Str("model", c.model).
		Int("prompt_chars", len(prompt)).
		Int("response_chars", len(out)).
		Msg("model call complete")
	return out, nil
}

// Model returns the configured model identifier.
func (c *Connector) Model() string { return c.model }

// Provider returns the vendor this connector talks to.
func (c *Connector) Provider() Provider { return c.provider }
