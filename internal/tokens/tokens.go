package tokens

import (
	"strings"
	"sync"
	"unicode/utf8"

	tiktoken "github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// Output buffer subtracted from a model's context window when deciding how
// much diff content fits: soft leaves room for a full response, hard is the
// floor used when retrying with less content.
const (
	OutputBufferTokensSoftThreshold = 1500
	OutputBufferTokensHardThreshold = 1000
)

// encodingName is the BPE encoding used for counting. o200k_base covers the
// current OpenAI family and is a close approximation for the rest.
const encodingName = "o200k_base"

// ModelSpec is the resolved tokenization capability for one model, computed
// once at configuration time and passed into the pipeline as plain data.
type ModelSpec struct {
	ID        string
	MaxTokens int
	Encoding  string
}

// Resolve looks up the context-window size for modelID, falling back to
// configMax when the model is unknown.
func Resolve(modelID string, configMax int) ModelSpec {
	maxTokens := MaxTokensFor(modelID)
	if maxTokens == 0 {
		maxTokens = configMax
	}
	return ModelSpec{ID: modelID, MaxTokens: maxTokens, Encoding: encodingName}
}

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// encoder returns the shared BPE encoder, or nil when the encoding data is
// unavailable (counting then degrades to the character heuristic).
func encoder() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding(encodingName)
		if err != nil {
			log.Warn().Err(err).Str("encoding", encodingName).Msg("tokenizer unavailable, using character heuristic")
			return
		}
		enc = e
	})
	return enc
}

// Estimator maps text to an integer token cost. Safe for concurrent use.
// The zero value counts with the plain chars/4 heuristic.
type Estimator struct {
	enc    *tiktoken.Tiktoken
	factor float64
}

// NewEstimator builds an estimator backed by the shared BPE encoder. factor
// inflates the heuristic fallback to stay on the safe side of the budget.
func NewEstimator(factor float64) *Estimator {
	return &Estimator{enc: encoder(), factor: factor}
}

// Count returns the estimated token cost of text. Never fails: an
// unavailable encoder degrades to the heuristic, not to an error.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	if e.enc != nil {
		return len(e.enc.Encode(text, nil, nil))
	}
	return int(float64(len(text)) / 4.0 * (1.0 + e.factor))
}

// Clip truncates text so its estimated cost fits maxTokens, using a
// chars-per-token ratio with a 0.9 safety factor. When addDots is set a
// truncation indicator is appended.
func (e *Estimator) Clip(text string, maxTokens int, addDots bool) string {
	if text == "" || maxTokens <= 0 {
		return ""
	}

	inputTokens := e.Count(text)
	if inputTokens <= maxTokens {
		return text
	}

	charsPerToken := float64(len(text)) / float64(inputTokens)
	outputChars := int(0.9 * charsPerToken * float64(maxTokens))

	truncated := text
	if outputChars < len(text) {
		end := outputChars
		for end < len(text) && !utf8.RuneStart(text[end]) {
			end++
		}
		truncated = text[:end]
	}

	if addDots {
		return truncated + "\n...(truncated)"
	}
	return truncated
}

// normalizeModel strips common provider prefixes for table matching.
func normalizeModel(model string) string {
	for _, prefix := range []string{"openai/", "azure/"} {
		if rest, ok := strings.CutPrefix(model, prefix); ok {
			return rest
		}
	}
	return model
}

// exactMaxTokens maps known model names to their context-window size.
var exactMaxTokens = map[string]int{
	// GPT-3.5
	"gpt-3.5-turbo":          16_000,
	"gpt-3.5-turbo-0125":     16_000,
	"gpt-3.5-turbo-1106":     16_000,
	"gpt-3.5-turbo-16k":      16_000,
	"gpt-3.5-turbo-16k-0613": 16_000,
	"gpt-3.5-turbo-0613":     4_000,

	// GPT-4
	"gpt-4":                  8_000,
	"gpt-4-0613":             8_000,
	"gpt-4-32k":              32_000,
	"gpt-4-1106-preview":     128_000,
	"gpt-4-0125-preview":     128_000,
	"gpt-4-turbo-preview":    128_000,
	"gpt-4-turbo-2024-04-09": 128_000,
	"gpt-4-turbo":            128_000,

	// GPT-4o
	"gpt-4o":                 128_000,
	"gpt-4o-2024-05-13":      128_000,
	"gpt-4o-mini":            128_000,
	"gpt-4o-mini-2024-07-18": 128_000,
	"gpt-4o-2024-08-06":      128_000,
	"gpt-4o-2024-11-20":      128_000,

	// GPT-4.5
	"gpt-4.5-preview":            128_000,
	"gpt-4.5-preview-2025-02-27": 128_000,

	// GPT-4.1
	"gpt-4.1":                 1_047_576,
	"gpt-4.1-2025-04-14":      1_047_576,
	"gpt-4.1-mini":            1_047_576,
	"gpt-4.1-mini-2025-04-14": 1_047_576,
	"gpt-4.1-nano":            1_047_576,
	"gpt-4.1-nano-2025-04-14": 1_047_576,

	// GPT-5
	"gpt-5-nano":          200_000,
	"gpt-5-mini":          200_000,
	"gpt-5":               200_000,
	"gpt-5-2025-08-07":    200_000,
	"gpt-5.1":             200_000,
	"gpt-5.1-2025-11-13":  200_000,
	"gpt-5.1-chat-latest": 200_000,
	"gpt-5.1-codex":       200_000,
	"gpt-5.1-codex-mini":  200_000,
	"gpt-5.2":             400_000,
	"gpt-5.2-2025-12-11":  400_000,
	"gpt-5.2-codex":       400_000,
	"gpt-5.2-chat-latest": 128_000,

	// o-series reasoning models
	"o1-mini":                 128_000,
	"o1-mini-2024-09-12":      128_000,
	"o1-preview":              128_000,
	"o1-preview-2024-09-12":   128_000,
	"o1-2024-12-17":           204_800,
	"o1":                      204_800,
	"o3-mini":                 204_800,
	"o3-mini-2025-01-31":      204_800,
	"o3":                      200_000,
	"o3-2025-04-16":           200_000,
	"o4-mini":                 200_000,
	"o4-mini-2025-04-16":      200_000,

	// DeepSeek
	"deepseek/deepseek-chat":     128_000,
	"deepseek/deepseek-reasoner": 64_000,

	// Mistral
	"mistral/open-codestral-mamba": 256_000,
}

// MaxTokensFor returns the context-window size for a model name, or 0 when
// the model is unknown and the caller should apply its configured fallback.
func MaxTokensFor(model string) int {
	m := normalizeModel(model)

	if n, ok := exactMaxTokens[m]; ok {
		return n
	}

	switch {
	case strings.Contains(m, "claude-opus-4"), strings.Contains(m, "claude-sonnet-4"),
		strings.Contains(m, "claude-haiku-4-5"), strings.Contains(m, "claude-3-7-sonnet"):
		return 200_000
	case strings.Contains(m, "claude-3"), strings.Contains(m, "claude-2"),
		strings.Contains(m, "claude-instant"):
		return 100_000
	case strings.HasPrefix(m, "gemini/"), strings.Contains(m, "gemini-"):
		return 1_048_576
	case strings.HasPrefix(m, "groq/"):
		return 128_000
	case strings.HasPrefix(m, "xai/"):
		return 131_072
	case strings.HasPrefix(m, "mistral/"):
		return 128_000
	}
	return 0
}

// IsNoTemperatureModel reports whether the model rejects the temperature
// parameter.
func IsNoTemperatureModel(model string) bool {
	switch normalizeModel(model) {
	case "deepseek/deepseek-reasoner",
		"o1-mini", "o1-mini-2024-09-12", "o1-preview", "o1-2024-12-17", "o1",
		"o3-mini", "o3-mini-2025-01-31", "o3", "o3-2025-04-16",
		"o4-mini", "o4-mini-2025-04-16",
		"gpt-5.1-codex", "gpt-5.1-codex-mini", "gpt-5.2-codex", "gpt-5-mini":
		return true
	}
	return false
}

// IsUserMessageOnlyModel reports whether the model requires system and user
// prompts combined into a single user message.
func IsUserMessageOnlyModel(model string) bool {
	switch normalizeModel(model) {
	case "deepseek/deepseek-reasoner", "o1-mini", "o1-mini-2024-09-12", "o1-preview":
		return true
	}
	return false
}

// SupportsReasoningEffort reports whether the model accepts the
// reasoning_effort parameter.
func SupportsReasoningEffort(model string) bool {
	switch normalizeModel(model) {
	case "o3-mini", "o3-mini-2025-01-31", "o3", "o3-2025-04-16",
		"o4-mini", "o4-mini-2025-04-16":
		return true
	}
	return false
}
