package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the global zerolog logger. Console output goes to stderr;
// verbose enables debug level.
func Setup(verbose bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	if env := os.Getenv("PATCHPILOT_LOG_LEVEL"); env != "" {
		if parsed, err := zerolog.ParseLevel(env); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

// RunLogger tees one tool invocation's log stream into a file under
// review_logs/ in addition to the console, and captures prompt/response
// bodies verbatim for later inspection.
type RunLogger struct {
	runID  string
	file   *os.File
	logger zerolog.Logger
	mu     sync.Mutex
	start  time.Time
}

// NewRunLogger creates the run log file and returns a logger bound to it.
// Callers must Close it. A nil RunLogger is safe to use and logs to the
// console only.
func NewRunLogger(runID string) (*RunLogger, error) {
	if err := os.MkdirAll("review_logs", 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	name := fmt.Sprintf("run_%s_%s.log", runID, time.Now().Format("20060102_150405"))
	f, err := os.Create(filepath.Join("review_logs", name))
	if err != nil {
		return nil, fmt.Errorf("failed to create run log file: %w", err)
	}

	multi := zerolog.MultiLevelWriter(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}, f)
	logger := zerolog.New(multi).With().Timestamp().Str("run_id", runID).Logger()

	return &RunLogger{
		runID:  runID,
		file:   f,
		logger: logger,
		start:  time.Now(),
	}, nil
}

// Logger returns the underlying zerolog logger. Falls back to the global
// logger on a nil receiver.
func (r *RunLogger) Logger() *zerolog.Logger {
	if r == nil {
		return &log.Logger
	}
	return &r.logger
}

// LogPrompt records an outgoing model prompt. The full body is written only
// to the run file; the console line carries the sizes.
func (r *RunLogger) LogPrompt(model, prompt string) {
	if r == nil {
		return
	}
	r.logger.Info().Str("model", model).Int("prompt_chars", len(prompt)).Msg("sending prompt")
	r.writeBlock("PROMPT", prompt)
}

// LogResponse records a raw model response body to the run file.
func (r *RunLogger) LogResponse(model, response string) {
	if r == nil {
		return
	}
	r.logger.Info().Str("model", model).Int("response_chars", len(response)).Msg("received response")
	r.writeBlock("RESPONSE", response)
}

func (r *RunLogger) writeBlock(label, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return
	}
	fmt.Fprintf(r.file, "--- %s START ---\n%s\n--- %s END ---\n", label, body, label)
}

// Close finalizes the run log file.
func (r *RunLogger) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		r.logger.Info().Dur("elapsed", time.Since(r.start)).Msg("run log closed")
		r.file.Close()
		r.file = nil
	}
}
