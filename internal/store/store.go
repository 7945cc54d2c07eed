// Package store persists review run records in PostgreSQL. Persistence is
// optional: without a database URL the rest of the system runs normally and
// the history API stays empty.
package store

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	_ "github.com/lib/pq"

	"github.com/patchpilot/pkg/models"
)

// schema is applied on every Open. All statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS review_runs (
	id             UUID PRIMARY KEY,
	url            TEXT NOT NULL,
	tool           TEXT NOT NULL,
	model          TEXT NOT NULL DEFAULT '',
	was_compressed BOOLEAN NOT NULL DEFAULT FALSE,
	omitted_files  INTEGER NOT NULL DEFAULT 0,
	omitted_hunks  INTEGER NOT NULL DEFAULT 0,
	comment_count  INTEGER NOT NULL DEFAULT 0,
	duration_ms    BIGINT NOT NULL DEFAULT 0,
	summary        TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS review_runs_created_at_idx ON review_runs (created_at DESC);
`

// Store records review runs in the review_runs table.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL and creates the schema when it is missing. An
// empty dsn falls back to ResolveDSN discovery.
func Open(dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		resolved, err := ResolveDSN("")
		if err != nil {
			return nil, err
		}
		dsn = resolved
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create review_runs schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts one run record.
func (s *Store) Save(ctx context.Context, run *models.ReviewRun) error {
	query := `
		INSERT INTO review_runs (id, url, tool, model, was_compressed, omitted_files, omitted_hunks, comment_count, duration_ms, summary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.db.ExecContext(
		ctx, query,
		run.ID,
		run.URL,
		run.Tool,
		run.Model,
		run.WasCompressed,
		run.OmittedFiles,
		run.OmittedHunks,
		run.CommentCount,
		run.DurationMS,
		run.Summary,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert review run: %w", err)
	}

	return nil
}

// Recent returns the newest runs first, clamped to at most 500.
func (s *Store) Recent(ctx context.Context, limit int) ([]*models.ReviewRun, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	query := `
		SELECT id, url, tool, model, was_compressed, omitted_files, omitted_hunks, comment_count, duration_ms, summary, created_at
		FROM review_runs
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query review runs: %w", err)
	}
	defer rows.Close()

	// Initialize as empty slice so JSON encodes to [] rather than null
	runs := make([]*models.ReviewRun, 0)
	for rows.Next() {
		run := &models.ReviewRun{}
		err := rows.Scan(
			&run.ID,
			&run.URL,
			&run.Tool,
			&run.Model,
			&run.WasCompressed,
			&run.OmittedFiles,
			&run.OmittedHunks,
			&run.CommentCount,
			&run.DurationMS,
			&run.Summary,
			&run.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan review run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating review runs: %w", err)
	}

	return runs, nil
}

// ResolveDSN returns the database URL to use: the configured value when set,
// otherwise DATABASE_URL from the environment, otherwise a .env file found
// by walking up from the working directory. Callers treat an error as
// "persistence disabled", so it carries no connection attempt.
func ResolveDSN(configured string) (string, error) {
	if dsn := strings.TrimSpace(configured); dsn != "" {
		return dsn, nil
	}
	if direct := strings.TrimSpace(os.Getenv("DATABASE_URL")); direct != "" {
		return direct, nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}

	envPath, err := findEnvFile(wd)
	if err != nil {
		return "", err
	}

	file, err := os.Open(envPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", envPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		eqIdx := strings.IndexRune(line, '=')
		if eqIdx <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:eqIdx])
		if key != "DATABASE_URL" {
			continue
		}

		value := strings.TrimSpace(line[eqIdx+1:])
		value = strings.Trim(value, "\"'")
		value = strings.TrimFunc(value, unicode.IsSpace)
		if value == "" {
			return "", errors.New("DATABASE_URL is empty in .env")
		}
		return value, nil
	}

	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read %s: %w", envPath, err)
	}

	return "", errors.New("DATABASE_URL not found in environment or .env")
}

func findEnvFile(start string) (string, error) {
	dir := start
	for {
		candidate := filepath.Join(dir, ".env")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf(".env not found starting from %s", start)
}
