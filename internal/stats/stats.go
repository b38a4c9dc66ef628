// Package stats persists playlist generation statistics in PostgreSQL.
package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/justestif/go-spotify-playlist-ai/internal/recommend"
)

// Common errors.
var (
	ErrNotFound = errors.New("not found")
)

// defaultWindow bounds summary queries when the caller passes none.
const defaultWindow = 30 * 24 * time.Hour

// Generation is one persisted pipeline run.
type Generation struct {
	ID             string
	UserKey        string
	Prompt         string
	Genre          string
	Mood           string
	Energy         string
	SeedCount      int
	CandidateCount int
	TrackCount     int
	SeedsOnly      bool
	Remix          bool
	DurationMS     int64
	CreatedAt      time.Time
}

// Summary aggregates a user's generations over a window.
type Summary struct {
	Total         int
	Remixes       int
	SeedsOnly     int
	AvgTrackCount float64
	AvgDurationMS float64
	Since         time.Time
}

// GenreCount is one row of the per-genre breakdown.
type GenreCount struct {
	Genre     string
	Count     int
	AvgTracks float64
}

// Repository stores generation records in the
// playlist_generation_stats table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a connection pool and verifies connectivity.
func NewRepository(ctx context.Context, databaseURL string) (*Repository, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &Repository{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repository) Close() {
	r.pool.Close()
}

// EnsureSchema creates the stats table when it does not exist yet.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS playlist_generation_stats (
			id              UUID PRIMARY KEY,
			user_key        TEXT NOT NULL,
			prompt          TEXT NOT NULL,
			genre           TEXT NOT NULL DEFAULT '',
			mood            TEXT NOT NULL DEFAULT '',
			energy          TEXT NOT NULL DEFAULT '',
			seed_count      INT NOT NULL DEFAULT 0,
			candidate_count INT NOT NULL DEFAULT 0,
			track_count     INT NOT NULL DEFAULT 0,
			seeds_only      BOOLEAN NOT NULL DEFAULT FALSE,
			remix           BOOLEAN NOT NULL DEFAULT FALSE,
			duration_ms     BIGINT NOT NULL DEFAULT 0,
			created_at      TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_generation_stats_user_created
			ON playlist_generation_stats (user_key, created_at DESC)
	`
	if _, err := r.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("creating stats schema: %w", err)
	}
	return nil
}

var _ recommend.StatsRecorder = (*Repository)(nil)

// RecordGeneration inserts one pipeline run.
func (r *Repository) RecordGeneration(ctx context.Context, rec recommend.GenerationRecord) error {
	gen := fromRecord(rec)
	query := `
		INSERT INTO playlist_generation_stats (
			id, user_key, prompt, genre, mood, energy,
			seed_count, candidate_count, track_count,
			seeds_only, remix, duration_ms, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.pool.Exec(ctx, query,
		gen.ID,
		gen.UserKey,
		gen.Prompt,
		gen.Genre,
		gen.Mood,
		gen.Energy,
		gen.SeedCount,
		gen.CandidateCount,
		gen.TrackCount,
		gen.SeedsOnly,
		gen.Remix,
		gen.DurationMS,
		gen.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting generation stat: %w", err)
	}
	return nil
}

// Summarize aggregates the user's generations since the window start.
// A zero window defaults to 30 days.
func (r *Repository) Summarize(ctx context.Context, userKey string, window time.Duration) (*Summary, error) {
	since := windowStart(time.Now(), window)
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE remix),
			COUNT(*) FILTER (WHERE seeds_only),
			COALESCE(AVG(track_count), 0),
			COALESCE(AVG(duration_ms), 0)
		FROM playlist_generation_stats
		WHERE user_key = $1 AND created_at >= $2
	`
	summary := Summary{Since: since}
	err := r.pool.QueryRow(ctx, query, userKey, since).Scan(
		&summary.Total,
		&summary.Remixes,
		&summary.SeedsOnly,
		&summary.AvgTrackCount,
		&summary.AvgDurationMS,
	)
	if err != nil {
		return nil, fmt.Errorf("querying generation summary: %w", err)
	}
	return &summary, nil
}

// GenreBreakdown returns the user's most requested genres in the
// window, most frequent first.
func (r *Repository) GenreBreakdown(ctx context.Context, userKey string, window time.Duration, limit int) ([]GenreCount, error) {
	if limit <= 0 {
		limit = 10
	}
	since := windowStart(time.Now(), window)
	query := `
		SELECT genre, COUNT(*), COALESCE(AVG(track_count), 0)
		FROM playlist_generation_stats
		WHERE user_key = $1 AND created_at >= $2 AND genre <> ''
		GROUP BY genre
		ORDER BY COUNT(*) DESC, genre ASC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, userKey, since, limit)
	if err != nil {
		return nil, fmt.Errorf("querying genre breakdown: %w", err)
	}
	defer rows.Close()

	var out []GenreCount
	for rows.Next() {
		var gc GenreCount
		if err := rows.Scan(&gc.Genre, &gc.Count, &gc.AvgTracks); err != nil {
			return nil, fmt.Errorf("scanning genre breakdown row: %w", err)
		}
		out = append(out, gc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating genre breakdown: %w", err)
	}
	return out, nil
}

// RecentPrompts returns the user's latest distinct prompts, newest
// first.
func (r *Repository) RecentPrompts(ctx context.Context, userKey string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 5
	}
	query := `
		SELECT prompt FROM (
			SELECT DISTINCT ON (prompt) prompt, created_at
			FROM playlist_generation_stats
			WHERE user_key = $1
			ORDER BY prompt, created_at DESC
		) latest
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, userKey, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent prompts: %w", err)
	}
	defer rows.Close()

	var prompts []string
	for rows.Next() {
		var prompt string
		if err := rows.Scan(&prompt); err != nil {
			return nil, fmt.Errorf("scanning prompt row: %w", err)
		}
		prompts = append(prompts, prompt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating prompts: %w", err)
	}
	return prompts, nil
}

// fromRecord converts the pipeline's record into a row, assigning the
// identifier and defaulting the timestamp.
func fromRecord(rec recommend.GenerationRecord) Generation {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return Generation{
		ID:             uuid.NewString(),
		UserKey:        rec.UserKey,
		Prompt:         rec.Prompt,
		Genre:          rec.Genre,
		Mood:           rec.Mood,
		Energy:         rec.Energy,
		SeedCount:      rec.SeedCount,
		CandidateCount: rec.CandidateCount,
		TrackCount:     rec.TrackCount,
		SeedsOnly:      rec.SeedsOnly,
		Remix:          rec.Remix,
		DurationMS:     rec.Duration.Milliseconds(),
		CreatedAt:      createdAt,
	}
}

// windowStart clamps the lookback window to a sane default.
func windowStart(now time.Time, window time.Duration) time.Time {
	if window <= 0 {
		window = defaultWindow
	}
	return now.Add(-window)
}
