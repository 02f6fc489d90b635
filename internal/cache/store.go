// Package cache persists finished diagram artifacts in SQLite so repeated
// definitions skip the engine and the remote renderer.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ziadkadry99/chatdiagram/internal/db"
	"github.com/ziadkadry99/chatdiagram/internal/render"
)

// Store implements render.Cache on top of the render_cache table.
type Store struct {
	db     *db.DB
	maxAge time.Duration
}

// NewStore creates a cache store. Entries older than maxAge are ignored;
// zero keeps them forever.
func NewStore(d *db.DB, maxAge time.Duration) *Store {
	return &Store{db: d, maxAge: maxAge}
}

// Get returns the cached artifact for key.
func (s *Store) Get(ctx context.Context, key string) (string, render.State, bool) {
	var (
		svg     string
		state   string
		created time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT svg, state, created_at FROM render_cache WHERE key = ?`, key,
	).Scan(&svg, &state, &created)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("cache: reading %s: %v", key, err)
		}
		return "", "", false
	}
	if s.maxAge > 0 && time.Since(created) > s.maxAge {
		return "", "", false
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE render_cache SET hits = hits + 1, last_hit = ? WHERE key = ?`,
		time.Now().UTC(), key,
	); err != nil {
		log.Printf("cache: recording hit: %v", err)
	}
	return svg, render.State(state), true
}

// Put stores a drawn artifact. Raw fallbacks are never cached so a later
// render can still succeed.
func (s *Store) Put(ctx context.Context, key, svg string, state render.State) error {
	if !state.Succeeded() {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO render_cache (key, state, svg, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET state = excluded.state, svg = excluded.svg, created_at = excluded.created_at`,
		key, string(state), svg, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("caching artifact: %w", err)
	}
	return nil
}

// Stats summarizes the cache.
type Stats struct {
	Entries int `json:"entries"`
	Hits    int `json:"hits"`
}

// Stats returns entry and hit counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(hits), 0) FROM render_cache`,
	).Scan(&st.Entries, &st.Hits)
	if err != nil {
		return Stats{}, fmt.Errorf("reading cache stats: %w", err)
	}
	return st, nil
}

// Prune deletes entries created before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM render_cache WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning cache: %w", err)
	}
	return res.RowsAffected()
}
