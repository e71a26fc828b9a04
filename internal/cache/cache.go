// Package cache is the last-known-good snapshot store. The session
// layer writes after every successful fetch and reads back after an
// irrecoverable failure so the visible state degrades to stale data
// instead of blanking.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Register the pure-Go sqlite driver.
	_ "modernc.org/sqlite"

	"github.com/quotawatch/quotawatch/internal/models"
)

// DefaultStaleAfter marks a cached snapshot stale once it is older
// than twice the largest default poll interval.
const DefaultStaleAfter = 10 * time.Minute

// Store is a sqlite-backed fallback cache keyed by account id.
type Store struct {
	db         *sql.DB
	now        func() time.Time
	staleAfter time.Duration
}

// New opens (creating if needed) the cache database at path.
func New(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to cache database: %w", err)
	}

	s := &Store{
		db:         db,
		now:        time.Now,
		staleAfter: DefaultStaleAfter,
	}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure cache database: %w", err)
	}
	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(context.Background(), pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) createSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS snapshots (
		account_id TEXT PRIMARY KEY,
		fetched_at DATETIME NOT NULL,
		payload TEXT NOT NULL
	)`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Set stores snap as the last known good result for its account,
// replacing any previous entry.
func (s *Store) Set(accountID string, snap models.UsageSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	query := `
	INSERT INTO snapshots (account_id, fetched_at, payload)
	VALUES (?, ?, ?)
	ON CONFLICT(account_id) DO UPDATE SET
		fetched_at = excluded.fetched_at,
		payload = excluded.payload`
	if _, err := s.db.ExecContext(context.Background(), query,
		accountID, snap.FetchedAt.UTC().Format(time.RFC3339Nano), string(payload)); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

// GetLastKnown returns the cached snapshot for an account along with a
// staleness flag. ok is false when nothing has ever been cached.
func (s *Store) GetLastKnown(accountID string) (snap models.UsageSnapshot, stale bool, ok bool) {
	var fetchedAt, payload string
	query := `SELECT fetched_at, payload FROM snapshots WHERE account_id = ?`
	err := s.db.QueryRowContext(context.Background(), query, accountID).Scan(&fetchedAt, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UsageSnapshot{}, false, false
	}
	if err != nil {
		return models.UsageSnapshot{}, false, false
	}

	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return models.UsageSnapshot{}, false, false
	}

	if t, err := time.Parse(time.RFC3339Nano, fetchedAt); err == nil {
		stale = s.now().Sub(t) > s.staleAfter
	}
	return snap, stale, true
}

// Delete removes the cached snapshot for an account.
func (s *Store) Delete(accountID string) error {
	_, err := s.db.ExecContext(context.Background(),
		`DELETE FROM snapshots WHERE account_id = ?`, accountID)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
