// Package lyricstore caches fetched synced lyrics in SQLite so repeated
// plays of the same track do not hit the lyrics backend again.
package lyricstore

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	_ "modernc.org/sqlite" // SQLite driver
)

const (
	appName    = "music-companion"
	dbFileName = "lyrics.db"
)

// Store is a TTL-bounded lyrics cache.
type Store struct {
	db  *sql.DB
	ttl time.Duration
}

// DefaultPath returns the cache database path under the XDG cache home.
func DefaultPath() string {
	return filepath.Join(xdg.CacheHome, appName, dbFileName)
}

// Open opens (creating if needed) the cache database at path. Entries
// older than ttl are treated as absent and purged lazily.
func Open(path string, ttl time.Duration) (*Store, error) {
	if path == "" {
		path = DefaultPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, ttl: ttl}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS lyrics (
			artist        TEXT NOT NULL,
			title         TEXT NOT NULL,
			synced_lyrics TEXT NOT NULL,
			fetched_at    INTEGER NOT NULL,
			PRIMARY KEY (artist, title)
		)
	`)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the cached synced lyrics text for (artist, title). The
// second return value is false when there is no fresh entry.
func (s *Store) Get(artist, title string) (string, bool, error) {
	var text string
	var fetchedAt int64
	err := s.db.QueryRow(`
		SELECT synced_lyrics, fetched_at
		FROM lyrics
		WHERE artist = ? AND title = ?
	`, artist, title).Scan(&text, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	if s.isExpired(fetchedAt) {
		_, _ = s.db.Exec(`DELETE FROM lyrics WHERE artist = ? AND title = ?`, artist, title)
		return "", false, nil
	}

	return text, true, nil
}

// Set stores the synced lyrics text for (artist, title), replacing any
// previous entry.
func (s *Store) Set(artist, title, text string) error {
	_, err := s.db.Exec(`
		INSERT INTO lyrics (artist, title, synced_lyrics, fetched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (artist, title) DO UPDATE SET
			synced_lyrics = excluded.synced_lyrics,
			fetched_at = excluded.fetched_at
	`, artist, title, text, time.Now().Unix())
	return err
}

// CleanExpired removes all expired entries.
func (s *Store) CleanExpired() error {
	expiry := time.Now().Add(-s.ttl).Unix()
	_, err := s.db.Exec(`DELETE FROM lyrics WHERE fetched_at < ?`, expiry)
	return err
}

func (s *Store) isExpired(fetchedAt int64) bool {
	if s.ttl <= 0 {
		return false
	}
	return fetchedAt < time.Now().Add(-s.ttl).Unix()
}
