// Package catalog is the durable store for artists, albums and tracks,
// the watchlist, the wishlist, the discovery pool and the metadata
// key-value slot. It is the single coordination point for all background
// workers; every operation is safe under concurrent callers.
package catalog

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dustin/go-humanize"

	dbutil "github.com/llehouerou/attune/internal/db"
)

// Store provides all catalog operations. Callers never see connections
// or transactions; each exported method is a complete unit of work.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the catalog database. maxWorkers
// bounds the connection pool; WAL mode keeps readers unblocked while
// workers write.
func Open(path string, maxWorkers int) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000"); err != nil {
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if maxWorkers > 0 {
		db.SetMaxOpenConns(maxWorkers)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := initSchema(db); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// execer is satisfied by both *sql.DB and *sql.Tx, so the entity
// upserts run standalone or inside RegisterImport's transaction.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// RegisterImport publishes one imported file's artist, album and track
// rows in a single transaction; no reader ever observes a track without
// its album or artist.
func (s *Store) RegisterImport(artist *Artist, album *Album, track *Track) error {
	err := dbutil.WithTx(s.db, func(tx *sql.Tx) error {
		if err := upsertArtist(tx, artist); err != nil {
			return err
		}
		if err := upsertAlbum(tx, album); err != nil {
			return err
		}
		return upsertTrack(tx, track)
	})
	if err != nil {
		return fmt.Errorf("register import: %w", err)
	}
	return nil
}

// ClearAllData wipes every table and reclaims file space.
func (s *Store) ClearAllData() error {
	tables := []string{
		"tracks", "albums", "artists",
		"watchlist_artists", "wishlist", "similar_artists",
		"discovery_pool", "metadata",
	}
	for _, table := range tables {
		if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if _, err := s.db.Exec("VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

// RecordFullRefreshCompletion stamps the time of the last full refresh.
func (s *Store) RecordFullRefreshCompletion() error {
	return s.SetMetadata("last_full_refresh", fmt.Sprintf("%d", time.Now().Unix()))
}

// DatabaseInfo summarizes the catalog for status displays.
type DatabaseInfo struct {
	Artists       int
	Albums        int
	Tracks        int
	Watchlist     int
	Wishlist      int
	DiscoveryPool int
	FileSize      int64
	FileSizeHuman string
	LastUpdate    time.Time
}

// GetDatabaseInfo returns row counts, file size and last update time.
func (s *Store) GetDatabaseInfo() (*DatabaseInfo, error) {
	info := &DatabaseInfo{}

	counts := []struct {
		table string
		dest  *int
	}{
		{"artists", &info.Artists},
		{"albums", &info.Albums},
		{"tracks", &info.Tracks},
		{"watchlist_artists", &info.Watchlist},
		{"wishlist", &info.Wishlist},
		{"discovery_pool", &info.DiscoveryPool},
	}
	for _, c := range counts {
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + c.table).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("count %s: %w", c.table, err)
		}
	}

	var last sql.NullInt64
	err := s.db.QueryRow(`
		SELECT MAX(u) FROM (
			SELECT MAX(updated_at) AS u FROM artists
			UNION ALL SELECT MAX(updated_at) FROM albums
			UNION ALL SELECT MAX(updated_at) FROM tracks
		)
	`).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("last update: %w", err)
	}
	if last.Valid {
		info.LastUpdate = time.Unix(last.Int64, 0)
	}

	if stat, err := os.Stat(s.path); err == nil {
		info.FileSize = stat.Size()
		info.FileSizeHuman = humanize.Bytes(uint64(stat.Size()))
	}

	return info, nil
}

// SetMetadata writes a key into the metadata slot.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// GetMetadata reads a key from the metadata slot. Returns fallback when
// the key is absent.
func (s *Store) GetMetadata(key, fallback string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return fallback, nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}
