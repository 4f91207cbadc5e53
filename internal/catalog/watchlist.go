package catalog

import (
	"database/sql"
	"fmt"
	"time"

	dbutil "github.com/llehouerou/attune/internal/db"
)

// AddWatchlistArtist inserts or refreshes a watched artist. Filters on
// an existing entry are preserved; name and thumb are refreshed.
func (s *Store) AddWatchlistArtist(e *WatchlistEntry) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(`
		INSERT INTO watchlist_artists (external_artist_id, name, thumb_url, last_scan_timestamp,
			include_albums, include_eps, include_singles,
			include_live, include_remixes, include_acoustic, include_compilations,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_artist_id) DO UPDATE SET
			name = excluded.name,
			thumb_url = excluded.thumb_url,
			updated_at = excluded.updated_at
	`, e.ExternalArtistID, e.Name, dbutil.StringToNull(e.ThumbURL), unixOrNull(e.LastScan),
		boolToInt(e.IncludeAlbums), boolToInt(e.IncludeEPs), boolToInt(e.IncludeSingles),
		boolToInt(e.IncludeLive), boolToInt(e.IncludeRemixes), boolToInt(e.IncludeAcoustic),
		boolToInt(e.IncludeCompilations), now, now)
	if err != nil {
		return fmt.Errorf("add watchlist artist %s: %w", e.ExternalArtistID, err)
	}
	return nil
}

// RemoveWatchlistArtist deletes a watched artist.
func (s *Store) RemoveWatchlistArtist(externalArtistID string) error {
	_, err := s.db.Exec(`DELETE FROM watchlist_artists WHERE external_artist_id = ?`, externalArtistID)
	return err
}

// GetWatchlistArtist returns a watched artist by external id, or nil.
func (s *Store) GetWatchlistArtist(externalArtistID string) (*WatchlistEntry, error) {
	row := s.db.QueryRow(watchlistSelect+` WHERE external_artist_id = ?`, externalArtistID)
	e, err := scanWatchlistEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// ListWatchlistArtists returns all watched artists, oldest scan first so
// the scanner naturally rotates through them.
func (s *Store) ListWatchlistArtists() ([]WatchlistEntry, error) {
	rows, err := s.db.Query(watchlistSelect + `
		ORDER BY last_scan_timestamp IS NOT NULL, last_scan_timestamp, name COLLATE NOCASE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []WatchlistEntry
	for rows.Next() {
		e, err := scanWatchlistEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// UpdateWatchlistFilters replaces the per-entry filters.
func (s *Store) UpdateWatchlistFilters(e *WatchlistEntry) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(`
		UPDATE watchlist_artists SET
			include_albums = ?, include_eps = ?, include_singles = ?,
			include_live = ?, include_remixes = ?, include_acoustic = ?, include_compilations = ?,
			updated_at = ?
		WHERE external_artist_id = ?
	`, boolToInt(e.IncludeAlbums), boolToInt(e.IncludeEPs), boolToInt(e.IncludeSingles),
		boolToInt(e.IncludeLive), boolToInt(e.IncludeRemixes), boolToInt(e.IncludeAcoustic),
		boolToInt(e.IncludeCompilations), now, e.ExternalArtistID)
	return err
}

// MarkWatchlistScanned stamps the last successful scan time.
func (s *Store) MarkWatchlistScanned(externalArtistID string, at time.Time) error {
	_, err := s.db.Exec(`
		UPDATE watchlist_artists SET last_scan_timestamp = ?, updated_at = ? WHERE external_artist_id = ?
	`, at.Unix(), time.Now().Unix(), externalArtistID)
	return err
}

const watchlistSelect = `
	SELECT external_artist_id, name, thumb_url, last_scan_timestamp,
		include_albums, include_eps, include_singles,
		include_live, include_remixes, include_acoustic, include_compilations
	FROM watchlist_artists`

func scanWatchlistEntry(row rowScanner) (*WatchlistEntry, error) {
	var e WatchlistEntry
	var thumb sql.NullString
	var lastScan sql.NullInt64
	var albums, eps, singles, live, remixes, acoustic, compilations int64

	err := row.Scan(&e.ExternalArtistID, &e.Name, &thumb, &lastScan,
		&albums, &eps, &singles, &live, &remixes, &acoustic, &compilations)
	if err != nil {
		return nil, err
	}

	e.ThumbURL = dbutil.NullStringValue(thumb)
	e.LastScan = timeFromNull(lastScan)
	e.IncludeAlbums = albums != 0
	e.IncludeEPs = eps != 0
	e.IncludeSingles = singles != 0
	e.IncludeLive = live != 0
	e.IncludeRemixes = remixes != 0
	e.IncludeAcoustic = acoustic != 0
	e.IncludeCompilations = compilations != 0
	return &e, nil
}
