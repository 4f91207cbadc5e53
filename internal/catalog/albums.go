package catalog

import (
	"database/sql"
	"fmt"
	"time"

	dbutil "github.com/llehouerou/attune/internal/db"
	"github.com/llehouerou/attune/internal/match"
)

// InsertOrUpdateAlbum upserts an album by local id.
func (s *Store) InsertOrUpdateAlbum(a *Album) error {
	return upsertAlbum(s.db, a)
}

func upsertAlbum(ex execer, a *Album) error {
	now := time.Now().Unix()
	status := a.MatchStatus
	if status == "" {
		status = MatchUnattempted
	}
	_, err := ex.Exec(`
		INSERT INTO albums (id, artist_id, title, year, thumb_url, genres, track_count, duration_ms, external_id, match_status, last_attempted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			artist_id = excluded.artist_id,
			title = excluded.title,
			year = excluded.year,
			thumb_url = excluded.thumb_url,
			genres = excluded.genres,
			track_count = excluded.track_count,
			duration_ms = excluded.duration_ms,
			external_id = excluded.external_id,
			match_status = excluded.match_status,
			last_attempted = excluded.last_attempted,
			updated_at = excluded.updated_at
	`, a.ID, a.ArtistID, a.Title, intOrNull(int64(a.Year)), dbutil.StringToNull(a.ThumbURL),
		marshalGenres(a.Genres), intOrNull(int64(a.TrackCount)), intOrNull(a.DurationMS),
		dbutil.StringToNull(a.ExternalID), string(status), unixOrNull(a.LastAttempted), now, now)
	if err != nil {
		return fmt.Errorf("upsert album %d: %w", a.ID, err)
	}
	return nil
}

// GetAlbumsByArtist returns all albums owned by an artist.
func (s *Store) GetAlbumsByArtist(artistID int64) ([]Album, error) {
	rows, err := s.db.Query(albumSelect+` WHERE artist_id = ? ORDER BY year, title COLLATE NOCASE`, artistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAlbums(rows)
}

// SearchAlbums finds albums by title substring, optionally filtered by
// artist name.
func (s *Store) SearchAlbums(title, artist string, limit int) ([]Album, error) {
	query := albumSelect + `
		WHERE title LIKE '%' || ? || '%' COLLATE NOCASE
	`
	args := []any{title}
	if artist != "" {
		query += ` AND artist_id IN (SELECT id FROM artists WHERE name LIKE '%' || ? || '%' COLLATE NOCASE)`
		args = append(args, artist)
	}
	query += ` ORDER BY title COLLATE NOCASE LIMIT ?`
	args = append(args, queryLimit(limit))

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAlbums(rows)
}

// CheckAlbumExists fuzzy-matches an album by (title, artist) against the
// catalog. Confidence is computed on the candidates, not in SQL. Returns
// (nil, 0) when nothing clears the threshold.
func (s *Store) CheckAlbumExists(title, artist string, threshold float64) (*Album, float64, error) {
	candidates, err := s.SearchAlbums(firstWord(title), artist, 100)
	if err != nil {
		return nil, 0, err
	}
	if len(candidates) == 0 {
		// LIKE recall failed; fall back to scanning the artist's albums.
		candidates, err = s.albumsByArtistName(artist)
		if err != nil {
			return nil, 0, err
		}
	}

	var best *Album
	bestScore := 0.0
	for i := range candidates {
		score := match.Similarity(title, candidates[i].Title)
		if score > bestScore {
			bestScore = score
			best = &candidates[i]
		}
	}
	if best == nil || bestScore < threshold {
		return nil, 0, nil
	}
	return best, bestScore, nil
}

// CheckAlbumCompleteness reports how many of an album's expected tracks
// are on disk. Complete means at least 90% owned and more than zero.
func (s *Store) CheckAlbumCompleteness(albumID int64, expectedTracks int) (owned, expected int, complete bool, err error) {
	err = s.db.QueryRow(`
		SELECT COUNT(*) FROM tracks
		WHERE album_id = ? AND file_path IS NOT NULL AND file_path != ''
	`, albumID).Scan(&owned)
	if err != nil {
		return 0, 0, false, err
	}

	expected = expectedTracks
	if expected == 0 {
		var tc sql.NullInt64
		if err := s.db.QueryRow(`SELECT track_count FROM albums WHERE id = ?`, albumID).Scan(&tc); err == nil {
			expected = int(dbutil.NullInt64Value(tc))
		}
	}
	if expected == 0 {
		return owned, 0, false, nil
	}

	complete = owned > 0 && float64(owned)/float64(expected) >= 0.9
	return owned, expected, complete, nil
}

// SetAlbumMatch records an enrichment outcome for an album.
func (s *Store) SetAlbumMatch(id int64, status MatchStatus, externalID string) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(`
		UPDATE albums
		SET match_status = ?, external_id = ?, last_attempted = ?, updated_at = ?
		WHERE id = ?
	`, string(status), dbutil.StringToNull(externalID), now, now, id)
	return err
}

// MarkAlbumsError bulk-marks unattempted albums of an artist as errored.
// Used when a batch fetch fails; they re-enter via the stale-retry path.
func (s *Store) MarkAlbumsError(artistID int64) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(`
		UPDATE albums
		SET match_status = ?, last_attempted = ?, updated_at = ?
		WHERE artist_id = ? AND match_status = ?
	`, string(MatchError), now, now, artistID, string(MatchUnattempted))
	return err
}

func (s *Store) albumsByArtistName(artist string) ([]Album, error) {
	rows, err := s.db.Query(albumSelect+`
		WHERE artist_id IN (SELECT id FROM artists WHERE name LIKE '%' || ? || '%' COLLATE NOCASE)
	`, artist)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAlbums(rows)
}

const albumSelect = `
	SELECT id, artist_id, title, year, thumb_url, genres, track_count, duration_ms, external_id, match_status, last_attempted, created_at, updated_at
	FROM albums`

func collectAlbums(rows *sql.Rows) ([]Album, error) {
	var albums []Album
	for rows.Next() {
		a, err := scanAlbum(rows)
		if err != nil {
			return nil, err
		}
		albums = append(albums, *a)
	}
	return albums, rows.Err()
}

func scanAlbum(row rowScanner) (*Album, error) {
	var a Album
	var year, trackCount, durationMS, lastAttempted sql.NullInt64
	var thumb, genres, externalID sql.NullString
	var status string
	var createdAt, updatedAt int64

	err := row.Scan(&a.ID, &a.ArtistID, &a.Title, &year, &thumb, &genres, &trackCount,
		&durationMS, &externalID, &status, &lastAttempted, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	a.Year = int(dbutil.NullInt64Value(year))
	a.ThumbURL = dbutil.NullStringValue(thumb)
	a.Genres = unmarshalGenres(genres)
	a.TrackCount = int(dbutil.NullInt64Value(trackCount))
	a.DurationMS = dbutil.NullInt64Value(durationMS)
	a.ExternalID = dbutil.NullStringValue(externalID)
	a.MatchStatus = MatchStatus(status)
	a.LastAttempted = timeFromNull(lastAttempted)
	a.CreatedAt = time.Unix(createdAt, 0)
	a.UpdatedAt = time.Unix(updatedAt, 0)
	return &a, nil
}

func intOrNull(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}

// firstWord returns the first whitespace-delimited token, used to widen
// LIKE recall before fuzzy scoring.
func firstWord(s string) string {
	for i, r := range s {
		if r == ' ' {
			return s[:i]
		}
	}
	return s
}
