package catalog

import (
	"database/sql"
	"fmt"
	"time"

	dbutil "github.com/llehouerou/attune/internal/db"
	"github.com/llehouerou/attune/internal/match"
)

// InsertOrUpdateTrack upserts a track by local id.
func (s *Store) InsertOrUpdateTrack(t *Track) error {
	return upsertTrack(s.db, t)
}

func upsertTrack(ex execer, t *Track) error {
	now := time.Now().Unix()
	status := t.MatchStatus
	if status == "" {
		status = MatchUnattempted
	}
	var explicit sql.NullInt64
	if t.Explicit != nil {
		explicit = sql.NullInt64{Int64: boolToInt(*t.Explicit), Valid: true}
	}
	_, err := ex.Exec(`
		INSERT INTO tracks (id, album_id, artist_id, title, track_number, duration_ms, file_path, bitrate, explicit, external_id, match_status, last_attempted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			album_id = excluded.album_id,
			artist_id = excluded.artist_id,
			title = excluded.title,
			track_number = excluded.track_number,
			duration_ms = excluded.duration_ms,
			file_path = excluded.file_path,
			bitrate = excluded.bitrate,
			explicit = excluded.explicit,
			external_id = excluded.external_id,
			match_status = excluded.match_status,
			last_attempted = excluded.last_attempted,
			updated_at = excluded.updated_at
	`, t.ID, t.AlbumID, t.ArtistID, t.Title, intOrNull(int64(t.TrackNumber)),
		intOrNull(t.DurationMS), dbutil.StringToNull(t.FilePath), intOrNull(int64(t.Bitrate)),
		explicit, dbutil.StringToNull(t.ExternalID), string(status), unixOrNull(t.LastAttempted), now, now)
	if err != nil {
		return fmt.Errorf("upsert track %d: %w", t.ID, err)
	}
	return nil
}

// GetTracksByAlbum returns all tracks of an album in track order.
func (s *Store) GetTracksByAlbum(albumID int64) ([]Track, error) {
	rows, err := s.db.Query(trackSelect+` WHERE album_id = ? ORDER BY track_number, title COLLATE NOCASE`, albumID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTracks(rows)
}

// SearchTracks finds tracks by title substring, optionally filtered by
// artist name.
func (s *Store) SearchTracks(title, artist string, limit int) ([]Track, error) {
	query := trackSelect + `
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
	return collectTracks(rows)
}

// FindTrackByExternalID returns the track matched to an external id, or
// nil.
func (s *Store) FindTrackByExternalID(externalID string) (*Track, error) {
	row := s.db.QueryRow(trackSelect+` WHERE external_id = ?`, externalID)
	t, err := scanTrack(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// CheckTrackExists fuzzy-matches a track by (title, artist) against the
// catalog. Confidence is computed on the candidates, not in SQL. Returns
// (nil, 0) when nothing clears the threshold.
func (s *Store) CheckTrackExists(title, artist string, threshold float64) (*Track, float64, error) {
	candidates, err := s.SearchTracks(firstWord(title), artist, 100)
	if err != nil {
		return nil, 0, err
	}
	if len(candidates) == 0 && artist != "" {
		candidates, err = s.tracksByArtistName(artist)
		if err != nil {
			return nil, 0, err
		}
	}

	var best *Track
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

// SetTrackMatch records an enrichment outcome for a track.
func (s *Store) SetTrackMatch(id int64, status MatchStatus, externalID string) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(`
		UPDATE tracks
		SET match_status = ?, external_id = ?, last_attempted = ?, updated_at = ?
		WHERE id = ?
	`, string(status), dbutil.StringToNull(externalID), now, now, id)
	return err
}

// SetTrackExplicit backfills the explicit flag from the provider.
func (s *Store) SetTrackExplicit(id int64, explicit bool) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(`
		UPDATE tracks SET explicit = ?, updated_at = ? WHERE id = ?
	`, boolToInt(explicit), now, id)
	return err
}

// MarkTracksError bulk-marks unattempted tracks of an album as errored.
func (s *Store) MarkTracksError(albumID int64) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(`
		UPDATE tracks
		SET match_status = ?, last_attempted = ?, updated_at = ?
		WHERE album_id = ? AND match_status = ?
	`, string(MatchError), now, now, albumID, string(MatchUnattempted))
	return err
}

func (s *Store) tracksByArtistName(artist string) ([]Track, error) {
	rows, err := s.db.Query(trackSelect+`
		WHERE artist_id IN (SELECT id FROM artists WHERE name LIKE '%' || ? || '%' COLLATE NOCASE)
	`, artist)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTracks(rows)
}

const trackSelect = `
	SELECT id, album_id, artist_id, title, track_number, duration_ms, file_path, bitrate, explicit, external_id, match_status, last_attempted, created_at, updated_at
	FROM tracks`

func collectTracks(rows *sql.Rows) ([]Track, error) {
	var tracks []Track
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, *t)
	}
	return tracks, rows.Err()
}

func scanTrack(row rowScanner) (*Track, error) {
	var t Track
	var trackNumber, durationMS, bitrate, explicit, lastAttempted sql.NullInt64
	var filePath, externalID sql.NullString
	var status string
	var createdAt, updatedAt int64

	err := row.Scan(&t.ID, &t.AlbumID, &t.ArtistID, &t.Title, &trackNumber, &durationMS,
		&filePath, &bitrate, &explicit, &externalID, &status, &lastAttempted, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	t.TrackNumber = int(dbutil.NullInt64Value(trackNumber))
	t.DurationMS = dbutil.NullInt64Value(durationMS)
	t.FilePath = dbutil.NullStringValue(filePath)
	t.Bitrate = int(dbutil.NullInt64Value(bitrate))
	if explicit.Valid {
		v := explicit.Int64 != 0
		t.Explicit = &v
	}
	t.ExternalID = dbutil.NullStringValue(externalID)
	t.MatchStatus = MatchStatus(status)
	t.LastAttempted = timeFromNull(lastAttempted)
	t.CreatedAt = time.Unix(createdAt, 0)
	t.UpdatedAt = time.Unix(updatedAt, 0)
	return &t, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
