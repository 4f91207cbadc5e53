package catalog

import (
	"database/sql"
	"time"
)

// Enrichment work selection. The worker walks a fixed priority order;
// each picker returns nil when its tier is empty.

// PickUnattemptedArtist returns one artist awaiting a first match
// attempt.
func (s *Store) PickUnattemptedArtist() (*Artist, error) {
	row := s.db.QueryRow(`
		SELECT id, name, thumb_url, genres, summary, external_id, match_status, last_attempted, created_at, updated_at
		FROM artists WHERE match_status = ? ORDER BY id LIMIT 1
	`, string(MatchUnattempted))
	a, err := scanArtist(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// PickAlbumBatchArtist returns a matched artist that still has
// unattempted child albums, so one discography fetch can settle the
// whole batch.
func (s *Store) PickAlbumBatchArtist() (*Artist, error) {
	row := s.db.QueryRow(`
		SELECT id, name, thumb_url, genres, summary, external_id, match_status, last_attempted, created_at, updated_at
		FROM artists
		WHERE match_status = ? AND id IN (
			SELECT artist_id FROM albums WHERE match_status = ?
		)
		ORDER BY id LIMIT 1
	`, string(MatchMatched), string(MatchUnattempted))
	a, err := scanArtist(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// UnattemptedAlbums returns an artist's albums awaiting a first attempt.
func (s *Store) UnattemptedAlbums(artistID int64) ([]Album, error) {
	rows, err := s.db.Query(albumSelect+`
		WHERE artist_id = ? AND match_status = ? ORDER BY id
	`, artistID, string(MatchUnattempted))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAlbums(rows)
}

// PickTrackBatchAlbum returns a matched album that still has unattempted
// child tracks.
func (s *Store) PickTrackBatchAlbum() (*Album, error) {
	row := s.db.QueryRow(albumSelect+`
		WHERE match_status = ? AND id IN (
			SELECT album_id FROM tracks WHERE match_status = ?
		)
		ORDER BY id LIMIT 1
	`, string(MatchMatched), string(MatchUnattempted))
	a, err := scanAlbum(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// UnattemptedTracks returns an album's tracks awaiting a first attempt.
func (s *Store) UnattemptedTracks(albumID int64) ([]Track, error) {
	rows, err := s.db.Query(trackSelect+`
		WHERE album_id = ? AND match_status = ? ORDER BY id
	`, albumID, string(MatchUnattempted))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTracks(rows)
}

// PickFallbackAlbum returns an unattempted album whose parent artist is
// not matched, so it must be searched individually.
func (s *Store) PickFallbackAlbum() (*Album, error) {
	row := s.db.QueryRow(albumSelect+`
		WHERE match_status = ? AND artist_id NOT IN (
			SELECT id FROM artists WHERE match_status = ?
		)
		ORDER BY id LIMIT 1
	`, string(MatchUnattempted), string(MatchMatched))
	a, err := scanAlbum(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// PickFallbackTrack returns an unattempted track whose parent album is
// not matched.
func (s *Store) PickFallbackTrack() (*Track, error) {
	row := s.db.QueryRow(trackSelect+`
		WHERE match_status = ? AND album_id NOT IN (
			SELECT id FROM albums WHERE match_status = ?
		)
		ORDER BY id LIMIT 1
	`, string(MatchUnattempted), string(MatchMatched))
	t, err := scanTrack(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// RetryKind tags which entity a stale retry refers to.
type RetryKind string

const (
	RetryArtist RetryKind = "artist"
	RetryAlbum  RetryKind = "album"
	RetryTrack  RetryKind = "track"
)

// EnrichmentRetry is one re-eligible failed item.
type EnrichmentRetry struct {
	Kind RetryKind
	ID   int64
}

// PickStaleRetry returns the oldest re-eligible failed item across
// artists, albums and tracks. not_found entries re-enter after 30 days,
// error entries after 7.
func (s *Store) PickStaleRetry() (*EnrichmentRetry, error) {
	now := time.Now()
	notFoundCutoff := now.Add(-NotFoundRetryAfter).Unix()
	errorCutoff := now.Add(-ErrorRetryAfter).Unix()

	row := s.db.QueryRow(`
		SELECT kind, id FROM (
			SELECT 'artist' AS kind, id, last_attempted FROM artists
			WHERE (match_status = ? AND last_attempted <= ?)
			   OR (match_status = ? AND last_attempted <= ?)
			UNION ALL
			SELECT 'album', id, last_attempted FROM albums
			WHERE (match_status = ? AND last_attempted <= ?)
			   OR (match_status = ? AND last_attempted <= ?)
			UNION ALL
			SELECT 'track', id, last_attempted FROM tracks
			WHERE (match_status = ? AND last_attempted <= ?)
			   OR (match_status = ? AND last_attempted <= ?)
		)
		ORDER BY last_attempted LIMIT 1
	`,
		string(MatchNotFound), notFoundCutoff, string(MatchError), errorCutoff,
		string(MatchNotFound), notFoundCutoff, string(MatchError), errorCutoff,
		string(MatchNotFound), notFoundCutoff, string(MatchError), errorCutoff,
	)

	var r EnrichmentRetry
	var kind string
	err := row.Scan(&kind, &r.ID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Kind = RetryKind(kind)
	return &r, nil
}

// GetAlbum returns an album by local id, or nil.
func (s *Store) GetAlbum(id int64) (*Album, error) {
	row := s.db.QueryRow(albumSelect+` WHERE id = ?`, id)
	a, err := scanAlbum(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// GetTrack returns a track by local id, or nil.
func (s *Store) GetTrack(id int64) (*Track, error) {
	row := s.db.QueryRow(trackSelect+` WHERE id = ?`, id)
	t, err := scanTrack(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}
