package catalog

import (
	"database/sql"
	"fmt"
	"time"

	dbutil "github.com/llehouerou/attune/internal/db"
)

// UpsertDiscoveryTrack adds a track to the rolling discovery pool. A
// re-discovered track keeps its original added_at so age-based eviction
// still applies; denormalized fields are refreshed.
func (s *Store) UpsertDiscoveryTrack(t *DiscoveryTrack) error {
	addedAt := t.AddedAt
	if addedAt.IsZero() {
		addedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO discovery_pool (external_track_id, external_artist_id, external_album_id,
			name, artist_name, album_name, cover_url, duration_ms, popularity,
			release_date, is_new_release, artist_genres_json, track_blob_json, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_track_id) DO UPDATE SET
			external_artist_id = excluded.external_artist_id,
			external_album_id = excluded.external_album_id,
			name = excluded.name,
			artist_name = excluded.artist_name,
			album_name = excluded.album_name,
			cover_url = excluded.cover_url,
			duration_ms = excluded.duration_ms,
			popularity = excluded.popularity,
			release_date = excluded.release_date,
			is_new_release = excluded.is_new_release,
			artist_genres_json = excluded.artist_genres_json,
			track_blob_json = excluded.track_blob_json
	`, t.ExternalTrackID, t.ExternalArtistID, t.ExternalAlbumID,
		t.Name, t.ArtistName, t.AlbumName, dbutil.StringToNull(t.CoverURL),
		intOrNull(t.DurationMS), t.Popularity, dbutil.StringToNull(t.ReleaseDate),
		boolToInt(t.IsNewRelease), marshalGenres(t.ArtistGenres), t.TrackBlobJSON, addedAt.Unix())
	if err != nil {
		return fmt.Errorf("upsert discovery track %s: %w", t.ExternalTrackID, err)
	}
	return nil
}

// ListDiscoveryPool returns the whole pool, newest first.
func (s *Store) ListDiscoveryPool() ([]DiscoveryTrack, error) {
	rows, err := s.db.Query(discoverySelect + ` ORDER BY added_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDiscovery(rows)
}

// ListDiscoveryByPopularity returns pool tracks whose popularity falls
// within [min, max], inclusive on min and exclusive on max when max is
// below 100.
func (s *Store) ListDiscoveryByPopularity(min, max int) ([]DiscoveryTrack, error) {
	query := discoverySelect + ` WHERE popularity >= ?`
	args := []any{min}
	if max < 100 {
		query += ` AND popularity < ?`
		args = append(args, max)
	}
	query += ` ORDER BY popularity DESC, added_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDiscovery(rows)
}

// ListNewReleaseDiscovery returns pool tracks flagged as new releases.
func (s *Store) ListNewReleaseDiscovery() ([]DiscoveryTrack, error) {
	rows, err := s.db.Query(discoverySelect + ` WHERE is_new_release = 1 ORDER BY release_date DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDiscovery(rows)
}

// EvictOldDiscovery deletes pool entries older than maxAge and returns
// how many were removed.
func (s *Store) EvictOldDiscovery(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).Unix()
	res, err := s.db.Exec(`DELETE FROM discovery_pool WHERE added_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DiscoveryPoolCount returns the pool size.
func (s *Store) DiscoveryPoolCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM discovery_pool`).Scan(&n)
	return n, err
}

const discoverySelect = `
	SELECT external_track_id, external_artist_id, external_album_id,
		name, artist_name, album_name, cover_url, duration_ms, popularity,
		release_date, is_new_release, artist_genres_json, track_blob_json, added_at
	FROM discovery_pool`

func collectDiscovery(rows *sql.Rows) ([]DiscoveryTrack, error) {
	var tracks []DiscoveryTrack
	for rows.Next() {
		t, err := scanDiscoveryTrack(rows)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, *t)
	}
	return tracks, rows.Err()
}

func scanDiscoveryTrack(row rowScanner) (*DiscoveryTrack, error) {
	var t DiscoveryTrack
	var cover, releaseDate, genres sql.NullString
	var durationMS sql.NullInt64
	var isNew int64
	var addedAt int64

	err := row.Scan(&t.ExternalTrackID, &t.ExternalArtistID, &t.ExternalAlbumID,
		&t.Name, &t.ArtistName, &t.AlbumName, &cover, &durationMS, &t.Popularity,
		&releaseDate, &isNew, &genres, &t.TrackBlobJSON, &addedAt)
	if err != nil {
		return nil, err
	}

	t.CoverURL = dbutil.NullStringValue(cover)
	t.DurationMS = dbutil.NullInt64Value(durationMS)
	t.ReleaseDate = dbutil.NullStringValue(releaseDate)
	t.IsNewRelease = isNew != 0
	t.ArtistGenres = unmarshalGenres(genres)
	t.AddedAt = time.Unix(addedAt, 0)
	return &t, nil
}
