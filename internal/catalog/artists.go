package catalog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	dbutil "github.com/llehouerou/attune/internal/db"
)

// InsertOrUpdateArtist upserts an artist by local id. created_at is set
// on first insert; updated_at is bumped on every call.
func (s *Store) InsertOrUpdateArtist(a *Artist) error {
	return upsertArtist(s.db, a)
}

func upsertArtist(ex execer, a *Artist) error {
	now := time.Now().Unix()
	status := a.MatchStatus
	if status == "" {
		status = MatchUnattempted
	}
	_, err := ex.Exec(`
		INSERT INTO artists (id, name, thumb_url, genres, summary, external_id, match_status, last_attempted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			thumb_url = excluded.thumb_url,
			genres = excluded.genres,
			summary = excluded.summary,
			external_id = excluded.external_id,
			match_status = excluded.match_status,
			last_attempted = excluded.last_attempted,
			updated_at = excluded.updated_at
	`, a.ID, a.Name, dbutil.StringToNull(a.ThumbURL), marshalGenres(a.Genres),
		dbutil.StringToNull(a.Summary), dbutil.StringToNull(a.ExternalID),
		string(status), unixOrNull(a.LastAttempted), now, now)
	if err != nil {
		return fmt.Errorf("upsert artist %d: %w", a.ID, err)
	}
	return nil
}

// GetArtist returns an artist by local id, or nil when absent.
func (s *Store) GetArtist(id int64) (*Artist, error) {
	row := s.db.QueryRow(`
		SELECT id, name, thumb_url, genres, summary, external_id, match_status, last_attempted, created_at, updated_at
		FROM artists WHERE id = ?
	`, id)
	a, err := scanArtist(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// SearchArtists finds artists whose name contains the query.
func (s *Store) SearchArtists(query string, limit int) ([]Artist, error) {
	rows, err := s.db.Query(`
		SELECT id, name, thumb_url, genres, summary, external_id, match_status, last_attempted, created_at, updated_at
		FROM artists
		WHERE name LIKE '%' || ? || '%' COLLATE NOCASE
		ORDER BY name COLLATE NOCASE
		LIMIT ?
	`, query, queryLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artists []Artist
	for rows.Next() {
		a, err := scanArtist(rows)
		if err != nil {
			return nil, err
		}
		artists = append(artists, *a)
	}
	return artists, rows.Err()
}

// SetArtistMatch records an enrichment outcome for an artist.
func (s *Store) SetArtistMatch(id int64, status MatchStatus, externalID string) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(`
		UPDATE artists
		SET match_status = ?, external_id = ?, last_attempted = ?, updated_at = ?
		WHERE id = ?
	`, string(status), dbutil.StringToNull(externalID), now, now, id)
	return err
}

// RequeueArtistMatch resets an artist to unattempted for explicit retry.
func (s *Store) RequeueArtistMatch(id int64) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(`
		UPDATE artists SET match_status = ?, last_attempted = NULL, updated_at = ? WHERE id = ?
	`, string(MatchUnattempted), now, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtist(row rowScanner) (*Artist, error) {
	var a Artist
	var thumb, genres, summary, externalID sql.NullString
	var status string
	var lastAttempted sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(&a.ID, &a.Name, &thumb, &genres, &summary, &externalID, &status, &lastAttempted, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	a.ThumbURL = dbutil.NullStringValue(thumb)
	a.Genres = unmarshalGenres(genres)
	a.Summary = dbutil.NullStringValue(summary)
	a.ExternalID = dbutil.NullStringValue(externalID)
	a.MatchStatus = MatchStatus(status)
	a.LastAttempted = timeFromNull(lastAttempted)
	a.CreatedAt = time.Unix(createdAt, 0)
	a.UpdatedAt = time.Unix(updatedAt, 0)
	return &a, nil
}

func marshalGenres(genres []string) sql.NullString {
	if len(genres) == 0 {
		return sql.NullString{}
	}
	data, err := json.Marshal(genres)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(data), Valid: true}
}

func unmarshalGenres(s sql.NullString) []string {
	if !s.Valid || s.String == "" {
		return nil
	}
	var genres []string
	if err := json.Unmarshal([]byte(s.String), &genres); err != nil {
		return nil
	}
	return genres
}

func unixOrNull(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func timeFromNull(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.Unix(n.Int64, 0)
}

func queryLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}
