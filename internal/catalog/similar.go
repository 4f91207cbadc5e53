package catalog

import (
	"database/sql"
	"fmt"
	"time"

	dbutil "github.com/llehouerou/attune/internal/db"
)

// UpsertSimilarArtist records one similar-artist edge. Re-recording the
// same edge bumps occurrence_count so artists named by several sources
// rise in the aggregate ranking.
func (s *Store) UpsertSimilarArtist(e *SimilarArtist) error {
	refreshed := e.LastRefreshed
	if refreshed.IsZero() {
		refreshed = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO similar_artists (source_artist_id, similar_artist_id, name, external_id, rank, occurrence_count, last_refreshed)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(source_artist_id, similar_artist_id) DO UPDATE SET
			name = excluded.name,
			rank = excluded.rank,
			occurrence_count = occurrence_count + 1,
			last_refreshed = excluded.last_refreshed
	`, e.SourceArtistID, e.SimilarArtistID, e.Name, dbutil.StringToNull(e.ExternalID),
		e.Rank, refreshed.Unix())
	if err != nil {
		return fmt.Errorf("upsert similar artist %s/%s: %w", e.SourceArtistID, e.SimilarArtistID, err)
	}
	return nil
}

// SetSimilarArtistExternalID fills the resolved provider id on every
// edge naming this similar artist.
func (s *Store) SetSimilarArtistExternalID(similarArtistID, externalID string) error {
	_, err := s.db.Exec(`
		UPDATE similar_artists SET external_id = ? WHERE similar_artist_id = ?
	`, dbutil.StringToNull(externalID), similarArtistID)
	return err
}

// TopSimilarArtists returns the n most-named similar artists aggregated
// across all sources, ordered by total occurrences then best rank.
func (s *Store) TopSimilarArtists(n int) ([]SimilarArtist, error) {
	rows, err := s.db.Query(`
		SELECT similar_artist_id, name, MAX(external_id), MIN(rank) AS best_rank,
			SUM(occurrence_count) AS total, MAX(last_refreshed)
		FROM similar_artists
		GROUP BY similar_artist_id
		ORDER BY total DESC, best_rank
		LIMIT ?
	`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artists []SimilarArtist
	for rows.Next() {
		var a SimilarArtist
		var externalID sql.NullString
		var refreshed int64
		if err := rows.Scan(&a.SimilarArtistID, &a.Name, &externalID, &a.Rank, &a.OccurrenceCount, &refreshed); err != nil {
			return nil, err
		}
		a.ExternalID = dbutil.NullStringValue(externalID)
		a.LastRefreshed = time.Unix(refreshed, 0)
		artists = append(artists, a)
	}
	return artists, rows.Err()
}

// SimilarArtistsStale reports whether a source's edges are missing or
// older than maxAge.
func (s *Store) SimilarArtistsStale(sourceArtistID string, maxAge time.Duration) (bool, error) {
	var last sql.NullInt64
	err := s.db.QueryRow(`
		SELECT MAX(last_refreshed) FROM similar_artists WHERE source_artist_id = ?
	`, sourceArtistID).Scan(&last)
	if err != nil {
		return false, err
	}
	if !last.Valid {
		return true, nil
	}
	return time.Since(time.Unix(last.Int64, 0)) > maxAge, nil
}

// DeleteSimilarArtists removes all edges from one source, used before a
// full refresh of that source's list.
func (s *Store) DeleteSimilarArtists(sourceArtistID string) error {
	_, err := s.db.Exec(`DELETE FROM similar_artists WHERE source_artist_id = ?`, sourceArtistID)
	return err
}
