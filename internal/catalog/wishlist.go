package catalog

import (
	"database/sql"
	"fmt"
	"time"

	dbutil "github.com/llehouerou/attune/internal/db"
)

// AddToWishlist records a failed fulfillment request. A second failure
// for the same external track refreshes the descriptor and failure
// reason but keeps the original provenance (source type and info),
// date_added, and retry history.
func (s *Store) AddToWishlist(e *WishlistEntry) error {
	dateAdded := e.DateAdded
	if dateAdded.IsZero() {
		dateAdded = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO wishlist (external_track_id, descriptor_json, failure_reason, source_type, source_info_json, retry_count, date_added, last_attempted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_track_id) DO UPDATE SET
			descriptor_json = excluded.descriptor_json,
			failure_reason = excluded.failure_reason,
			source_type = CASE WHEN wishlist.source_type = '' THEN excluded.source_type ELSE wishlist.source_type END,
			source_info_json = COALESCE(wishlist.source_info_json, excluded.source_info_json)
	`, e.ExternalTrackID, e.DescriptorJSON, e.FailureReason, e.SourceType,
		dbutil.StringToNull(e.SourceInfoJSON), e.RetryCount, dateAdded.Unix(), unixOrNull(e.LastAttempted))
	if err != nil {
		return fmt.Errorf("add wishlist entry %s: %w", e.ExternalTrackID, err)
	}
	return nil
}

// RemoveFromWishlist deletes an entry, normally after a successful
// fulfillment.
func (s *Store) RemoveFromWishlist(externalTrackID string) error {
	_, err := s.db.Exec(`DELETE FROM wishlist WHERE external_track_id = ?`, externalTrackID)
	return err
}

// GetWishlistEntry returns one entry by external track id, or nil.
func (s *Store) GetWishlistEntry(externalTrackID string) (*WishlistEntry, error) {
	row := s.db.QueryRow(wishlistSelect+` WHERE external_track_id = ?`, externalTrackID)
	e, err := scanWishlistEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// ListWishlist returns all entries, oldest first.
func (s *Store) ListWishlist() ([]WishlistEntry, error) {
	rows, err := s.db.Query(wishlistSelect + ` ORDER BY date_added`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectWishlist(rows)
}

// OldestWishlistEntries returns up to n entries ordered by least
// recently attempted, never-attempted entries first. This is the
// auto-retry pick order.
func (s *Store) OldestWishlistEntries(n int) ([]WishlistEntry, error) {
	rows, err := s.db.Query(wishlistSelect+`
		ORDER BY last_attempted IS NOT NULL, last_attempted, date_added
		LIMIT ?
	`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectWishlist(rows)
}

// RecordWishlistAttempt bumps the retry counter after a failed retry.
func (s *Store) RecordWishlistAttempt(externalTrackID string, failureReason string) error {
	_, err := s.db.Exec(`
		UPDATE wishlist
		SET retry_count = retry_count + 1, failure_reason = ?, last_attempted = ?
		WHERE external_track_id = ?
	`, failureReason, time.Now().Unix(), externalTrackID)
	return err
}

// TouchWishlistAttempt stamps last_attempted without counting a failure,
// used when a retry is submitted and still in flight.
func (s *Store) TouchWishlistAttempt(externalTrackID string) error {
	_, err := s.db.Exec(`
		UPDATE wishlist SET last_attempted = ? WHERE external_track_id = ?
	`, time.Now().Unix(), externalTrackID)
	return err
}

// WishlistCount returns the number of pending entries.
func (s *Store) WishlistCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM wishlist`).Scan(&n)
	return n, err
}

const wishlistSelect = `
	SELECT external_track_id, descriptor_json, failure_reason, source_type, source_info_json, retry_count, date_added, last_attempted
	FROM wishlist`

func collectWishlist(rows *sql.Rows) ([]WishlistEntry, error) {
	var entries []WishlistEntry
	for rows.Next() {
		e, err := scanWishlistEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func scanWishlistEntry(row rowScanner) (*WishlistEntry, error) {
	var e WishlistEntry
	var sourceInfo sql.NullString
	var dateAdded int64
	var lastAttempted sql.NullInt64

	err := row.Scan(&e.ExternalTrackID, &e.DescriptorJSON, &e.FailureReason, &e.SourceType,
		&sourceInfo, &e.RetryCount, &dateAdded, &lastAttempted)
	if err != nil {
		return nil, err
	}

	e.SourceInfoJSON = dbutil.NullStringValue(sourceInfo)
	e.DateAdded = time.Unix(dateAdded, 0)
	e.LastAttempted = timeFromNull(lastAttempted)
	return &e, nil
}
