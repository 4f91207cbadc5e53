package catalog

import "database/sql"

const currentSchemaVersion = 3

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		);

		CREATE TABLE IF NOT EXISTS artists (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			thumb_url TEXT,
			genres TEXT,
			summary TEXT,
			external_id TEXT,
			match_status TEXT NOT NULL DEFAULT 'unattempted',
			last_attempted INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_artists_name ON artists(name COLLATE NOCASE);
		CREATE INDEX IF NOT EXISTS idx_artists_match_status ON artists(match_status);

		CREATE TABLE IF NOT EXISTS albums (
			id INTEGER PRIMARY KEY,
			artist_id INTEGER NOT NULL REFERENCES artists(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			year INTEGER,
			thumb_url TEXT,
			genres TEXT,
			track_count INTEGER,
			duration_ms INTEGER,
			external_id TEXT,
			match_status TEXT NOT NULL DEFAULT 'unattempted',
			last_attempted INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_albums_artist ON albums(artist_id);
		CREATE INDEX IF NOT EXISTS idx_albums_title ON albums(title COLLATE NOCASE);
		CREATE INDEX IF NOT EXISTS idx_albums_match_status ON albums(match_status);

		CREATE TABLE IF NOT EXISTS tracks (
			id INTEGER PRIMARY KEY,
			album_id INTEGER NOT NULL REFERENCES albums(id) ON DELETE CASCADE,
			artist_id INTEGER NOT NULL REFERENCES artists(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			track_number INTEGER,
			duration_ms INTEGER,
			file_path TEXT,
			bitrate INTEGER,
			explicit INTEGER,
			external_id TEXT,
			match_status TEXT NOT NULL DEFAULT 'unattempted',
			last_attempted INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tracks_album ON tracks(album_id);
		CREATE INDEX IF NOT EXISTS idx_tracks_artist ON tracks(artist_id);
		CREATE INDEX IF NOT EXISTS idx_tracks_title ON tracks(title COLLATE NOCASE);
		CREATE INDEX IF NOT EXISTS idx_tracks_external ON tracks(external_id);
		CREATE INDEX IF NOT EXISTS idx_tracks_match_status ON tracks(match_status);

		CREATE TABLE IF NOT EXISTS watchlist_artists (
			external_artist_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			thumb_url TEXT,
			last_scan_timestamp INTEGER,
			include_albums INTEGER NOT NULL DEFAULT 1,
			include_eps INTEGER NOT NULL DEFAULT 1,
			include_singles INTEGER NOT NULL DEFAULT 1,
			include_live INTEGER NOT NULL DEFAULT 0,
			include_remixes INTEGER NOT NULL DEFAULT 0,
			include_acoustic INTEGER NOT NULL DEFAULT 0,
			include_compilations INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS wishlist (
			external_track_id TEXT PRIMARY KEY,
			descriptor_json TEXT NOT NULL,
			failure_reason TEXT NOT NULL DEFAULT '',
			source_type TEXT NOT NULL,
			source_info_json TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0,
			date_added INTEGER NOT NULL,
			last_attempted INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_wishlist_last_attempted ON wishlist(last_attempted);

		CREATE TABLE IF NOT EXISTS similar_artists (
			source_artist_id TEXT NOT NULL,
			similar_artist_id TEXT NOT NULL,
			name TEXT NOT NULL,
			external_id TEXT,
			rank INTEGER NOT NULL DEFAULT 0,
			occurrence_count INTEGER NOT NULL DEFAULT 1,
			last_refreshed INTEGER NOT NULL,
			PRIMARY KEY (source_artist_id, similar_artist_id)
		);

		CREATE INDEX IF NOT EXISTS idx_similar_occurrence ON similar_artists(occurrence_count DESC);

		CREATE TABLE IF NOT EXISTS discovery_pool (
			external_track_id TEXT PRIMARY KEY,
			external_artist_id TEXT NOT NULL,
			external_album_id TEXT NOT NULL,
			name TEXT NOT NULL,
			artist_name TEXT NOT NULL,
			album_name TEXT NOT NULL,
			cover_url TEXT,
			duration_ms INTEGER,
			popularity INTEGER NOT NULL DEFAULT 0,
			release_date TEXT,
			is_new_release INTEGER NOT NULL DEFAULT 0,
			artist_genres_json TEXT,
			track_blob_json TEXT NOT NULL,
			added_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_discovery_added ON discovery_pool(added_at);
		CREATE INDEX IF NOT EXISTS idx_discovery_popularity ON discovery_pool(popularity);

		CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		INSERT OR IGNORE INTO schema_version (version) VALUES (?)
	`, currentSchemaVersion)
	return err
}
