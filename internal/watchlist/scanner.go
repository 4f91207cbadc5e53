// Package watchlist periodically diffs watched artists' discographies
// against the local catalog, feeds the gaps into the wishlist, and
// maintains the similar-artist discovery pool behind the curated
// playlists.
package watchlist

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"strconv"
	"time"

	"github.com/llehouerou/attune/internal/catalog"
	"github.com/llehouerou/attune/internal/lastfm"
	"github.com/llehouerou/attune/internal/match"
	"github.com/llehouerou/attune/internal/spotify"
)

const (
	maxArtistsPerScan    = 50
	mustScanAge          = 7 * 24 * time.Hour
	similarRefreshAge    = 30 * 24 * time.Hour
	similarFetchLimit    = 20
	trackExistsThreshold = 0.7
	albumExistsThreshold = 0.85

	lookbackKey     = "discovery_lookback_period"
	defaultLookback = "30"
)

// Provider is the slice of the metadata client the scanner needs.
type Provider interface {
	GetArtist(ctx context.Context, id string) (*spotify.Artist, error)
	GetArtistAlbums(ctx context.Context, id, albumType string, limit int) ([]spotify.Album, error)
	GetAlbumTracks(ctx context.Context, id string) ([]spotify.Track, error)
	SearchArtists(ctx context.Context, query string, limit int) ([]spotify.Artist, error)
}

// SimilarSource supplies similar-artist suggestions.
type SimilarSource interface {
	GetSimilarArtists(artist string, limit int) ([]lastfm.SimilarArtist, error)
}

// Scanner runs watchlist scans and discovery-pool maintenance.
type Scanner struct {
	store    *catalog.Store
	provider Provider
	similar  SimilarSource
	log      *slog.Logger

	rng *rand.Rand
}

func New(store *catalog.Store, provider Provider, similar SimilarSource, log *slog.Logger) *Scanner {
	return &Scanner{
		store:    store,
		provider: provider,
		similar:  similar,
		log:      log.With("component", "watchlist"),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// sourceInfo is the provenance blob attached to wishlist entries created
// by a scan.
type sourceInfo struct {
	ArtistName string `json:"artist_name"`
	AlbumName  string `json:"album_name"`
	ScannedAt  int64  `json:"scanned_at"`
}

// Run executes one full scan pass: selected artists, then discovery
// pool, then curated playlist refresh.
func (s *Scanner) Run(ctx context.Context) error {
	entries, err := s.store.ListWatchlistArtists()
	if err != nil {
		return err
	}
	selected := s.selectArtists(entries)
	s.log.Info("watchlist scan starting", "watched", len(entries), "selected", len(selected))

	for _, entry := range selected {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.scanArtist(ctx, entry); err != nil {
			s.log.Warn("artist scan failed", "artist", entry.Name, "error", err)
			continue
		}
	}

	if err := s.populateDiscoveryPool(ctx); err != nil {
		s.log.Warn("discovery pool population failed", "error", err)
	}
	if err := s.refreshCuratedPlaylists(); err != nil {
		s.log.Warn("curated playlist refresh failed", "error", err)
	}
	return nil
}

// selectArtists partitions the watchlist into must-scan (never scanned,
// or stale past a week) and can-skip, takes all must-scan up to the cap,
// tops up with a random sample of the rest, and shuffles.
func (s *Scanner) selectArtists(entries []catalog.WatchlistEntry) []catalog.WatchlistEntry {
	var mustScan, canSkip []catalog.WatchlistEntry
	cutoff := time.Now().Add(-mustScanAge)
	for _, e := range entries {
		if e.LastScan.IsZero() || e.LastScan.Before(cutoff) {
			mustScan = append(mustScan, e)
		} else {
			canSkip = append(canSkip, e)
		}
	}

	if len(mustScan) > maxArtistsPerScan {
		mustScan = mustScan[:maxArtistsPerScan]
	}
	selected := mustScan

	if room := maxArtistsPerScan - len(selected); room > 0 && len(canSkip) > 0 {
		s.rng.Shuffle(len(canSkip), func(i, j int) {
			canSkip[i], canSkip[j] = canSkip[j], canSkip[i]
		})
		if room > len(canSkip) {
			room = len(canSkip)
		}
		selected = append(selected, canSkip[:room]...)
	}

	s.rng.Shuffle(len(selected), func(i, j int) {
		selected[i], selected[j] = selected[j], selected[i]
	})
	return selected
}

func (s *Scanner) scanArtist(ctx context.Context, entry catalog.WatchlistEntry) error {
	scanTime := time.Now()

	if entry.ThumbURL == "" {
		s.refreshArtistImage(ctx, &entry)
	}

	cutoff := s.releaseCutoff(entry)
	albums, err := s.provider.GetArtistAlbums(ctx, entry.ExternalArtistID, "album,single", 50)
	if err != nil {
		return err
	}

	missing := 0
	for _, album := range albums {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !releaseAfter(album.ReleaseDate, cutoff) {
			continue
		}
		if !s.wantRelease(entry, album) {
			continue
		}
		owned, err := s.albumAlreadyOwned(entry, album)
		if err != nil {
			return err
		}
		if owned {
			continue
		}

		tracks, err := s.provider.GetAlbumTracks(ctx, album.ID)
		if err != nil {
			s.log.Warn("tracklist fetch failed", "album", album.Name, "error", err)
			continue
		}
		n, err := s.collectMissingTracks(entry, album, tracks, scanTime)
		if err != nil {
			return err
		}
		missing += n
	}

	if err := s.store.MarkWatchlistScanned(entry.ExternalArtistID, scanTime); err != nil {
		return err
	}
	if missing > 0 {
		s.log.Info("scan found missing tracks", "artist", entry.Name, "missing", missing)
	}

	return s.refreshSimilarArtists(entry)
}

func (s *Scanner) refreshArtistImage(ctx context.Context, entry *catalog.WatchlistEntry) {
	artist, err := s.provider.GetArtist(ctx, entry.ExternalArtistID)
	if err != nil || artist == nil || len(artist.Images) == 0 {
		return
	}
	entry.ThumbURL = artist.Images[0].URL
	if err := s.store.AddWatchlistArtist(entry); err != nil {
		s.log.Debug("artist image refresh failed", "artist", entry.Name, "error", err)
	}
}

// albumAlreadyOwned reports whether the catalog already holds enough of
// the release that the per-track diff can be skipped.
func (s *Scanner) albumAlreadyOwned(entry catalog.WatchlistEntry, album spotify.Album) (bool, error) {
	local, _, err := s.store.CheckAlbumExists(album.Name, entry.Name, albumExistsThreshold)
	if err != nil || local == nil {
		return false, err
	}
	_, _, complete, err := s.store.CheckAlbumCompleteness(local.ID, album.TotalTracks)
	if err != nil {
		return false, err
	}
	return complete, nil
}

// releaseCutoff returns the oldest release date a scan should consider:
// the later of the last scan and the configured lookback window. The
// "all" setting disables the lookback term.
func (s *Scanner) releaseCutoff(entry catalog.WatchlistEntry) time.Time {
	cutoff := entry.LastScan

	value, err := s.store.GetMetadata(lookbackKey, defaultLookback)
	if err != nil || value == "all" {
		return cutoff
	}
	days, err := strconv.Atoi(value)
	if err != nil || days <= 0 {
		days = 30
	}
	lookback := time.Now().AddDate(0, 0, -days)
	if lookback.After(cutoff) {
		cutoff = lookback
	}
	return cutoff
}

// wantRelease applies the entry's release-type and compilation filters.
func (s *Scanner) wantRelease(entry catalog.WatchlistEntry, album spotify.Album) bool {
	if album.AlbumType == "compilation" || match.IsCompilationAlbum(album.Name) {
		return entry.IncludeCompilations
	}

	switch match.CategorizeRelease(album.TotalTracks) {
	case match.CategorySingle:
		return entry.IncludeSingles
	case match.CategoryEP:
		return entry.IncludeEPs
	default:
		return entry.IncludeAlbums
	}
}

// wantTrack applies the entry's content filters to one track name.
func wantTrack(entry catalog.WatchlistEntry, name string) bool {
	if !entry.IncludeLive && match.IsLiveVersion(name) {
		return false
	}
	if !entry.IncludeRemixes && match.IsRemixVersion(name) {
		return false
	}
	if !entry.IncludeAcoustic && match.IsAcousticVersion(name) {
		return false
	}
	return true
}

// collectMissingTracks wishlists every filtered track that is absent
// from the local catalog.
func (s *Scanner) collectMissingTracks(entry catalog.WatchlistEntry, album spotify.Album, tracks []spotify.Track, scanTime time.Time) (int, error) {
	info, _ := json.Marshal(sourceInfo{
		ArtistName: entry.Name,
		AlbumName:  album.Name,
		ScannedAt:  scanTime.Unix(),
	})

	missing := 0
	for _, track := range tracks {
		if !wantTrack(entry, track.Name) {
			continue
		}

		existing, _, err := s.store.CheckTrackExists(track.Name, entry.Name, trackExistsThreshold)
		if err != nil {
			return missing, err
		}
		if existing != nil {
			continue
		}

		// Album-tracks payloads omit the album; backfill so the stored
		// descriptor is replayable.
		if track.Album.ID == "" {
			track.Album = album
		}
		if len(track.Artists) == 0 {
			track.Artists = []spotify.Artist{{ID: entry.ExternalArtistID, Name: entry.Name}}
		}
		descriptor, err := json.Marshal(track)
		if err != nil {
			continue
		}
		err = s.store.AddToWishlist(&catalog.WishlistEntry{
			ExternalTrackID: track.ID,
			DescriptorJSON:  string(descriptor),
			FailureReason:   "missing from library",
			SourceType:      catalog.SourceWatchlist,
			SourceInfoJSON:  string(info),
		})
		if err != nil {
			return missing, err
		}
		missing++
	}
	return missing, nil
}

// refreshSimilarArtists refetches the similar-artist edges for one
// watched artist when the cache is older than a month.
func (s *Scanner) refreshSimilarArtists(entry catalog.WatchlistEntry) error {
	stale, err := s.store.SimilarArtistsStale(entry.ExternalArtistID, similarRefreshAge)
	if err != nil || !stale {
		return err
	}

	similars, err := s.similar.GetSimilarArtists(entry.Name, similarFetchLimit)
	if err != nil {
		s.log.Debug("similar artist fetch failed", "artist", entry.Name, "error", err)
		return nil
	}

	for rank, sim := range similars {
		err := s.store.UpsertSimilarArtist(&catalog.SimilarArtist{
			SourceArtistID:  entry.ExternalArtistID,
			SimilarArtistID: match.Normalize(sim.Name),
			Name:            sim.Name,
			Rank:            rank + 1,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// releaseAfter reports whether a provider release date string falls
// after the cutoff. Dates may be YYYY, YYYY-MM, or YYYY-MM-DD.
func releaseAfter(releaseDate string, cutoff time.Time) bool {
	if cutoff.IsZero() {
		return true
	}
	t, ok := parseReleaseDate(releaseDate)
	if !ok {
		return true
	}
	return t.After(cutoff)
}

func parseReleaseDate(s string) (time.Time, bool) {
	for _, layout := range []string{"2006-01-02", "2006-01", "2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
