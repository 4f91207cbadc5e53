// Package enrich links local catalog entities to the streaming metadata
// provider. One long-running worker walks a priority ladder, batching
// provider calls so a whole discography settles with a single request.
package enrich

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/llehouerou/attune/internal/catalog"
	"github.com/llehouerou/attune/internal/match"
	"github.com/llehouerou/attune/internal/spotify"
)

// nameMatchThreshold is the minimum name similarity to accept a provider
// result.
const nameMatchThreshold = 0.8

// Provider is the slice of the metadata client the worker needs.
type Provider interface {
	SearchArtists(ctx context.Context, query string, limit int) ([]spotify.Artist, error)
	SearchAlbums(ctx context.Context, query string, limit int) ([]spotify.Album, error)
	SearchTracks(ctx context.Context, query string, limit int) ([]spotify.Track, error)
	GetArtistAlbums(ctx context.Context, id, albumType string, limit int) ([]spotify.Album, error)
	GetAlbumTracks(ctx context.Context, id string) ([]spotify.Track, error)
}

// Config carries worker tuning. Zero values select the defaults.
type Config struct {
	// Pause between processed items.
	TickDelay time.Duration
	// Pause when the ladder is empty.
	IdleDelay time.Duration
	// Pause after an auth failure; the item is not consumed.
	AuthRetryDelay time.Duration
	SearchLimit    int
}

func (c *Config) applyDefaults() {
	if c.TickDelay <= 0 {
		c.TickDelay = time.Second
	}
	if c.IdleDelay <= 0 {
		c.IdleDelay = time.Minute
	}
	if c.AuthRetryDelay <= 0 {
		c.AuthRetryDelay = 30 * time.Second
	}
	if c.SearchLimit <= 0 {
		c.SearchLimit = 5
	}
}

// Worker is the enrichment loop.
type Worker struct {
	store    *catalog.Store
	provider Provider
	cfg      Config
	log      *slog.Logger
}

func New(store *catalog.Store, provider Provider, cfg Config, log *slog.Logger) *Worker {
	cfg.applyDefaults()
	return &Worker{
		store:    store,
		provider: provider,
		cfg:      cfg,
		log:      log.With("component", "enrich"),
	}
}

// Run processes ladder items until the context is cancelled. The first
// provider call acquires the token; an unauthorized response backs off
// without consuming the item, so the next tick retries it.
func (w *Worker) Run(ctx context.Context) {
	for {
		delay := w.cfg.TickDelay

		worked, err := w.processNext(ctx)
		switch {
		case errors.Is(err, spotify.ErrUnauthorized):
			delay = w.cfg.AuthRetryDelay
		case err != nil:
			w.log.Warn("enrichment item failed", "error", err)
		case !worked:
			delay = w.cfg.IdleDelay
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// processNext picks and handles the highest-priority pending item.
// Returns false when the ladder is empty.
func (w *Worker) processNext(ctx context.Context) (bool, error) {
	if artist, err := w.store.PickUnattemptedArtist(); err != nil {
		return false, err
	} else if artist != nil {
		return true, w.enrichArtist(ctx, artist)
	}

	if artist, err := w.store.PickAlbumBatchArtist(); err != nil {
		return false, err
	} else if artist != nil {
		return true, w.enrichAlbumBatch(ctx, artist)
	}

	if album, err := w.store.PickTrackBatchAlbum(); err != nil {
		return false, err
	} else if album != nil {
		return true, w.enrichTrackBatch(ctx, album)
	}

	if album, err := w.store.PickFallbackAlbum(); err != nil {
		return false, err
	} else if album != nil {
		return true, w.enrichFallbackAlbum(ctx, album)
	}

	if track, err := w.store.PickFallbackTrack(); err != nil {
		return false, err
	} else if track != nil {
		return true, w.enrichFallbackTrack(ctx, track)
	}

	retry, err := w.store.PickStaleRetry()
	if err != nil || retry == nil {
		return false, err
	}
	return true, w.requeue(retry)
}

// requeue resets a re-eligible failed item to unattempted so it flows
// back through the normal tiers on the next pass.
func (w *Worker) requeue(r *catalog.EnrichmentRetry) error {
	w.log.Info("requeueing stale enrichment item", "kind", r.Kind, "id", r.ID)
	switch r.Kind {
	case catalog.RetryArtist:
		return w.store.RequeueArtistMatch(r.ID)
	case catalog.RetryAlbum:
		return w.store.SetAlbumMatch(r.ID, catalog.MatchUnattempted, "")
	case catalog.RetryTrack:
		return w.store.SetTrackMatch(r.ID, catalog.MatchUnattempted, "")
	}
	return nil
}

func (w *Worker) enrichArtist(ctx context.Context, artist *catalog.Artist) error {
	results, err := w.provider.SearchArtists(ctx, artist.Name, w.cfg.SearchLimit)
	if err != nil {
		return w.markLookupError(err, func() error {
			return w.store.SetArtistMatch(artist.ID, catalog.MatchError, "")
		})
	}

	for _, r := range results {
		if !acceptableID(r.ID) {
			continue
		}
		if match.Similarity(artist.Name, r.Name) < nameMatchThreshold {
			continue
		}
		w.log.Info("artist matched", "artist", artist.Name, "external_id", r.ID)
		if err := w.store.SetArtistMatch(artist.ID, catalog.MatchMatched, r.ID); err != nil {
			return err
		}
		return w.fillArtistDetails(artist, r)
	}

	w.log.Debug("artist not found", "artist", artist.Name)
	return w.store.SetArtistMatch(artist.ID, catalog.MatchNotFound, "")
}

// fillArtistDetails backfills thumb and genres the catalog sync did not
// have.
func (w *Worker) fillArtistDetails(artist *catalog.Artist, r spotify.Artist) error {
	changed := false
	if artist.ThumbURL == "" && len(r.Images) > 0 {
		artist.ThumbURL = r.Images[0].URL
		changed = true
	}
	if len(artist.Genres) == 0 && len(r.Genres) > 0 {
		artist.Genres = r.Genres
		changed = true
	}
	if !changed {
		return nil
	}
	artist.ExternalID = r.ID
	artist.MatchStatus = catalog.MatchMatched
	return w.store.InsertOrUpdateArtist(artist)
}

// enrichAlbumBatch settles all unattempted albums of a matched artist
// with one discography fetch.
func (w *Worker) enrichAlbumBatch(ctx context.Context, artist *catalog.Artist) error {
	pending, err := w.store.UnattemptedAlbums(artist.ID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	remote, err := w.provider.GetArtistAlbums(ctx, artist.ExternalID, "album,single,compilation", 50)
	if err != nil {
		return w.markLookupError(err, func() error {
			return w.store.MarkAlbumsError(artist.ID)
		})
	}

	for i := range pending {
		album := &pending[i]
		best := bestAlbum(album.Title, remote)
		if best == nil {
			if err := w.store.SetAlbumMatch(album.ID, catalog.MatchNotFound, ""); err != nil {
				return err
			}
			continue
		}
		if err := w.store.SetAlbumMatch(album.ID, catalog.MatchMatched, best.ID); err != nil {
			return err
		}
		if err := w.fillAlbumDetails(album, *best); err != nil {
			return err
		}
	}
	w.log.Info("album batch enriched", "artist", artist.Name, "albums", len(pending))
	return nil
}

func (w *Worker) fillAlbumDetails(album *catalog.Album, r spotify.Album) error {
	changed := false
	if album.Year == 0 && r.Year() > 0 {
		album.Year = r.Year()
		changed = true
	}
	if album.ThumbURL == "" && r.CoverURL() != "" {
		album.ThumbURL = r.CoverURL()
		changed = true
	}
	if album.TrackCount == 0 && r.TotalTracks > 0 {
		album.TrackCount = r.TotalTracks
		changed = true
	}
	if !changed {
		return nil
	}
	album.ExternalID = r.ID
	album.MatchStatus = catalog.MatchMatched
	return w.store.InsertOrUpdateAlbum(album)
}

// enrichTrackBatch settles all unattempted tracks of a matched album
// with one tracklist fetch. Track number plus name wins over name alone.
func (w *Worker) enrichTrackBatch(ctx context.Context, album *catalog.Album) error {
	pending, err := w.store.UnattemptedTracks(album.ID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	remote, err := w.provider.GetAlbumTracks(ctx, album.ExternalID)
	if err != nil {
		return w.markLookupError(err, func() error {
			return w.store.MarkTracksError(album.ID)
		})
	}

	for i := range pending {
		track := &pending[i]
		best := bestTrack(track.Title, track.TrackNumber, remote)
		if best == nil {
			if err := w.store.SetTrackMatch(track.ID, catalog.MatchNotFound, ""); err != nil {
				return err
			}
			continue
		}
		if err := w.store.SetTrackMatch(track.ID, catalog.MatchMatched, best.ID); err != nil {
			return err
		}
		if track.Explicit == nil {
			if err := w.store.SetTrackExplicit(track.ID, best.Explicit); err != nil {
				return err
			}
		}
	}
	w.log.Info("track batch enriched", "album", album.Title, "tracks", len(pending))
	return nil
}

// enrichFallbackAlbum handles an album whose parent artist never
// matched, via a query-as-string search.
func (w *Worker) enrichFallbackAlbum(ctx context.Context, album *catalog.Album) error {
	query := album.Title
	if artist, err := w.store.GetArtist(album.ArtistID); err == nil && artist != nil {
		query = artist.Name + " " + album.Title
	}

	results, err := w.provider.SearchAlbums(ctx, query, w.cfg.SearchLimit)
	if err != nil {
		return w.markLookupError(err, func() error {
			return w.store.SetAlbumMatch(album.ID, catalog.MatchError, "")
		})
	}

	for _, r := range results {
		if !acceptableID(r.ID) {
			continue
		}
		if match.Similarity(album.Title, r.Name) < nameMatchThreshold {
			continue
		}
		if err := w.store.SetAlbumMatch(album.ID, catalog.MatchMatched, r.ID); err != nil {
			return err
		}
		return w.fillAlbumDetails(album, r)
	}
	return w.store.SetAlbumMatch(album.ID, catalog.MatchNotFound, "")
}

func (w *Worker) enrichFallbackTrack(ctx context.Context, track *catalog.Track) error {
	query := match.CleanTrackNameForSearch(track.Title)
	if artist, err := w.store.GetArtist(track.ArtistID); err == nil && artist != nil {
		query = artist.Name + " " + query
	}

	results, err := w.provider.SearchTracks(ctx, query, w.cfg.SearchLimit)
	if err != nil {
		return w.markLookupError(err, func() error {
			return w.store.SetTrackMatch(track.ID, catalog.MatchError, "")
		})
	}

	for _, r := range results {
		if !acceptableID(r.ID) {
			continue
		}
		if match.Similarity(track.Title, r.Name) < nameMatchThreshold {
			continue
		}
		return w.store.SetTrackMatch(track.ID, catalog.MatchMatched, r.ID)
	}
	return w.store.SetTrackMatch(track.ID, catalog.MatchNotFound, "")
}

// markLookupError records a provider failure. Auth failures never mark
// the entity; the item stays pending and the loop backs off instead.
func (w *Worker) markLookupError(err error, mark func() error) error {
	if errors.Is(err, spotify.ErrUnauthorized) {
		return err
	}
	if markErr := mark(); markErr != nil {
		return markErr
	}
	return err
}

func bestAlbum(title string, remote []spotify.Album) *spotify.Album {
	var best *spotify.Album
	bestScore := nameMatchThreshold
	for i := range remote {
		if !acceptableID(remote[i].ID) {
			continue
		}
		if score := match.Similarity(title, remote[i].Name); score >= bestScore {
			bestScore = score
			best = &remote[i]
		}
	}
	return best
}

func bestTrack(title string, number int, remote []spotify.Track) *spotify.Track {
	if number > 0 {
		for i := range remote {
			if remote[i].TrackNumber == number &&
				match.Similarity(title, remote[i].Name) >= nameMatchThreshold &&
				acceptableID(remote[i].ID) {
				return &remote[i]
			}
		}
	}
	var best *spotify.Track
	bestScore := nameMatchThreshold
	for i := range remote {
		if !acceptableID(remote[i].ID) {
			continue
		}
		if score := match.Similarity(title, remote[i].Name); score >= bestScore {
			bestScore = score
			best = &remote[i]
		}
	}
	return best
}

// acceptableID rejects purely numeric ids, which indicate a
// misconfigured secondary provider rather than a real identity.
func acceptableID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return true
		}
	}
	return false
}
