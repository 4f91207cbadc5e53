// Package wishlist periodically resubmits failed track requests stored
// in the wishlist, oldest attempts first.
package wishlist

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/llehouerou/attune/internal/catalog"
	"github.com/llehouerou/attune/internal/engine"
	"github.com/llehouerou/attune/internal/spotify"
)

const (
	defaultInterval  = time.Hour
	defaultBatchSize = 10
)

// Submitter is the engine surface the scheduler drives.
type Submitter interface {
	SubmitBatch(ctx context.Context, requests []engine.TrackRequest, opts engine.BatchOptions) (string, error)
	Subscribe() <-chan engine.Event
}

// Config tunes the retry cadence.
type Config struct {
	Interval  time.Duration
	BatchSize int
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
}

// Scheduler drains the wishlist on a fixed interval and keeps wishlist
// rows in sync with fulfillment outcomes.
type Scheduler struct {
	store  *catalog.Store
	engine Submitter
	cfg    Config
	log    *slog.Logger

	draining atomic.Bool
}

func New(store *catalog.Store, eng Submitter, cfg Config, log *slog.Logger) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		store:  store,
		engine: eng,
		cfg:    cfg,
		log:    log.With("component", "wishlist"),
	}
}

// Run blocks until the context is cancelled. Fulfillment events are
// consumed continuously; the drain fires on the interval.
func (s *Scheduler) Run(ctx context.Context) {
	events := s.engine.Subscribe()
	go s.consumeEvents(ctx, events)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Drain(ctx); err != nil {
				s.log.Warn("wishlist drain failed", "error", err)
			}
		}
	}
}

// Drain submits the oldest pending wishlist entries as one batch. A
// drain already in flight makes this a no-op, so a slow fulfillment
// round never stacks duplicate submissions.
func (s *Scheduler) Drain(ctx context.Context) error {
	if !s.draining.CompareAndSwap(false, true) {
		return nil
	}
	defer s.draining.Store(false)

	entries, err := s.store.OldestWishlistEntries(s.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	var requests []engine.TrackRequest
	var submitted []string
	for _, entry := range entries {
		req, ok := requestFromDescriptor(entry)
		if !ok {
			s.log.Warn("unreadable wishlist descriptor, dropping entry", "track", entry.ExternalTrackID)
			if err := s.store.RemoveFromWishlist(entry.ExternalTrackID); err != nil {
				return err
			}
			continue
		}
		requests = append(requests, req)
		submitted = append(submitted, entry.ExternalTrackID)
	}
	if len(requests) == 0 {
		return nil
	}

	_, err = s.engine.SubmitBatch(ctx, requests, engine.BatchOptions{
		SourceType: catalog.SourceWishlist,
	})
	if err != nil {
		return err
	}

	for _, id := range submitted {
		if err := s.store.TouchWishlistAttempt(id); err != nil {
			return err
		}
	}
	s.log.Info("wishlist drain submitted", "tracks", len(submitted))
	return nil
}

// consumeEvents keeps wishlist rows in sync with outcomes from every
// fulfillment source: a success anywhere clears the row, a failure
// records the attempt.
func (s *Scheduler) consumeEvents(ctx context.Context, events <-chan engine.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handleEvent(ev)
		}
	}
}

func (s *Scheduler) handleEvent(ev engine.Event) {
	if ev.ExternalTrackID == "" {
		return
	}
	switch ev.Type {
	case engine.EventTaskDone:
		if err := s.store.RemoveFromWishlist(ev.ExternalTrackID); err != nil {
			s.log.Warn("wishlist cleanup failed", "track", ev.ExternalTrackID, "error", err)
		}
	case engine.EventTaskFailed:
		if err := s.store.RecordWishlistAttempt(ev.ExternalTrackID, ev.Reason); err != nil {
			s.log.Warn("wishlist attempt record failed", "track", ev.ExternalTrackID, "error", err)
		}
	}
}

// requestFromDescriptor rebuilds a track request from the stored
// external descriptor.
func requestFromDescriptor(entry catalog.WishlistEntry) (engine.TrackRequest, bool) {
	var track spotify.Track
	if err := json.Unmarshal([]byte(entry.DescriptorJSON), &track); err != nil || track.Name == "" {
		return engine.TrackRequest{}, false
	}

	return engine.TrackRequest{
		ExternalTrackID:  track.ID,
		ExternalAlbumID:  track.Album.ID,
		ExternalArtistID: firstArtistID(track),
		Title:            track.Name,
		ArtistName:       track.ArtistName(),
		AlbumName:        track.Album.Name,
		TrackNumber:      track.TrackNumber,
		TotalTracks:      track.Album.TotalTracks,
		Year:             track.Album.Year(),
		CoverURL:         track.Album.CoverURL(),
	}, true
}

func firstArtistID(t spotify.Track) string {
	if len(t.Artists) == 0 {
		return ""
	}
	return t.Artists[0].ID
}
