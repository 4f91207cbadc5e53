package wishlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llehouerou/attune/internal/catalog"
	"github.com/llehouerou/attune/internal/engine"
	"github.com/llehouerou/attune/internal/spotify"
)

type fakeSubmitter struct {
	events chan engine.Event
	err    error

	mu       sync.Mutex
	batches  [][]engine.TrackRequest
	lastOpts engine.BatchOptions
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{events: make(chan engine.Event, 16)}
}

func (f *fakeSubmitter) SubmitBatch(_ context.Context, requests []engine.TrackRequest, opts engine.BatchOptions) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, requests)
	f.lastOpts = opts
	return "batch-1", nil
}

func (f *fakeSubmitter) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeSubmitter) Subscribe() <-chan engine.Event { return f.events }

func newTestScheduler(t *testing.T, sub *fakeSubmitter) (*Scheduler, *catalog.Store) {
	t.Helper()
	store, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"), 4)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(store, sub, Config{}, log), store
}

func seedWishlist(t *testing.T, store *catalog.Store, id, title, artist string) {
	t.Helper()
	descriptor, err := json.Marshal(spotify.Track{
		ID:      id,
		Name:    title,
		Artists: []spotify.Artist{{ID: "sp-artist", Name: artist}},
		Album:   spotify.Album{ID: "sp-album", Name: "Album", TotalTracks: 10, ReleaseDate: "2019-05-17"},
	})
	require.NoError(t, err)
	require.NoError(t, store.AddToWishlist(&catalog.WishlistEntry{
		ExternalTrackID: id,
		DescriptorJSON:  string(descriptor),
		FailureReason:   "no candidates found",
		SourceType:      catalog.SourceWatchlist,
	}))
}

func TestDrainSubmitsOldestEntries(t *testing.T) {
	sub := newFakeSubmitter()
	s, store := newTestScheduler(t, sub)
	seedWishlist(t, store, "tr-1", "Archangel", "Burial")
	seedWishlist(t, store, "tr-2", "Shell of Light", "Burial")

	require.NoError(t, s.Drain(context.Background()))

	require.Len(t, sub.batches, 1)
	batch := sub.batches[0]
	require.Len(t, batch, 2)
	assert.Equal(t, catalog.SourceWishlist, sub.lastOpts.SourceType)
	assert.Equal(t, "Archangel", batch[0].Title)
	assert.Equal(t, "Burial", batch[0].ArtistName)
	assert.Equal(t, 2019, batch[0].Year)

	// Submission stamps the attempt so the next drain rotates to other
	// entries first.
	entry, err := store.GetWishlistEntry("tr-1")
	require.NoError(t, err)
	assert.False(t, entry.LastAttempted.IsZero())
}

// Entries the fulfillment engine wrote after a permanent failure must
// round-trip through the drain: decoded, resubmitted, and kept until a
// success event clears them.
func TestDrainResubmitsEngineRoutedEntries(t *testing.T) {
	sub := newFakeSubmitter()
	s, store := newTestScheduler(t, sub)

	descriptor, err := engine.WishlistDescriptor(engine.TrackRequest{
		ExternalTrackID:  "tr-1",
		ExternalAlbumID:  "al-1",
		ExternalArtistID: "ar-1",
		Title:            "Archangel",
		ArtistName:       "Burial",
		AlbumName:        "Untrue",
		TrackNumber:      2,
		TotalTracks:      13,
		Year:             2007,
	})
	require.NoError(t, err)
	require.NoError(t, store.AddToWishlist(&catalog.WishlistEntry{
		ExternalTrackID: "tr-1",
		DescriptorJSON:  descriptor,
		FailureReason:   "download stalled",
		SourceType:      catalog.SourceWatchlist,
	}))

	require.NoError(t, s.Drain(context.Background()))

	require.Len(t, sub.batches, 1)
	require.Len(t, sub.batches[0], 1)
	req := sub.batches[0][0]
	assert.Equal(t, "tr-1", req.ExternalTrackID)
	assert.Equal(t, "al-1", req.ExternalAlbumID)
	assert.Equal(t, "ar-1", req.ExternalArtistID)
	assert.Equal(t, "Archangel", req.Title)
	assert.Equal(t, "Burial", req.ArtistName)
	assert.Equal(t, "Untrue", req.AlbumName)
	assert.Equal(t, 2, req.TrackNumber)
	assert.Equal(t, 2007, req.Year)

	entry, err := store.GetWishlistEntry("tr-1")
	require.NoError(t, err)
	require.NotNil(t, entry, "entry stays until a success event clears it")
}

func TestDrainCapsBatchSize(t *testing.T) {
	sub := newFakeSubmitter()
	s, store := newTestScheduler(t, sub)
	for i := 0; i < 15; i++ {
		seedWishlist(t, store, fmt.Sprintf("tr-%02d", i), fmt.Sprintf("Track %d", i), "X")
	}

	require.NoError(t, s.Drain(context.Background()))

	require.Len(t, sub.batches, 1)
	assert.Len(t, sub.batches[0], defaultBatchSize)
}

func TestDrainPrefersNeverAttempted(t *testing.T) {
	sub := newFakeSubmitter()
	s, store := newTestScheduler(t, sub)
	seedWishlist(t, store, "tr-old", "Old", "X")
	require.NoError(t, store.TouchWishlistAttempt("tr-old"))
	seedWishlist(t, store, "tr-new", "New", "X")

	s.cfg.BatchSize = 1
	require.NoError(t, s.Drain(context.Background()))

	require.Len(t, sub.batches, 1)
	require.Len(t, sub.batches[0], 1)
	assert.Equal(t, "tr-new", sub.batches[0][0].ExternalTrackID)
}

func TestDrainDropsUnreadableDescriptors(t *testing.T) {
	sub := newFakeSubmitter()
	s, store := newTestScheduler(t, sub)
	require.NoError(t, store.AddToWishlist(&catalog.WishlistEntry{
		ExternalTrackID: "tr-bad",
		DescriptorJSON:  "{not json",
		SourceType:      catalog.SourceManual,
	}))

	require.NoError(t, s.Drain(context.Background()))

	assert.Empty(t, sub.batches, "nothing submittable")
	entry, err := store.GetWishlistEntry("tr-bad")
	require.NoError(t, err)
	assert.Nil(t, entry, "poison entry is removed")
}

func TestDrainSubmitErrorKeepsEntriesUntouched(t *testing.T) {
	sub := newFakeSubmitter()
	sub.err = errors.New("daemon unavailable")
	s, store := newTestScheduler(t, sub)
	seedWishlist(t, store, "tr-1", "Archangel", "Burial")

	require.Error(t, s.Drain(context.Background()))

	entry, err := store.GetWishlistEntry("tr-1")
	require.NoError(t, err)
	assert.True(t, entry.LastAttempted.IsZero(), "failed submission does not consume the attempt")
}

func TestDrainNoOpWhenEmpty(t *testing.T) {
	sub := newFakeSubmitter()
	s, _ := newTestScheduler(t, sub)

	require.NoError(t, s.Drain(context.Background()))
	assert.Empty(t, sub.batches)
}

func TestEventsSyncWishlistRows(t *testing.T) {
	sub := newFakeSubmitter()
	s, store := newTestScheduler(t, sub)
	seedWishlist(t, store, "tr-done", "Done", "X")
	seedWishlist(t, store, "tr-fail", "Fail", "X")

	s.handleEvent(engine.Event{Type: engine.EventTaskDone, ExternalTrackID: "tr-done"})
	s.handleEvent(engine.Event{Type: engine.EventTaskFailed, ExternalTrackID: "tr-fail", Reason: "download stalled"})

	done, err := store.GetWishlistEntry("tr-done")
	require.NoError(t, err)
	assert.Nil(t, done, "success clears the row")

	failed, err := store.GetWishlistEntry("tr-fail")
	require.NoError(t, err)
	require.NotNil(t, failed)
	assert.Equal(t, 1, failed.RetryCount)
	assert.Equal(t, "download stalled", failed.FailureReason)
}

func TestRunDrainsOnInterval(t *testing.T) {
	sub := newFakeSubmitter()
	s, store := newTestScheduler(t, sub)
	s.cfg.Interval = 20 * time.Millisecond
	seedWishlist(t, store, "tr-1", "Archangel", "Burial")

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	assert.Eventually(t, func() bool {
		return sub.batchCount() > 0
	}, time.Second, 5*time.Millisecond)
	cancel()
}
