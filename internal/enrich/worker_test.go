package enrich

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llehouerou/attune/internal/catalog"
	"github.com/llehouerou/attune/internal/spotify"
)

type fakeProvider struct {
	artists []spotify.Artist
	albums  []spotify.Album
	tracks  []spotify.Track
	err     error

	artistAlbumCalls int
	albumTrackCalls  int
	searchCalls      int
}

func (f *fakeProvider) SearchArtists(_ context.Context, _ string, _ int) ([]spotify.Artist, error) {
	f.searchCalls++
	return f.artists, f.err
}

func (f *fakeProvider) SearchAlbums(_ context.Context, _ string, _ int) ([]spotify.Album, error) {
	f.searchCalls++
	return f.albums, f.err
}

func (f *fakeProvider) SearchTracks(_ context.Context, _ string, _ int) ([]spotify.Track, error) {
	f.searchCalls++
	return f.tracks, f.err
}

func (f *fakeProvider) GetArtistAlbums(_ context.Context, _, _ string, _ int) ([]spotify.Album, error) {
	f.artistAlbumCalls++
	return f.albums, f.err
}

func (f *fakeProvider) GetAlbumTracks(_ context.Context, _ string) ([]spotify.Track, error) {
	f.albumTrackCalls++
	return f.tracks, f.err
}

func newTestWorker(t *testing.T, p *fakeProvider) (*Worker, *catalog.Store) {
	t.Helper()
	store, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"), 4)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(store, p, Config{}, log), store
}

func TestEnrichArtistMatches(t *testing.T) {
	p := &fakeProvider{
		artists: []spotify.Artist{
			{ID: "sp-1", Name: "Boards of Canada", Genres: []string{"idm"}, Images: []spotify.Image{{URL: "http://img"}}},
		},
	}
	w, store := newTestWorker(t, p)
	require.NoError(t, store.InsertOrUpdateArtist(&catalog.Artist{ID: 1, Name: "Boards of Canada"}))

	worked, err := w.processNext(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)

	a, err := store.GetArtist(1)
	require.NoError(t, err)
	assert.Equal(t, catalog.MatchMatched, a.MatchStatus)
	assert.Equal(t, "sp-1", a.ExternalID)
	assert.Equal(t, "http://img", a.ThumbURL)
	assert.Equal(t, []string{"idm"}, a.Genres)
}

func TestEnrichArtistRejectsNumericID(t *testing.T) {
	p := &fakeProvider{
		artists: []spotify.Artist{
			{ID: "123456", Name: "Boards of Canada"},
		},
	}
	w, store := newTestWorker(t, p)
	require.NoError(t, store.InsertOrUpdateArtist(&catalog.Artist{ID: 1, Name: "Boards of Canada"}))

	_, err := w.processNext(context.Background())
	require.NoError(t, err)

	a, err := store.GetArtist(1)
	require.NoError(t, err)
	assert.Equal(t, catalog.MatchNotFound, a.MatchStatus)
}

func TestEnrichArtistRejectsDissimilarName(t *testing.T) {
	p := &fakeProvider{
		artists: []spotify.Artist{{ID: "sp-x", Name: "Completely Different Band"}},
	}
	w, store := newTestWorker(t, p)
	require.NoError(t, store.InsertOrUpdateArtist(&catalog.Artist{ID: 1, Name: "Boards of Canada"}))

	_, err := w.processNext(context.Background())
	require.NoError(t, err)

	a, err := store.GetArtist(1)
	require.NoError(t, err)
	assert.Equal(t, catalog.MatchNotFound, a.MatchStatus)
}

func TestAlbumBatchUsesOneCall(t *testing.T) {
	p := &fakeProvider{
		albums: []spotify.Album{
			{ID: "al-1", Name: "Music Has the Right to Children", ReleaseDate: "1998-04-20", TotalTracks: 17},
			{ID: "al-2", Name: "Geogaddi", ReleaseDate: "2002-02-18"},
		},
	}
	w, store := newTestWorker(t, p)
	require.NoError(t, store.InsertOrUpdateArtist(&catalog.Artist{
		ID: 1, Name: "Boards of Canada", ExternalID: "sp-1", MatchStatus: catalog.MatchMatched,
	}))
	require.NoError(t, store.InsertOrUpdateAlbum(&catalog.Album{ID: 10, ArtistID: 1, Title: "Geogaddi"}))
	require.NoError(t, store.InsertOrUpdateAlbum(&catalog.Album{ID: 11, ArtistID: 1, Title: "Music Has the Right to Children"}))
	require.NoError(t, store.InsertOrUpdateAlbum(&catalog.Album{ID: 12, ArtistID: 1, Title: "Not a Real Album"}))

	worked, err := w.processNext(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)
	assert.Equal(t, 1, p.artistAlbumCalls, "one discography call settles the batch")

	albums, err := store.GetAlbumsByArtist(1)
	require.NoError(t, err)
	byID := map[int64]catalog.Album{}
	for _, a := range albums {
		byID[a.ID] = a
	}
	assert.Equal(t, catalog.MatchMatched, byID[10].MatchStatus)
	assert.Equal(t, "al-2", byID[10].ExternalID)
	assert.Equal(t, 2002, byID[10].Year)
	assert.Equal(t, catalog.MatchMatched, byID[11].MatchStatus)
	assert.Equal(t, catalog.MatchNotFound, byID[12].MatchStatus)
}

func TestAlbumBatchFailureBulkMarksError(t *testing.T) {
	p := &fakeProvider{err: errors.New("boom")}
	w, store := newTestWorker(t, p)
	require.NoError(t, store.InsertOrUpdateArtist(&catalog.Artist{
		ID: 1, Name: "X", ExternalID: "sp-1", MatchStatus: catalog.MatchMatched,
	}))
	require.NoError(t, store.InsertOrUpdateAlbum(&catalog.Album{ID: 10, ArtistID: 1, Title: "A"}))
	require.NoError(t, store.InsertOrUpdateAlbum(&catalog.Album{ID: 11, ArtistID: 1, Title: "B"}))

	_, err := w.processNext(context.Background())
	require.Error(t, err)

	albums, err := store.GetAlbumsByArtist(1)
	require.NoError(t, err)
	for _, a := range albums {
		assert.Equal(t, catalog.MatchError, a.MatchStatus)
	}
}

func TestTrackBatchPrefersNumberMatch(t *testing.T) {
	p := &fakeProvider{
		tracks: []spotify.Track{
			{ID: "tr-1", Name: "Intro", TrackNumber: 1, Explicit: false},
			{ID: "tr-2", Name: "Archangel", TrackNumber: 2, Explicit: true},
		},
	}
	w, store := newTestWorker(t, p)
	require.NoError(t, store.InsertOrUpdateArtist(&catalog.Artist{
		ID: 1, Name: "Burial", ExternalID: "sp-1", MatchStatus: catalog.MatchMatched,
	}))
	require.NoError(t, store.InsertOrUpdateAlbum(&catalog.Album{
		ID: 10, ArtistID: 1, Title: "Untrue", ExternalID: "al-1", MatchStatus: catalog.MatchMatched,
	}))
	require.NoError(t, store.InsertOrUpdateTrack(&catalog.Track{ID: 100, AlbumID: 10, ArtistID: 1, Title: "Archangel", TrackNumber: 2}))

	worked, err := w.processNext(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)
	assert.Equal(t, 1, p.albumTrackCalls)

	tr, err := store.GetTrack(100)
	require.NoError(t, err)
	assert.Equal(t, "tr-2", tr.ExternalID)
	require.NotNil(t, tr.Explicit)
	assert.True(t, *tr.Explicit)
}

func TestAuthFailureDoesNotConsumeItem(t *testing.T) {
	p := &fakeProvider{err: spotify.ErrUnauthorized}
	w, store := newTestWorker(t, p)
	require.NoError(t, store.InsertOrUpdateArtist(&catalog.Artist{ID: 1, Name: "Burial"}))

	_, err := w.processNext(context.Background())
	require.ErrorIs(t, err, spotify.ErrUnauthorized)

	// Entity stays unattempted; it will be retried after the backoff.
	a, err := store.GetArtist(1)
	require.NoError(t, err)
	assert.Equal(t, catalog.MatchUnattempted, a.MatchStatus)
}

// The loop starts working immediately after boot; it does not wait for
// some other caller to acquire the provider token first.
func TestRunEnrichesFromColdStart(t *testing.T) {
	p := &fakeProvider{
		artists: []spotify.Artist{{ID: "sp-1", Name: "Burial"}},
	}
	w, store := newTestWorker(t, p)
	require.NoError(t, store.InsertOrUpdateArtist(&catalog.Artist{ID: 1, Name: "Burial"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		a, err := store.GetArtist(1)
		return err == nil && a.MatchStatus == catalog.MatchMatched
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLadderOrderArtistsFirst(t *testing.T) {
	p := &fakeProvider{
		artists: []spotify.Artist{{ID: "sp-1", Name: "Burial"}},
	}
	w, store := newTestWorker(t, p)

	// Both an unattempted artist and a fallback album exist; the artist
	// tier wins.
	require.NoError(t, store.InsertOrUpdateArtist(&catalog.Artist{ID: 1, Name: "Burial"}))
	require.NoError(t, store.InsertOrUpdateArtist(&catalog.Artist{ID: 2, Name: "Orphan", MatchStatus: catalog.MatchNotFound}))
	require.NoError(t, store.InsertOrUpdateAlbum(&catalog.Album{ID: 10, ArtistID: 2, Title: "Orphan Album"}))

	worked, err := w.processNext(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)

	a, err := store.GetArtist(1)
	require.NoError(t, err)
	assert.Equal(t, catalog.MatchMatched, a.MatchStatus)
}

func TestIdleWhenLadderEmpty(t *testing.T) {
	p := &fakeProvider{}
	w, _ := newTestWorker(t, p)

	worked, err := w.processNext(context.Background())
	require.NoError(t, err)
	assert.False(t, worked)
	assert.Zero(t, p.searchCalls)
}

func TestAcceptableID(t *testing.T) {
	assert.False(t, acceptableID(""))
	assert.False(t, acceptableID("123456"))
	assert.True(t, acceptableID("4tZwfgrHOc3mvqYlEYSvVi"))
	assert.True(t, acceptableID("1a2b"))
}
