package watchlist

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llehouerou/attune/internal/catalog"
	"github.com/llehouerou/attune/internal/spotify"
)

func seedSimilar(t *testing.T, store *catalog.Store, name, externalID string) {
	t.Helper()
	require.NoError(t, store.UpsertSimilarArtist(&catalog.SimilarArtist{
		SourceArtistID:  "sp-source",
		SimilarArtistID: name,
		Name:            name,
		ExternalID:      externalID,
		Rank:            1,
	}))
}

func TestPopulateDiscoveryPool(t *testing.T) {
	p := &fakeProvider{
		artists: map[string]*spotify.Artist{
			"sp-fourtet": {ID: "sp-fourtet", Name: "Four Tet", Genres: []string{"electronic"}},
		},
		albums: map[string][]spotify.Album{
			"sp-fourtet": {
				{ID: "al-1", Name: "Three", AlbumType: "album", ReleaseDate: recentDate(10), TotalTracks: 8},
			},
		},
		tracks: map[string][]spotify.Track{
			"al-1": {
				{ID: "tr-1", Name: "Loved", Popularity: 55},
				{ID: "tr-2", Name: "Daydream Repeat", Popularity: 70},
			},
		},
	}
	s, store := newTestScanner(t, p, &fakeSimilar{})
	seedSimilar(t, store, "four tet", "sp-fourtet")

	require.NoError(t, s.populateDiscoveryPool(context.Background()))

	pool, err := store.ListDiscoveryPool()
	require.NoError(t, err)
	require.Len(t, pool, 2)
	byID := map[string]catalog.DiscoveryTrack{}
	for _, d := range pool {
		byID[d.ExternalTrackID] = d
	}
	assert.Equal(t, []string{"electronic"}, byID["tr-1"].ArtistGenres)
	assert.True(t, byID["tr-1"].IsNewRelease, "release within a month is flagged new")
	assert.NotEmpty(t, byID["tr-1"].TrackBlobJSON)
}

func TestPopulateGuardSkipsWithinADay(t *testing.T) {
	p := &fakeProvider{}
	s, store := newTestScanner(t, p, &fakeSimilar{})
	seedSimilar(t, store, "four tet", "sp-fourtet")
	require.NoError(t, store.SetMetadata(poolPopulatedKey, strconv.FormatInt(time.Now().Unix(), 10)))

	require.NoError(t, s.populateDiscoveryPool(context.Background()))
	assert.Equal(t, 0, p.albumCalls, "guarded run makes no provider calls")
}

func TestResolveSimilarArtistCachesID(t *testing.T) {
	p := &fakeProvider{
		search: []spotify.Artist{{ID: "sp-found", Name: "Floating Points"}},
	}
	s, store := newTestScanner(t, p, &fakeSimilar{})
	require.NoError(t, store.UpsertSimilarArtist(&catalog.SimilarArtist{
		SourceArtistID:  "sp-source",
		SimilarArtistID: "floating points",
		Name:            "Floating Points",
		Rank:            1,
	}))

	sim := catalog.SimilarArtist{SimilarArtistID: "floating points", Name: "Floating Points"}
	id, err := s.resolveSimilarArtist(context.Background(), sim)
	require.NoError(t, err)
	assert.Equal(t, "sp-found", id)

	top, err := store.TopSimilarArtists(1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "sp-found", top[0].ExternalID)
}

func TestResolveSimilarArtistRejectsPoorMatch(t *testing.T) {
	p := &fakeProvider{
		search: []spotify.Artist{{ID: "sp-wrong", Name: "Completely Unrelated Act"}},
	}
	s, _ := newTestScanner(t, p, &fakeSimilar{})

	id, err := s.resolveSimilarArtist(context.Background(), catalog.SimilarArtist{
		SimilarArtistID: "floating points", Name: "Floating Points",
	})
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestSelectReleasesKeepsRecentPlusRandomOlder(t *testing.T) {
	s, _ := newTestScanner(t, &fakeProvider{}, &fakeSimilar{})

	releases := make([]spotify.Album, 0, 30)
	for i := 0; i < 30; i++ {
		releases = append(releases, spotify.Album{
			ID:          fmt.Sprintf("al-%02d", i),
			ReleaseDate: time.Now().AddDate(0, 0, -i*30).Format("2006-01-02"),
		})
	}

	selected := s.selectReleases(releases)
	require.Len(t, selected, poolReleasesPerArtist)
	// The three most recent are always present.
	ids := map[string]bool{}
	for _, r := range selected {
		ids[r.ID] = true
	}
	for i := 0; i < poolRecentReleases; i++ {
		assert.True(t, ids[fmt.Sprintf("al-%02d", i)])
	}
}

func TestIsNewRelease(t *testing.T) {
	assert.True(t, isNewRelease(recentDate(5)))
	assert.False(t, isNewRelease(recentDate(45)))
	assert.False(t, isNewRelease("unknown"))
}
