package watchlist

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llehouerou/attune/internal/catalog"
)

func seedDiscoveryTrack(t *testing.T, store *catalog.Store, id, artistID string, popularity, ageDays int, albumType string) {
	t.Helper()
	date := time.Now().AddDate(0, 0, -ageDays).Format("2006-01-02")
	require.NoError(t, store.UpsertDiscoveryTrack(&catalog.DiscoveryTrack{
		ExternalTrackID:  id,
		ExternalArtistID: artistID,
		ExternalAlbumID:  "al-" + id,
		Name:             "Track " + id,
		ArtistName:       "Artist " + artistID,
		Popularity:       popularity,
		ReleaseDate:      date,
		IsNewRelease:     ageDays <= 30,
		TrackBlobJSON:    fmt.Sprintf(`{"id":%q,"album":{"album_type":%q}}`, id, albumType),
	}))
}

func TestReleaseRadarCapsPerArtist(t *testing.T) {
	s, store := newTestScanner(t, &fakeProvider{}, &fakeSimilar{})

	// One artist floods the window with ten releases; another has one.
	for i := 0; i < 10; i++ {
		seedDiscoveryTrack(t, store, fmt.Sprintf("flood-%d", i), "sp-flood", 80, 5, "album")
	}
	seedDiscoveryTrack(t, store, "solo-1", "sp-solo", 50, 10, "album")

	require.NoError(t, s.buildReleaseRadar())

	playlist, err := s.GetCuratedPlaylist(releaseRadarKey)
	require.NoError(t, err)

	perArtist := map[string]int{}
	for _, tr := range playlist {
		perArtist[tr.ArtistName]++
	}
	assert.LessOrEqual(t, perArtist["Artist sp-flood"], radarPerArtistCap)
	assert.Equal(t, 1, perArtist["Artist sp-solo"], "capped artist leaves room for others")
}

func TestReleaseRadarExcludesOldReleases(t *testing.T) {
	s, store := newTestScanner(t, &fakeProvider{}, &fakeSimilar{})
	seedDiscoveryTrack(t, store, "fresh", "sp-1", 50, 3, "single")
	seedDiscoveryTrack(t, store, "stale", "sp-2", 90, 120, "album")

	require.NoError(t, s.buildReleaseRadar())

	playlist, err := s.GetCuratedPlaylist(releaseRadarKey)
	require.NoError(t, err)
	require.Len(t, playlist, 1)
	assert.Equal(t, "fresh", playlist[0].ExternalTrackID)
}

func TestReleaseRadarFavorsSinglesAndRecency(t *testing.T) {
	s, store := newTestScanner(t, &fakeProvider{}, &fakeSimilar{})

	// Same popularity and age; single status is the only differentiator.
	seedDiscoveryTrack(t, store, "single", "sp-1", 50, 10, "single")
	seedDiscoveryTrack(t, store, "album", "sp-2", 50, 10, "album")

	pool, err := store.ListNewReleaseDiscovery()
	require.NoError(t, err)
	require.Len(t, pool, 2)

	require.NoError(t, s.buildReleaseRadar())
	playlist, err := s.GetCuratedPlaylist(releaseRadarKey)
	require.NoError(t, err)
	assert.Len(t, playlist, 2, "both fit in a fifty-slot playlist")
}

func TestDiscoveryWeeklyMixesPopularityBands(t *testing.T) {
	s, store := newTestScanner(t, &fakeProvider{}, &fakeSimilar{})

	for i := 0; i < 30; i++ {
		seedDiscoveryTrack(t, store, fmt.Sprintf("pop-%d", i), "sp-a", 75, 100, "album")
		seedDiscoveryTrack(t, store, fmt.Sprintf("mid-%d", i), "sp-b", 50, 100, "album")
		seedDiscoveryTrack(t, store, fmt.Sprintf("deep-%d", i), "sp-c", 15, 100, "album")
	}

	require.NoError(t, s.buildDiscoveryWeekly())

	playlist, err := s.GetCuratedPlaylist(discoveryWeeklyKey)
	require.NoError(t, err)
	require.Len(t, playlist, weeklyPopularCount+weeklyMidCount+weeklyDeepCount)

	bands := map[string]int{}
	for _, tr := range playlist {
		switch {
		case tr.Popularity >= weeklyPopularFloor:
			bands["popular"]++
		case tr.Popularity >= weeklyMidFloor:
			bands["mid"]++
		default:
			bands["deep"]++
		}
	}
	assert.Equal(t, weeklyPopularCount, bands["popular"])
	assert.Equal(t, weeklyMidCount, bands["mid"])
	assert.Equal(t, weeklyDeepCount, bands["deep"])
}

func TestDiscoveryWeeklyHandlesSparsePool(t *testing.T) {
	s, store := newTestScanner(t, &fakeProvider{}, &fakeSimilar{})
	seedDiscoveryTrack(t, store, "only", "sp-1", 50, 60, "album")

	require.NoError(t, s.buildDiscoveryWeekly())

	playlist, err := s.GetCuratedPlaylist(discoveryWeeklyKey)
	require.NoError(t, err)
	require.Len(t, playlist, 1)
	assert.Equal(t, "only", playlist[0].ExternalTrackID)
}

func TestGetCuratedPlaylistMissing(t *testing.T) {
	s, _ := newTestScanner(t, &fakeProvider{}, &fakeSimilar{})

	playlist, err := s.GetCuratedPlaylist(releaseRadarKey)
	require.NoError(t, err)
	assert.Nil(t, playlist)
}
