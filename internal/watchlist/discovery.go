package watchlist

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/llehouerou/attune/internal/catalog"
	"github.com/llehouerou/attune/internal/match"
	"github.com/llehouerou/attune/internal/spotify"
)

const (
	poolPopulateGuard      = 24 * time.Hour
	poolTopArtists         = 50
	poolReleasesPerArtist  = 10
	poolRecentReleases     = 3
	poolMaxAge             = 365 * 24 * time.Hour
	newReleaseWindow       = 30 * 24 * time.Hour
	artistResolveThreshold = 0.8

	poolPopulatedKey = "discovery_pool_last_populated"
)

// populateDiscoveryPool fills the rolling discovery pool from the top
// similar artists. At most once a day; each run also evicts year-old
// rows.
func (s *Scanner) populateDiscoveryPool(ctx context.Context) error {
	last, err := s.store.GetMetadata(poolPopulatedKey, "0")
	if err != nil {
		return err
	}
	if secs, err := strconv.ParseInt(last, 10, 64); err == nil {
		if time.Since(time.Unix(secs, 0)) < poolPopulateGuard {
			return nil
		}
	}

	similars, err := s.store.TopSimilarArtists(poolTopArtists)
	if err != nil {
		return err
	}
	s.log.Info("populating discovery pool", "artists", len(similars))

	added := 0
	for _, sim := range similars {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := s.poolFromArtist(ctx, sim)
		if err != nil {
			s.log.Debug("pool fetch failed", "artist", sim.Name, "error", err)
			continue
		}
		added += n
	}

	evicted, err := s.store.EvictOldDiscovery(poolMaxAge)
	if err != nil {
		return err
	}
	s.log.Info("discovery pool populated", "added", added, "evicted", evicted)

	return s.store.SetMetadata(poolPopulatedKey, strconv.FormatInt(time.Now().Unix(), 10))
}

// poolFromArtist pulls up to ten releases for one similar artist: the
// three most recent plus a random sample of the older ones.
func (s *Scanner) poolFromArtist(ctx context.Context, sim catalog.SimilarArtist) (int, error) {
	externalID, err := s.resolveSimilarArtist(ctx, sim)
	if err != nil || externalID == "" {
		return 0, err
	}

	var genres []string
	if artist, err := s.provider.GetArtist(ctx, externalID); err == nil && artist != nil {
		genres = artist.Genres
	}

	releases, err := s.provider.GetArtistAlbums(ctx, externalID, "album,single", 50)
	if err != nil {
		return 0, err
	}
	selected := s.selectReleases(releases)

	added := 0
	for _, release := range selected {
		tracks, err := s.provider.GetAlbumTracks(ctx, release.ID)
		if err != nil {
			continue
		}
		for _, track := range tracks {
			if track.Album.ID == "" {
				track.Album = release
			}
			if len(track.Artists) == 0 {
				track.Artists = []spotify.Artist{{ID: externalID, Name: sim.Name}}
			}
			blob, err := json.Marshal(track)
			if err != nil {
				continue
			}
			err = s.store.UpsertDiscoveryTrack(&catalog.DiscoveryTrack{
				ExternalTrackID:  track.ID,
				ExternalArtistID: externalID,
				ExternalAlbumID:  release.ID,
				Name:             track.Name,
				ArtistName:       track.ArtistName(),
				AlbumName:        release.Name,
				CoverURL:         release.CoverURL(),
				DurationMS:       int64(track.DurationMS),
				Popularity:       track.Popularity,
				ReleaseDate:      release.ReleaseDate,
				IsNewRelease:     isNewRelease(release.ReleaseDate),
				ArtistGenres:     genres,
				TrackBlobJSON:    string(blob),
			})
			if err != nil {
				return added, err
			}
			added++
		}
	}
	return added, nil
}

// resolveSimilarArtist maps a similar-artist name to a provider ID,
// caching the result on the edge row. A near-miss search result is
// discarded rather than mismatched.
func (s *Scanner) resolveSimilarArtist(ctx context.Context, sim catalog.SimilarArtist) (string, error) {
	if sim.ExternalID != "" {
		return sim.ExternalID, nil
	}

	results, err := s.provider.SearchArtists(ctx, sim.Name, 5)
	if err != nil {
		return "", err
	}
	for _, candidate := range results {
		if match.Similarity(candidate.Name, sim.Name) >= artistResolveThreshold {
			if err := s.store.SetSimilarArtistExternalID(sim.SimilarArtistID, candidate.ID); err != nil {
				return "", err
			}
			return candidate.ID, nil
		}
	}
	return "", nil
}

// selectReleases keeps the three most recent releases plus a random
// sample of older ones, ten total.
func (s *Scanner) selectReleases(releases []spotify.Album) []spotify.Album {
	sorted := make([]spotify.Album, len(releases))
	copy(sorted, releases)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ReleaseDate > sorted[j].ReleaseDate
	})

	if len(sorted) <= poolReleasesPerArtist {
		return sorted
	}

	recent := poolRecentReleases
	if recent > len(sorted) {
		recent = len(sorted)
	}
	selected := make([]spotify.Album, 0, poolReleasesPerArtist)
	selected = append(selected, sorted[:recent]...)

	older := sorted[recent:]
	s.rng.Shuffle(len(older), func(i, j int) {
		older[i], older[j] = older[j], older[i]
	})
	room := poolReleasesPerArtist - len(selected)
	if room > len(older) {
		room = len(older)
	}
	return append(selected, older[:room]...)
}

func isNewRelease(releaseDate string) bool {
	t, ok := parseReleaseDate(releaseDate)
	if !ok {
		return false
	}
	return time.Since(t) <= newReleaseWindow
}
