package watchlist

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/llehouerou/attune/internal/catalog"
)

const (
	releaseRadarKey    = "release_radar"
	discoveryWeeklyKey = "discovery_weekly"

	radarWindow        = 30 * 24 * time.Hour
	radarPerArtistCap  = 6
	radarShortlist     = 75
	radarPlaylistSize  = 50
	weeklyPopularCount = 20
	weeklyMidCount     = 20
	weeklyDeepCount    = 10
	weeklyPopularFloor = 60
	weeklyMidFloor     = 40
)

// CuratedTrack is one playlist slot persisted to the metadata table.
type CuratedTrack struct {
	ExternalTrackID string `json:"external_track_id"`
	Name            string `json:"name"`
	ArtistName      string `json:"artist_name"`
	AlbumName       string `json:"album_name"`
	CoverURL        string `json:"cover_url"`
	Popularity      int    `json:"popularity"`
	ReleaseDate     string `json:"release_date"`
}

// refreshCuratedPlaylists rebuilds both curated playlists from the
// current discovery pool.
func (s *Scanner) refreshCuratedPlaylists() error {
	if err := s.buildReleaseRadar(); err != nil {
		return err
	}
	return s.buildDiscoveryWeekly()
}

// buildReleaseRadar ranks last-month releases by a blend of recency,
// popularity, and single status, caps each artist's share, and stores a
// shuffled 50-track slice.
func (s *Scanner) buildReleaseRadar() error {
	pool, err := s.store.ListNewReleaseDiscovery()
	if err != nil {
		return err
	}

	type scored struct {
		track catalog.DiscoveryTrack
		score float64
	}
	now := time.Now()
	candidates := make([]scored, 0, len(pool))
	for _, t := range pool {
		released, ok := parseReleaseDate(t.ReleaseDate)
		if !ok || now.Sub(released) > radarWindow {
			continue
		}
		ageDays := now.Sub(released).Hours() / 24
		recency := (30 - ageDays) / 30
		if recency < 0 {
			recency = 0
		}
		score := 0.5*recency + 0.3*float64(t.Popularity)/100
		if isSingleRelease(t) {
			score += 0.2
		}
		candidates = append(candidates, scored{track: t, score: score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	perArtist := map[string]int{}
	shortlist := make([]catalog.DiscoveryTrack, 0, radarShortlist)
	for _, c := range candidates {
		if perArtist[c.track.ExternalArtistID] >= radarPerArtistCap {
			continue
		}
		perArtist[c.track.ExternalArtistID]++
		shortlist = append(shortlist, c.track)
		if len(shortlist) == radarShortlist {
			break
		}
	}

	s.rng.Shuffle(len(shortlist), func(i, j int) {
		shortlist[i], shortlist[j] = shortlist[j], shortlist[i]
	})
	if len(shortlist) > radarPlaylistSize {
		shortlist = shortlist[:radarPlaylistSize]
	}

	return s.persistPlaylist(releaseRadarKey, shortlist)
}

// buildDiscoveryWeekly samples the pool across three popularity bands
// so the playlist mixes known and obscure tracks.
func (s *Scanner) buildDiscoveryWeekly() error {
	popular, err := s.store.ListDiscoveryByPopularity(weeklyPopularFloor, 100)
	if err != nil {
		return err
	}
	mid, err := s.store.ListDiscoveryByPopularity(weeklyMidFloor, weeklyPopularFloor)
	if err != nil {
		return err
	}
	deep, err := s.store.ListDiscoveryByPopularity(0, weeklyMidFloor)
	if err != nil {
		return err
	}

	playlist := s.sampleTracks(popular, weeklyPopularCount)
	playlist = append(playlist, s.sampleTracks(mid, weeklyMidCount)...)
	playlist = append(playlist, s.sampleTracks(deep, weeklyDeepCount)...)

	s.rng.Shuffle(len(playlist), func(i, j int) {
		playlist[i], playlist[j] = playlist[j], playlist[i]
	})

	return s.persistPlaylist(discoveryWeeklyKey, playlist)
}

func (s *Scanner) sampleTracks(pool []catalog.DiscoveryTrack, n int) []catalog.DiscoveryTrack {
	if len(pool) <= n {
		return pool
	}
	shuffled := make([]catalog.DiscoveryTrack, len(pool))
	copy(shuffled, pool)
	s.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:n]
}

func (s *Scanner) persistPlaylist(key string, tracks []catalog.DiscoveryTrack) error {
	playlist := make([]CuratedTrack, 0, len(tracks))
	for _, t := range tracks {
		playlist = append(playlist, CuratedTrack{
			ExternalTrackID: t.ExternalTrackID,
			Name:            t.Name,
			ArtistName:      t.ArtistName,
			AlbumName:       t.AlbumName,
			CoverURL:        t.CoverURL,
			Popularity:      t.Popularity,
			ReleaseDate:     t.ReleaseDate,
		})
	}
	blob, err := json.Marshal(playlist)
	if err != nil {
		return err
	}
	return s.store.SetMetadata(key, string(blob))
}

// GetCuratedPlaylist returns a stored playlist, or nil when it has not
// been built yet.
func (s *Scanner) GetCuratedPlaylist(key string) ([]CuratedTrack, error) {
	raw, err := s.store.GetMetadata(key, "")
	if err != nil || raw == "" {
		return nil, err
	}
	var playlist []CuratedTrack
	if err := json.Unmarshal([]byte(raw), &playlist); err != nil {
		return nil, err
	}
	return playlist, nil
}

// isSingleRelease infers single status from the stored track blob.
func isSingleRelease(t catalog.DiscoveryTrack) bool {
	var blob struct {
		Album struct {
			AlbumType string `json:"album_type"`
		} `json:"album"`
	}
	if err := json.Unmarshal([]byte(t.TrackBlobJSON), &blob); err != nil {
		return false
	}
	return blob.Album.AlbumType == "single"
}
