// Package lastfm wraps the Last.fm API as the similar-artist source for
// the watchlist scanner.
package lastfm

import (
	"fmt"

	"github.com/shkh/lastfm-go/lastfm"
)

// SimilarArtist is one similar-artist suggestion.
type SimilarArtist struct {
	Name       string
	MatchScore float64 // 0.0-1.0 similarity score
}

// Client wraps the Last.fm API.
type Client struct {
	api *lastfm.Api
}

// New creates a new Last.fm client with the given API credentials.
func New(apiKey, apiSecret string) *Client {
	return &Client{api: lastfm.New(apiKey, apiSecret)}
}

// GetSimilarArtists fetches up to limit similar artists, best match first.
func (c *Client) GetSimilarArtists(artist string, limit int) ([]SimilarArtist, error) {
	params := lastfm.P{
		"artist": artist,
		"limit":  limit,
	}

	result, err := c.api.Artist.GetSimilar(params)
	if err != nil {
		return nil, fmt.Errorf("get similar artists: %w", err)
	}

	artists := make([]SimilarArtist, 0, len(result.Similars))
	for _, a := range result.Similars {
		score := 0.0
		if a.Match != "" {
			_, _ = fmt.Sscanf(a.Match, "%f", &score) //nolint:errcheck // parse failure means score stays 0
		}
		artists = append(artists, SimilarArtist{
			Name:       a.Name,
			MatchScore: score,
		})
	}
	return artists, nil
}
