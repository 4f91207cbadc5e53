// Package spotify provides a rate-limited client for the streaming
// metadata provider.
package spotify

// Image is a provider-hosted artwork reference.
type Image struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Artist is a provider artist.
type Artist struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Genres []string `json:"genres,omitempty"`
	Images []Image  `json:"images,omitempty"`
}

// Album is a provider album. Tracks is populated only by GetAlbum.
type Album struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	AlbumType   string   `json:"album_type"` // album, single, compilation
	ReleaseDate string   `json:"release_date"`
	TotalTracks int      `json:"total_tracks"`
	Images      []Image  `json:"images,omitempty"`
	Artists     []Artist `json:"artists,omitempty"`
	Tracks      []Track  `json:"-"`
}

// Track is the full external track descriptor. It is stored verbatim in
// wishlist and discovery-pool rows so a failed request can be replayed
// without another provider call.
type Track struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Artists     []Artist `json:"artists"`
	Album       Album    `json:"album"`
	TrackNumber int      `json:"track_number"`
	DurationMS  int      `json:"duration_ms"`
	Popularity  int      `json:"popularity"`
	Explicit    bool     `json:"explicit"`
}

// ArtistName returns the primary artist name, or "" when absent.
func (t Track) ArtistName() string {
	if len(t.Artists) == 0 {
		return ""
	}
	return t.Artists[0].Name
}

// CoverURL returns the largest album image, or "" when absent.
func (a Album) CoverURL() string {
	if len(a.Images) == 0 {
		return ""
	}
	return a.Images[0].URL
}

// Year extracts the release year from the release date, or 0.
func (a Album) Year() int {
	if len(a.ReleaseDate) < 4 {
		return 0
	}
	year := 0
	for _, r := range a.ReleaseDate[:4] {
		if r < '0' || r > '9' {
			return 0
		}
		year = year*10 + int(r-'0')
	}
	return year
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type searchResponse struct {
	Artists *pagedArtists `json:"artists"`
	Albums  *pagedAlbums  `json:"albums"`
	Tracks  *pagedTracks  `json:"tracks"`
}

type pagedArtists struct {
	Items []Artist `json:"items"`
}

type pagedAlbums struct {
	Items []Album `json:"items"`
}

type pagedTracks struct {
	Items []Track `json:"items"`
}

type albumResponse struct {
	Album
	TracksPage pagedTracks `json:"tracks"`
}
