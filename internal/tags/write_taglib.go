package tags

import (
	"fmt"
	"strconv"

	"go.senan.xyz/taglib"
)

const totalTracksKey = "TOTALTRACKS"

// writeTagLibTags covers the formats without a dedicated writer (Opus,
// Ogg, M4A).
func writeTagLibTags(path string, t *Tag) error {
	m := make(map[string][]string)

	addTag := func(key, value string) {
		if value != "" {
			m[key] = []string{value}
		}
	}
	addIntTag := func(key string, value int) {
		if value > 0 {
			m[key] = []string{strconv.Itoa(value)}
		}
	}

	addTag(taglib.Artist, t.Artist)
	addTag(taglib.AlbumArtist, t.AlbumArtist)
	addTag(taglib.Album, t.Album)
	addTag(taglib.Title, t.Title)
	addTag(taglib.Genre, t.Genre)
	addIntTag(taglib.TrackNumber, t.TrackNumber)
	addIntTag(totalTracksKey, t.TotalTracks)
	addIntTag(taglib.Date, t.Year)
	addTag("ATTUNE_TRACK_ID", t.ExternalTrackID)
	addTag("ATTUNE_ALBUM_ID", t.ExternalAlbumID)
	addTag("ATTUNE_ARTIST_ID", t.ExternalArtistID)

	// Clear drops any existing tags not in the map.
	if err := taglib.WriteTags(path, m, taglib.Clear); err != nil {
		return fmt.Errorf("write tags: %w", err)
	}

	if len(t.CoverArt) > 0 {
		if err := taglib.WriteImage(path, t.CoverArt); err != nil {
			return fmt.Errorf("write cover art: %w", err)
		}
	}
	return nil
}
