package tags

import (
	"fmt"
	"os"

	"github.com/dhowden/tag"
)

// Read reads back the common tags from an audio file. Used to verify
// writes and to pick up metadata already present in peer files.
func Read(path string) (*Tag, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return nil, fmt.Errorf("read tags: %w", err)
	}

	t := &Tag{
		Title:       m.Title(),
		Artist:      m.Artist(),
		AlbumArtist: m.AlbumArtist(),
		Album:       m.Album(),
		Genre:       m.Genre(),
		Year:        m.Year(),
	}
	t.TrackNumber, t.TotalTracks = m.Track()
	return t, nil
}
