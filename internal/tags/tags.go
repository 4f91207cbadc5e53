// Package tags writes track metadata into downloaded audio files.
// MP3 and FLAC have dedicated writers; everything else goes through
// TagLib.
package tags

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const (
	ExtMP3  = ".mp3"
	ExtFLAC = ".flac"
	ExtOPUS = ".opus"
	ExtOGG  = ".ogg"
	ExtM4A  = ".m4a"
	ExtMP4  = ".mp4"
)

// id3Magic is the magic bytes for ID3v2 header detection.
const id3Magic = "ID3"

// Tag is the metadata written into a fulfilled download.
type Tag struct {
	Title       string
	Artist      string
	AlbumArtist string
	Album       string
	Genre       string

	TrackNumber int
	TotalTracks int
	Year        int

	// Provider ids, stored as user-defined tags so a re-import can
	// re-link files to the catalog.
	ExternalTrackID  string
	ExternalAlbumID  string
	ExternalArtistID string

	CoverArt []byte
}

// Write writes tag metadata to an audio file in place.
func Write(path string, t *Tag) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("file not found: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ExtMP3:
		return writeMP3Tags(path, t)
	case ExtFLAC:
		return writeFLACTags(path, t)
	case ExtOPUS, ExtOGG, ExtM4A, ExtMP4:
		return writeTagLibTags(path, t)
	default:
		return fmt.Errorf("unsupported file format: %s", filepath.Ext(path))
	}
}

const (
	mimeJPEG = "image/jpeg"
	mimePNG  = "image/png"
)

// detectMimeType normalizes image data to one of the two MIME types the
// tag containers accept.
func detectMimeType(data []byte) string {
	if len(data) == 0 {
		return mimeJPEG
	}
	if http.DetectContentType(data) == mimePNG {
		return mimePNG
	}
	return mimeJPEG
}
