package tags

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
)

// writeFLACTags writes Vorbis comments and cover art to a FLAC file.
// FLACs shared over P2P sometimes carry a bogus leading ID3v2 header;
// that header is stripped before the metadata blocks are rewritten.
func writeFLACTags(path string, t *Tag) error {
	f, id3Size, err := parseFLACWithID3Support(path)
	if err != nil {
		return fmt.Errorf("parse file: %w", err)
	}

	if id3Size > 0 {
		if err := stripLeadingBytes(path, id3Size); err != nil {
			return fmt.Errorf("strip ID3v2 header: %w", err)
		}
		f, err = flac.ParseFile(path)
		if err != nil {
			return fmt.Errorf("parse file after ID3 strip: %w", err)
		}
	}

	cmtIdx := -1
	for i, meta := range f.Meta {
		if meta.Type == flac.VorbisComment {
			cmtIdx = i
			break
		}
	}

	// Fresh comment block to avoid duplicate tags.
	cmts := flacvorbis.New()

	addTag := func(key, value string) error {
		if value != "" {
			return cmts.Add(key, value)
		}
		return nil
	}
	addIntTag := func(key string, value int) error {
		if value > 0 {
			return cmts.Add(key, strconv.Itoa(value))
		}
		return nil
	}

	fields := []struct {
		key   string
		value string
	}{
		{"ARTIST", t.Artist},
		{"ALBUMARTIST", t.AlbumArtist},
		{"ALBUM", t.Album},
		{"TITLE", t.Title},
		{"GENRE", t.Genre},
		{"ATTUNE_TRACK_ID", t.ExternalTrackID},
		{"ATTUNE_ALBUM_ID", t.ExternalAlbumID},
		{"ATTUNE_ARTIST_ID", t.ExternalArtistID},
	}
	for _, fld := range fields {
		if err := addTag(fld.key, fld.value); err != nil {
			return fmt.Errorf("add %s: %w", fld.key, err)
		}
	}

	if err := addIntTag("TRACKNUMBER", t.TrackNumber); err != nil {
		return fmt.Errorf("add track number: %w", err)
	}
	if err := addIntTag("TOTALTRACKS", t.TotalTracks); err != nil {
		return fmt.Errorf("add total tracks: %w", err)
	}
	if err := addIntTag("DATE", t.Year); err != nil {
		return fmt.Errorf("add date: %w", err)
	}

	cmtBlock := cmts.Marshal()
	if cmtIdx >= 0 {
		f.Meta[cmtIdx] = &cmtBlock
	} else {
		f.Meta = append(f.Meta, &cmtBlock)
	}

	if len(t.CoverArt) > 0 {
		newMeta := make([]*flac.MetaDataBlock, 0, len(f.Meta))
		for _, meta := range f.Meta {
			if meta.Type != flac.Picture {
				newMeta = append(newMeta, meta)
			}
		}
		f.Meta = newMeta

		pic, err := flacpicture.NewFromImageData(
			flacpicture.PictureTypeFrontCover,
			"Front Cover",
			t.CoverArt,
			detectMimeType(t.CoverArt),
		)
		if err != nil {
			return fmt.Errorf("create picture: %w", err)
		}
		picBlock := pic.Marshal()
		f.Meta = append(f.Meta, &picBlock)
	}

	if err := f.Save(path); err != nil {
		return fmt.Errorf("save file: %w", err)
	}
	return nil
}

// parseFLACWithID3Support parses a FLAC file. When parsing fails because
// of a leading ID3v2 header, it returns (nil, headerSize, nil) so the
// caller can strip the header and re-parse.
func parseFLACWithID3Support(path string) (*flac.File, int64, error) {
	f, err := flac.ParseFile(path)
	if err == nil {
		return f, 0, nil
	}

	file, openErr := os.Open(path)
	if openErr != nil {
		return nil, 0, err
	}
	defer file.Close()

	header := make([]byte, 10)
	if _, readErr := io.ReadFull(file, header); readErr != nil {
		return nil, 0, err
	}
	if !bytes.Equal(header[:3], []byte(id3Magic)) {
		return nil, 0, err
	}

	// Synchsafe size in bytes 6-9.
	id3Size := int64(10)
	id3Size += int64(header[6]&0x7f)<<21 |
		int64(header[7]&0x7f)<<14 |
		int64(header[8]&0x7f)<<7 |
		int64(header[9]&0x7f)

	if _, seekErr := file.Seek(id3Size, io.SeekStart); seekErr != nil {
		return nil, 0, err
	}
	flacMagic := make([]byte, 4)
	if _, readErr := io.ReadFull(file, flacMagic); readErr != nil {
		return nil, 0, err
	}
	if !bytes.Equal(flacMagic, []byte("fLaC")) {
		return nil, 0, errors.New("no fLaC marker found after ID3v2 header")
	}

	return nil, id3Size, nil
}

func stripLeadingBytes(path string, n int64) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if int64(len(data)) <= n {
		return errors.New("file too small to strip header")
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data[n:], info.Mode().Perm())
}
