package match

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// ParsedTrack holds metadata extracted from a downloaded filename.
type ParsedTrack struct {
	Artist      string
	Title       string
	Album       string
	TrackNumber int
}

var (
	// "01 - Artist - Title" (spaced dashes only, so hyphenated titles survive)
	numArtistTitleRe = regexp.MustCompile(`^(\d{1,3})\s*-\s+(.+?)\s+-\s+(.+)$`)
	// "Artist - Title"
	artistTitleRe = regexp.MustCompile(`^(.+?)\s+-\s+(.+)$`)
	// "01 - Title"
	numTitleRe = regexp.MustCompile(`^(\d{1,3})\s*-\s*(.+)$`)
	// "Artist_Album_01_Title"
	underscoreRe = regexp.MustCompile(`^([^_]+)_([^_]+)_(\d{1,3})_(.+)$`)
	// "1999 - Album Name" parent directories
	yearDirRe = regexp.MustCompile(`^\d{4}\s*-\s*`)
)

// ParseFilename extracts {artist, title, album, track number} from a
// downloaded file path. Soulseek paths may use backslashes; both
// separators are handled. The parent directory (minus a leading
// "YYYY - " prefix) is used as the album when no better source exists.
func ParseFilename(path string) ParsedTrack {
	normalized := strings.ReplaceAll(path, "\\", "/")
	base := filepath.Base(normalized)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stem = strings.TrimSpace(stem)

	parsed := parseStem(stem)

	if parsed.Album == "" {
		dir := filepath.Base(filepath.Dir(normalized))
		if dir != "." && dir != "/" && dir != "" {
			parsed.Album = strings.TrimSpace(yearDirRe.ReplaceAllString(dir, ""))
		}
	}

	// "Artist - Artist - Title" style duplication: drop the artist from
	// the title when it leaks in.
	if parsed.Artist != "" && parsed.Title != "" {
		prefix := parsed.Artist + " - "
		if strings.HasPrefix(strings.ToLower(parsed.Title), strings.ToLower(prefix)) {
			parsed.Title = strings.TrimSpace(parsed.Title[len(prefix):])
		}
	}

	return parsed
}

func parseStem(stem string) ParsedTrack {
	if m := numArtistTitleRe.FindStringSubmatch(stem); m != nil {
		// Guard against "01 - 02 - Title" style double numbering: the
		// middle segment must not be purely numeric.
		if _, err := strconv.Atoi(strings.TrimSpace(m[2])); err != nil {
			num, _ := strconv.Atoi(m[1])
			return ParsedTrack{TrackNumber: num, Artist: strings.TrimSpace(m[2]), Title: strings.TrimSpace(m[3])}
		}
	}

	if m := underscoreRe.FindStringSubmatch(stem); m != nil {
		num, _ := strconv.Atoi(m[3])
		return ParsedTrack{
			Artist:      strings.TrimSpace(m[1]),
			Album:       strings.TrimSpace(m[2]),
			TrackNumber: num,
			Title:       strings.ReplaceAll(strings.TrimSpace(m[4]), "_", " "),
		}
	}

	if m := numTitleRe.FindStringSubmatch(stem); m != nil {
		num, _ := strconv.Atoi(m[1])
		return ParsedTrack{TrackNumber: num, Title: strings.TrimSpace(m[2])}
	}

	if m := artistTitleRe.FindStringSubmatch(stem); m != nil {
		return ParsedTrack{Artist: strings.TrimSpace(m[1]), Title: strings.TrimSpace(m[2])}
	}

	return ParsedTrack{Title: stem}
}
