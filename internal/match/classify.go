package match

import "regexp"

var (
	liveRe = regexp.MustCompile(`(?i)\blive\b|live at|\bconcert\b|in concert|\bunplugged\b|live session|live from|live recording|on stage`)

	remixRe      = regexp.MustCompile(`(?i)\bremix\b|\bmix\b|\bedit\b|\bversion\b.*\bmix\b|club mix|dance mix|radio edit|extended.*mix|\bdub\b|vip mix`)
	remasteredRe = regexp.MustCompile(`(?i)\bremaster(ed)?\b`)

	acousticRe = regexp.MustCompile(`(?i)\bacoustic\b|\bstripped\b|piano version|\bunplugged\b`)

	compilationRe = regexp.MustCompile(`(?i)greatest hits|best of|anthology|collection|compilation|the essential|complete|\bhits\b|top\s+\d+|very best|definitive`)
)

// IsLiveVersion reports whether a track or release name denotes a live
// recording.
func IsLiveVersion(name string) bool {
	return liveRe.MatchString(name)
}

// IsRemixVersion reports whether a name denotes a remix. Remasters are
// never remixes, even when the name also matches a mix pattern
// ("... (Extended Mix) [Remastered]").
func IsRemixVersion(name string) bool {
	if remasteredRe.MatchString(name) {
		return false
	}
	return remixRe.MatchString(name)
}

// IsAcousticVersion reports whether a name denotes an acoustic recording.
func IsAcousticVersion(name string) bool {
	return acousticRe.MatchString(name)
}

// IsCompilationAlbum reports whether an album name denotes a compilation.
func IsCompilationAlbum(name string) bool {
	return compilationRe.MatchString(name)
}

// ReleaseCategory buckets a release by track count.
type ReleaseCategory string

const (
	CategorySingle ReleaseCategory = "single"
	CategoryEP     ReleaseCategory = "ep"
	CategoryAlbum  ReleaseCategory = "album"
)

// CategorizeRelease classifies a release by its track count.
func CategorizeRelease(trackCount int) ReleaseCategory {
	switch {
	case trackCount <= 3:
		return CategorySingle
	case trackCount <= 6:
		return CategoryEP
	default:
		return CategoryAlbum
	}
}
