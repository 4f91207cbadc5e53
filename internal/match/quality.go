package match

import (
	"path/filepath"
	"strings"
)

var losslessExtensions = map[string]bool{
	"flac": true, "wav": true, "aiff": true, "aif": true,
	"alac": true, "ape": true, "wv": true, "tta": true,
}

var lossyExtensions = map[string]bool{
	"mp3": true, "m4a": true, "aac": true, "ogg": true,
	"opus": true, "wma": true, "mpc": true,
}

// IsAudioFile reports whether a filename carries a known audio extension.
func IsAudioFile(filename string) bool {
	ext := fileExt(filename)
	return losslessExtensions[ext] || lossyExtensions[ext]
}

// QualityScore rates a candidate file in [0,1] from its format and
// bitrate. Lossless formats score 1.0; lossy formats scale with bitrate
// against a 320 kbps ceiling, with a floor for unknown bitrates so that
// an untagged MP3 still beats nothing.
func QualityScore(filename string, bitrate int) float64 {
	ext := fileExt(filename)
	if losslessExtensions[ext] {
		return 1.0
	}
	if !lossyExtensions[ext] {
		return 0.0
	}
	if bitrate <= 0 {
		return 0.5
	}
	score := float64(bitrate) / 320.0
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func fileExt(filename string) string {
	normalized := strings.ReplaceAll(filename, "\\", "/")
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(normalized), "."))
}
