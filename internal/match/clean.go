package match

import (
	"regexp"
	"strings"
)

// removableParentheticals are qualifiers that hurt Soulseek search recall
// without changing which recording is wanted. Version qualifiers that name
// a distinct recording ((Live), (Acoustic), (Remix), (Demo), years,
// editions) are preserved.
var removableParentheticals = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\s*[(\[]feat\.?[^)\]]*[)\]]`),
	regexp.MustCompile(`(?i)\s*[(\[]ft\.?[^)\]]*[)\]]`),
	regexp.MustCompile(`(?i)\s*[(\[]featuring[^)\]]*[)\]]`),
	regexp.MustCompile(`(?i)\s*[(\[]with\s[^)\]]*[)\]]`),
	regexp.MustCompile(`(?i)\s*[(\[]explicit[)\]]`),
	regexp.MustCompile(`(?i)\s*[(\[]clean[)\]]`),
	regexp.MustCompile(`(?i)\s*[(\[]radio edit[)\]]`),
	regexp.MustCompile(`(?i)\s*[(\[]radio version[)\]]`),
}

// CleanTrackNameForSearch strips featuring credits and edit qualifiers
// from a track name before it is used as a P2P search query. Idempotent.
// If cleaning would leave an empty string, the original name is returned.
func CleanTrackNameForSearch(name string) string {
	cleaned := name
	for _, re := range removableParentheticals {
		cleaned = re.ReplaceAllString(cleaned, "")
	}
	cleaned = strings.TrimSpace(multipleSpaceRe.ReplaceAllString(cleaned, " "))
	if cleaned == "" {
		return name
	}
	return cleaned
}
