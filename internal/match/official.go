package match

// OfficialTrack is one track from a provider tracklist.
type OfficialTrack struct {
	Number int
	Title  string
}

// officialMatchThreshold is the minimum title similarity for pairing a
// parsed filename with an official track.
const officialMatchThreshold = 0.8

// MatchTrackToOfficial pairs a parsed filename with the official tracklist
// entry it most likely represents. When the filename carries a track
// number it is used as the primary key, with title similarity as the
// tiebreaker; otherwise the best title above the threshold wins.
// Returns nil when nothing matches.
func MatchTrackToOfficial(parsed ParsedTrack, official []OfficialTrack) *OfficialTrack {
	if len(official) == 0 {
		return nil
	}

	if parsed.TrackNumber > 0 {
		var byNumber []OfficialTrack
		for _, t := range official {
			if t.Number == parsed.TrackNumber {
				byNumber = append(byNumber, t)
			}
		}
		switch len(byNumber) {
		case 1:
			return &byNumber[0]
		case 0:
			// Fall through to title matching.
		default:
			// Multi-disc lists can repeat numbers; break the tie by title.
			if best := bestByTitle(parsed.Title, byNumber, 0); best != nil {
				return best
			}
			return &byNumber[0]
		}
	}

	return bestByTitle(parsed.Title, official, officialMatchThreshold)
}

func bestByTitle(title string, official []OfficialTrack, threshold float64) *OfficialTrack {
	if title == "" {
		return nil
	}
	var best *OfficialTrack
	bestScore := threshold
	for i := range official {
		score := Similarity(title, official[i].Title)
		if score > bestScore {
			bestScore = score
			best = &official[i]
		}
	}
	return best
}
