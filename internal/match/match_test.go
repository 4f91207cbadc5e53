package match

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Abbey Road", "abbey road"},
		{"THRILLER", "thriller"},
		{"Abbey Road: Remaster", "abbey road remaster"},
		{"What's Going On", "what s going on"},
		{"Café Tacvba", "cafe tacvba"},
		{"Señorita", "senorita"},
		{"Song Title (2011 Remaster)", "song title"},
		{"Track [Bonus]", "track"},
		{"Hello-World", "hello world"},
		{"Abbey  Road", "abbey road"},
		{"  Thriller  ", "thriller"},
		{"", ""},
		{"   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := Normalize(tt.input)
			if got != tt.expected {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSimilarityProperties(t *testing.T) {
	pairs := [][2]string{
		{"Bohemian Rhapsody", "Bohemian Rhapsody"},
		{"Bohemian Rhapsody", "bohemian rhapsody"},
		{"Stairway to Heaven", "Highway to Hell"},
		{"a", "completely different string"},
		{"", "something"},
	}

	for _, p := range pairs {
		a, b := p[0], p[1]

		ab := Similarity(a, b)
		ba := Similarity(b, a)
		if ab != ba {
			t.Errorf("Similarity(%q, %q) = %v but reversed = %v", a, b, ab, ba)
		}
		if ab < 0 || ab > 1 {
			t.Errorf("Similarity(%q, %q) = %v, out of [0,1]", a, b, ab)
		}

		if aa := Similarity(a, a); aa != 1.0 {
			t.Errorf("Similarity(%q, %q) = %v, want 1.0", a, a, aa)
		}
	}
}

func TestSimilarityNormalizedEqual(t *testing.T) {
	if got := Similarity("Hey Jude (Remastered 2009)", "hey jude"); got != 1.0 {
		t.Errorf("Similarity = %v, want 1.0 for normalized-equal strings", got)
	}
}

func TestSimilarityThresholds(t *testing.T) {
	// Pairs the 0.7/0.8 thresholds in callers rely on.
	tests := []struct {
		a, b  string
		above float64
	}{
		{"Paranoid Android", "Paranoid Androide", 0.8},
		{"Karma Police", "karma police!", 0.8},
		{"Let It Be", "Let It Bleed", 0.7},
	}
	for _, tt := range tests {
		if got := Similarity(tt.a, tt.b); got < tt.above {
			t.Errorf("Similarity(%q, %q) = %v, want >= %v", tt.a, tt.b, got, tt.above)
		}
	}

	if got := Similarity("Yellow Submarine", "Back in Black"); got > 0.5 {
		t.Errorf("Similarity of unrelated titles = %v, want <= 0.5", got)
	}
}

func TestCleanTrackNameForSearch(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Song (feat. Artist)", "Song"},
		{"Song (ft. Artist)", "Song"},
		{"Song (featuring Someone Else)", "Song"},
		{"Song (with Another Band)", "Song"},
		{"Song (Explicit)", "Song"},
		{"Song (Clean)", "Song"},
		{"Song (Radio Edit)", "Song"},
		{"Song (Radio Version)", "Song"},
		{"Song [feat. Artist]", "Song"},
		// Preserved qualifiers
		{"Song (Live)", "Song (Live)"},
		{"Song (Acoustic)", "Song (Acoustic)"},
		{"Song (Remix)", "Song (Remix)"},
		{"Song (Extended Version)", "Song (Extended Version)"},
		{"Song (Remastered)", "Song (Remastered)"},
		{"Song (Demo)", "Song (Demo)"},
		{"Song (Instrumental)", "Song (Instrumental)"},
		{"Song (2011 Edition)", "Song (2011 Edition)"},
		// Combined
		{"Song (feat. Artist) (Live)", "Song (Live)"},
		// Cleaning to empty returns the original
		{"(feat. Artist)", "(feat. Artist)"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := CleanTrackNameForSearch(tt.input)
			if got != tt.expected {
				t.Errorf("CleanTrackNameForSearch(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestCleanTrackNameForSearchIdempotent(t *testing.T) {
	inputs := []string{
		"Song (feat. Artist)",
		"Song (Live) (feat. X)",
		"Plain Song",
		"(feat. Artist)",
		"Song (Radio Edit) [ft. Y]",
	}
	for _, in := range inputs {
		once := CleanTrackNameForSearch(in)
		twice := CleanTrackNameForSearch(once)
		if once != twice {
			t.Errorf("clean not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}
