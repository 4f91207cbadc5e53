package match

import "testing"

func TestParseFilename(t *testing.T) {
	tests := []struct {
		path string
		want ParsedTrack
	}{
		{
			path: "/downloads/1967 - Forever Changes/01 - Love - Alone Again Or.mp3",
			want: ParsedTrack{TrackNumber: 1, Artist: "Love", Title: "Alone Again Or", Album: "Forever Changes"},
		},
		{
			path: "/downloads/Queen - Bohemian Rhapsody.flac",
			want: ParsedTrack{Artist: "Queen", Title: "Bohemian Rhapsody", Album: "downloads"},
		},
		{
			path: "/downloads/Abbey Road/07 - Here Comes the Sun.mp3",
			want: ParsedTrack{TrackNumber: 7, Title: "Here Comes the Sun", Album: "Abbey Road"},
		},
		{
			path: "/downloads/Radiohead_OK Computer_02_Paranoid Android.flac",
			want: ParsedTrack{Artist: "Radiohead", Album: "OK Computer", TrackNumber: 2, Title: "Paranoid Android"},
		},
		{
			// slskd returns Windows-style paths
			path: `@@user\Music\1973 - The Dark Side of the Moon\05 - Money.flac`,
			want: ParsedTrack{TrackNumber: 5, Title: "Money", Album: "The Dark Side of the Moon"},
		},
		{
			// artist leaked into the title segment
			path: "/downloads/Album/03 - Nirvana - Nirvana - Lithium.mp3",
			want: ParsedTrack{TrackNumber: 3, Artist: "Nirvana", Title: "Lithium", Album: "Album"},
		},
		{
			path: "/downloads/Album/Untitled.mp3",
			want: ParsedTrack{Title: "Untitled", Album: "Album"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := ParseFilename(tt.path)
			if got != tt.want {
				t.Errorf("ParseFilename(%q) = %+v, want %+v", tt.path, got, tt.want)
			}
		})
	}
}

func TestMatchTrackToOfficial(t *testing.T) {
	official := []OfficialTrack{
		{Number: 1, Title: "Song A"},
		{Number: 2, Title: "Song B"},
		{Number: 3, Title: "Song C"},
	}

	// Both files pair correctly; the unmatched official track #3 is simply
	// never returned.
	a := MatchTrackToOfficial(ParseFilename("01 - Song A.mp3"), official)
	if a == nil || a.Number != 1 {
		t.Fatalf("expected match to track 1, got %+v", a)
	}

	b := MatchTrackToOfficial(ParseFilename("02 - song-b.mp3"), official)
	if b == nil || b.Number != 2 {
		t.Fatalf("expected match to track 2, got %+v", b)
	}
}

func TestMatchTrackToOfficialByTitleOnly(t *testing.T) {
	official := []OfficialTrack{
		{Number: 1, Title: "Alpha"},
		{Number: 2, Title: "Beta"},
	}

	got := MatchTrackToOfficial(ParsedTrack{Title: "beta"}, official)
	if got == nil || got.Number != 2 {
		t.Fatalf("expected title-only match to track 2, got %+v", got)
	}

	if got := MatchTrackToOfficial(ParsedTrack{Title: "Gamma Delta Epsilon"}, official); got != nil {
		t.Fatalf("expected no match below threshold, got %+v", got)
	}
}

func TestMatchTrackToOfficialNumberBeatsTitle(t *testing.T) {
	official := []OfficialTrack{
		{Number: 1, Title: "Intro"},
		{Number: 2, Title: "Intro (Reprise)"},
	}

	// Track number is the primary key even when the title is closer to
	// another entry.
	got := MatchTrackToOfficial(ParsedTrack{TrackNumber: 2, Title: "Intro"}, official)
	if got == nil || got.Number != 2 {
		t.Fatalf("expected number match to track 2, got %+v", got)
	}
}
