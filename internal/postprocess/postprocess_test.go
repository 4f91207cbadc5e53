package postprocess

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llehouerou/attune/internal/catalog"
	"github.com/llehouerou/attune/internal/match"
)

func newTestProcessor(t *testing.T) (*Processor, *catalog.Store, string) {
	t.Helper()
	store, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"), 4)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	root := t.TempDir()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(store, root, log), store, root
}

// writeDownload drops a fake downloaded file into its own directory, as
// the daemon does.
func writeDownload(t *testing.T, name string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "incoming")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("not really audio"), 0o644))
	return path
}

func baseContext() *TrackContext {
	return &TrackContext{
		ArtistName:       "Burial",
		AlbumName:        "Untrue",
		TrackTitle:       "Archangel",
		TrackNumber:      2,
		TotalTracks:      13,
		Year:             2007,
		ExternalTrackID:  "sp-track-1",
		ExternalAlbumID:  "sp-album-1",
		ExternalArtistID: "sp-artist-1",
	}
}

func TestProcessMovesIntoLibraryLayout(t *testing.T) {
	p, store, root := newTestProcessor(t)
	src := writeDownload(t, "02 - Archangel.mp3")

	dest, err := p.Process(context.Background(), src, baseContext())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "Burial", "Untrue", "02 - Archangel.mp3"), dest)
	assert.FileExists(t, dest)
	assert.NoFileExists(t, src)

	// Source dir was emptied and removed.
	_, statErr := os.Stat(filepath.Dir(src))
	assert.True(t, os.IsNotExist(statErr))

	// Catalog rows exist and carry the file path.
	track, err := store.FindTrackByExternalID("sp-track-1")
	require.NoError(t, err)
	require.NotNil(t, track)
	assert.Equal(t, dest, track.FilePath)
	assert.Equal(t, catalog.MatchMatched, track.MatchStatus)
	assert.Equal(t, 2, track.TrackNumber)
}

func TestProcessNeverOverwrites(t *testing.T) {
	p, _, root := newTestProcessor(t)

	existing := filepath.Join(root, "Burial", "Untrue", "02 - Archangel.mp3")
	require.NoError(t, os.MkdirAll(filepath.Dir(existing), 0o755))
	require.NoError(t, os.WriteFile(existing, []byte("original"), 0o644))

	src := writeDownload(t, "02 - Archangel.mp3")
	dest, err := p.Process(context.Background(), src, baseContext())
	require.NoError(t, err)
	assert.Equal(t, existing, dest)

	// Existing content untouched, new download discarded.
	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
	assert.NoFileExists(t, src)
}

func TestProcessRepairsNamingFromOfficialTracklist(t *testing.T) {
	p, _, root := newTestProcessor(t)
	src := writeDownload(t, "arch angel (192kbps rip).mp3")

	tc := baseContext()
	tc.TrackTitle = "arch angel"
	tc.TrackNumber = 0
	tc.OfficialTracks = []match.OfficialTrack{
		{Number: 1, Title: "Untrue"},
		{Number: 2, Title: "Archangel"},
		{Number: 3, Title: "Near Dark"},
	}

	dest, err := p.Process(context.Background(), src, tc)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "Burial", "Untrue", "02 - Archangel.mp3"), dest)
}

func TestProcessWithoutExternalIDs(t *testing.T) {
	p, store, _ := newTestProcessor(t)
	src := writeDownload(t, "track.mp3")

	tc := baseContext()
	tc.ExternalTrackID = ""
	tc.ExternalAlbumID = ""
	tc.ExternalArtistID = ""

	dest, err := p.Process(context.Background(), src, tc)
	require.NoError(t, err)
	assert.FileExists(t, dest)

	// Rows exist but are not marked matched.
	artists, err := store.SearchArtists("Burial", 10)
	require.NoError(t, err)
	require.Len(t, artists, 1)
	assert.Equal(t, catalog.MatchUnattempted, artists[0].MatchStatus)
}

func TestSanitizeComponent(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"AC/DC", "AC_DC"},
		{"What?", "What_"},
		{"Trailing dots...", "Trailing dots"},
		{"  spaced  ", "spaced"},
		{`a<b>c:d"e|f`, "a_b_c_d_e_f"},
		{"", "Unknown"},
		{"...", "Unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeComponent(tt.in), "input %q", tt.in)
	}
}

func TestLocalIDStable(t *testing.T) {
	a := localID("sp-1", "x")
	b := localID("sp-1", "y")
	assert.Equal(t, a, b) // external id wins over fallback

	c := localID("", "Burial/Untrue")
	d := localID("", "burial/untrue")
	assert.Equal(t, c, d) // case-insensitive fallback
	assert.NotEqual(t, a, c)
	assert.Positive(t, a)
}

func TestMoveFileCopyFallbackPreservesContent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	require.NoError(t, copyFileSync(src, dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}
