// Package postprocess files completed downloads into the library:
// rename into place, tag, and register in the catalog.
package postprocess

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/llehouerou/attune/internal/catalog"
	"github.com/llehouerou/attune/internal/match"
	"github.com/llehouerou/attune/internal/tags"
)

const (
	maxComponentLen = 150
	coverTimeout    = 15 * time.Second
)

// TrackContext carries the corrected metadata for one fulfilled file.
type TrackContext struct {
	ArtistName  string
	AlbumName   string
	TrackTitle  string
	TrackNumber int
	TotalTracks int
	Year        int
	Genre       string

	ExternalTrackID  string
	ExternalAlbumID  string
	ExternalArtistID string

	CoverURL string

	// Official tracklist of the album, used to repair peer filenames
	// whose embedded number or title is wrong.
	OfficialTracks []match.OfficialTrack
}

// Processor moves fulfilled downloads into the library layout.
type Processor struct {
	store       *catalog.Store
	libraryRoot string
	httpClient  *http.Client
	log         *slog.Logger
}

func New(store *catalog.Store, libraryRoot string, log *slog.Logger) *Processor {
	return &Processor{
		store:       store,
		libraryRoot: libraryRoot,
		httpClient:  &http.Client{Timeout: coverTimeout},
		log:         log.With("component", "postprocess"),
	}
}

// Process files one downloaded track. Returns the final library path.
// An existing file at the destination wins; the new download is
// discarded rather than overwriting.
func (p *Processor) Process(ctx context.Context, filePath string, tc *TrackContext) (string, error) {
	number, title := p.repairNaming(filePath, tc)

	destPath := p.destinationPath(tc.ArtistName, tc.AlbumName, number, title, filepath.Ext(filePath))

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", fmt.Errorf("create album dir: %w", err)
	}

	if _, err := os.Stat(destPath); err == nil {
		p.log.Info("destination exists, discarding new file", "dest", destPath)
		if err := os.Remove(filePath); err != nil {
			return "", fmt.Errorf("remove duplicate download: %w", err)
		}
		p.cleanupSourceDir(filePath)
		return destPath, nil
	}

	if err := moveFile(filePath, destPath); err != nil {
		return "", fmt.Errorf("move into library: %w", err)
	}

	// Tag failures keep the file; the audio is worth more than the tags.
	if err := p.writeTags(ctx, destPath, number, title, tc); err != nil {
		p.log.Warn("tag write failed, keeping file", "path", destPath, "error", err)
	}

	if err := p.registerInCatalog(destPath, number, title, tc); err != nil {
		return "", fmt.Errorf("register in catalog: %w", err)
	}

	p.cleanupSourceDir(filePath)
	return destPath, nil
}

// repairNaming reconciles the peer filename against the official
// tracklist. The parsed number wins for locating the official entry;
// the official title always wins for naming.
func (p *Processor) repairNaming(filePath string, tc *TrackContext) (int, string) {
	number := tc.TrackNumber
	title := tc.TrackTitle

	if len(tc.OfficialTracks) == 0 {
		return number, title
	}

	parsed := match.ParseFilename(filePath)
	if parsed.Title == "" || parsed.TrackNumber == 0 {
		// Peer files with unparseable names often still carry tags.
		if embedded, err := tags.Read(filePath); err == nil {
			if parsed.Title == "" {
				parsed.Title = embedded.Title
			}
			if parsed.TrackNumber == 0 {
				parsed.TrackNumber = embedded.TrackNumber
			}
		}
	}
	if parsed.Title == "" {
		parsed.Title = title
	}
	if parsed.TrackNumber == 0 {
		parsed.TrackNumber = number
	}

	if official := match.MatchTrackToOfficial(parsed, tc.OfficialTracks); official != nil {
		return official.Number, official.Title
	}
	return number, title
}

func (p *Processor) destinationPath(artist, album string, number int, title, ext string) string {
	filename := fmt.Sprintf("%02d - %s%s", number, sanitizeComponent(title), strings.ToLower(ext))
	return filepath.Join(p.libraryRoot, sanitizeComponent(artist), sanitizeComponent(album), filename)
}

func (p *Processor) writeTags(ctx context.Context, path string, number int, title string, tc *TrackContext) error {
	t := &tags.Tag{
		Title:            title,
		Artist:           tc.ArtistName,
		AlbumArtist:      tc.ArtistName,
		Album:            tc.AlbumName,
		Genre:            tc.Genre,
		TrackNumber:      number,
		TotalTracks:      tc.TotalTracks,
		Year:             tc.Year,
		ExternalTrackID:  tc.ExternalTrackID,
		ExternalAlbumID:  tc.ExternalAlbumID,
		ExternalArtistID: tc.ExternalArtistID,
	}

	if tc.CoverURL != "" {
		if cover, err := p.fetchCover(ctx, tc.CoverURL); err != nil {
			p.log.Warn("cover fetch failed", "url", tc.CoverURL, "error", err)
		} else {
			t.CoverArt = cover
		}
	}

	return tags.Write(path, t)
}

func (p *Processor) fetchCover(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (p *Processor) registerInCatalog(path string, number int, title string, tc *TrackContext) error {
	artistID := localID(tc.ExternalArtistID, tc.ArtistName)
	albumID := localID(tc.ExternalAlbumID, tc.ArtistName+"/"+tc.AlbumName)
	trackID := localID(tc.ExternalTrackID, tc.ArtistName+"/"+tc.AlbumName+"/"+title)

	artist := &catalog.Artist{ID: artistID, Name: tc.ArtistName}
	if tc.ExternalArtistID != "" {
		artist.ExternalID = tc.ExternalArtistID
		artist.MatchStatus = catalog.MatchMatched
	}

	album := &catalog.Album{
		ID:         albumID,
		ArtistID:   artistID,
		Title:      tc.AlbumName,
		Year:       tc.Year,
		TrackCount: tc.TotalTracks,
	}
	if tc.ExternalAlbumID != "" {
		album.ExternalID = tc.ExternalAlbumID
		album.MatchStatus = catalog.MatchMatched
	}

	track := &catalog.Track{
		ID:          trackID,
		AlbumID:     albumID,
		ArtistID:    artistID,
		Title:       title,
		TrackNumber: number,
		FilePath:    path,
	}
	if tc.ExternalTrackID != "" {
		track.ExternalID = tc.ExternalTrackID
		track.MatchStatus = catalog.MatchMatched
	}

	// All three rows land atomically; a failed track insert does not
	// leave a stray artist or album behind.
	return p.store.RegisterImport(artist, album, track)
}

// cleanupSourceDir removes the download's parent directory when the move
// left it empty.
func (p *Processor) cleanupSourceDir(filePath string) {
	dir := filepath.Dir(filePath)
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return
	}
	if err := os.Remove(dir); err != nil {
		p.log.Debug("source dir cleanup failed", "dir", dir, "error", err)
	}
}

// localID derives a stable catalog id for entities created outside a
// library scan. Prefers the provider id; falls back to the name path.
func localID(externalID, fallback string) int64 {
	key := externalID
	if key == "" {
		key = fallback
	}
	h := fnv.New64a()
	h.Write([]byte(strings.ToLower(key)))
	id := int64(h.Sum64() & 0x7fffffffffffffff)
	if id == 0 {
		id = 1
	}
	return id
}

// moveFile renames within a filesystem, falling back to a durable
// copy-then-unlink across filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFileSync(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFileSync(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		os.Remove(dst)
		return err
	}
	if err := dstFile.Sync(); err != nil {
		dstFile.Close()
		os.Remove(dst)
		return err
	}
	return dstFile.Close()
}

// sanitizeComponent makes a string safe as a single path component.
func sanitizeComponent(name string) string {
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_",
		"?", "_", "\"", "_", "<", "_", ">", "_", "|", "_",
	)
	name = replacer.Replace(name)
	name = strings.TrimSpace(name)
	name = strings.TrimRight(name, ". ")

	if runes := []rune(name); len(runes) > maxComponentLen {
		name = strings.TrimSpace(string(runes[:maxComponentLen]))
	}
	if name == "" {
		return "Unknown"
	}
	return name
}
