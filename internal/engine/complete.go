package engine

import (
	"context"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/llehouerou/attune/internal/match"
	"github.com/llehouerou/attune/internal/postprocess"
	"github.com/llehouerou/attune/internal/slskd"
)

// fuzzyLocateThreshold is the normalized-name similarity needed to claim
// a file on disk when the exact basename is absent (the daemon sometimes
// renames on collision).
const fuzzyLocateThreshold = 0.85

const locateAttempts = 3

// completeTask finishes a download the daemon reports as succeeded:
// locate the file on disk, post-process it, and remove the transfer.
func (e *Engine) completeTask(ctx context.Context, t *Task, b *Batch, live slskd.Transfer) {
	// Let the daemon finish flushing the file.
	select {
	case <-time.After(e.cfg.SettleDelay):
	case <-ctx.Done():
		return
	}

	wantBase := transferFileBase(live.Filename)

	var path string
	for attempt := 0; attempt < locateAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(e.cfg.SettleDelay):
			case <-ctx.Done():
				return
			}
		}
		if found := locateFile(e.cfg.DownloadRoot, wantBase); found != "" {
			path = found
			break
		}
	}

	if path == "" {
		// The daemon reported success, so retrying the same source is
		// pointless. Fatal, no wishlist.
		e.failTask(ctx, t, b, "download completed but file not found", false)
		return
	}

	b.mu.Lock()
	if t.Status.IsTerminal() {
		b.mu.Unlock()
		return
	}
	t.Status = StatusPostProcessing
	t.StatusChanged = time.Now()
	req := t.Request
	b.mu.Unlock()

	dest, err := e.proc.Process(ctx, path, &postprocess.TrackContext{
		ArtistName:       req.ArtistName,
		AlbumName:        req.AlbumName,
		TrackTitle:       req.Title,
		TrackNumber:      req.TrackNumber,
		TotalTracks:      req.TotalTracks,
		Year:             req.Year,
		Genre:            req.Genre,
		ExternalTrackID:  req.ExternalTrackID,
		ExternalAlbumID:  req.ExternalAlbumID,
		ExternalArtistID: req.ExternalArtistID,
		CoverURL:         req.CoverURL,
		OfficialTracks:   req.OfficialTracks,
	})
	if err != nil {
		// The audio is on disk but could not be filed. Fatal for the
		// same reason as a missing file.
		e.failTask(ctx, t, b, "post-processing failed: "+err.Error(), false)
		return
	}

	if err := e.p2p.CancelDownload(ctx, live.Username, live.ID, true); err != nil {
		e.log.Debug("remove completed transfer failed", "task", t.ID, "error", err)
	}
	e.cache.Invalidate()

	b.mu.Lock()
	t.Status = StatusDone
	t.StatusChanged = time.Now()
	t.DestinationPath = dest
	b.mu.Unlock()

	e.log.Info("task done", "task", t.ID, "track", req.Title, "path", dest)
	e.emit(Event{
		Type:            EventTaskDone,
		BatchID:         b.ID,
		TaskID:          t.ID,
		ExternalTrackID: req.ExternalTrackID,
		Status:          StatusDone,
		Path:            dest,
	})
	e.releaseSlot(ctx, b)
}

// locateFile walks the download root for a file matching the wanted
// basename, exact match first, then fuzzy on the normalized name.
func locateFile(root, wantBase string) string {
	var exact, fuzzy string
	bestScore := fuzzyLocateThreshold

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || exact != "" {
			return nil
		}
		base := d.Name()
		if base == wantBase {
			exact = path
			return nil
		}
		if score := match.Similarity(wantBase, base); score >= bestScore {
			bestScore = score
			fuzzy = path
		}
		return nil
	})

	if exact != "" {
		return exact
	}
	return fuzzy
}

func transferFileBase(filename string) string {
	return filepath.Base(filepath.FromSlash(replaceBackslashes(filename)))
}

func replaceBackslashes(s string) string {
	out := []rune(s)
	for i, r := range out {
		if r == '\\' {
			out[i] = '/'
		}
	}
	return string(out)
}
