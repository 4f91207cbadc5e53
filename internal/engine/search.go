package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/llehouerou/attune/internal/match"
	"github.com/llehouerou/attune/internal/slskd"
)

// Candidate scoring weights. Title similarity dominates; artist
// similarity keeps same-titled covers from winning; a small quality
// term prefers better sources among otherwise close matches.
const (
	titleWeight   = 0.6
	artistWeight  = 0.4
	qualityWeight = 0.1
)

// runAttempt performs one selection pass for a task in searching state:
// find candidates, skip used sources, start the best remaining download.
func (e *Engine) runAttempt(ctx context.Context, t *Task, b *Batch) {
	b.mu.Lock()
	cancelled := b.Cancelled || t.Status.IsTerminal()
	b.mu.Unlock()
	if cancelled {
		return
	}

	candidates, err := e.searchCandidates(ctx, t.Request)
	if err != nil {
		e.failTask(ctx, t, b, fmt.Sprintf("search failed: %v", err), true)
		return
	}

	for i := range candidates {
		c := candidates[i]

		b.mu.Lock()
		if b.Cancelled || t.Status.IsTerminal() {
			b.mu.Unlock()
			return
		}
		if _, used := t.UsedSources[c.Key()]; used {
			b.mu.Unlock()
			continue
		}
		t.Status = StatusStarting
		t.StatusChanged = time.Now()
		t.Current = &c
		b.mu.Unlock()

		if err := e.p2p.Download(ctx, c.Username, []slskd.File{c.File}); err != nil {
			e.log.Debug("download start failed, trying next source",
				"task", t.ID, "source", c.Key(), "error", err)
			b.mu.Lock()
			t.UsedSources[c.Key()] = struct{}{}
			b.mu.Unlock()
			continue
		}

		b.mu.Lock()
		t.Status = StatusQueued
		t.StatusChanged = time.Now()
		t.QueuedStart = time.Now()
		t.DownloadStart = time.Time{}
		t.UsedSources[c.Key()] = struct{}{}
		b.mu.Unlock()

		e.log.Info("download queued", "task", t.ID, "track", t.Request.Title, "source", c.Key())
		return
	}

	b.mu.Lock()
	triedAny := len(t.UsedSources) > 0
	b.mu.Unlock()

	reason := "no candidates found"
	if triedAny {
		reason = "no remaining sources"
	}
	e.failTask(ctx, t, b, reason, true)
}

// searchCandidates queries the daemon and ranks the resulting files.
func (e *Engine) searchCandidates(ctx context.Context, req TrackRequest) ([]Candidate, error) {
	query := strings.TrimSpace(req.ArtistName + " " + match.CleanTrackNameForSearch(req.Title))

	responses, err := e.p2p.Search(ctx, query)
	if err != nil {
		return nil, err
	}

	var candidates []Candidate
	for _, resp := range responses {
		for _, f := range resp.Files {
			if f.IsLocked || !match.IsAudioFile(f.Filename) {
				continue
			}
			c := Candidate{
				Username: resp.Username,
				File:     f,
				Quality:  match.QualityScore(f.Filename, f.BitRate),
			}
			c.Score = scoreCandidate(req, f.Filename) + qualityWeight*c.Quality
			candidates = append(candidates, c)
		}
	}

	// Stable sort keeps first-seen order as the final tiebreak.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Quality > candidates[j].Quality
	})
	return candidates, nil
}

// scoreCandidate rates how well a remote filename matches the request.
func scoreCandidate(req TrackRequest, filename string) float64 {
	parsed := match.ParseFilename(filename)

	title := parsed.Title
	if title == "" {
		title = transferBasename(filename)
	}
	titleScore := match.Similarity(req.Title, title)

	// Peer paths usually carry the artist in a directory component even
	// when the filename does not.
	artistScore := match.Similarity(req.ArtistName, parsed.Artist)
	if pathScore := pathArtistScore(req.ArtistName, filename); pathScore > artistScore {
		artistScore = pathScore
	}

	return titleWeight*titleScore + artistWeight*artistScore
}

func pathArtistScore(artist, filename string) float64 {
	normalized := strings.ReplaceAll(filename, "\\", "/")
	best := 0.0
	for _, part := range strings.Split(normalized, "/") {
		if part == "" {
			continue
		}
		if s := match.Similarity(artist, part); s > best {
			best = s
		}
	}
	return best
}

func transferBasename(filename string) string {
	base := filename
	if i := strings.LastIndexAny(base, "/\\"); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	return base
}
