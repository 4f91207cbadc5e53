package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llehouerou/attune/internal/catalog"
	"github.com/llehouerou/attune/internal/postprocess"
	"github.com/llehouerou/attune/internal/slskd"
	"github.com/llehouerou/attune/internal/spotify"
	"github.com/llehouerou/attune/internal/transfers"
)

// fakeP2P simulates the daemon: search results are canned, started
// downloads write a file into the download root, and transfer states are
// scripted per source.
type fakeP2P struct {
	mu           sync.Mutex
	responses    []slskd.SearchResponse
	searchErr    error
	downloadRoot string
	// state per source key; missing key means the transfer is absent
	states       map[string]slskd.Transfer
	started      []string
	cancelled    []string
}

func (f *fakeP2P) Search(_ context.Context, _ string) ([]slskd.SearchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.responses, nil
}

func (f *fakeP2P) Download(_ context.Context, username string, files []slskd.File) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, file := range files {
		key := transfers.Key(username, file.Filename)
		f.started = append(f.started, key)
		if t, ok := f.states[key]; ok && t.IsSucceeded() && f.downloadRoot != "" {
			path := filepath.Join(f.downloadRoot, transfers.Basename(file.Filename))
			_ = os.WriteFile(path, []byte("audio"), 0o644)
		}
	}
	return nil
}

func (f *fakeP2P) CancelDownload(_ context.Context, username, downloadID string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, username+"/"+downloadID)
	return nil
}

func (f *fakeP2P) ClearCompleted(_ context.Context) error { return nil }
func (f *fakeP2P) CheckConnection(_ context.Context) error { return nil }

func (f *fakeP2P) startedSources() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

// fakeTransferSource serves the fakeP2P states directly.
type fakeTransferSource struct {
	p2p *fakeP2P
}

func (s *fakeTransferSource) Snapshot(_ context.Context) (map[string]slskd.Transfer, error) {
	s.p2p.mu.Lock()
	defer s.p2p.mu.Unlock()
	snap := make(map[string]slskd.Transfer, len(s.p2p.states))
	for k, v := range s.p2p.states {
		snap[k] = v
	}
	return snap, nil
}

func (s *fakeTransferSource) Invalidate() {}

type fakeWishlist struct {
	mu      sync.Mutex
	entries []catalog.WishlistEntry
}

func (w *fakeWishlist) AddToWishlist(e *catalog.WishlistEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, *e)
	return nil
}

func (w *fakeWishlist) all() []catalog.WishlistEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]catalog.WishlistEntry(nil), w.entries...)
}

type fakeProcessor struct{}

func (fakeProcessor) Process(_ context.Context, filePath string, _ *postprocess.TrackContext) (string, error) {
	return filePath, nil
}

func fastConfig(root string) Config {
	return Config{
		DownloadRoot:           root,
		MaxConcurrent:          1,
		MonitorInterval:        10 * time.Millisecond,
		HealInterval:           50 * time.Millisecond,
		AlbumStallTimeout:      60 * time.Millisecond,
		BackgroundStallTimeout: 300 * time.Millisecond,
		MissingTransferTimeout: 500 * time.Millisecond,
		ErrorRetryCooldown:     5 * time.Millisecond,
		TimeoutRetrySpacing:    10 * time.Millisecond,
		SettleDelay:            5 * time.Millisecond,
	}
}

func sourceFile(name string, bitrate int) slskd.File {
	return slskd.File{Filename: `@@share\Burial\Untrue\` + name, Size: 1 << 20, BitRate: bitrate}
}

func waitForEvent(t *testing.T, events <-chan Event, want EventType, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-events:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func testRequest() TrackRequest {
	return TrackRequest{
		ExternalTrackID: "sp-track-1",
		Title:           "Archangel",
		ArtistName:      "Burial",
		AlbumName:       "Untrue",
		TrackNumber:     2,
	}
}

// Queue timeout then success: first source sits in the remote queue past
// the album threshold, engine moves to the second source and finishes.
func TestQueueTimeoutThenSuccess(t *testing.T) {
	root := t.TempDir()

	stuck := sourceFile("02 - Archangel.flac", 0)
	good := sourceFile("02 - Archangel.mp3", 320)
	stuckKey := transfers.Key("stuck-peer", stuck.Filename)
	goodKey := transfers.Key("good-peer", good.Filename)

	p2p := &fakeP2P{
		downloadRoot: root,
		responses: []slskd.SearchResponse{
			{Username: "stuck-peer", Files: []slskd.File{stuck}},
			{Username: "good-peer", Files: []slskd.File{good}},
		},
		states: map[string]slskd.Transfer{
			stuckKey: {ID: "t1", Username: "stuck-peer", Filename: stuck.Filename, State: "Queued, Remotely"},
			goodKey:  {ID: "t2", Username: "good-peer", Filename: good.Filename, State: "Completed, Succeeded", PercentComplete: 100},
		},
	}
	wl := &fakeWishlist{}
	eng := New(p2p, &fakeTransferSource{p2p: p2p}, wl, fakeProcessor{}, fastConfig(root), testLogger())
	events := eng.Subscribe()

	ctx := context.Background()
	eng.Start(ctx)
	defer eng.Close()

	batchID, err := eng.SubmitBatch(ctx, []TrackRequest{testRequest()}, BatchOptions{
		SourceType:      catalog.SourceAlbum,
		IsAlbumDownload: true,
	})
	require.NoError(t, err)

	ev := waitForEvent(t, events, EventTaskDone, 5*time.Second)
	assert.Equal(t, batchID, ev.BatchID)
	assert.Equal(t, "sp-track-1", ev.ExternalTrackID)

	// The lossless stuck source ranks first, then the engine fell back.
	started := p2p.startedSources()
	require.GreaterOrEqual(t, len(started), 2)
	assert.Equal(t, stuckKey, started[0])
	assert.Contains(t, started, goodKey)

	task, ok := eng.TaskSnapshot(ev.TaskID)
	require.True(t, ok)
	assert.Equal(t, StatusDone, task.Status)
	assert.Contains(t, task.UsedSources, stuckKey)
	assert.Contains(t, task.UsedSources, goodKey)

	assert.Empty(t, wl.all(), "no wishlist row on success")
}

// Three errored sources exhaust the retry budget and produce exactly one
// wishlist row tagged with the originating source.
func TestThreeErrorsRouteToWishlist(t *testing.T) {
	files := []slskd.File{
		sourceFile("02 - Archangel (1).mp3", 320),
		sourceFile("02 - Archangel (2).mp3", 256),
		sourceFile("02 - Archangel (3).mp3", 192),
	}
	states := make(map[string]slskd.Transfer)
	responses := make([]slskd.SearchResponse, 0, len(files))
	for i, f := range files {
		user := []string{"e1", "e2", "e3"}[i]
		responses = append(responses, slskd.SearchResponse{Username: user, Files: []slskd.File{f}})
		states[transfers.Key(user, f.Filename)] = slskd.Transfer{
			ID: "t", Username: user, Filename: f.Filename, State: "Errored",
		}
	}

	p2p := &fakeP2P{responses: responses, states: states}
	wl := &fakeWishlist{}
	eng := New(p2p, &fakeTransferSource{p2p: p2p}, wl, fakeProcessor{}, fastConfig(t.TempDir()), testLogger())
	events := eng.Subscribe()

	ctx := context.Background()
	eng.Start(ctx)
	defer eng.Close()

	_, err := eng.SubmitBatch(ctx, []TrackRequest{testRequest()}, BatchOptions{
		SourceType: catalog.SourceWatchlist,
	})
	require.NoError(t, err)

	ev := waitForEvent(t, events, EventTaskFailed, 5*time.Second)
	assert.NotEmpty(t, ev.Reason)

	entries := wl.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "sp-track-1", entries[0].ExternalTrackID)
	assert.Equal(t, catalog.SourceWatchlist, entries[0].SourceType)
	assert.NotEmpty(t, entries[0].FailureReason)

	// The descriptor is the provider track shape every wishlist consumer
	// decodes.
	var track spotify.Track
	require.NoError(t, json.Unmarshal([]byte(entries[0].DescriptorJSON), &track))
	assert.Equal(t, "sp-track-1", track.ID)
	assert.Equal(t, "Archangel", track.Name)
	assert.Equal(t, "Burial", track.ArtistName())
	assert.Equal(t, "Untrue", track.Album.Name)
	assert.Equal(t, 2, track.TrackNumber)
}

// A batch whose recorded active count drifted from its task states is
// corrected by the healing tick, and the dispatcher resumes.
func TestHealingCorrectsActiveCount(t *testing.T) {
	p2p := &fakeP2P{
		responses: []slskd.SearchResponse{
			{Username: "peer", Files: []slskd.File{sourceFile("02 - Archangel.mp3", 320)}},
		},
		states: map[string]slskd.Transfer{},
	}
	eng := New(p2p, &fakeTransferSource{p2p: p2p}, &fakeWishlist{}, fakeProcessor{}, fastConfig(t.TempDir()), testLogger())

	batch := &Batch{ID: "b1", SourceType: catalog.SourceManual, MaxConcurrent: 1}
	doneTask := &Task{ID: "t-done", BatchID: "b1", Status: StatusDone, UsedSources: map[string]struct{}{}}
	orphan := &Task{ID: "t-done2", BatchID: "b1", Status: StatusDone, UsedSources: map[string]struct{}{}}
	pending := &Task{ID: "t-pending", BatchID: "b1", Request: testRequest(), Status: StatusSubmitted, UsedSources: map[string]struct{}{}}

	batch.Queue = []string{doneTask.ID, orphan.ID, pending.ID}
	batch.QueueIndex = 2
	batch.ActiveCount = 2 // drifted: both dispatched tasks are done

	eng.mu.Lock()
	eng.batches[batch.ID] = batch
	for _, task := range []*Task{doneTask, orphan, pending} {
		eng.tasks[task.ID] = task
	}
	eng.mu.Unlock()

	eng.healTick(context.Background())

	require.Eventually(t, func() bool {
		_, _, _, _, ok := eng.BatchSnapshot("b1")
		if !ok {
			return false
		}
		task, ok := eng.TaskSnapshot("t-pending")
		return ok && task.Status != StatusSubmitted
	}, 2*time.Second, 10*time.Millisecond, "pending task was not dispatched after healing")

	queueLen, queueIndex, _, _, ok := eng.BatchSnapshot("b1")
	require.True(t, ok)
	assert.Equal(t, 3, queueLen)
	assert.Equal(t, 3, queueIndex)
}

// Used sources only grow; a retried task never re-tries a source.
func TestUsedSourcesNeverRepeat(t *testing.T) {
	stuck := sourceFile("02 - Archangel.flac", 0)
	stuckKey := transfers.Key("stuck-peer", stuck.Filename)

	p2p := &fakeP2P{
		responses: []slskd.SearchResponse{
			{Username: "stuck-peer", Files: []slskd.File{stuck}},
		},
		states: map[string]slskd.Transfer{
			stuckKey: {ID: "t1", Username: "stuck-peer", Filename: stuck.Filename, State: "Queued, Remotely"},
		},
	}
	wl := &fakeWishlist{}
	eng := New(p2p, &fakeTransferSource{p2p: p2p}, wl, fakeProcessor{}, fastConfig(t.TempDir()), testLogger())
	events := eng.Subscribe()

	ctx := context.Background()
	eng.Start(ctx)
	defer eng.Close()

	_, err := eng.SubmitBatch(ctx, []TrackRequest{testRequest()}, BatchOptions{IsAlbumDownload: true})
	require.NoError(t, err)

	// Only one source exists, so the first stall retry exhausts it.
	waitForEvent(t, events, EventTaskFailed, 5*time.Second)

	started := p2p.startedSources()
	assert.Len(t, started, 1, "single source must not be retried")
	require.Len(t, wl.all(), 1)
	assert.Equal(t, "no remaining sources", wl.all()[0].FailureReason)
}

func TestSubmitBatchRejectsDeadDaemon(t *testing.T) {
	p2p := &fakeP2P{}
	eng := New(&deadP2P{fakeP2P: p2p}, &fakeTransferSource{p2p: p2p}, &fakeWishlist{}, fakeProcessor{}, fastConfig(t.TempDir()), testLogger())

	_, err := eng.SubmitBatch(context.Background(), []TrackRequest{testRequest()}, BatchOptions{})
	require.Error(t, err)
}

type deadP2P struct{ *fakeP2P }

func (deadP2P) CheckConnection(_ context.Context) error {
	return errors.New("connection refused")
}

func TestCancelBatchStopsDispatch(t *testing.T) {
	stuck := sourceFile("02 - Archangel.flac", 0)
	stuckKey := transfers.Key("stuck-peer", stuck.Filename)
	p2p := &fakeP2P{
		responses: []slskd.SearchResponse{
			{Username: "stuck-peer", Files: []slskd.File{stuck}},
		},
		states: map[string]slskd.Transfer{
			stuckKey: {ID: "t1", Username: "stuck-peer", Filename: stuck.Filename, State: "Queued, Remotely"},
		},
	}
	eng := New(p2p, &fakeTransferSource{p2p: p2p}, &fakeWishlist{}, fakeProcessor{}, fastConfig(t.TempDir()), testLogger())
	events := eng.Subscribe()

	ctx := context.Background()
	eng.Start(ctx)
	defer eng.Close()

	reqs := []TrackRequest{testRequest(), testRequest(), testRequest()}
	batchID, err := eng.SubmitBatch(ctx, reqs, BatchOptions{})
	require.NoError(t, err)

	require.NoError(t, eng.CancelBatch(ctx, batchID))
	waitForEvent(t, events, EventTaskCancelled, 2*time.Second)

	_, queueIndex, _, cancelled, ok := eng.BatchSnapshot(batchID)
	require.True(t, ok)
	assert.True(t, cancelled)
	assert.Equal(t, 1, queueIndex, "dispatcher must stop after cancellation")
}

// Several tasks run at once so the monitor observes statuses while the
// selection goroutines rewrite them; the batch still settles cleanly.
func TestConcurrentBatchSettles(t *testing.T) {
	root := t.TempDir()
	good := sourceFile("02 - Archangel.mp3", 320)
	goodKey := transfers.Key("good-peer", good.Filename)

	p2p := &fakeP2P{
		downloadRoot: root,
		responses: []slskd.SearchResponse{
			{Username: "good-peer", Files: []slskd.File{good}},
		},
		states: map[string]slskd.Transfer{
			goodKey: {ID: "t1", Username: "good-peer", Filename: good.Filename, State: "Completed, Succeeded", PercentComplete: 100},
		},
	}
	wl := &fakeWishlist{}
	eng := New(p2p, &fakeTransferSource{p2p: p2p}, wl, fakeProcessor{}, fastConfig(root), testLogger())
	events := eng.Subscribe()

	ctx := context.Background()
	eng.Start(ctx)
	defer eng.Close()

	reqs := make([]TrackRequest, 4)
	for i := range reqs {
		reqs[i] = testRequest()
		reqs[i].ExternalTrackID = fmt.Sprintf("sp-track-%d", i+1)
	}
	batchID, err := eng.SubmitBatch(ctx, reqs, BatchOptions{MaxConcurrent: 4})
	require.NoError(t, err)

	ev := waitForEvent(t, events, EventBatchDone, 5*time.Second)
	assert.Equal(t, batchID, ev.BatchID)
	assert.Empty(t, wl.all())
}

// A finished batch is announced exactly once, and after the retention
// window the heal tick drops it and its tasks from the registries.
func TestFinishedBatchPrunedAfterRetention(t *testing.T) {
	root := t.TempDir()
	good := sourceFile("02 - Archangel.mp3", 320)
	goodKey := transfers.Key("good-peer", good.Filename)

	p2p := &fakeP2P{
		downloadRoot: root,
		responses: []slskd.SearchResponse{
			{Username: "good-peer", Files: []slskd.File{good}},
		},
		states: map[string]slskd.Transfer{
			goodKey: {ID: "t1", Username: "good-peer", Filename: good.Filename, State: "Completed, Succeeded", PercentComplete: 100},
		},
	}
	cfg := fastConfig(root)
	cfg.CompletedRetention = time.Millisecond
	eng := New(p2p, &fakeTransferSource{p2p: p2p}, &fakeWishlist{}, fakeProcessor{}, cfg, testLogger())
	events := eng.Subscribe()

	ctx := context.Background()
	eng.Start(ctx)
	defer eng.Close()

	batchID, err := eng.SubmitBatch(ctx, []TrackRequest{testRequest()}, BatchOptions{})
	require.NoError(t, err)

	taskEv := waitForEvent(t, events, EventTaskDone, 5*time.Second)
	waitForEvent(t, events, EventBatchDone, 5*time.Second)

	require.Eventually(t, func() bool {
		_, _, _, _, ok := eng.BatchSnapshot(batchID)
		return !ok
	}, 2*time.Second, 10*time.Millisecond, "finished batch must leave the registry")

	_, ok := eng.TaskSnapshot(taskEv.TaskID)
	assert.False(t, ok, "pruned batch leaves no orphan tasks")

	// Heal ticks kept running while we waited; none may have repeated
	// the done announcement.
	for {
		select {
		case ev := <-events:
			assert.NotEqual(t, EventBatchDone, ev.Type, "batch done announced more than once")
		default:
			return
		}
	}
}
