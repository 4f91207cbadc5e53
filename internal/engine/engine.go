// Package engine executes download fulfillment: it turns track requests
// into ranked P2P downloads, watches them for stalls and errors, retries
// across sources, and hands completed files to post-processing.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/llehouerou/attune/internal/catalog"
	"github.com/llehouerou/attune/internal/postprocess"
	"github.com/llehouerou/attune/internal/slskd"
	"github.com/llehouerou/attune/internal/spotify"
	"github.com/llehouerou/attune/internal/transfers"
)

// P2P is the slice of the daemon client the engine uses.
type P2P interface {
	Search(ctx context.Context, query string) ([]slskd.SearchResponse, error)
	Download(ctx context.Context, username string, files []slskd.File) error
	CancelDownload(ctx context.Context, username, downloadID string, remove bool) error
	ClearCompleted(ctx context.Context) error
	CheckConnection(ctx context.Context) error
}

// TransferSource provides the shared transfer snapshot.
type TransferSource interface {
	Snapshot(ctx context.Context) (map[string]slskd.Transfer, error)
	Invalidate()
}

// PostProcessor files a completed download into the library.
type PostProcessor interface {
	Process(ctx context.Context, filePath string, tc *postprocess.TrackContext) (string, error)
}

// WishlistSink persists permanently failed requests.
type WishlistSink interface {
	AddToWishlist(e *catalog.WishlistEntry) error
}

// Config carries engine tuning. Zero values select the defaults.
type Config struct {
	DownloadRoot  string
	MaxConcurrent int

	MonitorInterval        time.Duration
	HealInterval           time.Duration
	AlbumStallTimeout      time.Duration
	BackgroundStallTimeout time.Duration
	MissingTransferTimeout time.Duration
	ErrorRetryCooldown     time.Duration
	TimeoutRetrySpacing    time.Duration
	SettleDelay            time.Duration
	CompletedRetention     time.Duration

	MaxErrorRetries   int
	MaxTimeoutRetries int
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 3
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = time.Second
	}
	if c.HealInterval <= 0 {
		c.HealInterval = 30 * time.Second
	}
	if c.AlbumStallTimeout <= 0 {
		c.AlbumStallTimeout = 15 * time.Second
	}
	if c.BackgroundStallTimeout <= 0 {
		c.BackgroundStallTimeout = 90 * time.Second
	}
	if c.MissingTransferTimeout <= 0 {
		c.MissingTransferTimeout = 90 * time.Second
	}
	if c.ErrorRetryCooldown <= 0 {
		c.ErrorRetryCooldown = 5 * time.Second
	}
	if c.TimeoutRetrySpacing <= 0 {
		c.TimeoutRetrySpacing = 30 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = time.Second
	}
	if c.CompletedRetention <= 0 {
		c.CompletedRetention = 5 * time.Minute
	}
	if c.MaxErrorRetries <= 0 {
		c.MaxErrorRetries = 3
	}
	if c.MaxTimeoutRetries <= 0 {
		c.MaxTimeoutRetries = 3
	}
}

// Engine is the download fulfillment engine.
type Engine struct {
	p2p      P2P
	cache    TransferSource
	wishlist WishlistSink
	proc     PostProcessor
	cfg      Config
	log      *slog.Logger

	mu      sync.Mutex
	tasks   map[string]*Task
	batches map[string]*Batch

	subMu sync.Mutex
	subs  []chan Event

	stop chan struct{}
	wg   sync.WaitGroup
}

func New(p2p P2P, cache TransferSource, wishlist WishlistSink, proc PostProcessor, cfg Config, log *slog.Logger) *Engine {
	cfg.applyDefaults()
	return &Engine{
		p2p:      p2p,
		cache:    cache,
		wishlist: wishlist,
		proc:     proc,
		cfg:      cfg,
		log:      log.With("component", "engine"),
		tasks:    make(map[string]*Task),
		batches:  make(map[string]*Batch),
		stop:     make(chan struct{}),
	}
}

// Start launches the monitor and healing loops.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(2)
	go e.monitorLoop(ctx)
	go e.healLoop(ctx)
}

// Close stops the background loops and waits for them.
func (e *Engine) Close() {
	close(e.stop)
	e.wg.Wait()
}

// Subscribe returns a channel of engine events. Slow subscribers drop
// events rather than blocking the engine.
func (e *Engine) Subscribe() <-chan Event {
	ch := make(chan Event, 256)
	e.subMu.Lock()
	e.subs = append(e.subs, ch)
	e.subMu.Unlock()
	return ch
}

func (e *Engine) emit(ev Event) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			e.log.Warn("dropping event for slow subscriber", "type", ev.Type, "task", ev.TaskID)
		}
	}
}

// BatchOptions controls one submission.
type BatchOptions struct {
	SourceType      string
	SourceInfoJSON  string
	IsAlbumDownload bool
	MaxConcurrent   int
}

// SubmitBatch queues a set of track requests as one batch and starts
// dispatching up to the concurrency limit. The daemon connection is
// verified first so a dead daemon fails fast instead of queueing work
// that can only stall.
func (e *Engine) SubmitBatch(ctx context.Context, requests []TrackRequest, opts BatchOptions) (string, error) {
	if len(requests) == 0 {
		return "", fmt.Errorf("empty batch")
	}
	if err := e.p2p.CheckConnection(ctx); err != nil {
		return "", fmt.Errorf("daemon unavailable: %w", err)
	}

	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = e.cfg.MaxConcurrent
	}
	sourceType := opts.SourceType
	if sourceType == "" {
		sourceType = catalog.SourceManual
	}

	batch := &Batch{
		ID:            uuid.NewString(),
		SourceType:    sourceType,
		SourceInfo:    opts.SourceInfoJSON,
		IsAlbum:       opts.IsAlbumDownload,
		MaxConcurrent: maxConcurrent,
	}

	e.mu.Lock()
	for _, req := range requests {
		task := &Task{
			ID:            uuid.NewString(),
			BatchID:       batch.ID,
			Request:       req,
			Status:        StatusSubmitted,
			StatusChanged: time.Now(),
			UsedSources:   make(map[string]struct{}),
		}
		e.tasks[task.ID] = task
		batch.Queue = append(batch.Queue, task.ID)
	}
	e.batches[batch.ID] = batch
	e.mu.Unlock()

	e.log.Info("batch submitted", "batch", batch.ID, "tasks", len(requests), "source", sourceType, "album", opts.IsAlbumDownload)
	e.dispatch(ctx, batch)
	return batch.ID, nil
}

// dispatch fills free worker slots with pending tasks. Safe to call
// from any goroutine; serialized per batch by the batch lock.
func (e *Engine) dispatch(ctx context.Context, b *Batch) {
	var started []*Task

	b.mu.Lock()
	for !b.Cancelled && b.ActiveCount < b.MaxConcurrent && b.QueueIndex < len(b.Queue) {
		taskID := b.Queue[b.QueueIndex]
		b.QueueIndex++

		e.mu.Lock()
		task := e.tasks[taskID]
		e.mu.Unlock()
		if task == nil || task.Status.IsTerminal() {
			continue
		}

		task.Status = StatusSearching
		task.StatusChanged = time.Now()
		b.ActiveCount++
		started = append(started, task)
	}
	// The done latch fires exactly once per batch, no matter how many
	// times dispatch runs over a finished one.
	var announce bool
	if b.complete() && !b.done {
		b.done = true
		b.finishedAt = time.Now()
		announce = !b.Cancelled
	}
	b.mu.Unlock()

	for _, task := range started {
		t := task
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.runAttempt(ctx, t, b)
		}()
	}

	if announce {
		e.emit(Event{Type: EventBatchDone, BatchID: b.ID})
	}
}

// releaseSlot frees the slot held by a finished task and re-kicks the
// dispatcher.
func (e *Engine) releaseSlot(ctx context.Context, b *Batch) {
	b.mu.Lock()
	if b.ActiveCount > 0 {
		b.ActiveCount--
	}
	b.mu.Unlock()
	e.dispatch(ctx, b)
}

// CancelBatch stops dispatching new tasks and cancels the in-flight
// ones.
func (e *Engine) CancelBatch(ctx context.Context, batchID string) error {
	e.mu.Lock()
	b := e.batches[batchID]
	e.mu.Unlock()
	if b == nil {
		return fmt.Errorf("unknown batch %s", batchID)
	}

	b.mu.Lock()
	b.Cancelled = true
	ids := append([]string(nil), b.Queue...)
	b.mu.Unlock()

	for _, id := range ids {
		e.mu.Lock()
		t := e.tasks[id]
		e.mu.Unlock()
		if t == nil {
			continue
		}
		b.mu.Lock()
		skip := t.Status.IsTerminal() || t.Status == StatusSubmitted
		b.mu.Unlock()
		if skip {
			continue
		}
		e.cancelTask(ctx, t, b)
	}
	return nil
}

// CancelTask cancels one task without retry.
func (e *Engine) CancelTask(ctx context.Context, taskID string) error {
	e.mu.Lock()
	t := e.tasks[taskID]
	var b *Batch
	if t != nil {
		b = e.batches[t.BatchID]
	}
	e.mu.Unlock()
	if t == nil || b == nil {
		return fmt.Errorf("unknown task %s", taskID)
	}
	e.cancelTask(ctx, t, b)
	return nil
}

func (e *Engine) cancelTask(ctx context.Context, t *Task, b *Batch) {
	b.mu.Lock()
	if t.Status.IsTerminal() {
		b.mu.Unlock()
		return
	}
	wasActive := t.Status.isActive()
	current := t.Current
	t.Status = StatusCancelled
	t.StatusChanged = time.Now()
	b.mu.Unlock()

	if current != nil {
		if live, ok := e.lookupTransfer(ctx, current); ok {
			if err := e.p2p.CancelDownload(ctx, current.Username, live.ID, true); err != nil {
				e.log.Debug("cancel download failed", "task", t.ID, "error", err)
			}
			e.cache.Invalidate()
		}
	}

	e.emit(Event{
		Type:            EventTaskCancelled,
		BatchID:         b.ID,
		TaskID:          t.ID,
		ExternalTrackID: t.Request.ExternalTrackID,
		Status:          StatusCancelled,
	})
	if wasActive {
		e.releaseSlot(ctx, b)
	}
}

func (e *Engine) lookupTransfer(ctx context.Context, c *Candidate) (slskd.Transfer, bool) {
	snap, err := e.cache.Snapshot(ctx)
	if err != nil {
		return slskd.Transfer{}, false
	}
	t, ok := snap[c.Key()]
	return t, ok
}

// TaskSnapshot returns a copy of a task's observable state.
func (e *Engine) TaskSnapshot(taskID string) (Task, bool) {
	e.mu.Lock()
	t := e.tasks[taskID]
	var b *Batch
	if t != nil {
		b = e.batches[t.BatchID]
	}
	e.mu.Unlock()
	if t == nil {
		return Task{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := *t
	cp.UsedSources = make(map[string]struct{}, len(t.UsedSources))
	for k := range t.UsedSources {
		cp.UsedSources[k] = struct{}{}
	}
	return cp, true
}

// BatchSnapshot returns a batch's queue position and slot usage.
func (e *Engine) BatchSnapshot(batchID string) (queueLen, queueIndex, activeCount int, cancelled, ok bool) {
	e.mu.Lock()
	b := e.batches[batchID]
	e.mu.Unlock()
	if b == nil {
		return 0, 0, 0, false, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Queue), b.QueueIndex, b.ActiveCount, b.Cancelled, true
}

// failTask marks a task permanently failed and, unless the failure is
// fatal, routes it to the wishlist for later auto-retry.
func (e *Engine) failTask(ctx context.Context, t *Task, b *Batch, reason string, toWishlist bool) {
	b.mu.Lock()
	if t.Status.IsTerminal() {
		b.mu.Unlock()
		return
	}
	t.Status = StatusFailed
	t.FailureReason = reason
	t.StatusChanged = time.Now()
	b.mu.Unlock()

	e.log.Warn("task failed", "task", t.ID, "track", t.Request.Title, "reason", reason, "wishlist", toWishlist)

	if toWishlist && t.Request.ExternalTrackID != "" {
		descriptor, err := WishlistDescriptor(t.Request)
		if err == nil {
			err = e.wishlist.AddToWishlist(&catalog.WishlistEntry{
				ExternalTrackID: t.Request.ExternalTrackID,
				DescriptorJSON:  descriptor,
				FailureReason:   reason,
				SourceType:      b.SourceType,
				SourceInfoJSON:  b.SourceInfo,
			})
		}
		if err != nil {
			e.log.Error("wishlist write failed", "task", t.ID, "error", err)
		}
	}

	e.emit(Event{
		Type:            EventTaskFailed,
		BatchID:         b.ID,
		TaskID:          t.ID,
		ExternalTrackID: t.Request.ExternalTrackID,
		Status:          StatusFailed,
		Reason:          reason,
	})
	e.releaseSlot(ctx, b)
}

// WishlistDescriptor renders a track request as the provider-shaped
// track JSON stored in wishlist rows. Every wishlist writer uses this
// shape; the retry scheduler rebuilds requests from it.
func WishlistDescriptor(req TrackRequest) (string, error) {
	track := spotify.Track{
		ID:          req.ExternalTrackID,
		Name:        req.Title,
		TrackNumber: req.TrackNumber,
		Album: spotify.Album{
			ID:          req.ExternalAlbumID,
			Name:        req.AlbumName,
			TotalTracks: req.TotalTracks,
		},
	}
	if req.ArtistName != "" || req.ExternalArtistID != "" {
		track.Artists = []spotify.Artist{{ID: req.ExternalArtistID, Name: req.ArtistName}}
	}
	if req.Year > 0 {
		track.Album.ReleaseDate = strconv.Itoa(req.Year)
	}
	if req.CoverURL != "" {
		track.Album.Images = []spotify.Image{{URL: req.CoverURL}}
	}

	raw, err := json.Marshal(track)
	if err != nil {
		return "", fmt.Errorf("marshal wishlist descriptor: %w", err)
	}
	return string(raw), nil
}

func sourceKey(username, filename string) string {
	return transfers.Key(username, filename)
}
