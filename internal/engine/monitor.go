package engine

import (
	"context"
	"time"

	"github.com/llehouerou/attune/internal/slskd"
)

// monitorLoop is the single global watcher for all in-flight downloads.
// Ticks are serialized; no two run concurrently.
func (e *Engine) monitorLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.monitorTick(ctx)
		}
	}
}

func (e *Engine) monitorTick(ctx context.Context) {
	snap, err := e.cache.Snapshot(ctx)
	if err != nil {
		e.log.Debug("transfer snapshot unavailable", "error", err)
		return
	}

	// Task status is guarded by the owning batch's lock, so the
	// watched-state filter lives in checkTask, under that lock. Only
	// the registries are read here.
	type pair struct {
		t *Task
		b *Batch
	}
	e.mu.Lock()
	watched := make([]pair, 0, len(e.tasks))
	for _, t := range e.tasks {
		if b := e.batches[t.BatchID]; b != nil {
			watched = append(watched, pair{t, b})
		}
	}
	e.mu.Unlock()

	for _, w := range watched {
		w.b.mu.Lock()
		cancelled := w.b.Cancelled
		w.b.mu.Unlock()
		if cancelled {
			continue
		}
		e.checkTask(ctx, w.t, w.b, snap)
	}
}

// checkTask applies the stall and error rules to one watched task.
func (e *Engine) checkTask(ctx context.Context, t *Task, b *Batch, snap map[string]slskd.Transfer) {
	now := time.Now()
	stallTimeout := e.stallTimeout(b)

	b.mu.Lock()
	if t.Status != StatusQueued && t.Status != StatusDownloading {
		b.mu.Unlock()
		return
	}
	current := t.Current
	if current == nil {
		b.mu.Unlock()
		return
	}
	live, present := snap[current.Key()]

	// The daemon dropped the transfer entirely. Give it the long
	// timeout before giving up on the source.
	if !present {
		if now.Sub(t.StatusChanged) > e.cfg.MissingTransferTimeout {
			b.mu.Unlock()
			e.retryTimeout(ctx, t, b, "", "transfer disappeared from daemon")
			return
		}
		b.mu.Unlock()
		return
	}

	switch {
	case live.IsSucceeded() && live.PercentComplete >= 100:
		t.Status = StatusCompleted
		t.StatusChanged = now
		b.mu.Unlock()
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.completeTask(ctx, t, b, live)
		}()
		return

	case live.IsErrored():
		if now.Sub(t.LastErrorRetry) < e.cfg.ErrorRetryCooldown {
			b.mu.Unlock()
			return
		}
		if t.ErrorRetries >= e.cfg.MaxErrorRetries {
			b.mu.Unlock()
			e.failTask(ctx, t, b, "download errored repeatedly", true)
			return
		}
		t.ErrorRetries++
		t.LastErrorRetry = now
		b.mu.Unlock()
		e.retrySource(ctx, t, b, live.ID, "transfer errored")
		return

	case live.IsInProgress() && live.PercentComplete >= 1:
		// Real progress. Promote to downloading and forgive earlier
		// stalls.
		if t.Status == StatusQueued {
			t.Status = StatusDownloading
			t.StatusChanged = now
			t.DownloadStart = now
		}
		t.QueuedStart = time.Time{}
		t.TimeoutRetries = 0
		b.mu.Unlock()
		return

	default:
		// Queued, or InProgress with no real progress yet.
		start := t.QueuedStart
		if start.IsZero() {
			start = t.StatusChanged
		}
		if now.Sub(start) <= stallTimeout {
			b.mu.Unlock()
			return
		}
		if now.Sub(t.LastTimeoutRetry) < e.cfg.TimeoutRetrySpacing && !t.LastTimeoutRetry.IsZero() {
			b.mu.Unlock()
			return
		}
		if t.TimeoutRetries >= e.cfg.MaxTimeoutRetries {
			b.mu.Unlock()
			e.failTask(ctx, t, b, "download stalled", true)
			return
		}
		t.TimeoutRetries++
		t.LastTimeoutRetry = now
		b.mu.Unlock()
		e.retrySource(ctx, t, b, live.ID, "download stalled")
		return
	}
}

// stallTimeout returns the context-aware queued/0% threshold. Album
// downloads are user-interactive and get the short fuse.
func (e *Engine) stallTimeout(b *Batch) time.Duration {
	if b.IsAlbum {
		return e.cfg.AlbumStallTimeout
	}
	return e.cfg.BackgroundStallTimeout
}

// retryTimeout is the missing-transfer variant of retrySource: it counts
// against the timeout budget.
func (e *Engine) retryTimeout(ctx context.Context, t *Task, b *Batch, transferID, reason string) {
	b.mu.Lock()
	if t.Status.IsTerminal() {
		b.mu.Unlock()
		return
	}
	if t.TimeoutRetries >= e.cfg.MaxTimeoutRetries {
		b.mu.Unlock()
		e.failTask(ctx, t, b, "download stalled", true)
		return
	}
	t.TimeoutRetries++
	t.LastTimeoutRetry = time.Now()
	b.mu.Unlock()
	e.retrySource(ctx, t, b, transferID, reason)
}

// retrySource abandons the current source and puts the task back into
// selection. The used_sources set already contains the source, so the
// next pass picks a different one.
func (e *Engine) retrySource(ctx context.Context, t *Task, b *Batch, transferID, reason string) {
	b.mu.Lock()
	if t.Status.IsTerminal() {
		b.mu.Unlock()
		return
	}
	current := t.Current
	t.Status = StatusSearching
	t.StatusChanged = time.Now()
	t.QueuedStart = time.Time{}
	t.DownloadStart = time.Time{}
	b.mu.Unlock()

	e.log.Info("retrying with next source", "task", t.ID, "track", t.Request.Title, "reason", reason)

	if current != nil && transferID != "" {
		if err := e.p2p.CancelDownload(ctx, current.Username, transferID, true); err != nil {
			e.log.Debug("cancel of abandoned transfer failed", "task", t.ID, "error", err)
		}
		e.cache.Invalidate()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runAttempt(ctx, t, b)
	}()
}

// healLoop reconciles batch slot accounting against actual task states,
// recovering from dropped callbacks, retires batches past their
// retention, and prunes completed transfers on the daemon.
func (e *Engine) healLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.HealInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.healTick(ctx)
		}
	}
}

func (e *Engine) healTick(ctx context.Context) {
	e.mu.Lock()
	batches := make([]*Batch, 0, len(e.batches))
	for _, b := range e.batches {
		batches = append(batches, b)
	}
	e.mu.Unlock()

	now := time.Now()
	anyActive := false
	var expired []*Batch
	for _, b := range batches {
		b.mu.Lock()
		if b.Cancelled {
			if b.finishedAt.IsZero() && b.ActiveCount == 0 {
				b.finishedAt = now
			}
			if !b.finishedAt.IsZero() && now.Sub(b.finishedAt) > e.cfg.CompletedRetention {
				expired = append(expired, b)
			}
			b.mu.Unlock()
			continue
		}
		actual := 0
		for _, id := range b.Queue[:b.QueueIndex] {
			e.mu.Lock()
			t := e.tasks[id]
			e.mu.Unlock()
			if t != nil && t.Status.isActive() {
				actual++
			}
		}
		if actual != b.ActiveCount {
			e.log.Warn("healing batch slot count", "batch", b.ID, "recorded", b.ActiveCount, "actual", actual)
			b.ActiveCount = actual
		}
		if actual > 0 {
			anyActive = true
		}
		if b.done && now.Sub(b.finishedAt) > e.cfg.CompletedRetention {
			expired = append(expired, b)
		}
		b.mu.Unlock()
		e.dispatch(ctx, b)
	}

	for _, b := range expired {
		e.pruneBatch(b)
	}

	if !anyActive {
		if err := e.p2p.ClearCompleted(ctx); err != nil {
			e.log.Debug("clear completed transfers failed", "error", err)
		}
	}
}

// pruneBatch drops a finished batch and its tasks from the registries.
// The batch and its tasks leave together, so a snapshot lookup never
// finds a task whose batch is already gone.
func (e *Engine) pruneBatch(b *Batch) {
	b.mu.Lock()
	ids := append([]string(nil), b.Queue...)
	b.mu.Unlock()

	e.mu.Lock()
	for _, id := range ids {
		delete(e.tasks, id)
	}
	delete(e.batches, b.ID)
	e.mu.Unlock()

	e.log.Debug("pruned finished batch", "batch", b.ID)
}
