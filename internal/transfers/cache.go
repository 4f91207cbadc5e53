// Package transfers caches daemon transfer snapshots so many concurrent
// monitors share one API poll instead of hammering the daemon.
package transfers

import (
	"context"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/llehouerou/attune/internal/slskd"
)

const snapshotTTL = 750 * time.Millisecond

// Fetcher is the slice of the daemon client the cache needs.
type Fetcher interface {
	GetDownloads(ctx context.Context) ([]slskd.Transfer, error)
}

// Cache serves transfer snapshots with a short TTL. Concurrent callers
// that miss the TTL are collapsed into a single upstream fetch.
type Cache struct {
	fetcher Fetcher
	group   singleflight.Group

	mu        sync.RWMutex
	snapshot  map[string]slskd.Transfer
	fetchedAt time.Time
}

func NewCache(fetcher Fetcher) *Cache {
	return &Cache{fetcher: fetcher}
}

// Key builds the snapshot lookup key for a transfer. Filenames from the
// daemon are remote paths with either separator; only the basename is
// stable across queue and download phases.
func Key(username, filename string) string {
	return username + "::" + Basename(filename)
}

// Basename returns the final path component of a remote filename,
// handling both slash conventions.
func Basename(filename string) string {
	if i := strings.LastIndex(filename, "\\"); i >= 0 {
		filename = filename[i+1:]
	}
	return path.Base(filename)
}

// Lookup returns the cached transfer for (username, filename), refreshing
// the snapshot when it is older than the TTL. The boolean is false when
// the transfer is absent from the daemon's view.
func (c *Cache) Lookup(ctx context.Context, username, filename string) (slskd.Transfer, bool, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return slskd.Transfer{}, false, err
	}
	t, ok := snap[Key(username, filename)]
	return t, ok, nil
}

// Snapshot returns the current transfer map, fetching from the daemon
// when the cached copy is stale. On fetch failure a stale snapshot is
// returned as-is; fetchedAt is not bumped so the next caller retries.
func (c *Cache) Snapshot(ctx context.Context) (map[string]slskd.Transfer, error) {
	c.mu.RLock()
	if time.Since(c.fetchedAt) < snapshotTTL && c.snapshot != nil {
		snap := c.snapshot
		c.mu.RUnlock()
		return snap, nil
	}
	c.mu.RUnlock()

	_, err, _ := c.group.Do("snapshot", func() (any, error) {
		c.mu.RLock()
		fresh := time.Since(c.fetchedAt) < snapshotTTL && c.snapshot != nil
		c.mu.RUnlock()
		if fresh {
			return nil, nil
		}

		transfers, err := c.fetcher.GetDownloads(ctx)
		if err != nil {
			return nil, err
		}

		snap := make(map[string]slskd.Transfer, len(transfers))
		for _, t := range transfers {
			snap[Key(t.Username, t.Filename)] = t
		}

		c.mu.Lock()
		c.snapshot = snap
		c.fetchedAt = time.Now()
		c.mu.Unlock()
		return nil, nil
	})

	c.mu.RLock()
	snap := c.snapshot
	c.mu.RUnlock()

	if err != nil {
		if snap != nil {
			return snap, nil
		}
		return nil, err
	}
	return snap, nil
}

// Invalidate drops the cached snapshot, forcing the next Lookup to hit
// the daemon. Used right after cancelling or removing transfers.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}
