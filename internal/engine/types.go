package engine

import (
	"sync"
	"time"

	"github.com/llehouerou/attune/internal/match"
	"github.com/llehouerou/attune/internal/slskd"
)

// TaskStatus is the state of one fulfillment task.
type TaskStatus string

const (
	StatusSubmitted      TaskStatus = "submitted"
	StatusSearching      TaskStatus = "searching"
	StatusStarting       TaskStatus = "starting"
	StatusQueued         TaskStatus = "queued"
	StatusDownloading    TaskStatus = "downloading"
	StatusCompleted      TaskStatus = "completed"
	StatusPostProcessing TaskStatus = "post-processing"
	StatusDone           TaskStatus = "done"
	StatusFailed         TaskStatus = "failed"
	StatusCancelled      TaskStatus = "cancelled"
)

// IsTerminal reports whether the status ends the task's life.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCancelled
}

// isActive reports whether the task occupies a worker slot.
func (s TaskStatus) isActive() bool {
	switch s {
	case StatusSearching, StatusStarting, StatusQueued, StatusDownloading,
		StatusCompleted, StatusPostProcessing:
		return true
	}
	return false
}

// TrackRequest describes one track the caller wants on disk.
type TrackRequest struct {
	ExternalTrackID  string
	ExternalAlbumID  string
	ExternalArtistID string

	Title       string
	ArtistName  string
	AlbumName   string
	TrackNumber int
	TotalTracks int
	Year        int
	Genre       string
	CoverURL    string

	// Official album tracklist, used by post-processing to repair peer
	// filenames.
	OfficialTracks []match.OfficialTrack
}

// Candidate is one ranked download source for a task.
type Candidate struct {
	Username string
	File     slskd.File
	Score    float64
	Quality  float64
}

// Key identifies the candidate across queue and transfer phases.
func (c Candidate) Key() string {
	return sourceKey(c.Username, c.File.Filename)
}

// Task is one in-flight fulfillment unit. Fields are guarded by the
// owning batch's lock.
type Task struct {
	ID      string
	BatchID string
	Request TrackRequest

	Status        TaskStatus
	StatusChanged time.Time
	FailureReason string

	// Sources already tried, keyed username::basename. Strictly grows.
	UsedSources map[string]struct{}
	Current     *Candidate

	QueuedStart   time.Time
	DownloadStart time.Time

	ErrorRetries     int
	TimeoutRetries   int
	LastErrorRetry   time.Time
	LastTimeoutRetry time.Time

	DestinationPath string
}

// Batch groups tasks submitted together and bounds their concurrency.
type Batch struct {
	ID            string
	SourceType    string
	SourceInfo    string
	IsAlbum       bool
	MaxConcurrent int

	mu          sync.Mutex
	Queue       []string
	QueueIndex  int
	ActiveCount int
	Cancelled   bool

	// done latches the one batch-done announcement; finishedAt starts
	// the retention clock for pruning.
	done       bool
	finishedAt time.Time
}

// complete reports whether every queued task has been dispatched and
// finished. Caller holds the batch lock.
func (b *Batch) complete() bool {
	return b.QueueIndex >= len(b.Queue) && b.ActiveCount == 0
}

// EventType classifies engine notifications.
type EventType string

const (
	EventTaskDone      EventType = "task_done"
	EventTaskFailed    EventType = "task_failed"
	EventTaskCancelled EventType = "task_cancelled"
	EventBatchDone     EventType = "batch_done"
)

// Event is one engine notification. Terminal task events are delivered
// at most once per task.
type Event struct {
	Type            EventType
	BatchID         string
	TaskID          string
	ExternalTrackID string
	Status          TaskStatus
	Reason          string
	Path            string
}
