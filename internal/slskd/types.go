// Package slskd provides a client for the slskd P2P daemon API.
package slskd

import "strings"

// SearchRequest represents a search request to slskd.
type SearchRequest struct {
	ID            string `json:"id"`
	SearchText    string `json:"searchText"`
	Token         int    `json:"token"`
	State         string `json:"state"` // InProgress, Completed, etc.
	ResponseCount int    `json:"responseCount"`
}

// SearchResponse represents a user's response to a search.
type SearchResponse struct {
	Username    string `json:"username"`
	FileCount   int    `json:"fileCount"`
	HasFreeSlot bool   `json:"hasFreeUploadSlot"`
	QueueLength int    `json:"queueLength"`
	UploadSpeed int    `json:"uploadSpeed"` // bytes per second
	Files       []File `json:"files"`
}

// File represents a file in search results.
type File struct {
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	Code      int    `json:"code"`
	Extension string `json:"extension"`
	BitRate   int    `json:"bitRate"`
	BitDepth  int    `json:"bitDepth"`
	Length    int    `json:"length"` // Duration in seconds
	IsLocked  bool   `json:"isLocked"`
}

// DownloadsResponse represents a user's downloads grouped by directory.
type DownloadsResponse struct {
	Username    string              `json:"username"`
	Directories []DownloadDirectory `json:"directories"`
}

// DownloadDirectory represents a directory of downloads.
type DownloadDirectory struct {
	Directory string         `json:"directory"`
	FileCount int            `json:"fileCount"`
	Files     []TransferFile `json:"files"`
}

// TransferFile represents an individual transfer from the API.
type TransferFile struct {
	ID               string  `json:"id"`
	Username         string  `json:"username"`
	Filename         string  `json:"filename"`
	Size             int64   `json:"size"`
	State            string  `json:"state"` // "Completed, Succeeded", "Queued, Remotely", "InProgress", etc.
	BytesTransferred int64   `json:"bytesTransferred"`
	PercentComplete  float64 `json:"percentComplete"`
}

// Transfer represents a flattened transfer record for internal use.
type Transfer struct {
	ID              string
	Username        string
	Filename        string
	State           string
	Size            int64
	PercentComplete float64
}

// Compound state predicates. slskd reports states such as
// "Completed, Succeeded" and "Queued, Remotely".

// IsQueued reports whether the transfer is waiting in a remote queue.
func (t Transfer) IsQueued() bool {
	return strings.Contains(t.State, "Queued")
}

// IsInProgress reports whether bytes are (supposedly) moving.
func (t Transfer) IsInProgress() bool {
	return strings.Contains(t.State, "InProgress")
}

// IsSucceeded reports whether the daemon considers the transfer done.
func (t Transfer) IsSucceeded() bool {
	return strings.Contains(t.State, "Succeeded") || strings.Contains(t.State, "Completed")
}

// IsErrored reports whether the transfer failed on the daemon side.
func (t Transfer) IsErrored() bool {
	return strings.Contains(t.State, "Errored") || strings.Contains(t.State, "Failed")
}

// SearchState represents the state of a search.
type SearchState string

// IsComplete returns true if the search is in a terminal state.
// States can be compound (e.g., "Completed, ResponseLimitReached").
func (s SearchState) IsComplete() bool {
	state := string(s)
	return strings.Contains(state, "Completed") ||
		strings.Contains(state, "TimedOut") ||
		strings.Contains(state, "Cancelled") ||
		strings.Contains(state, "Errored")
}
