// Package download tracks addon archive downloads.
//
// The transfer itself is performed by a Subsystem, which runs downloads
// outside the caller's control and reports completion through observer
// channels. An Orchestrator tracks one job against a Subsystem: it enqueues
// it, polls it, matches completion notifications to it, and supports cancel
// and retry.
package download

import (
	"context"
	"errors"
)

// JobID is the opaque handle a Subsystem assigns to an enqueued download.
type JobID string

// Status is the lifecycle state of a download
type Status int

const (
	// StatusPending indicates the job is queued but not yet transferring
	StatusPending Status = iota
	// StatusInProgress indicates bytes are being transferred
	StatusInProgress
	// StatusPaused indicates the transfer is waiting, see PauseReason
	StatusPaused
	// StatusSucceeded indicates the archive is complete at LocalPath
	StatusSucceeded
	// StatusFailed indicates the subsystem gave up, see LastError
	StatusFailed
	// StatusCancelled indicates the job was removed before completing
	StatusCancelled
)

// String returns the string representation of the status
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInProgress:
		return "in_progress"
	case StatusPaused:
		return "paused"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// PauseReason explains a StatusPaused job
type PauseReason int

const (
	// PauseNone means the job is not paused
	PauseNone PauseReason = iota
	// PauseWaitingForNetwork means the host is unreachable
	PauseWaitingForNetwork
	// PauseWaitingToRetry means a transient server error is being backed off
	PauseWaitingToRetry
	// PauseUnknown means the subsystem did not say
	PauseUnknown
)

// String returns the string representation of the pause reason
func (r PauseReason) String() string {
	switch r {
	case PauseNone:
		return ""
	case PauseWaitingForNetwork:
		return "waiting for network"
	case PauseWaitingToRetry:
		return "waiting to retry"
	default:
		return "unknown"
	}
}

// Request describes what to download.
type Request struct {
	URL      string
	FileName string
}

// Record is a Subsystem's view of one job.
type Record struct {
	ID              JobID
	Status          Status
	PauseReason     PauseReason
	BytesDownloaded int64
	// BytesTotal is -1 while the size is unknown.
	BytesTotal int64
	Err        error
	LocalPath  string
}

// Notification reports that a job reached a terminal state. Delivery is
// best-effort; polling remains the source of truth.
type Notification struct {
	ID JobID
}

// Subsystem performs downloads on behalf of an Orchestrator.
type Subsystem interface {
	// Enqueue schedules req and returns its job ID without waiting for the
	// transfer.
	Enqueue(ctx context.Context, req Request) (JobID, error)

	// Query returns the current record for id, or ErrUnknownJob.
	Query(ctx context.Context, id JobID) (Record, error)

	// Remove stops id if it is running and forgets it, deleting any partial
	// file. Removed jobs produce no notification.
	Remove(ctx context.Context, id JobID) error

	// Subscribe registers an observer for completion notifications. The
	// returned function unregisters it and may be called any number of times.
	Subscribe() (<-chan Notification, func())
}

var (
	// ErrUnknownJob is returned for IDs the subsystem does not track.
	ErrUnknownJob = errors.New("unknown download job")
	// ErrNoJob is returned when the orchestrator is not tracking a job.
	ErrNoJob = errors.New("no download job is being tracked")
)

// Job is the orchestrator's snapshot of the tracked download.
type Job struct {
	ID              JobID
	AddonName       string
	Request         Request
	Status          Status
	PauseReason     PauseReason
	BytesDownloaded int64
	BytesTotal      int64
	LastError       error
	LocalPath       string
}

// Progress renders the download percentage, see FormatProgress.
func (j Job) Progress() string {
	return FormatProgress(j.BytesDownloaded, j.BytesTotal)
}
