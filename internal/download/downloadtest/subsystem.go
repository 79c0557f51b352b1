// Package downloadtest provides an in-memory download.Subsystem for tests.
// Jobs never transfer anything on their own; tests drive them with
// Progress, Pause, Succeed and Fail.
package downloadtest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/krmanik/ankiaddons/internal/download"
)

// Subsystem is a scriptable fake.
type Subsystem struct {
	// Dir is where Succeed writes archives.
	Dir string
	// EnqueueErr, when set, is returned by Enqueue.
	EnqueueErr error
	// QueryErr, when set, is returned by Query.
	QueryErr error
	// OnEnqueue, when set, runs after each successful Enqueue. It must not
	// block; start a goroutine to drive the job asynchronously.
	OnEnqueue func(id download.JobID, req download.Request)

	mu        sync.Mutex
	seq       int
	jobs      map[download.JobID]*download.Record
	requests  map[download.JobID]download.Request
	enqueued  []download.Request
	removed   []download.JobID
	queries   int
	observers map[int]chan download.Notification
	nextObs   int
}

var _ download.Subsystem = (*Subsystem)(nil)

// New creates a fake that writes archives into dir.
func New(dir string) *Subsystem {
	return &Subsystem{
		Dir:       dir,
		jobs:      make(map[download.JobID]*download.Record),
		requests:  make(map[download.JobID]download.Request),
		observers: make(map[int]chan download.Notification),
	}
}

// Enqueue records req and returns a sequential job ID.
func (s *Subsystem) Enqueue(ctx context.Context, req download.Request) (download.JobID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.EnqueueErr != nil {
		err := s.EnqueueErr
		s.mu.Unlock()
		return "", err
	}
	s.seq++
	id := download.JobID(fmt.Sprintf("job-%d", s.seq))
	s.jobs[id] = &download.Record{ID: id, Status: download.StatusPending, BytesTotal: -1}
	s.requests[id] = req
	s.enqueued = append(s.enqueued, req)
	hook := s.OnEnqueue
	s.mu.Unlock()

	if hook != nil {
		hook(id, req)
	}
	return id, nil
}

// Query returns the record for id.
func (s *Subsystem) Query(ctx context.Context, id download.JobID) (download.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	if s.QueryErr != nil {
		return download.Record{}, s.QueryErr
	}
	rec, ok := s.jobs[id]
	if !ok {
		return download.Record{}, download.ErrUnknownJob
	}
	return *rec, nil
}

// Remove forgets id and deletes its archive.
func (s *Subsystem) Remove(ctx context.Context, id download.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok {
		return download.ErrUnknownJob
	}
	delete(s.jobs, id)
	s.removed = append(s.removed, id)
	if rec.LocalPath != "" {
		_ = os.Remove(rec.LocalPath)
	}
	return nil
}

// Subscribe registers an observer.
func (s *Subsystem) Subscribe() (<-chan download.Notification, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.nextObs
	s.nextObs++
	ch := make(chan download.Notification, 16)
	s.observers[key] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.observers[key]; ok {
			delete(s.observers, key)
			close(c)
		}
	}
}

// Progress moves id to InProgress with the given counters.
func (s *Subsystem) Progress(id download.JobID, downloaded, total int64) {
	s.update(id, func(r *download.Record) {
		r.Status = download.StatusInProgress
		r.PauseReason = download.PauseNone
		r.BytesDownloaded = downloaded
		r.BytesTotal = total
	})
}

// Pause moves id to Paused for reason.
func (s *Subsystem) Pause(id download.JobID, reason download.PauseReason) {
	s.update(id, func(r *download.Record) {
		r.Status = download.StatusPaused
		r.PauseReason = reason
	})
}

// Succeed writes content as the job's archive, marks it Succeeded and
// notifies observers.
func (s *Subsystem) Succeed(id download.JobID, content []byte) error {
	s.mu.Lock()
	req, ok := s.requests[id]
	s.mu.Unlock()
	if !ok {
		return download.ErrUnknownJob
	}

	path := filepath.Join(s.Dir, req.FileName)
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return err
	}

	s.update(id, func(r *download.Record) {
		r.Status = download.StatusSucceeded
		r.PauseReason = download.PauseNone
		r.BytesDownloaded = int64(len(content))
		r.BytesTotal = int64(len(content))
		r.LocalPath = path
	})
	s.Notify(id)
	return nil
}

// Fail marks id Failed with err and notifies observers.
func (s *Subsystem) Fail(id download.JobID, err error) {
	s.update(id, func(r *download.Record) {
		r.Status = download.StatusFailed
		r.PauseReason = download.PauseNone
		r.Err = err
	})
	s.Notify(id)
}

// Notify delivers a completion notification for id, which need not exist.
func (s *Subsystem) Notify(id download.JobID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.observers {
		select {
		case ch <- download.Notification{ID: id}:
		default:
		}
	}
}

// Enqueued returns every request passed to Enqueue.
func (s *Subsystem) Enqueued() []download.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]download.Request(nil), s.enqueued...)
}

// Removed returns every job ID passed to Remove that existed.
func (s *Subsystem) Removed() []download.JobID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]download.JobID(nil), s.removed...)
}

// Queries returns how many times Query was called.
func (s *Subsystem) Queries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries
}

// Observers returns the number of registered observers.
func (s *Subsystem) Observers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observers)
}

func (s *Subsystem) update(id download.JobID, fn func(r *download.Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.jobs[id]; ok {
		fn(rec)
	}
}
