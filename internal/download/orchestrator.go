package download

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/krmanik/ankiaddons/internal/logging"
)

const (
	// DefaultPollInterval is the delay between progress queries.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultQueryTimeout bounds a single progress query.
	DefaultQueryTimeout = 2 * time.Second
)

// Orchestrator owns the lifecycle of one tracked download at a time.
//
// Job state is guarded by a single mutex shared by the poll loop, the
// completion handler and the control methods, so a snapshot is never torn.
type Orchestrator struct {
	subsystem    Subsystem
	clock        clock.Clock
	interval     time.Duration
	queryTimeout time.Duration
	logger       logging.Logger

	mu   sync.Mutex
	job  *Job
	done chan Job
	// wake is signalled when the tracked job turns terminal so Watch does
	// not wait out a full interval.
	wake chan struct{}

	subOnce     sync.Once
	unsubscribe func()
	stop        chan struct{}
	closeOnce   sync.Once
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPollInterval sets the delay between progress queries.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithQueryTimeout bounds each subsystem query.
func WithQueryTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.queryTimeout = d
		}
	}
}

// WithClock sets the clock used for polling.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = logging.OrNop(l) }
}

// NewOrchestrator creates an orchestrator driving sub.
func NewOrchestrator(sub Subsystem, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		subsystem:    sub,
		clock:        clock.WallClock,
		interval:     DefaultPollInterval,
		queryTimeout: DefaultQueryTimeout,
		logger:       logging.Nop(),
		wake:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start enqueues a download of url saved as fileName and begins tracking it.
// Any previously tracked job is abandoned: it keeps running in the subsystem
// but its notifications are ignored from here on.
func (o *Orchestrator) Start(ctx context.Context, url, fileName string) (JobID, error) {
	if url == "" {
		return "", errors.New("download url is empty")
	}
	if fileName == "" || filepath.Base(fileName) != fileName {
		return "", fmt.Errorf("invalid download file name %q", fileName)
	}

	o.subscribe()

	req := Request{URL: url, FileName: fileName}

	// Holding the lock across Enqueue means a completion racing the enqueue
	// waits for the job to be tracked instead of being dropped as stale.
	o.mu.Lock()
	defer o.mu.Unlock()

	id, err := o.subsystem.Enqueue(ctx, req)
	if err != nil {
		return "", fmt.Errorf("enqueue download: %w", err)
	}

	if o.job != nil && !o.job.Status.Terminal() {
		o.logger.Debug("abandoning tracked download", "job", o.job.ID, "replacement", id)
	}

	o.job = &Job{
		ID:         id,
		AddonName:  strings.TrimSuffix(fileName, filepath.Ext(fileName)),
		Request:    req,
		Status:     StatusPending,
		BytesTotal: -1,
	}
	o.done = make(chan Job, 1)
	// Drain a wake-up left over from the previous job.
	select {
	case <-o.wake:
	default:
	}

	o.logger.Info("download enqueued", "job", id, "url", url, "file", fileName)
	return id, nil
}

// Poll queries the subsystem once and returns a snapshot of the tracked job.
func (o *Orchestrator) Poll(ctx context.Context) (Job, error) {
	o.mu.Lock()
	if o.job == nil {
		o.mu.Unlock()
		return Job{}, ErrNoJob
	}
	snapshot := *o.job
	o.mu.Unlock()

	if snapshot.Status.Terminal() {
		return snapshot, nil
	}
	return o.refresh(ctx, snapshot.ID)
}

// Snapshot returns the tracked job without querying the subsystem.
func (o *Orchestrator) Snapshot() (Job, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.job == nil {
		return Job{}, false
	}
	return *o.job, true
}

// Watch polls until the tracked job is terminal or ctx is done. onTick, if
// non-nil, receives every snapshot. Ticks never overlap: the next query is
// scheduled only after the previous one returned.
func (o *Orchestrator) Watch(ctx context.Context, onTick func(Job)) (Job, error) {
	for {
		job, err := o.Poll(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return job, ctxErr
			}
			if errors.Is(err, ErrNoJob) {
				return job, err
			}
			// A single failed query is not fatal; the next tick retries.
			o.logger.Warn("download poll failed", "error", err)
		} else {
			if onTick != nil {
				onTick(job)
			}
			if job.Status.Terminal() {
				return job, nil
			}
		}

		select {
		case <-ctx.Done():
			snapshot, _ := o.Snapshot()
			return snapshot, ctx.Err()
		case <-o.wake:
		case <-o.clock.After(o.interval):
		}
	}
}

// Done returns a channel that receives the tracked job's terminal snapshot
// once. Each Start replaces the channel.
func (o *Orchestrator) Done() <-chan Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done == nil {
		o.done = make(chan Job, 1)
	}
	return o.done
}

// Cancel stops tracking the current job as Cancelled and removes it from the
// subsystem. Notifications that arrive for it afterwards are ignored.
// Cancelling a finished job is a no-op.
func (o *Orchestrator) Cancel(ctx context.Context) error {
	o.mu.Lock()
	if o.job == nil || o.job.Status.Terminal() {
		o.mu.Unlock()
		return nil
	}
	id := o.job.ID
	o.job.Status = StatusCancelled
	o.job.PauseReason = PauseNone
	o.finishLocked()
	o.mu.Unlock()

	o.logger.Info("download cancelled", "job", id)

	if err := o.subsystem.Remove(ctx, id); err != nil && !errors.Is(err, ErrUnknownJob) {
		return fmt.Errorf("remove download %s: %w", id, err)
	}
	return nil
}

// Retry removes the tracked job and enqueues the same request again,
// discarding the previous job state.
func (o *Orchestrator) Retry(ctx context.Context) (JobID, error) {
	o.mu.Lock()
	if o.job == nil {
		o.mu.Unlock()
		return "", ErrNoJob
	}
	old := *o.job
	o.mu.Unlock()

	if err := o.subsystem.Remove(ctx, old.ID); err != nil && !errors.Is(err, ErrUnknownJob) {
		return "", fmt.Errorf("remove download %s: %w", old.ID, err)
	}

	o.logger.Info("retrying download", "job", old.ID, "url", old.Request.URL)
	return o.Start(ctx, old.Request.URL, old.Request.FileName)
}

// Release removes a finished job from the subsystem and stops tracking it.
// It is a no-op when nothing is tracked.
func (o *Orchestrator) Release(ctx context.Context) error {
	o.mu.Lock()
	if o.job == nil {
		o.mu.Unlock()
		return nil
	}
	id := o.job.ID
	o.job = nil
	o.mu.Unlock()

	if err := o.subsystem.Remove(ctx, id); err != nil && !errors.Is(err, ErrUnknownJob) {
		return fmt.Errorf("remove download %s: %w", id, err)
	}
	return nil
}

// Close unregisters from the subsystem. It is safe to call more than once.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		close(o.stop)
		o.mu.Lock()
		unsubscribe := o.unsubscribe
		o.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
	})
}

// subscribe registers the completion handler on first use.
func (o *Orchestrator) subscribe() {
	o.subOnce.Do(func() {
		ch, unsubscribe := o.subsystem.Subscribe()
		o.mu.Lock()
		o.unsubscribe = unsubscribe
		o.mu.Unlock()
		go o.listen(ch)
	})
}

func (o *Orchestrator) listen(ch <-chan Notification) {
	for {
		select {
		case <-o.stop:
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			o.handleCompletion(n)
		}
	}
}

// handleCompletion acts on n only if it names the tracked job.
func (o *Orchestrator) handleCompletion(n Notification) {
	o.mu.Lock()
	tracked := o.job != nil && o.job.ID == n.ID && !o.job.Status.Terminal()
	o.mu.Unlock()

	if !tracked {
		o.logger.Debug("ignoring completion for untracked download", "job", n.ID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.queryTimeout)
	defer cancel()
	if _, err := o.refresh(ctx, n.ID); err != nil {
		o.logger.Warn("query after completion failed", "job", n.ID, "error", err)
	}
}

// refresh performs one bounded query for id and folds it into the tracked
// job if id is still the one being tracked.
func (o *Orchestrator) refresh(ctx context.Context, id JobID) (Job, error) {
	qctx, cancel := context.WithTimeout(ctx, o.queryTimeout)
	defer cancel()

	rec, err := o.subsystem.Query(qctx, id)

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.job == nil {
		return Job{}, ErrNoJob
	}
	if o.job.ID != id || o.job.Status.Terminal() {
		// Superseded or cancelled while the query was in flight.
		return *o.job, nil
	}

	switch {
	case errors.Is(err, ErrUnknownJob):
		o.job.Status = StatusFailed
		o.job.LastError = fmt.Errorf("download %s vanished from the subsystem", id)
		o.finishLocked()
		return *o.job, nil
	case err != nil:
		return *o.job, fmt.Errorf("query download %s: %w", id, err)
	}

	o.apply(rec)
	if o.job.Status.Terminal() {
		o.finishLocked()
	}
	return *o.job, nil
}

// apply copies rec into the tracked job. Caller holds mu.
func (o *Orchestrator) apply(rec Record) {
	j := o.job
	if j.Status != rec.Status || j.PauseReason != rec.PauseReason {
		o.logger.Debug("download status changed", "job", j.ID, "from", j.Status.String(), "to", rec.Status.String(), "pause_reason", rec.PauseReason.String())
	}
	j.Status = rec.Status
	j.PauseReason = rec.PauseReason
	if rec.Status != StatusPaused {
		j.PauseReason = PauseNone
	}
	j.BytesDownloaded = rec.BytesDownloaded
	j.BytesTotal = rec.BytesTotal
	j.LastError = rec.Err
	j.LocalPath = rec.LocalPath
}

// finishLocked publishes the terminal snapshot. Caller holds mu.
func (o *Orchestrator) finishLocked() {
	if o.done != nil {
		select {
		case o.done <- *o.job:
		default:
		}
	}
	select {
	case o.wake <- struct{}{}:
	default:
	}
}
