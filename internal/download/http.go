package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/krmanik/ankiaddons/internal/logging"
)

const (
	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 5 * time.Minute
	// DefaultRetries is the default number of transfer attempts
	DefaultRetries = 4
	// DefaultRetryDelay is the first backoff delay, doubled per attempt
	DefaultRetryDelay = time.Second
	// DefaultMaxRetryDelay caps the backoff delay
	DefaultMaxRetryDelay = 30 * time.Second
	// DefaultUserAgent is the User-Agent header sent with requests
	DefaultUserAgent = "addonctl/1.0"
	// PartSuffix marks an archive that is still being written
	PartSuffix = ".part"
)

// ErrInsufficientSpace is returned when the download directory cannot hold
// the archive.
var ErrInsufficientSpace = errors.New("insufficient disk space")

// ErrTooLarge is returned when an archive exceeds the configured size limit.
var ErrTooLarge = errors.New("archive exceeds size limit")

// StatusError reports a non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status code %d", e.URL, e.Code)
}

// transientError marks a failure worth retrying. network is set when the
// host could not be reached at all.
type transientError struct {
	err     error
	network bool
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// FreeSpaceFunc reports the free bytes on the filesystem holding path.
type FreeSpaceFunc func(ctx context.Context, path string) (uint64, error)

func diskFreeSpace(ctx context.Context, path string) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// HTTPSubsystem is a Subsystem that downloads over HTTP into a directory.
// Each job runs in its own goroutine; transient failures pause the job and
// are retried with exponential backoff.
type HTTPSubsystem struct {
	client    *resty.Client
	dir       string
	clock     clock.Clock
	attempts  int
	delay     time.Duration
	maxDelay  time.Duration
	freeSpace FreeSpaceFunc
	maxBytes  int64
	logger    logging.Logger

	mu        sync.Mutex
	jobs      map[JobID]*httpJob
	observers map[uint64]chan Notification
	nextObs   uint64
}

type httpJob struct {
	req    Request
	rec    Record
	cancel context.CancelFunc
	done   chan struct{}
}

// HTTPOption configures an HTTPSubsystem.
type HTTPOption func(*HTTPSubsystem)

// WithRestyClient replaces the HTTP client.
func WithRestyClient(c *resty.Client) HTTPOption {
	return func(s *HTTPSubsystem) { s.client = c }
}

// WithRetry sets the attempt count and backoff bounds.
func WithRetry(attempts int, delay, maxDelay time.Duration) HTTPOption {
	return func(s *HTTPSubsystem) {
		if attempts > 0 {
			s.attempts = attempts
		}
		if delay > 0 {
			s.delay = delay
		}
		if maxDelay > 0 {
			s.maxDelay = maxDelay
		}
	}
}

// WithRetryClock sets the clock used for backoff.
func WithRetryClock(c clock.Clock) HTTPOption {
	return func(s *HTTPSubsystem) { s.clock = c }
}

// WithFreeSpace replaces the free-space probe.
func WithFreeSpace(f FreeSpaceFunc) HTTPOption {
	return func(s *HTTPSubsystem) { s.freeSpace = f }
}

// WithMaxBytes caps the archive size. Zero means no limit.
func WithMaxBytes(n int64) HTTPOption {
	return func(s *HTTPSubsystem) { s.maxBytes = n }
}

// WithHTTPLogger sets the logger.
func WithHTTPLogger(l logging.Logger) HTTPOption {
	return func(s *HTTPSubsystem) { s.logger = logging.OrNop(l) }
}

// NewHTTPSubsystem creates a subsystem that saves archives under dir.
func NewHTTPSubsystem(dir string, opts ...HTTPOption) *HTTPSubsystem {
	s := &HTTPSubsystem{
		client: resty.New().
			SetTimeout(DefaultTimeout).
			SetHeader("User-Agent", DefaultUserAgent).
			SetRedirectPolicy(resty.FlexibleRedirectPolicy(10)),
		dir:       dir,
		clock:     clock.WallClock,
		attempts:  DefaultRetries,
		delay:     DefaultRetryDelay,
		maxDelay:  DefaultMaxRetryDelay,
		freeSpace: diskFreeSpace,
		logger:    logging.Nop(),
		jobs:      make(map[JobID]*httpJob),
		observers: make(map[uint64]chan Notification),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue starts req in the background.
func (s *HTTPSubsystem) Enqueue(ctx context.Context, req Request) (JobID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if filepath.Base(req.FileName) != req.FileName {
		return "", fmt.Errorf("invalid file name %q", req.FileName)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}

	id := JobID(uuid.NewString())
	jobCtx, cancel := context.WithCancel(context.Background())
	j := &httpJob{
		req:    req,
		rec:    Record{ID: id, Status: StatusPending, BytesTotal: -1},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.jobs[id] = j
	s.mu.Unlock()

	go s.run(jobCtx, j)
	return id, nil
}

// Query returns the record for id.
func (s *HTTPSubsystem) Query(_ context.Context, id JobID) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Record{}, ErrUnknownJob
	}
	return j.rec, nil
}

// Remove cancels id, waits for its goroutine and deletes its files.
func (s *HTTPSubsystem) Remove(ctx context.Context, id JobID) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if ok {
		delete(s.jobs, id)
	}
	s.mu.Unlock()
	if !ok {
		return ErrUnknownJob
	}

	j.cancel()
	select {
	case <-j.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	dest := filepath.Join(s.dir, j.req.FileName)
	for _, p := range []string{partPath(dest), dest} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}

// Subscribe registers a completion observer.
func (s *HTTPSubsystem) Subscribe() (<-chan Notification, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.nextObs
	s.nextObs++
	ch := make(chan Notification, 8)
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

// Close cancels every running job and waits for them to stop.
func (s *HTTPSubsystem) Close() {
	s.mu.Lock()
	jobs := make([]*httpJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	for _, j := range jobs {
		j.cancel()
		<-j.done
	}
}

func partPath(dest string) string {
	return dest + PartSuffix
}

// run drives one job to a terminal state.
func (s *HTTPSubsystem) run(ctx context.Context, j *httpJob) {
	defer close(j.done)

	dest := filepath.Join(s.dir, j.req.FileName)
	tmp := partPath(dest)

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			return s.transfer(ctx, j, tmp)
		},
		IsFatalError: func(err error) bool {
			return !isTransient(err)
		},
		NotifyFunc: func(lastErr error, attempt int) {
			s.pause(j, lastErr, attempt)
		},
		Attempts:    s.attempts,
		Delay:       s.delay,
		MaxDelay:    s.maxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       s.clock,
		Stop:        ctx.Done(),
	})

	if ctx.Err() != nil {
		// Removed: the remover owns cleanup and no notification is sent.
		_ = os.Remove(tmp)
		return
	}

	if err != nil {
		if retry.IsAttemptsExceeded(err) {
			err = retry.LastError(err)
		}
		_ = os.Remove(tmp)
		s.logger.Warn("download failed", "job", j.rec.ID, "url", j.req.URL, "error", err)
		s.finish(j, StatusFailed, "", err)
		return
	}

	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		s.finish(j, StatusFailed, "", fmt.Errorf("rename temp file: %w", err))
		return
	}

	s.logger.Debug("download complete", "job", j.rec.ID, "path", dest)
	s.finish(j, StatusSucceeded, dest, nil)
}

// transfer performs a single download attempt into tmp.
func (s *HTTPSubsystem) transfer(ctx context.Context, j *httpJob, tmp string) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(j.req.URL)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &transientError{err: fmt.Errorf("execute request: %w", err), network: true}
	}
	body := resp.RawBody()
	defer body.Close()

	code := resp.StatusCode()
	switch {
	case code == http.StatusTooManyRequests || code >= http.StatusInternalServerError:
		return &transientError{err: &StatusError{URL: j.req.URL, Code: code}}
	case code < 200 || code > 299:
		return &StatusError{URL: j.req.URL, Code: code}
	}

	total := resp.RawResponse.ContentLength
	if total < 0 {
		total = -1
	}
	if s.maxBytes > 0 && total > s.maxBytes {
		return fmt.Errorf("%w: %d bytes announced, limit %d", ErrTooLarge, total, s.maxBytes)
	}
	if total > 0 {
		if err := s.checkSpace(ctx, total); err != nil {
			return err
		}
	}

	s.update(j, func(r *Record) {
		r.Status = StatusInProgress
		r.PauseReason = PauseNone
		r.BytesDownloaded = 0
		r.BytesTotal = total
	})

	tmpFile, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	var src io.Reader = body
	if s.maxBytes > 0 {
		src = io.LimitReader(body, s.maxBytes+1)
	}
	n, copyErr := io.Copy(tmpFile, io.TeeReader(src, &progressCounter{s: s, j: j}))
	closeErr := tmpFile.Close()

	switch {
	case s.maxBytes > 0 && n > s.maxBytes:
		return fmt.Errorf("%w: more than %d bytes received", ErrTooLarge, s.maxBytes)
	case copyErr != nil && ctx.Err() != nil:
		return ctx.Err()
	case copyErr != nil:
		return &transientError{err: fmt.Errorf("copy response body: %w", copyErr), network: true}
	case total >= 0 && n != total:
		return &transientError{err: fmt.Errorf("short body: got %d of %d bytes", n, total), network: true}
	case closeErr != nil:
		return fmt.Errorf("close temp file: %w", closeErr)
	}
	return nil
}

func (s *HTTPSubsystem) checkSpace(ctx context.Context, need int64) error {
	if s.freeSpace == nil {
		return nil
	}
	free, err := s.freeSpace(ctx, s.dir)
	if err != nil {
		// Not every filesystem reports usage; go ahead and let the write fail.
		s.logger.Debug("free space probe failed", "dir", s.dir, "error", err)
		return nil
	}
	if free < uint64(need) {
		return fmt.Errorf("%w: need %d bytes, %d free in %s", ErrInsufficientSpace, need, free, s.dir)
	}
	return nil
}

// pause records a failed attempt that will be retried.
func (s *HTTPSubsystem) pause(j *httpJob, lastErr error, attempt int) {
	reason := PauseWaitingToRetry
	var te *transientError
	if errors.As(lastErr, &te) && te.network {
		reason = PauseWaitingForNetwork
	}
	s.logger.Info("download paused", "job", j.rec.ID, "attempt", attempt, "reason", reason.String(), "error", lastErr)
	s.update(j, func(r *Record) {
		r.Status = StatusPaused
		r.PauseReason = reason
		r.Err = lastErr
	})
}

func (s *HTTPSubsystem) update(j *httpJob, fn func(r *Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&j.rec)
}

// finish sets the terminal state and notifies observers, unless the job was
// removed in the meantime.
func (s *HTTPSubsystem) finish(j *httpJob, status Status, path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.jobs[j.rec.ID] != j {
		return
	}
	j.rec.Status = status
	j.rec.PauseReason = PauseNone
	j.rec.LocalPath = path
	j.rec.Err = err

	n := Notification{ID: j.rec.ID}
	for _, ch := range s.observers {
		select {
		case ch <- n:
		default:
			s.logger.Debug("dropping completion notification for slow observer", "job", n.ID)
		}
	}
}

// progressCounter adds every byte read to the job's downloaded count.
type progressCounter struct {
	s *HTTPSubsystem
	j *httpJob
}

func (p *progressCounter) Write(b []byte) (int, error) {
	n := int64(len(b))
	p.s.update(p.j, func(r *Record) {
		r.BytesDownloaded += n
	})
	return len(b), nil
}
