package acquire

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"

	"github.com/krmanik/ankiaddons/internal/download"
	"github.com/krmanik/ankiaddons/internal/extract"
	"github.com/krmanik/ankiaddons/internal/integrity"
	"github.com/krmanik/ankiaddons/internal/logging"
	"github.com/krmanik/ankiaddons/internal/manifest"
	"github.com/krmanik/ankiaddons/internal/metrics"
	"github.com/krmanik/ankiaddons/internal/registry"
)

const (
	stagingPrefix = ".staging-"
	backupPrefix  = ".old-"

	// budget for subsystem cleanup once the caller's context is gone
	cleanupTimeout = 5 * time.Second
)

// Controller runs acquisitions. It is safe for concurrent use; acquisitions
// of the same addon are serialized by a file lock under the addons root.
type Controller struct {
	registry   registry.Client
	subsystem  download.Subsystem
	addonsRoot string

	hostAPI      string
	downloadDir  string
	pollInterval time.Duration
	lockTimeout  time.Duration
	extractor    *extract.Extractor
	verifier     *integrity.Verifier
	clock        clock.Clock
	logger       logging.Logger
	metrics      *metrics.Metrics
	onProgress   func(download.Job)

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

// Option configures a Controller.
type Option func(*Controller)

// WithHostAPI sets the addon API version the host implements.
func WithHostAPI(v string) Option {
	return func(c *Controller) { c.hostAPI = v }
}

// WithDownloadDir names the directory the subsystem saves archives in, so
// leftovers can be removed when a job is abandoned.
func WithDownloadDir(dir string) Option {
	return func(c *Controller) { c.downloadDir = dir }
}

// WithPollInterval sets how often download progress is polled.
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithLockTimeout sets how long to wait for a concurrent acquisition of the
// same addon before giving up with ErrBusy.
func WithLockTimeout(d time.Duration) Option {
	return func(c *Controller) { c.lockTimeout = d }
}

// WithExtractor sets the archive extractor.
func WithExtractor(e *extract.Extractor) Option {
	return func(c *Controller) { c.extractor = e }
}

// WithVerifier sets the archive verifier.
func WithVerifier(v *integrity.Verifier) Option {
	return func(c *Controller) { c.verifier = v }
}

// WithClock sets the clock used for polling and timing.
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Controller) { c.logger = logging.OrNop(l) }
}

// WithMetrics records outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithProgress calls fn with every download snapshot.
func WithProgress(fn func(download.Job)) Option {
	return func(c *Controller) { c.onProgress = fn }
}

// New creates a controller that installs into addonsRoot.
func New(reg registry.Client, sub download.Subsystem, addonsRoot string, opts ...Option) *Controller {
	c := &Controller{
		registry:     reg,
		subsystem:    sub,
		addonsRoot:   addonsRoot,
		hostAPI:      manifest.DefaultAPIVersion,
		pollInterval: download.DefaultPollInterval,
		clock:        clock.WallClock,
		logger:       logging.Nop(),
		inflight:     make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.extractor == nil {
		c.extractor = extract.New(extract.WithLogger(c.logger))
	}
	if c.verifier == nil {
		c.verifier = integrity.NewVerifier(integrity.WithLogger(c.logger))
	}
	return c
}

// Cancel aborts the in-flight acquisition of name. It reports whether one
// was running.
func (c *Controller) Cancel(name string) bool {
	c.mu.Lock()
	cancel, ok := c.inflight[name]
	c.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Acquire installs the addon named by input, which may be a bare name, an
// "npm i" command line or an npmjs.com package URL.
func (c *Controller) Acquire(ctx context.Context, input string) Outcome {
	a := &attempt{
		c:    c,
		id:   uuid.NewString(),
		name: manifest.NameFromInput(input),
	}
	start := c.clock.Now()

	out := a.run(ctx)
	out.Name = a.name
	if out.Manifest == nil {
		out.Manifest = a.manifest
	}

	if err := a.cleanup(out.Kind == Installed); err != nil {
		a.warn("cleanup incomplete", "error", err)
	}

	elapsed := c.clock.Now().Sub(start)
	c.metrics.ObserveAcquisition(out.Kind.String(), elapsed)
	if out.Kind == Installed {
		a.info("addon installed", "path", out.Path, "elapsed", elapsed)
	} else {
		a.info("acquisition ended", "outcome", out.Kind.String(), "error", out.Err)
	}
	return out
}

func (c *Controller) register(name string, cancel context.CancelFunc) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[name]; busy {
		return false
	}
	c.inflight[name] = cancel
	return true
}

func (c *Controller) unregister(name string) {
	c.mu.Lock()
	delete(c.inflight, name)
	c.mu.Unlock()
}

// attempt holds the state of one acquisition.
type attempt struct {
	c    *Controller
	id   string
	name string

	manifest *manifest.Manifest
	orch     *download.Orchestrator
	archive  string
	staging  string
	lock     interface{ Unlock() error }
}

func (a *attempt) kv(keysAndValues []interface{}) []interface{} {
	return append([]interface{}{"acquisition", a.id, "addon", a.name}, keysAndValues...)
}

func (a *attempt) debug(msg string, keysAndValues ...interface{}) {
	a.c.logger.Debug(msg, a.kv(keysAndValues)...)
}

func (a *attempt) info(msg string, keysAndValues ...interface{}) {
	a.c.logger.Info(msg, a.kv(keysAndValues)...)
}

func (a *attempt) warn(msg string, keysAndValues ...interface{}) {
	a.c.logger.Warn(msg, a.kv(keysAndValues)...)
}

func (a *attempt) run(parent context.Context) Outcome {
	c := a.c

	if err := manifest.CheckName(a.name); err != nil {
		return Outcome{Kind: Rejected, Reason: manifest.ReasonUnsafeName, Err: &manifest.Rejection{
			Reason: manifest.ReasonUnsafeName, Field: "name", Detail: err.Error(),
		}}
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	if !c.register(a.name, cancel) {
		return Outcome{Kind: Failed, Err: ErrBusy}
	}
	defer c.unregister(a.name)

	a.debug("fetching manifest")
	data, err := c.registry.FetchManifest(ctx, a.name)
	if err != nil {
		return a.registryFailure(ctx, err)
	}

	m, err := manifest.Parse(data)
	if err != nil {
		return Outcome{Kind: Rejected, Reason: manifest.ReasonMalformed, Err: err}
	}
	a.manifest = m

	if err := manifest.Validate(m, c.hostAPI); err != nil {
		var rej *manifest.Rejection
		if errors.As(err, &rej) {
			return Outcome{Kind: Rejected, Reason: rej.Reason, Err: err}
		}
		return Outcome{Kind: Rejected, Reason: manifest.ReasonMalformed, Err: err}
	}
	if err := manifest.CheckDistribution(m); err != nil {
		var rej *manifest.Rejection
		errors.As(err, &rej)
		return Outcome{Kind: Rejected, Reason: rej.Reason, Err: err}
	}
	if m.Name != a.name {
		return Outcome{Kind: Rejected, Reason: manifest.ReasonMalformed, Err: &manifest.Rejection{
			Reason: manifest.ReasonMalformed,
			Field:  "name",
			Detail: fmt.Sprintf("registry returned %q for %q", m.Name, a.name),
		}}
	}

	fl, err := lockAddon(ctx, c.addonsRoot, a.name, c.lockTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{Kind: Cancelled, Err: ctx.Err()}
		}
		return Outcome{Kind: Failed, Err: err}
	}
	a.lock = fl

	job, out, ok := a.download(ctx, m)
	if !ok {
		return out
	}

	if ctx.Err() != nil {
		return Outcome{Kind: Cancelled, Err: ctx.Err()}
	}

	a.archive = job.LocalPath
	if a.archive == "" && c.downloadDir != "" {
		a.archive = filepath.Join(c.downloadDir, m.ArchiveName())
	}
	if a.archive == "" {
		return Outcome{Kind: Failed, Err: errors.New("download finished without a local file")}
	}

	res, err := c.verifier.Verify(a.archive, m)
	if err != nil {
		var verr *integrity.Error
		if errors.As(err, &verr) {
			c.metrics.Verified(verr.Method.String(), false)
		}
		return Outcome{Kind: VerificationFailed, Err: err}
	}
	c.metrics.Verified(res.Checksum.String(), true)

	return a.install(ctx)
}

func (a *attempt) registryFailure(ctx context.Context, err error) Outcome {
	var netErr *registry.NetworkError
	switch {
	case ctx.Err() != nil:
		return Outcome{Kind: Cancelled, Err: ctx.Err()}
	case errors.Is(err, registry.ErrNotFound):
		return Outcome{Kind: NotFound, Err: err}
	case errors.As(err, &netErr):
		return Outcome{Kind: NetworkUnavailable, Err: err}
	default:
		return Outcome{Kind: Failed, Err: err}
	}
}

// download starts the archive download and watches it to a terminal state.
func (a *attempt) download(ctx context.Context, m *manifest.Manifest) (download.Job, Outcome, bool) {
	c := a.c
	a.orch = download.NewOrchestrator(c.subsystem,
		download.WithPollInterval(c.pollInterval),
		download.WithClock(c.clock),
		download.WithLogger(c.logger),
	)

	if _, err := a.orch.Start(ctx, m.Dist.Tarball, m.ArchiveName()); err != nil {
		if ctx.Err() != nil {
			return download.Job{}, Outcome{Kind: Cancelled, Err: ctx.Err()}, false
		}
		return download.Job{}, Outcome{Kind: DownloadFailed, Err: err}, false
	}

	job, err := a.orch.Watch(ctx, c.onProgress)
	if err != nil {
		if ctx.Err() == nil {
			return job, Outcome{Kind: Failed, Err: err}, false
		}
		cctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if cerr := a.orch.Cancel(cctx); cerr != nil {
			a.warn("cancel download failed", "error", cerr)
		}
		return job, Outcome{Kind: Cancelled, Err: ctx.Err()}, false
	}

	switch job.Status {
	case download.StatusSucceeded:
		c.metrics.AddDownloaded(job.BytesDownloaded)
		return job, Outcome{}, true
	case download.StatusCancelled:
		return job, Outcome{Kind: Cancelled, Err: context.Canceled}, false
	default:
		err := job.LastError
		if err == nil {
			err = fmt.Errorf("download ended %s", job.Status)
		}
		return job, Outcome{Kind: DownloadFailed, Err: err}, false
	}
}

// install extracts the archive into a staging directory and swaps it into
// place.
func (a *attempt) install(ctx context.Context) Outcome {
	c := a.c
	if err := os.MkdirAll(c.addonsRoot, 0o755); err != nil {
		return Outcome{Kind: Failed, Err: fmt.Errorf("create addons root: %w", err)}
	}
	staging, err := os.MkdirTemp(c.addonsRoot, stagingPrefix+a.name+"-")
	if err != nil {
		return Outcome{Kind: Failed, Err: fmt.Errorf("create staging directory: %w", err)}
	}
	a.staging = staging

	if err := c.extractor.Extract(ctx, a.archive, staging); err != nil {
		var xerr *extract.ExtractionError
		if errors.As(err, &xerr) {
			if xerr.Kind == extract.KindCancelled {
				return Outcome{Kind: Cancelled, Err: err}
			}
			c.metrics.ExtractionFailed(xerr.Kind.String())
		}
		return Outcome{Kind: ExtractionFailed, Err: err}
	}

	if ctx.Err() != nil {
		return Outcome{Kind: Cancelled, Err: ctx.Err()}
	}

	target := filepath.Join(c.addonsRoot, a.name)
	if err := swapDir(staging, target, filepath.Join(c.addonsRoot, backupPrefix+a.name+"-"+a.id)); err != nil {
		return Outcome{Kind: Failed, Err: err}
	}
	return Outcome{Kind: Installed, Path: target}
}

// swapDir replaces target with staging. An existing target is moved to
// backup first and restored if the second rename fails.
func swapDir(staging, target, backup string) error {
	hadTarget := true
	if err := os.Rename(target, backup); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("move old addon aside: %w", err)
		}
		hadTarget = false
	}

	if err := os.Rename(staging, target); err != nil {
		if hadTarget {
			if rerr := os.Rename(backup, target); rerr != nil {
				return multierror.Append(fmt.Errorf("install addon: %w", err), fmt.Errorf("restore old addon: %w", rerr))
			}
		}
		return fmt.Errorf("install addon: %w", err)
	}

	if hadTarget {
		if err := os.RemoveAll(backup); err != nil {
			return fmt.Errorf("remove old addon: %w", err)
		}
	}
	return nil
}

// cleanup releases everything the attempt created.
func (a *attempt) cleanup(installed bool) error {
	var result *multierror.Error

	if a.orch != nil {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		if err := a.orch.Release(ctx); err != nil {
			result = multierror.Append(result, err)
		}
		cancel()
		a.orch.Close()
	}

	if a.staging != "" {
		if err := os.RemoveAll(a.staging); err != nil {
			result = multierror.Append(result, fmt.Errorf("remove staging: %w", err))
		}
	}

	if !installed && a.orch != nil {
		for _, path := range a.leftovers() {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				result = multierror.Append(result, fmt.Errorf("remove archive: %w", err))
			}
		}
	}

	if a.lock != nil {
		if err := a.lock.Unlock(); err != nil {
			result = multierror.Append(result, fmt.Errorf("unlock: %w", err))
		}
	}

	return result.ErrorOrNil()
}

// leftovers lists archive paths a failed attempt may have left.
func (a *attempt) leftovers() []string {
	var paths []string
	if a.archive != "" {
		paths = append(paths, a.archive)
	}
	if a.c.downloadDir != "" {
		base := filepath.Join(a.c.downloadDir, a.manifest.ArchiveName())
		paths = append(paths, base, base+download.PartSuffix)
	}
	return paths
}
