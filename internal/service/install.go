package service

import (
	"context"
	"fmt"

	"github.com/krmanik/ankiaddons/internal/acquire"
	"github.com/krmanik/ankiaddons/internal/logging"
	"github.com/krmanik/ankiaddons/internal/manifest"
)

// Acquirer installs addons from the registry.
type Acquirer interface {
	Acquire(ctx context.Context, input string) acquire.Outcome
}

// Enabler records which addons are switched on.
type Enabler interface {
	Enable(kind manifest.Kind, name string) error
	Disable(kind manifest.Kind, name string) error
	IsEnabled(kind manifest.Kind, name string) (bool, error)
}

// MetricsWriter flushes collected metrics somewhere durable.
type MetricsWriter interface {
	WriteTextfile(path string) error
}

// InstallService orchestrates the install operation.
type InstallService struct {
	acquirer    Acquirer
	enabled     Enabler
	metrics     MetricsWriter
	metricsFile string
	logger      logging.Logger
}

// NewInstallService creates a new install service. metrics may be nil.
func NewInstallService(acquirer Acquirer, enabled Enabler, metrics MetricsWriter, metricsFile string, logger logging.Logger) *InstallService {
	return &InstallService{
		acquirer:    acquirer,
		enabled:     enabled,
		metrics:     metrics,
		metricsFile: metricsFile,
		logger:      logging.OrNop(logger),
	}
}

// InstallRequest contains the parameters for installing addons.
type InstallRequest struct {
	// Inputs are names, "npm i" lines or npmjs.com URLs.
	Inputs []string
	// Enable switches each installed addon on for its kind.
	Enable bool
}

// InstallResult holds one outcome per input, in order.
type InstallResult struct {
	Outcomes []acquire.Outcome
	// Enabled lists the addons switched on by this request.
	Enabled []string
}

// Failed counts outcomes other than Installed.
func (r *InstallResult) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Kind != acquire.Installed {
			n++
		}
	}
	return n
}

// Execute installs each input in turn. It stops early only when ctx is done;
// individual failures are reported in the result.
func (s *InstallService) Execute(ctx context.Context, req InstallRequest) (*InstallResult, error) {
	if len(req.Inputs) == 0 {
		return nil, fmt.Errorf("no addons specified")
	}

	result := &InstallResult{Outcomes: make([]acquire.Outcome, 0, len(req.Inputs))}
	defer s.flushMetrics()

	for _, input := range req.Inputs {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		out := s.acquirer.Acquire(ctx, input)
		result.Outcomes = append(result.Outcomes, out)

		if out.Kind != acquire.Installed || !req.Enable {
			continue
		}
		if err := s.enabled.Enable(out.Manifest.Kind, out.Name); err != nil {
			return result, fmt.Errorf("enable %s: %w", out.Name, err)
		}
		result.Enabled = append(result.Enabled, out.Name)
	}

	return result, nil
}

func (s *InstallService) flushMetrics() {
	if s.metrics == nil || s.metricsFile == "" {
		return
	}
	if err := s.metrics.WriteTextfile(s.metricsFile); err != nil {
		s.logger.Warn("write metrics failed", "path", s.metricsFile, "error", err)
	}
}
