package service

import (
	"fmt"
	"os"

	"github.com/krmanik/ankiaddons/internal/acquire"
	"github.com/krmanik/ankiaddons/internal/catalog"
	"github.com/krmanik/ankiaddons/internal/config"
	"github.com/krmanik/ankiaddons/internal/download"
	"github.com/krmanik/ankiaddons/internal/extract"
	"github.com/krmanik/ankiaddons/internal/integrity"
	"github.com/krmanik/ankiaddons/internal/logging"
	"github.com/krmanik/ankiaddons/internal/metrics"
	"github.com/krmanik/ankiaddons/internal/prefs"
	"github.com/krmanik/ankiaddons/internal/registry"
)

// Services bundles every operation wired against real collaborators.
type Services struct {
	Install *InstallService
	List    *ListService
	Toggle  *ToggleService
	Remove  *RemoveService

	Controller *acquire.Controller
	Metrics    *metrics.Metrics

	subsystem *download.HTTPSubsystem
}

// BuildOptions carries the pieces the CLI supplies itself.
type BuildOptions struct {
	Logger   logging.Logger
	Progress func(download.Job)
	// Registry replaces the HTTP registry client.
	Registry registry.Client
	// Subsystem replaces the HTTP download subsystem.
	Subsystem download.Subsystem
}

// Build wires the services for cfg, which must be finalized.
func Build(cfg config.Config, opts BuildOptions) (*Services, error) {
	logger := logging.OrNop(opts.Logger)

	for _, dir := range []string{cfg.DataDir, cfg.AddonsDir, cfg.DownloadDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	verifierOpts := []integrity.Option{
		integrity.WithLogger(logger),
		integrity.WithRequireSignature(cfg.RequireSignature),
	}
	if cfg.Keyring != "" {
		keyring, err := integrity.LoadKeyring(cfg.Keyring)
		if err != nil {
			return nil, err
		}
		verifierOpts = append(verifierOpts, integrity.WithKeyring(keyring))
	}

	reg := opts.Registry
	if reg == nil {
		retries := cfg.Retries
		if retries == 0 {
			// the registry client reads zero as "use the default"
			retries = -1
		}
		reg = registry.NewHTTPClient(registry.Config{
			BaseURL:   cfg.RegistryURL,
			Timeout:   cfg.HTTPTimeout,
			Retries:   retries,
			RateLimit: cfg.RateLimit,
			Logger:    logger,
		})
	}

	s := &Services{Metrics: metrics.New()}

	sub := opts.Subsystem
	if sub == nil {
		s.subsystem = download.NewHTTPSubsystem(cfg.DownloadDir,
			download.WithMaxBytes(cfg.MaxArchiveBytes),
			download.WithHTTPLogger(logger),
		)
		sub = s.subsystem
	}

	s.Controller = acquire.New(reg, sub, cfg.AddonsDir,
		acquire.WithHostAPI(cfg.APIVersion),
		acquire.WithDownloadDir(cfg.DownloadDir),
		acquire.WithPollInterval(cfg.PollInterval),
		acquire.WithExtractor(extract.New(
			extract.WithLogger(logger),
			extract.WithLimits(cfg.MaxEntries, cfg.MaxArchiveBytes),
		)),
		acquire.WithVerifier(integrity.NewVerifier(verifierOpts...)),
		acquire.WithLogger(logger),
		acquire.WithMetrics(s.Metrics),
		acquire.WithProgress(opts.Progress),
	)

	enabled := prefs.NewEnabled(prefs.NewFileStore(cfg.PrefsPath()))
	cat := catalog.New(cfg.AddonsDir, cfg.APIVersion, enabled, logger)

	s.Install = NewInstallService(s.Controller, enabled, s.Metrics, cfg.MetricsFile, logger)
	s.List = NewListService(cat, enabled)
	s.Toggle = NewToggleService(cat, enabled)
	s.Remove = NewRemoveService(cat)
	return s, nil
}

// Close stops any downloads still running.
func (s *Services) Close() {
	if s.subsystem != nil {
		s.subsystem.Close()
	}
}
