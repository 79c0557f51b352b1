package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/krmanik/ankiaddons/internal/config"
	"github.com/krmanik/ankiaddons/internal/logging"
	"github.com/krmanik/ankiaddons/internal/platform"
	"github.com/krmanik/ankiaddons/internal/service"
)

// app holds state shared by every command.
type app struct {
	configDir   string
	dataDir     string
	addonsDir   string
	downloadDir string
	registryURL string
	logLevel    string
	verbose     bool

	cfg    config.Config
	logger *logging.ZapLogger

	// build is swapped out in tests.
	build func(config.Config, service.BuildOptions) (*service.Services, error)
}

func newApp() *app {
	return &app{build: service.Build}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "addonctl",
		Short:         "Install and manage AnkiDroid JavaScript addons",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configDir, "config-dir", "", "directory holding "+config.FileName)
	flags.StringVar(&a.dataDir, "data-dir", "", "data directory")
	flags.StringVar(&a.addonsDir, "addons-dir", "", "directory addons are installed into")
	flags.StringVar(&a.downloadDir, "download-dir", "", "directory archives are downloaded into")
	flags.StringVar(&a.registryURL, "registry", "", "npm registry base URL")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging and detailed errors")

	root.AddCommand(
		newInstallCmd(a),
		newListCmd(a),
		newInfoCmd(a),
		newEnableCmd(a),
		newDisableCmd(a),
		newRemoveCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup resolves configuration: defaults, addons.lua, environment, flags.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(cmd.Context(), config.Options{
		ConfigDir: a.configDir,
		Detector:  platform.NewDetector(),
	})
	if err != nil {
		return fmt.Errorf("load config: %s", config.FormatError(err, a.verbose))
	}

	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir = a.dataDir
	}
	if flags.Changed("addons-dir") {
		cfg.AddonsDir = a.addonsDir
	}
	if flags.Changed("download-dir") {
		cfg.DownloadDir = a.downloadDir
	}
	if flags.Changed("registry") {
		cfg.RegistryURL = a.registryURL
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if a.verbose {
		cfg.Log.Level = "debug"
	}

	if err := cfg.Finalize(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	a.cfg = cfg
	a.logger = logger.Named("addonctl")
	return nil
}

func (a *app) services(opts service.BuildOptions) (*service.Services, error) {
	if opts.Logger == nil {
		opts.Logger = a.logger
	}
	return a.build(a.cfg, opts)
}
