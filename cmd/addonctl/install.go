package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/krmanik/ankiaddons/internal/acquire"
	"github.com/krmanik/ankiaddons/internal/download"
	"github.com/krmanik/ankiaddons/internal/service"
)

func newInstallCmd(a *app) *cobra.Command {
	var (
		enable bool
		quiet  bool
	)
	cmd := &cobra.Command{
		Use:   "install <name|url>...",
		Short: "Download, verify and install addons",
		Long: `Install addons from the npm registry.

Each argument may be a package name, an "npm i <name>" line or an
npmjs.com package URL. Press Ctrl-C to cancel a running download.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var progress func(download.Job)
			if !quiet {
				progress = progressPrinter(cmd.ErrOrStderr())
			}
			svcs, err := a.services(service.BuildOptions{Progress: progress})
			if err != nil {
				return err
			}
			defer svcs.Close()

			return runInstall(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), svcs.Install, service.InstallRequest{
				Inputs: args,
				Enable: enable,
			}, a.verbose)
		},
	}
	cmd.Flags().BoolVar(&enable, "enable", false, "enable each addon after installing it")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print download progress")
	return cmd
}

func runInstall(ctx context.Context, stdout, stderr io.Writer, svc *service.InstallService, req service.InstallRequest, verbose bool) error {
	result, err := svc.Execute(ctx, req)
	if result != nil {
		for _, out := range result.Outcomes {
			printOutcome(stdout, stderr, out, verbose)
		}
		for _, name := range result.Enabled {
			fmt.Fprintf(stdout, "Enabled %s\n", name)
		}
	}
	if err != nil {
		return err
	}
	if n := result.Failed(); n > 0 {
		return fmt.Errorf("%d of %d addons not installed", n, len(result.Outcomes))
	}
	return nil
}

func printOutcome(stdout, stderr io.Writer, out acquire.Outcome, verbose bool) {
	switch out.Kind {
	case acquire.Installed:
		fmt.Fprintf(stdout, "✓ Installed %s %s\n", out.Name, out.Manifest.Version)
		return
	case acquire.Rejected:
		fmt.Fprintf(stderr, "✗ %s is not a valid addon: %s\n", out.Name, out.Reason)
	case acquire.NetworkUnavailable:
		fmt.Fprintf(stderr, "✗ %s: registry unreachable, check your connection and retry\n", out.Name)
	case acquire.NotFound:
		fmt.Fprintf(stderr, "✗ %s: no such package in the registry\n", out.Name)
	case acquire.Cancelled:
		fmt.Fprintf(stderr, "✗ %s: cancelled\n", out.Name)
	default:
		fmt.Fprintf(stderr, "✗ %s: %s\n", out.Name, out.Kind)
	}
	if verbose && out.Err != nil {
		fmt.Fprintf(stderr, "  %v\n", out.Err)
	}
}

// progressPrinter renders download snapshots on a single terminal line.
func progressPrinter(w io.Writer) func(download.Job) {
	return func(job download.Job) {
		switch {
		case job.Status == download.StatusPaused:
			fmt.Fprintf(w, "\r%s: paused (%s)\033[K", job.AddonName, job.PauseReason)
		case job.BytesTotal > 0:
			fmt.Fprintf(w, "\r%s: %s / %s (%s%%)\033[K", job.AddonName,
				humanize.Bytes(uint64(job.BytesDownloaded)), humanize.Bytes(uint64(job.BytesTotal)), job.Progress())
		default:
			fmt.Fprintf(w, "\r%s: %s\033[K", job.AddonName, humanize.Bytes(uint64(max(job.BytesDownloaded, 0))))
		}
		if job.Status.Terminal() {
			fmt.Fprintln(w)
		}
	}
}
