package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/krmanik/ankiaddons/internal/service"
)

func newEnableCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "enable <name>...",
		Short: "Enable installed addons",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svcs, err := a.services(service.BuildOptions{})
			if err != nil {
				return err
			}
			defer svcs.Close()

			for _, name := range args {
				if err := svcs.Toggle.Enable(cmd.Context(), name); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Enabled %s\n", name)
			}
			return nil
		},
	}
}

func newDisableCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "disable <name>...",
		Short: "Disable installed addons",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svcs, err := a.services(service.BuildOptions{})
			if err != nil {
				return err
			}
			defer svcs.Close()

			for _, name := range args {
				if err := svcs.Toggle.Disable(cmd.Context(), name); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Disabled %s\n", name)
			}
			return nil
		},
	}
}

func newRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>...",
		Aliases: []string{"rm", "uninstall"},
		Short:   "Remove installed addons",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svcs, err := a.services(service.BuildOptions{})
			if err != nil {
				return err
			}
			defer svcs.Close()

			result, err := svcs.Remove.Execute(cmd.Context(), service.RemoveRequest{Names: args})
			if result != nil {
				for _, name := range result.Removed {
					fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", name)
				}
				for _, name := range result.Skipped {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s is not installed\n", name)
				}
			}
			return err
		},
	}
}
