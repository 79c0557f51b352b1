package main

import (
	"fmt"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/krmanik/ankiaddons/internal/manifest"
	"github.com/krmanik/ankiaddons/internal/service"
)

func newListCmd(a *app) *cobra.Command {
	var (
		kind        string
		enabledOnly bool
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List installed addons",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k := manifest.Kind(kind)
			if kind != "" && !k.Valid() {
				return fmt.Errorf("unknown addon kind %q (want %s or %s)", kind, manifest.KindReviewer, manifest.KindNoteEditor)
			}

			svcs, err := a.services(service.BuildOptions{})
			if err != nil {
				return err
			}
			defer svcs.Close()

			result, err := svcs.List.List(cmd.Context(), service.ListRequest{Kind: k, EnabledOnly: enabledOnly})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(result.Addons) == 0 {
				fmt.Fprintln(out, "No addons installed.")
				fmt.Fprintln(out)
				fmt.Fprintln(out, "To install one:")
				fmt.Fprintln(out, "  addonctl install <name>")
			} else {
				table := uitable.New()
				table.MaxColWidth = 50
				table.AddRow("NAME", "VERSION", "KIND", "ENABLED", "TITLE")
				for _, addon := range result.Addons {
					m := addon.Manifest
					table.AddRow(m.Name, m.Version, m.Kind, yesNo(addon.Enabled), m.DisplayTitle)
				}
				fmt.Fprintln(out, table)
			}

			for _, p := range result.Problems {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: skipped %s\n", p)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only list addons of this kind")
	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "only list enabled addons")
	return cmd
}

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info <name>",
		Short: "Show details of an installed addon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svcs, err := a.services(service.BuildOptions{})
			if err != nil {
				return err
			}
			defer svcs.Close()

			addon, err := svcs.List.Info(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			m := addon.Manifest

			table := uitable.New()
			table.Wrap = true
			table.AddRow("Name:", m.Name)
			table.AddRow("Title:", m.DisplayTitle)
			table.AddRow("Version:", m.Version)
			table.AddRow("Kind:", m.Kind)
			table.AddRow("Enabled:", yesNo(addon.Enabled))
			table.AddRow("API:", m.APIVersion)
			if m.Icon != "" {
				table.AddRow("Icon:", m.Icon)
			}
			if m.Author.Name != "" {
				table.AddRow("Author:", m.Author.Name)
			}
			if m.License != "" {
				table.AddRow("License:", m.License)
			}
			table.AddRow("Homepage:", m.Homepage)
			if m.Description != "" {
				table.AddRow("Description:", m.Description)
			}
			table.AddRow("Entry:", addon.EntryPath)
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
