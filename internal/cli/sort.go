package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/openslides/vmrepo/contrib/motions"
	"github.com/openslides/vmrepo/pkg/constants"
	"github.com/openslides/vmrepo/pkg/sortlist"
)

func sortCmd(opts *options, logOut io.Writer) *cobra.Command {
	var descending, reset bool
	cmd := &cobra.Command{
		Use:   "sort [property]",
		Short: "Show or set the persisted motion list sorting",
		Long: `Without arguments, list the sort options of the motion list and mark the
selected one. With a property, select it; --desc sorts descending.

Examples:
  vmrepo sort
  vmrepo sort title --desc
  vmrepo sort --reset`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, logOut)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			svc := a.sort
			if err := svc.InitSorting(ctx); err != nil {
				return err
			}

			switch {
			case reset:
				def := motions.DefaultSorting
				if err := svc.SetSorting(ctx, def.SortProperty, def.SortAscending); err != nil {
					return err
				}
			case len(args) == 1:
				property := sortlist.P(strings.Split(args[0], ",")...)
				if !hasOption(svc, property) {
					return fmt.Errorf("%w: %s", constants.ErrUnknownSortOption, property)
				}
				if err := svc.SetSorting(ctx, property, !descending); err != nil {
					return err
				}
			}

			renderOptions(cmd.OutOrStdout(), svc)
			return nil
		},
	}
	cmd.Flags().BoolVar(&descending, "desc", false, "sort descending")
	cmd.Flags().BoolVar(&reset, "reset", false, "restore the default sorting")
	return cmd
}

func hasOption(svc *sortlist.Service[*motions.ViewMotion], property sortlist.Property) bool {
	for _, opt := range svc.SortOptions() {
		if svc.IsSameProperty(opt.Property, property) {
			return true
		}
	}
	return false
}

func renderOptions(out io.Writer, svc *sortlist.Service[*motions.ViewMotion]) {
	selected := color.New(color.FgGreen, color.Bold)
	for _, opt := range svc.SortOptions() {
		icon, _ := svc.SortIcon(opt)
		line := fmt.Sprintf("%-20s %-18s %s", opt.Property, svc.SortLabel(opt), icon)
		if icon != "" {
			selected.Fprintln(out, "* "+line)
			continue
		}
		fmt.Fprintln(out, "  "+line)
	}
	if svc.IsDefaultSorting() {
		fmt.Fprintln(out, "(default sorting)")
	}
}
