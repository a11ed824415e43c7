package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/censo/censo/backend/go-services/internal/app"
	"github.com/censo/censo/backend/go-services/internal/record"
	"github.com/censo/censo/backend/go-services/internal/record/service"
	"github.com/spf13/cobra"
)

// withApp builds the service, runs fn and tears it down again.
func withApp(ctx context.Context, opts *RootOptions, fn func(*app.App) error) error {
	a, err := app.Build(ctx, opts.cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printSnapshot(w io.Writer, s service.Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print the record of a date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), rootOpts, func(a *app.App) error {
				o, err := a.Manager.Open(cmd.Context(), date)
				if err != nil {
					return err
				}
				snap := o.Snapshot()
				if snap.Document == nil {
					return fmt.Errorf("%w: %s", record.ErrNotFound, date)
				}
				return printSnapshot(cmd.OutOrStdout(), snap)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "record date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the local cache with the record store once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), rootOpts, func(a *app.App) error {
				o, err := a.Manager.Open(cmd.Context(), date)
				if err != nil {
					return err
				}
				if err := o.DeepSync(cmd.Context()); err != nil {
					return err
				}
				return printSnapshot(cmd.OutOrStdout(), o.Snapshot())
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "record date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	var date, from string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the record of a date",
		Long: `Create the record of a date. With --from, the bed layout and staff
rosters of that day are carried over.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), rootOpts, func(a *app.App) error {
				o, err := a.Manager.Initialize(cmd.Context(), date, from)
				if err != nil {
					return err
				}
				return printSnapshot(cmd.OutOrStdout(), o.Snapshot())
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "record date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&from, "from", "", "copy layout from this date")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

// NewPatchCommand creates the patch command.
func NewPatchCommand(rootOpts *RootOptions) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "patch path=value...",
		Short: "Apply a patch to the record of a date",
		Long: `Apply a patch to the record of a date. Each argument assigns one
dot path; values that parse as JSON are used as such, anything else is a
string. Use null to clear a field.`,
		Example: `  censo patch --date 2025-03-14 beds.R1.patientName="Ana Pérez" beds.R1.age=71`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := ParseAssignments(args)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), rootOpts, func(a *app.App) error {
				o, err := a.Manager.Open(cmd.Context(), date)
				if err != nil {
					return err
				}
				if err := o.ApplyPatch(cmd.Context(), p); err != nil {
					return err
				}
				return printSnapshot(cmd.OutOrStdout(), o.Snapshot())
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "record date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

// ParseAssignments turns path=value arguments into a patch.
func ParseAssignments(args []string) (record.Patch, error) {
	p := make(record.Patch, len(args))
	for _, arg := range args {
		path, raw, ok := strings.Cut(arg, "=")
		if !ok || path == "" {
			return nil, fmt.Errorf("invalid assignment %q: want path=value", arg)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		p[path] = v
	}
	return p, nil
}
