package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/storyweave/lorekeeper/internal/app"
)

// newEntitiesCommand lists the registry contents.
func newEntitiesCommand(opts *RootOptions) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "entities",
		Short: "List registered entities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), opts, func(ctx context.Context, svc *app.Service) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tLABEL\tKIND\tALIASES\tMENTIONS")
				for _, e := range svc.Entities() {
					if kind != "" && string(e.Kind) != kind {
						continue
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n",
						e.ID, e.Label, e.Kind, len(e.Aliases), e.TotalMentions)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "filter by entity kind")
	return cmd
}

// newExportCommand writes the registry snapshot to a file or stdout.
func newExportCommand(opts *RootOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the registry snapshot as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), opts, func(ctx context.Context, svc *app.Service) error {
				data, err := svc.Export()
				if err != nil {
					return err
				}
				if out == "" || out == "-" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				return os.WriteFile(out, data, 0o644)
			})
		},
	}

	cmd.Flags().StringVarP(&out, "output", "o", "", "destination file (default: stdout)")
	return cmd
}

// newImportCommand replaces the registry with a snapshot file.
func newImportCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import a registry snapshot, replacing current contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), opts, func(ctx context.Context, svc *app.Service) error {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				if err := svc.Import(data); err != nil {
					return err
				}
				stats := svc.Stats()
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d entities, %d relationships\n",
					stats.Entities, stats.Relationships)
				return nil
			})
		},
	}
}

// newIntegrityCommand checks, and optionally repairs, registry consistency.
func newIntegrityCommand(opts *RootOptions) *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "integrity",
		Short: "Check registry integrity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), opts, func(ctx context.Context, svc *app.Service) error {
				issues := svc.CheckIntegrity()
				if repair && len(issues) > 0 {
					repaired, err := svc.RepairIntegrity()
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "repaired %d issues\n", len(repaired))
					return nil
				}

				if len(issues) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "registry is consistent")
					return nil
				}
				for _, issue := range issues {
					fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n",
						issue.Severity, issue.Code, issue.Description)
				}
				return fmt.Errorf("%d integrity issues found (re-run with --repair)", len(issues))
			})
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "fix the issues found")
	return cmd
}

// newFlushCommand destroys the registry after explicit confirmation.
func newFlushCommand(opts *RootOptions) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Destroy the registry (requires --confirm)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), opts, func(ctx context.Context, svc *app.Service) error {
				if err := svc.Flush(confirm); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "registry flushed")
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm the destructive flush")
	return cmd
}
