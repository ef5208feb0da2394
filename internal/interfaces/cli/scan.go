package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/storyweave/lorekeeper/internal/app"
)

// newScanCommand scans one or more document files and prints what was found.
func newScanCommand(opts *RootOptions) *cobra.Command {
	var showStats bool

	cmd := &cobra.Command{
		Use:   "scan <file>...",
		Short: "Scan document files for entity mentions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), opts, func(ctx context.Context, svc *app.Service) error {
				for _, path := range args {
					data, err := os.ReadFile(path)
					if err != nil {
						return fmt.Errorf("read %s: %w", path, err)
					}

					result, err := svc.ScanText(ctx, documentID(path), string(data))
					if err != nil {
						return fmt.Errorf("scan %s: %w", path, err)
					}

					fmt.Fprintf(cmd.OutOrStdout(), "%s: %d matches", path, len(result.Matches))
					if len(result.Explicit) > 0 {
						fmt.Fprintf(cmd.OutOrStdout(), ", %d declared", len(result.Explicit))
					}
					if len(result.Promoted) > 0 {
						fmt.Fprintf(cmd.OutOrStdout(), ", %d promoted", len(result.Promoted))
					}
					fmt.Fprintln(cmd.OutOrStdout())

					for _, m := range result.Matches {
						fmt.Fprintf(cmd.OutOrStdout(), "  %-24s %-12s %.2f\n",
							m.Entity.Label, m.Entity.Kind, m.Confidence)
					}
					if showStats {
						fmt.Fprintf(cmd.OutOrStdout(),
							"  candidates=%d cached_rejections=%d scored=%d duration=%.1fms\n",
							result.Stats.Candidates, result.Stats.RejectedByCache,
							result.Stats.ScoredCandidates, result.Stats.DurationMs)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&showStats, "stats", false, "print scan funnel statistics")
	return cmd
}

// documentID derives a stable document id from a file path.
func documentID(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

// withService builds a service from config, runs fn, and tears it down.
func withService(ctx context.Context, opts *RootOptions, fn func(context.Context, *app.Service) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	svc, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close(context.Background())

	return fn(ctx, svc)
}
