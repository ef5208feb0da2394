package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/storyweave/lorekeeper/internal/app"
	"github.com/storyweave/lorekeeper/internal/config"
	"github.com/storyweave/lorekeeper/internal/infrastructure/logging"
	"github.com/storyweave/lorekeeper/internal/interfaces/httpapi"
)

// newServeCommand runs the HTTP API server until interrupted.
func newServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			svc, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := svc.Close(context.Background()); err != nil {
					logger.Warn("service shutdown incomplete", logging.Err(err))
				}
			}()

			// Log level follows the config file while the server runs.
			if opts.ConfigPath != "" {
				config.Watch(opts.ConfigPath, func(updated *config.Config) {
					logger.Info("config reloaded",
						logging.String("log_level", updated.Log.Level))
					svc.SetLogLevel(updated.Log.Level)
				})
			}

			srv := httpapi.NewServer(cfg.Server, svc, logger)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-quit:
				logger.Info("shutdown signal received", logging.String("signal", sig.String()))
			case <-ctx.Done():
			}

			return srv.Stop(context.Background())
		},
	}
}
