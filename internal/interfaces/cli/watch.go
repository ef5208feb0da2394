package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/storyweave/lorekeeper/internal/app"
	"github.com/storyweave/lorekeeper/internal/config"
	"github.com/storyweave/lorekeeper/internal/infrastructure/logging"
)

// newWatchCommand rescans documents as they change on disk.
func newWatchCommand(opts *RootOptions) *cobra.Command {
	var (
		dir        string
		extensions []string
		debounce   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Watch a directory and rescan documents on change",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			watchDir := cfg.Watch.Dir
			if len(args) > 0 {
				watchDir = args[0]
			}
			if dir != "" {
				watchDir = dir
			}
			if watchDir == "" {
				return fmt.Errorf("no watch directory: pass one or set watch.dir")
			}

			exts := cfg.Watch.Extensions
			if len(extensions) > 0 {
				exts = extensions
			}
			wait := cfg.Watch.Debounce
			if debounce > 0 {
				wait = debounce
			}

			ctx := cmd.Context()
			svc, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer svc.Close(context.Background())

			return runWatcher(ctx, svc, logger, watchDir, exts, wait)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "directory to watch (overrides watch.dir)")
	cmd.Flags().StringSliceVar(&extensions, "ext", nil, "file extensions to scan (overrides watch.extensions)")
	cmd.Flags().DurationVar(&debounce, "debounce", 0, "delay before rescanning a changed file (overrides watch.debounce)")
	return cmd
}

// runWatcher blocks rescanning changed files until the context is done or a
// termination signal arrives. Rapid write bursts to one file coalesce into a
// single scan per debounce window.
func runWatcher(ctx context.Context, svc *app.Service, logger logging.Logger, dir string, extensions []string, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = config.DefaultWatchDebounce
	}
	log := logger.Named("watch")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher init: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	log.Info("watching", logging.String("dir", dir))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var mu sync.Mutex
	pending := make(map[string]*time.Timer)

	scanFile := func(path string) {
		mu.Lock()
		delete(pending, path)
		mu.Unlock()

		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn("read failed", logging.String("path", path), logging.Err(err))
			return
		}
		result, err := svc.ScanText(ctx, documentID(path), string(data))
		if err != nil {
			log.Warn("scan failed", logging.String("path", path), logging.Err(err))
			return
		}
		log.Info("rescanned",
			logging.String("path", path),
			logging.Int("matches", len(result.Matches)),
			logging.Int("promoted", len(result.Promoted)))
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				if event.Has(fsnotify.Remove) && matchesExtension(event.Name, extensions) {
					if err := svc.DeleteDocument(documentID(event.Name)); err != nil {
						log.Warn("document cleanup failed", logging.String("path", event.Name), logging.Err(err))
					}
				}
				continue
			}
			if !matchesExtension(event.Name, extensions) {
				continue
			}

			path := event.Name
			mu.Lock()
			if timer, exists := pending[path]; exists {
				timer.Reset(debounce)
			} else {
				pending[path] = time.AfterFunc(debounce, func() { scanFile(path) })
			}
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", logging.Err(err))

		case <-quit:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// matchesExtension reports whether the path carries one of the allowed
// extensions. An empty list allows everything.
func matchesExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range extensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}
