// Package backup stores registry snapshots before destructive operations
// and on periodic flush-to-disk. A local directory is the default target;
// the MinIO store ships copies to S3-compatible object storage.
package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/storyweave/lorekeeper/internal/engine/registry"
	"github.com/storyweave/lorekeeper/internal/infrastructure/logging"
	"github.com/storyweave/lorekeeper/pkg/errors"
)

// Store persists one named snapshot payload.
type Store interface {
	Save(name string, data []byte) error
}

// Func adapts a Store into the registry's backup hook, stamping each
// snapshot with the wall-clock time so successive backups never collide.
func Func(store Store) registry.BackupFunc {
	return func(snapshot []byte) error {
		name := fmt.Sprintf("registry-%s.json", time.Now().UTC().Format("20060102T150405Z"))
		return store.Save(name, snapshot)
	}
}

// LocalStore writes snapshots into a directory on the host filesystem.
type LocalStore struct {
	dir    string
	logger logging.Logger
}

// NewLocalStore creates the directory if needed.
func NewLocalStore(dir string, logger logging.Logger) (*LocalStore, error) {
	if dir == "" {
		return nil, errors.InvalidParam("backup: directory is required")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.CodeBackupError, "backup: create directory failed")
	}
	return &LocalStore{dir: dir, logger: logger.Named("backup")}, nil
}

// Save writes the payload via a temp file and rename so a crash never
// leaves a truncated backup behind.
func (s *LocalStore) Save(name string, data []byte) error {
	target := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return errors.Wrap(err, errors.CodeBackupError, "backup: temp file failed")
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, errors.CodeBackupError, "backup: write failed")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, errors.CodeBackupError, "backup: close failed")
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, errors.CodeBackupError, "backup: rename failed")
	}
	s.logger.Info("snapshot backed up", logging.String("path", target), logging.Int("bytes", len(data)))
	return nil
}
