// Package app assembles the engine and its infrastructure into one service
// facade. The registry and pipeline are not internally synchronized; the
// Service is their single owner and serializes every operation behind one
// mutex, so HTTP handlers and CLI commands can share an instance safely.
package app

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/storyweave/lorekeeper/internal/config"
	"github.com/storyweave/lorekeeper/internal/engine/confidence"
	"github.com/storyweave/lorekeeper/internal/engine/lingua"
	"github.com/storyweave/lorekeeper/internal/engine/matcher"
	"github.com/storyweave/lorekeeper/internal/engine/registry"
	"github.com/storyweave/lorekeeper/internal/engine/scan"
	"github.com/storyweave/lorekeeper/internal/infrastructure/backup"
	"github.com/storyweave/lorekeeper/internal/infrastructure/eventbus"
	"github.com/storyweave/lorekeeper/internal/infrastructure/graphstore"
	"github.com/storyweave/lorekeeper/internal/infrastructure/logging"
	"github.com/storyweave/lorekeeper/internal/infrastructure/metrics"
	"github.com/storyweave/lorekeeper/internal/infrastructure/popularity"
	"github.com/storyweave/lorekeeper/pkg/errors"
)

// Service is the composition root: one registry, one pipeline, and the
// configured infrastructure adapters behind a single lock.
type Service struct {
	cfg     *config.Config
	logger  logging.Logger
	metrics metrics.EngineMetrics
	prom    *prometheus.Registry

	mu      sync.Mutex
	reg     *registry.Registry
	orch    *scan.Orchestrator
	matcher *matcher.Matcher

	popularity confidence.PopularityStore
	sink       *eventbus.KafkaSink
	mirror     *graphstore.Mirror
	backups    backup.Store

	snapshotPath string
}

// New wires the service from configuration. Optional backends missing from
// the config degrade to built-in fallbacks: in-memory popularity, no event
// sink, no graph mirror, local-only backups.
func New(ctx context.Context, cfg *config.Config, logger logging.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.InvalidParam("app: config is required")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	prom := prometheus.NewRegistry()
	em, err := metrics.NewPrometheusEngineMetrics(prom)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "app: metrics init failed")
	}

	s := &Service{
		cfg:          cfg,
		logger:       logger.Named("app"),
		metrics:      em,
		prom:         prom,
		snapshotPath: cfg.Snapshot.Path,
	}

	// Popularity store.
	if cfg.RedisEnabled() {
		store, err := popularity.NewRedisStore(ctx, popularity.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			KeyPrefix:    cfg.Redis.KeyPrefix,
		}, logger)
		if err != nil {
			return nil, err
		}
		s.popularity = store
	} else {
		s.popularity = popularity.NewMemoryStore()
	}

	// Event sink.
	if cfg.KafkaEnabled() {
		sink, err := eventbus.NewKafkaSink(eventbus.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			MaxRetries:   cfg.Kafka.ProducerRetries,
			BatchSize:    cfg.Kafka.BatchSize,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		s.sink = sink
	}

	// Graph mirror.
	if cfg.Neo4jEnabled() {
		mirror, err := graphstore.NewMirror(ctx, graphstore.Config{
			URI:               cfg.Neo4j.URI,
			User:              cfg.Neo4j.User,
			Password:          cfg.Neo4j.Password,
			Database:          cfg.Neo4j.Database,
			MaxPoolSize:       cfg.Neo4j.MaxConnectionPoolSize,
			ConnectionTimeout: cfg.Neo4j.ConnectionTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		s.mirror = mirror
	}

	// Backup target: object storage when configured, otherwise a local
	// directory when one is set.
	if cfg.MinIOEnabled() {
		store, err := backup.NewMinIOStore(ctx, backup.MinIOConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			UseSSL:    cfg.MinIO.UseSSL,
		}, logger)
		if err != nil {
			return nil, err
		}
		s.backups = store
	} else if cfg.Snapshot.BackupDir != "" {
		store, err := backup.NewLocalStore(cfg.Snapshot.BackupDir, logger)
		if err != nil {
			return nil, err
		}
		s.backups = store
	}

	s.reg = registry.NewRegistry(logger)
	if s.mirror != nil {
		s.reg.RegisterCascade(s.mirror.RemoveEntity)
	}

	if err := s.loadSnapshot(); err != nil {
		return nil, err
	}

	s.matcher = matcher.NewMatcher(logger, em, matcher.WithTimeout(cfg.Engine.MatcherTimeout))

	orch, err := scan.NewOrchestrator(scan.Options{
		Registry:            s.reg,
		Analyzer:            lingua.NewBasicAnalyzer(),
		Matcher:             s.matcher,
		Popularity:          s.popularity,
		Events:              s.eventSink(),
		Logger:              logger,
		Metrics:             em,
		ConfidenceThreshold: cfg.Engine.ConfidenceThreshold,
		RejectionCacheSize:  cfg.Engine.RejectionCacheSize,
	})
	if err != nil {
		return nil, err
	}
	s.orch = orch
	return s, nil
}

func (s *Service) eventSink() scan.EventSink {
	if s.sink == nil {
		return nil
	}
	return s.sink
}

// loadSnapshot restores registry state from the snapshot file. A missing
// file starts the service empty; an invalid one refuses to start.
func (s *Service) loadSnapshot() error {
	data, err := os.ReadFile(s.snapshotPath)
	if os.IsNotExist(err) {
		s.logger.Info("no snapshot found, starting empty",
			logging.String("path", s.snapshotPath))
		return nil
	}
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "app: snapshot read failed")
	}
	if err := s.reg.Import(data); err != nil {
		return err
	}
	s.logger.Info("snapshot restored",
		logging.String("path", s.snapshotPath),
		logging.Int("entities", s.reg.Count()))
	return nil
}

// SaveSnapshot serializes the registry and writes it atomically to the
// snapshot path.
func (s *Service) SaveSnapshot() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveSnapshotLocked()
}

func (s *Service) saveSnapshotLocked() error {
	data, err := s.reg.Export()
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.snapshotPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "app: snapshot directory failed")
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.snapshotPath)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "app: snapshot temp file failed")
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, errors.CodeInternal, "app: snapshot write failed")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, errors.CodeInternal, "app: snapshot close failed")
	}
	if err := os.Rename(tmp.Name(), s.snapshotPath); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, errors.CodeInternal, "app: snapshot rename failed")
	}
	return nil
}

// MetricsHandler serves the service's Prometheus registry.
func (s *Service) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.prom, promhttp.HandlerOpts{})
}

// SetLogLevel applies a hot-reloaded log level when the logger supports it.
func (s *Service) SetLogLevel(level string) {
	if ls, ok := s.logger.(logging.LevelSetter); ok {
		ls.SetLevel(level)
		s.logger.Info("log level changed", logging.String("level", level))
	}
}

// Close persists a final snapshot and releases every adapter.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	saveErr := s.saveSnapshotLocked()
	s.mu.Unlock()

	if s.matcher != nil {
		s.matcher.Close()
	}
	if s.sink != nil {
		if err := s.sink.Close(); err != nil {
			s.logger.Warn("event sink close failed", logging.Err(err))
		}
	}
	if s.mirror != nil {
		if err := s.mirror.Close(ctx); err != nil {
			s.logger.Warn("graph mirror close failed", logging.Err(err))
		}
	}
	if closer, ok := s.popularity.(*popularity.RedisStore); ok {
		if err := closer.Close(); err != nil {
			s.logger.Warn("popularity store close failed", logging.Err(err))
		}
	}
	return saveErr
}
