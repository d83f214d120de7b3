// Package app initializes and holds long-lived services for one harvester
// invocation, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/checkpoint"
	"github.com/JakeFAU/listing-harvester/internal/config"
	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/logging"
	"github.com/JakeFAU/listing-harvester/internal/metrics"
	"github.com/JakeFAU/listing-harvester/internal/storage/gcs"
)

// App holds the services shared by every command.
type App struct {
	cfg     config.Config
	runID   string
	logger  *zap.Logger
	metrics *metrics.Recorder
	store   *checkpoint.Store
	mirror  *gcs.BlobStore
}

// Options overrides how NewApp builds its services. Zero values use defaults.
type Options struct {
	IDs crawler.IDGenerator
	// Logger replaces the logger built from cfg.Logging.
	Logger *zap.Logger
	// StorageClient is used for the mirror instead of a default GCS client.
	StorageClient *storage.Client
}

// NewApp builds the logger, run ID, metrics recorder and checkpoint store.
// It fails fast if any of them cannot be initialized.
func NewApp(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	if opts.IDs == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	runID, err := opts.IDs.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}

	base := opts.Logger
	if base == nil {
		base, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, err
		}
	}
	logger := logging.ForRun(base, runID)

	var mirror *gcs.BlobStore
	if mirrorCfg, ok := cfg.MirrorConfig(); ok {
		client := opts.StorageClient
		if client == nil {
			client, err = storage.NewClient(ctx)
			if err != nil {
				return nil, fmt.Errorf("create storage client: %w", err)
			}
		}
		mirror, err = gcs.New(client, mirrorCfg)
		if err != nil {
			return nil, fmt.Errorf("init checkpoint mirror: %w", err)
		}
		logger.Info("mirroring checkpoints to GCS",
			zap.String("bucket", mirrorCfg.Bucket), zap.String("prefix", mirrorCfg.Prefix))
	}

	// A nil *gcs.BlobStore must not become a non-nil Mirror interface.
	var m checkpoint.Mirror
	if mirror != nil {
		m = mirror
	}
	store, err := checkpoint.New(cfg.CheckpointConfig(), m, logger)
	if err != nil {
		return nil, fmt.Errorf("init checkpoint store: %w", err)
	}

	return &App{
		cfg:     cfg,
		runID:   runID,
		logger:  logger,
		metrics: metrics.New(),
		store:   store,
		mirror:  mirror,
	}, nil
}

// Config returns the validated configuration.
func (a *App) Config() config.Config { return a.cfg }

// RunID returns the identifier of this invocation.
func (a *App) RunID() string { return a.runID }

// Logger returns the run-scoped logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Metrics returns the run's metrics recorder.
func (a *App) Metrics() *metrics.Recorder { return a.metrics }

// Store returns the checkpoint store.
func (a *App) Store() *checkpoint.Store { return a.store }

// Close flushes metrics and releases clients. It is called by a Cobra hook
// after the command finishes.
func (a *App) Close() {
	if path := a.cfg.Metrics.Textfile; path != "" {
		if err := a.metrics.WriteTextfile(path); err != nil {
			a.logger.Warn("failed to write metrics textfile", zap.String("path", path), zap.Error(err))
		} else {
			a.logger.Info("metrics written", zap.String("path", path))
		}
	}
	if a.mirror != nil {
		if err := a.mirror.Close(); err != nil {
			a.logger.Warn("error closing storage client", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
