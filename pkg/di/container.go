// Package di provides dependency injection container
package di

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/ssargent/bulkline/pkg/api"
	"github.com/ssargent/bulkline/pkg/config"
	"github.com/ssargent/bulkline/pkg/dispatch"
	"github.com/ssargent/bulkline/pkg/ingest"
	"github.com/ssargent/bulkline/pkg/logging"
	"github.com/ssargent/bulkline/pkg/metrics"
	"github.com/ssargent/bulkline/pkg/sink"
	"github.com/ssargent/bulkline/pkg/storage"
	"go.uber.org/zap"
)

// Container holds all the dependencies for the application
type Container struct {
	Config     *config.Config
	Logger     *zap.Logger
	Prometheus *prometheus.Registry
	Metrics    *metrics.Metrics
	Engine     *dispatch.Engine
	Sinks      []sink.Sink
	Archive    *storage.Archive // nil unless sinks.archive_dir is set
	Registry   *ingest.Registry

	stdout io.Writer
}

// Option customizes a Container
type Option func(*Container)

// WithLogger replaces the logger built from the logging config
func WithLogger(logger *zap.Logger) Option {
	return func(c *Container) {
		c.Logger = logger
	}
}

// WithStdout sets the writer of the console sink
func WithStdout(w io.Writer) Option {
	return func(c *Container) {
		c.stdout = w
	}
}

// NewContainer wires the pipeline described by cfg
func NewContainer(cfg *config.Config, opts ...Option) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Container{Config: cfg}
	for _, opt := range opts {
		opt(c)
	}

	if c.Logger == nil {
		logger, err := logging.New(cfg.Logging.Level)
		if err != nil {
			return nil, err
		}
		c.Logger = logger
	}

	c.Prometheus = prometheus.NewRegistry()
	c.Prometheus.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.Metrics = metrics.New(c.Prometheus)

	if err := c.buildSinks(); err != nil {
		_ = sink.CloseAll(c.Sinks)
		return nil, err
	}

	c.Engine = dispatch.New(dispatch.Config{
		Lanes:     c.lanes(),
		QueueSize: cfg.Engine.QueueSize,
	}, c.Logger, c.Metrics)

	c.Registry = ingest.NewRegistry(ingest.Options{
		Engine:     c.Engine,
		Subscriber: sink.NewSubscriber(c.Engine, c.Sinks, c.Logger, c.Metrics),
		Logger:     c.Logger,
		Metrics:    c.Metrics,
	})

	names := make([]string, 0, len(c.Sinks))
	for _, s := range c.Sinks {
		names = append(names, s.Name())
	}
	c.Logger.Info("pipeline_ready", zap.Int("bulk_size", cfg.BulkSize), zap.Strings("sinks", names))
	return c, nil
}

func (c *Container) buildSinks() error {
	cfg := c.Config.Sinks

	if cfg.Console {
		c.Sinks = append(c.Sinks, sink.NewConsole(c.stdout))
	}
	if cfg.FilesDir != "" {
		files, err := sink.NewFiles(cfg.FilesDir)
		if err != nil {
			return fmt.Errorf("files sink: %w", err)
		}
		c.Sinks = append(c.Sinks, files)
	}
	if cfg.JournalPath != "" {
		journal, err := sink.NewJournal(cfg.JournalPath, cfg.JournalFsync)
		if err != nil {
			return fmt.Errorf("journal sink: %w", err)
		}
		c.Sinks = append(c.Sinks, journal)
	}
	if cfg.ArchiveDir != "" {
		archive, err := storage.NewArchive(cfg.ArchiveDir)
		if err != nil {
			return fmt.Errorf("archive sink: %w", err)
		}
		c.Archive = archive
		c.Sinks = append(c.Sinks, sink.NewArchive(archive))
	}
	return nil
}

// lanes gives every sink its own lane. Only the files lane runs more than
// one worker since each batch goes to its own file.
func (c *Container) lanes() map[string]int {
	lanes := make(map[string]int, len(c.Sinks))
	for _, s := range c.Sinks {
		workers := 1
		if s.Name() == sink.FilesName && c.Config.Engine.FileWorkers > 0 {
			workers = c.Config.Engine.FileWorkers
		}
		lanes[s.Name()] = workers
	}
	return lanes
}

// Server builds the HTTP adapter over the container's registry
func (c *Container) Server() *api.Server {
	var archive api.BatchArchive
	if c.Archive != nil {
		archive = c.Archive
	}
	return api.NewServer(c.Registry, archive, api.ServerConfig{
		Addr:     c.Config.Addr(),
		APIKey:   c.Config.APIKey,
		BulkSize: c.Config.BulkSize,
	}, c.Logger, c.Metrics)
}

// Close flushes every open connection, drains the engine and closes the
// sinks. Sinks are closed even when the engine does not drain in time.
func (c *Container) Close(ctx context.Context) error {
	flushed := make(chan struct{})
	go func() {
		c.Registry.CloseAll()
		close(flushed)
	}()
	select {
	case <-flushed:
	case <-ctx.Done():
		c.Logger.Warn("connections_flush_timeout", zap.Error(ctx.Err()))
	}

	var errs []error
	if err := c.Engine.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop engine: %w", err))
	}
	// Stopping the engine releases any flush still waiting on a full lane.
	<-flushed
	if err := sink.CloseAll(c.Sinks); err != nil {
		errs = append(errs, fmt.Errorf("close sinks: %w", err))
	}
	_ = c.Logger.Sync()
	return errors.Join(errs...)
}
