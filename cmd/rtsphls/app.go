package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/rtsphls/internal/config"
	"github.com/mantonx/rtsphls/internal/database"
	"github.com/mantonx/rtsphls/internal/deps"
	"github.com/mantonx/rtsphls/internal/logger"
	"github.com/mantonx/rtsphls/internal/modules/streammodule"
	"github.com/mantonx/rtsphls/internal/server"
	"gorm.io/gorm"
)

const lockFileName = ".rtsphls.lock"

// app is one running rtsphls instance
type app struct {
	cfg       *config.Config
	logger    hclog.Logger
	logCloser io.Closer
	lock      *flock.Flock
	db        *gorm.DB
	module    *streammodule.Module
	server    *server.Server
}

func newNullLogger() hclog.Logger {
	return hclog.NewNullLogger()
}

func newLogger(cfg config.LoggingConfig) (hclog.Logger, io.Closer) {
	return logger.New(logger.Options{
		Name:         "rtsphls",
		Level:        cfg.Level,
		Format:       cfg.Format,
		FilePath:     cfg.FilePath,
		MaxSizeMB:    cfg.MaxFileSize,
		MaxBackups:   cfg.MaxBackups,
		MaxAgeDays:   cfg.MaxAge,
		EnableColors: cfg.EnableColors,
	})
}

// newApp acquires the instance lock and builds every component. Close
// must be called on success.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.logger, a.logCloser = newLogger(cfg.Logging)
	logger.SetDefault(a.logger)

	if err := os.MkdirAll(cfg.Stream.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	a.lock = flock.New(filepath.Join(cfg.Stream.OutputDir, lockFileName))
	ok, err := a.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		a.lock = nil
		return nil, fmt.Errorf("another rtsphls instance is already using %s", cfg.Stream.OutputDir)
	}

	ffmpeg := deps.CheckFFmpeg(ctx, cfg.Worker.FFmpegPath)
	if !ffmpeg.Available {
		return nil, fmt.Errorf("ffmpeg unavailable: %s", ffmpeg.Detail)
	}
	a.logger.Info("ffmpeg found", "path", ffmpeg.Path, "version", ffmpeg.Version)

	a.db, err = database.Open(cfg.Database, a.logger)
	if err != nil {
		if !errors.Is(err, database.ErrDisabled) {
			return nil, err
		}
		a.logger.Info("session history disabled")
	}

	a.module, err = streammodule.NewModule(cfg, a.db, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream module: %w", err)
	}

	a.server, err = server.New(cfg.Server, a.module, a.logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Run serves until ctx is done
func (a *app) Run(ctx context.Context) error {
	if err := a.module.Start(ctx); err != nil {
		return fmt.Errorf("failed to start stream module: %w", err)
	}
	a.logger.Debug("registered routes\n" + a.server.RouteTable())
	return a.server.Run(ctx)
}

// Close releases the database, lock and log sink
func (a *app) Close() error {
	var errs []error
	if a.db != nil {
		errs = append(errs, database.Close(a.db))
	}
	if a.lock != nil {
		errs = append(errs, a.lock.Unlock())
	}
	if a.logCloser != nil {
		errs = append(errs, a.logCloser.Close())
	}
	return errors.Join(errs...)
}
