// Package streammodule turns live RTSP sources into HLS playlists on
// demand. Each started session owns one ffmpeg worker writing segments into
// its own directory; the supervisor tracks those workers, answers status
// queries with a fresh liveness check and terminates workers on stop.
//
// Architecture:
//
//	HTTP API → Supervisor → Registry
//	                      → Worker spawner (ffmpeg)
//	                      → Output directories (+ playlist watcher)
//	                      → History store, event hub
package streammodule

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/rtsphls/internal/config"
	"github.com/mantonx/rtsphls/internal/modules/streammodule/api"
	"github.com/mantonx/rtsphls/internal/modules/streammodule/core/events"
	"github.com/mantonx/rtsphls/internal/modules/streammodule/core/preflight"
	"github.com/mantonx/rtsphls/internal/modules/streammodule/core/session"
	"github.com/mantonx/rtsphls/internal/modules/streammodule/core/storage"
	"github.com/mantonx/rtsphls/internal/modules/streammodule/core/worker"
	"gorm.io/gorm"
)

const (
	// ModuleID is the unique identifier for the stream module
	ModuleID = "system.stream"

	// ModuleName is the display name for the stream module
	ModuleName = "Live Stream Supervisor"
)

// Module wires the supervisor to its collaborators and the HTTP surface
type Module struct {
	cfg        *config.Config
	db         *gorm.DB
	logger     hclog.Logger
	storage    *storage.Manager
	watcher    *storage.PlaylistWatcher
	hub        *events.Hub
	supervisor *Supervisor
}

// NewModule builds the module from configuration. db may be nil when
// history is disabled.
func NewModule(cfg *config.Config, db *gorm.DB, logger hclog.Logger) (*Module, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("stream")

	storageManager, err := storage.NewManager(cfg.Stream.OutputDir, cfg.Stream.PublicPrefix, cfg.Worker.PlaylistName, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage manager: %w", err)
	}

	watcher, err := storage.NewPlaylistWatcher(storageManager, logger)
	if err != nil {
		// Readiness waits and activity tracking degrade gracefully
		logger.Warn("playlist watcher unavailable", "error", err)
		watcher = nil
	}

	hub := events.NewHub(64)

	deps := Dependencies{
		Storage: storageManager,
		Spawner: worker.NewFFmpegSpawner(WorkerOptions(cfg.Worker), logger),
		Watcher: watcher,
		Hub:     hub,
		Logger:  logger,
	}
	if db != nil {
		deps.Store = session.NewStore(db, logger)
	}
	if cfg.Stream.Preflight {
		deps.Prober = preflight.NewRTSPProber(cfg.Stream.PreflightTimeout.Std(), logger)
	}

	supervisor, err := NewSupervisor(SupervisorConfig{
		SourceScheme: cfg.Stream.SourceScheme,
		MaxSessions:  cfg.Stream.MaxSessions,
		ReadyTimeout: cfg.Stream.ReadyTimeout.Std(),
		ReapGrace:    cfg.Worker.GracePeriod.Std(),
	}, deps)
	if err != nil {
		return nil, err
	}

	return &Module{
		cfg:        cfg,
		db:         db,
		logger:     logger,
		storage:    storageManager,
		watcher:    watcher,
		hub:        hub,
		supervisor: supervisor,
	}, nil
}

// WorkerOptions maps worker configuration onto the ffmpeg template
func WorkerOptions(wc config.WorkerConfig) worker.Options {
	opts := worker.DefaultOptions()
	opts.Binary = wc.FFmpegPath
	opts.RTSPTransport = wc.RTSPTransport
	opts.ScaleWidth = wc.ScaleWidth
	opts.VideoCodec = wc.VideoCodec
	opts.Preset = wc.Preset
	opts.Tune = wc.Tune
	opts.GOPSize = wc.GOPSize
	opts.SegmentSeconds = wc.SegmentSeconds
	opts.ListSize = wc.ListSize
	opts.HLSFlags = wc.HLSFlags
	opts.PlaylistName = wc.PlaylistName
	opts.SnapshotInterval = wc.SnapshotInterval.Std()
	opts.CaptureStderr = wc.CaptureStderr
	opts.StderrBufferBytes = wc.StderrBufferBytes
	opts.GracePeriod = wc.GracePeriod.Std()
	opts.KillTimeout = wc.KillTimeout.Std()
	return opts
}

// ID returns the unique module identifier
func (m *Module) ID() string {
	return ModuleID
}

// Name returns the module display name
func (m *Module) Name() string {
	return ModuleName
}

// Supervisor returns the session supervisor
func (m *Module) Supervisor() *Supervisor {
	return m.supervisor
}

// Hub returns the lifecycle event hub
func (m *Module) Hub() *events.Hub {
	return m.hub
}

// Start runs background components and reconciles history left by a
// previous run
func (m *Module) Start(ctx context.Context) error {
	if m.watcher != nil {
		m.watcher.Start()
	}

	if m.cfg.Stream.Reconcile {
		closed, err := m.supervisor.Reconcile(ctx)
		if err != nil {
			m.logger.Warn("failed to reconcile session history", "error", err)
		} else if closed > 0 {
			m.logger.Info("reconciled stale sessions", "count", closed)
		}
	}

	m.logger.Info("stream module started",
		"output_dir", m.storage.BaseDir(),
		"max_sessions", m.cfg.Stream.MaxSessions,
		"history", m.db != nil)
	return nil
}

// RegisterRoutes mounts the stream endpoints on router
func (m *Module) RegisterRoutes(router *gin.Engine) {
	handler := api.NewAPIHandler(m.supervisor, m.storage, m.hub, api.Options{
		StrictStatus:  m.cfg.Server.StrictStatus,
		SnapshotName:  WorkerOptions(m.cfg.Worker).SnapshotName,
		SegmentMaxAge: 60,
		PublicPrefix:  m.storage.PublicPrefix(),
	})
	api.RegisterRoutes(router, handler)
}

// Shutdown stops every session and the background components
func (m *Module) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down stream module", "sessions", m.supervisor.Count())

	err := m.supervisor.Shutdown(ctx)
	if m.watcher != nil {
		if werr := m.watcher.Stop(); werr != nil {
			err = errors.Join(err, werr)
		}
	}
	return err
}
