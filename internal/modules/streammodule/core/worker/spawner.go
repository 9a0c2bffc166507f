// Package worker wraps the external ffmpeg transcode process: building its
// fixed argument template, launching it in its own process group, polling
// liveness, and terminating it with SIGTERM escalating to SIGKILL.
package worker

import (
	"github.com/hashicorp/go-hclog"
)

// Spawner launches one worker per session
type Spawner interface {
	Spawn(sessionID, sourceURL, outputDir string) (Process, error)
}

// FFmpegSpawner launches ffmpeg with the configured HLS template
type FFmpegSpawner struct {
	opts   Options
	logger hclog.Logger
}

// NewFFmpegSpawner creates a spawner for the given template
func NewFFmpegSpawner(opts Options, logger hclog.Logger) *FFmpegSpawner {
	if opts.Binary == "" {
		opts.Binary = DefaultOptions().Binary
	}
	if opts.PlaylistName == "" {
		opts.PlaylistName = DefaultOptions().PlaylistName
	}
	return &FFmpegSpawner{
		opts:   opts,
		logger: logger.Named("worker"),
	}
}

// Options returns the template in use
func (s *FFmpegSpawner) Options() Options {
	return s.opts
}

// Spawn starts ffmpeg reading sourceURL and writing HLS into outputDir
func (s *FFmpegSpawner) Spawn(sessionID, sourceURL, outputDir string) (Process, error) {
	args := BuildArgs(s.opts, sourceURL, outputDir)

	h, err := Start(s.opts.Binary, args, StartOptions{
		CaptureStderr:     s.opts.CaptureStderr,
		StderrBufferBytes: s.opts.StderrBufferBytes,
		GracePeriod:       s.opts.GracePeriod,
		KillTimeout:       s.opts.KillTimeout,
	}, s.logger.With("session_id", sessionID))
	if err != nil {
		s.logger.Error("failed to spawn ffmpeg",
			"session_id", sessionID,
			"source", Redact(sourceURL),
			"error", err)
		return nil, err
	}

	s.logger.Info("spawned ffmpeg",
		"session_id", sessionID,
		"pid", h.PID(),
		"source", Redact(sourceURL),
		"output_dir", outputDir)

	return h, nil
}
