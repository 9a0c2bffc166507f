package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/mantonx/rtsphls/internal/config"
	"github.com/mantonx/rtsphls/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.EnvConfigPath, "")

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// writeConfig stores a config rooted in a temp dir and returns its path
func writeConfig(t *testing.T, mutate func(*config.Config)) (string, *config.Config) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Stream.OutputDir = filepath.Join(dir, "out")
	cfg.Database.DatabasePath = filepath.Join(dir, "history.db")
	if mutate != nil {
		mutate(cfg)
	}

	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(dir, "rtsphls.yaml")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path, cfg
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "rtsphls dev")
}

func TestConfigCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "rtsphls.yaml")

	out, err := runCLI(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote default configuration")

	_, err = runCLI(t, "config", "init", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = runCLI(t, "config", "init", "--force", path)
	assert.NoError(t, err)

	out, err = runCLI(t, "--config", path, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "valid")

	out, err = runCLI(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "output_dir: /tmp/rtsp_hls_demo")
	assert.Contains(t, out, "source_scheme:")
}

func TestConfigShow_RedactsPassword(t *testing.T) {
	path, _ := writeConfig(t, func(c *config.Config) {
		c.Database.Password = "hunter2"
	})

	out, err := runCLI(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "hunter2")
}

func TestInvalidConfigRejected(t *testing.T) {
	path, _ := writeConfig(t, func(c *config.Config) {
		c.Stream.MaxSessions = -1
	})

	_, err := runCLI(t, "--config", path, "config", "validate")
	assert.Error(t, err)
}

func TestHistoryCommand(t *testing.T) {
	path, cfg := writeConfig(t, nil)

	db, err := database.Open(cfg.Database, newNullLogger())
	require.NoError(t, err)
	end := time.Now()
	require.NoError(t, db.Create(&database.LiveSession{
		ID:          "0123456789abcdef0123456789abcdef",
		SourceURL:   "rtsp://camera.local/stream",
		OutputDir:   filepath.Join(cfg.Stream.OutputDir, "0123456789abcdef0123456789abcdef"),
		PlaylistURL: "/hls/0123456789abcdef0123456789abcdef/index.m3u8",
		Status:      database.SessionStatusStopped,
		WorkerPID:   4242,
		StartTime:   end.Add(-time.Minute),
		EndTime:     &end,
	}).Error)
	require.NoError(t, database.Close(db))

	out, err := runCLI(t, "--config", path, "history", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "0123456789abcdef0123456789abcdef")
	assert.Contains(t, out, "stopped")
	assert.Contains(t, out, "4242")
}

func TestHistoryCommand_Disabled(t *testing.T) {
	path, _ := writeConfig(t, func(c *config.Config) {
		c.Database.Type = "none"
	})

	_, err := runCLI(t, "--config", path, "history")
	assert.ErrorContains(t, err, "disabled")
}

func TestCheckCommand_MissingFFmpeg(t *testing.T) {
	path, _ := writeConfig(t, func(c *config.Config) {
		c.Worker.FFmpegPath = "/nonexistent/ffmpeg"
	})

	out, err := runCLI(t, "--config", path, "check")
	assert.Error(t, err)
	assert.Contains(t, out, "missing")
	assert.Contains(t, out, "Database")
}

func TestNewApp_SingleInstance(t *testing.T) {
	_, cfg := writeConfig(t, nil)
	require.NoError(t, os.MkdirAll(cfg.Stream.OutputDir, 0755))

	held := flock.New(filepath.Join(cfg.Stream.OutputDir, lockFileName))
	ok, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer held.Unlock()

	_, err = newApp(context.Background(), cfg)
	assert.ErrorContains(t, err, "another rtsphls instance")
}

func TestNewApp_ReleasesLockOnFailure(t *testing.T) {
	_, cfg := writeConfig(t, func(c *config.Config) {
		c.Worker.FFmpegPath = "/nonexistent/ffmpeg"
	})

	_, err := newApp(context.Background(), cfg)
	require.ErrorContains(t, err, "ffmpeg unavailable")

	lock := flock.New(filepath.Join(cfg.Stream.OutputDir, lockFileName))
	ok, err := lock.TryLock()
	require.NoError(t, err)
	assert.True(t, ok)
	lock.Unlock()
}

func TestServiceConfig(t *testing.T) {
	svc, err := serviceConfig("rtsphls.yaml")
	require.NoError(t, err)
	assert.Equal(t, serviceName, svc.Name)
	require.Len(t, svc.Arguments, 4)
	assert.Equal(t, []string{"service", "run", "--config"}, svc.Arguments[:3])
	assert.True(t, filepath.IsAbs(svc.Arguments[3]))

	svc, err = serviceConfig("")
	require.NoError(t, err)
	assert.Equal(t, []string{"service", "run"}, svc.Arguments)
}
