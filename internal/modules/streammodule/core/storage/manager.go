// Package storage allocates per-session output directories and maps session
// ids to the on-disk and published locations of their HLS artifacts.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/hashicorp/go-hclog"
)

var (
	// ErrInvalidID indicates an id that cannot name an output directory
	ErrInvalidID = errors.New("invalid session id")
	// ErrInvalidArtifact indicates a file name outside the session directory
	ErrInvalidArtifact = errors.New("invalid artifact name")
	// ErrArtifactNotFound indicates the worker has not written the file
	ErrArtifactNotFound = errors.New("artifact not found")
)

// IDLength is the length of a hex encoded session id
const IDLength = 32

// Manager maps session ids to output directories under a base directory.
// The mapping is a pure function of the id, so it can be rebuilt after a
// restart from persisted ids alone.
type Manager struct {
	baseDir      string
	publicPrefix string
	playlistName string
	logger       hclog.Logger
}

// NewManager creates the base directory if needed
func NewManager(baseDir, publicPrefix, playlistName string, logger hclog.Logger) (*Manager, error) {
	if baseDir == "" {
		return nil, errors.New("output directory is required")
	}
	if playlistName == "" {
		playlistName = "index.m3u8"
	}
	if publicPrefix == "" {
		publicPrefix = "/hls"
	}

	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	return &Manager{
		baseDir:      abs,
		publicPrefix: "/" + strings.Trim(publicPrefix, "/"),
		playlistName: playlistName,
		logger:       logger.Named("storage"),
	}, nil
}

// ValidID reports whether id has the shape of a generated session id
func ValidID(id string) bool {
	if len(id) != IDLength {
		return false
	}
	for _, c := range id {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// BaseDir returns the absolute base directory
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// PublicPrefix returns the URL prefix artifacts are served under
func (m *Manager) PublicPrefix() string {
	return m.publicPrefix
}

// PlaylistName returns the playlist file name workers write
func (m *Manager) PlaylistName() string {
	return m.playlistName
}

// Allocate creates the output directory for id. Idempotent.
func (m *Manager) Allocate(id string) (string, error) {
	if !ValidID(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	dir := m.Dir(id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create session directory: %w", err)
	}

	m.logger.Debug("allocated output directory", "session_id", id, "dir", dir)
	return dir, nil
}

// Release removes the directory of id only if the worker never wrote
// anything into it. Artifacts of sessions that ran are kept.
func (m *Manager) Release(id string) error {
	if !ValidID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	err := os.Remove(m.Dir(id))
	switch {
	case err == nil || os.IsNotExist(err):
		return nil
	case errors.Is(err, syscall.ENOTEMPTY) || errors.Is(err, syscall.EEXIST):
		m.logger.Debug("keeping session directory with artifacts", "session_id", id)
		return nil
	}
	return fmt.Errorf("failed to release session directory: %w", err)
}

// Dir returns the output directory of id
func (m *Manager) Dir(id string) string {
	return filepath.Join(m.baseDir, id)
}

// PlaylistPath returns the on-disk playlist path of id
func (m *Manager) PlaylistPath(id string) string {
	return filepath.Join(m.Dir(id), m.playlistName)
}

// PlaylistURL returns the published playlist location of id
func (m *Manager) PlaylistURL(id string) string {
	return path.Join(m.publicPrefix, id, m.playlistName)
}

// ResolveArtifact returns the on-disk path of a file written for id.
// Only plain file names directly inside the session directory resolve.
func (m *Manager) ResolveArtifact(id, name string) (string, error) {
	if !ValidID(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	name = strings.TrimPrefix(name, "/")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidArtifact, name)
	}

	p := filepath.Join(m.Dir(id), name)
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %s/%s", ErrArtifactNotFound, id, name)
	}
	return p, nil
}

// Sessions lists ids that have an output directory on disk
func (m *Manager) Sessions() ([]string, error) {
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() && ValidID(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}
