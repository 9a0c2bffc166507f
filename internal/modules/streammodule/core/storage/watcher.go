package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
)

// Activity summarises what a worker has written so far
type Activity struct {
	PlaylistReady   bool      `json:"playlist_ready"`
	SegmentsWritten int       `json:"segments_written"`
	LastSegmentAt   time.Time `json:"last_segment_at,omitempty"`
}

type watchedDir struct {
	dir       string
	ready     chan struct{}
	readyOnce sync.Once
	activity  Activity
}

func (w *watchedDir) markReady() {
	w.readyOnce.Do(func() {
		w.activity.PlaylistReady = true
		close(w.ready)
	})
}

// PlaylistWatcher follows session directories with fsnotify and reports
// when a worker has produced its first playlist and how recently it wrote
// a segment.
type PlaylistWatcher struct {
	manager *Manager
	watcher *fsnotify.Watcher
	logger  hclog.Logger

	mu   sync.Mutex
	dirs map[string]*watchedDir

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPlaylistWatcher creates a watcher for directories handed out by m
func NewPlaylistWatcher(m *Manager, logger hclog.Logger) (*PlaylistWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &PlaylistWatcher{
		manager: m,
		watcher: watcher,
		logger:  logger.Named("playlist-watcher"),
		dirs:    make(map[string]*watchedDir),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start runs the event loop
func (pw *PlaylistWatcher) Start() {
	pw.wg.Add(1)
	go pw.eventLoop()
}

// Stop ends the event loop and releases the watcher
func (pw *PlaylistWatcher) Stop() error {
	pw.cancel()
	err := pw.watcher.Close()
	pw.wg.Wait()
	return err
}

// Watch begins tracking the directory of id
func (pw *PlaylistWatcher) Watch(id string) error {
	dir := pw.manager.Dir(id)

	pw.mu.Lock()
	if _, ok := pw.dirs[id]; ok {
		pw.mu.Unlock()
		return nil
	}
	wd := &watchedDir{dir: dir, ready: make(chan struct{})}
	pw.dirs[id] = wd
	pw.mu.Unlock()

	if err := pw.watcher.Add(dir); err != nil {
		pw.mu.Lock()
		delete(pw.dirs, id)
		pw.mu.Unlock()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	// The worker may have written the playlist before the watch was added
	if _, err := os.Stat(pw.manager.PlaylistPath(id)); err == nil {
		pw.mu.Lock()
		wd.markReady()
		pw.mu.Unlock()
	}

	return nil
}

// Unwatch stops tracking id
func (pw *PlaylistWatcher) Unwatch(id string) {
	pw.mu.Lock()
	wd, ok := pw.dirs[id]
	delete(pw.dirs, id)
	pw.mu.Unlock()

	if ok {
		// The directory may already be gone
		_ = pw.watcher.Remove(wd.dir)
	}
}

// WaitForPlaylist blocks until the playlist of id exists or ctx is done
func (pw *PlaylistWatcher) WaitForPlaylist(ctx context.Context, id string) error {
	pw.mu.Lock()
	wd, ok := pw.dirs[id]
	pw.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s is not watched", id)
	}

	select {
	case <-wd.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Activity returns what has been observed for id
func (pw *PlaylistWatcher) Activity(id string) (Activity, bool) {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	wd, ok := pw.dirs[id]
	if !ok {
		return Activity{}, false
	}
	return wd.activity, true
}

func (pw *PlaylistWatcher) eventLoop() {
	defer pw.wg.Done()

	for {
		select {
		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			pw.handleEvent(event)

		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			pw.logger.Error("file watcher error", "error", err)

		case <-pw.ctx.Done():
			return
		}
	}
}

func (pw *PlaylistWatcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	id := filepath.Base(filepath.Dir(event.Name))
	name := filepath.Base(event.Name)

	pw.mu.Lock()
	defer pw.mu.Unlock()

	wd, ok := pw.dirs[id]
	if !ok {
		return
	}

	switch {
	case name == pw.manager.PlaylistName():
		if !wd.activity.PlaylistReady {
			pw.logger.Debug("playlist ready", "session_id", id)
		}
		wd.markReady()
	case event.Has(fsnotify.Create) && isSegment(name):
		wd.activity.SegmentsWritten++
		wd.activity.LastSegmentAt = time.Now()
	}
}

func isSegment(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".ts", ".m4s":
		return true
	}
	return false
}
