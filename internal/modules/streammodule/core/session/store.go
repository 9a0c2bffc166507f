package session

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/rtsphls/internal/database"
	"gorm.io/gorm"
)

// Store persists session history. It is an audit trail only: the Registry
// decides which workers are live, and store failures never fail a
// supervisor operation.
type Store struct {
	db     *gorm.DB
	logger hclog.Logger
}

// NewStore creates a history store
func NewStore(db *gorm.DB, logger hclog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.Named("session-store"),
	}
}

// Record inserts the history row for a session. A session that already
// ended is written with its end time and exit reason.
func (s *Store) Record(sess *Session) error {
	info := sess.Info()
	record := &database.LiveSession{
		ID:          info.ID,
		SourceURL:   info.SourceURL,
		OutputDir:   info.OutputDir,
		PlaylistURL: info.PlaylistURL,
		Status:      database.SessionStatus(info.State),
		WorkerPID:   info.PID,
		StartTime:   info.CreatedAt,
		EndTime:     info.EndedAt,
		ExitReason:  info.ExitReason,
	}

	if err := s.db.Create(record).Error; err != nil {
		return fmt.Errorf("failed to record session: %w", err)
	}

	s.logger.Debug("recorded session", "session_id", info.ID, "pid", info.PID)
	return nil
}

// Finish writes the terminal state of a session
func (s *Store) Finish(sess *Session) error {
	info := sess.Info()
	endTime := time.Now()
	if info.EndedAt != nil {
		endTime = *info.EndedAt
	}

	result := s.db.Model(&database.LiveSession{}).
		Where("id = ?", info.ID).
		Updates(map[string]interface{}{
			"status":      database.SessionStatus(info.State),
			"end_time":    endTime,
			"exit_reason": info.ExitReason,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("session %s has no history record", info.ID)
	}
	return nil
}

// Get retrieves one history record
func (s *Store) Get(id string) (*database.LiveSession, error) {
	var record database.LiveSession
	if err := s.db.Where("id = ?", id).First(&record).Error; err != nil {
		return nil, fmt.Errorf("session not found: %w", err)
	}
	return &record, nil
}

// List returns the most recent records first
func (s *Store) List(limit int) ([]database.LiveSession, error) {
	if limit <= 0 {
		limit = 50
	}

	var records []database.LiveSession
	if err := s.db.Order("start_time DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return records, nil
}

// Unfinished returns records still marked live, which after a restart means
// a previous supervisor exited without stopping them
func (s *Store) Unfinished() ([]database.LiveSession, error) {
	var records []database.LiveSession
	err := s.db.Where("status IN ?", []database.SessionStatus{
		database.SessionStatusStarting,
		database.SessionStatusRunning,
	}).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query unfinished sessions: %w", err)
	}
	return records, nil
}

// MarkFailed closes a record that no live session owns any more
func (s *Store) MarkFailed(id, reason string) error {
	err := s.db.Model(&database.LiveSession{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      database.SessionStatusFailed,
			"end_time":    time.Now(),
			"exit_reason": reason,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark session failed: %w", err)
	}
	return nil
}
