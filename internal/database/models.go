package database

import (
	"time"
)

// SessionStatus represents the lifecycle state of a live transcode session
type SessionStatus string

const (
	SessionStatusStarting SessionStatus = "starting"
	SessionStatusRunning  SessionStatus = "running"
	SessionStatusStopped  SessionStatus = "stopped"
	SessionStatusFailed   SessionStatus = "failed"
)

// LiveSession is the persisted history of one RTSP to HLS session. It is an
// audit trail; live workers are tracked in memory only.
type LiveSession struct {
	ID          string        `gorm:"primaryKey;type:varchar(64)" json:"id"`
	SourceURL   string        `gorm:"type:varchar(1024);not null" json:"source_url"` // credentials redacted
	OutputDir   string        `gorm:"type:varchar(512);not null" json:"output_dir"`
	PlaylistURL string        `gorm:"type:varchar(512);not null" json:"playlist_url"`
	Status      SessionStatus `gorm:"type:varchar(32);not null;index" json:"status"`
	WorkerPID   int           `json:"worker_pid"`
	StartTime   time.Time     `gorm:"not null;index" json:"start_time"`
	EndTime     *time.Time    `gorm:"index" json:"end_time,omitempty"`
	ExitReason  string        `gorm:"type:text" json:"exit_reason,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// TableName returns the table name for GORM
func (LiveSession) TableName() string {
	return "live_sessions"
}

// IsActive reports whether the record describes a session that had not
// ended when it was last written
func (s *LiveSession) IsActive() bool {
	return s.Status == SessionStatusStarting || s.Status == SessionStatusRunning
}

// Duration returns how long the session ran, up to now if it has not ended
func (s *LiveSession) Duration() time.Duration {
	if s.EndTime != nil {
		return s.EndTime.Sub(s.StartTime)
	}
	return time.Since(s.StartTime)
}
