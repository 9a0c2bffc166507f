package api

import (
	"context"

	"github.com/mantonx/rtsphls/internal/database"
	"github.com/mantonx/rtsphls/internal/modules/streammodule/core/events"
	"github.com/mantonx/rtsphls/internal/modules/streammodule/core/session"
)

// SessionService is the part of the supervisor the HTTP layer drives.
// Declared here so the api package does not import its own module.
type SessionService interface {
	StartSession(ctx context.Context, sourceURL string) (session.Info, error)
	StopSession(id string) error
	QueryStatus(id string) (session.Status, error)
	ListSessions() []session.Info
	Inspect(ctx context.Context, id string) (*session.Inspection, error)
	History(limit int) ([]database.LiveSession, error)
	Count() int
}

// ArtifactResolver maps a session id and file name to a file on disk
type ArtifactResolver interface {
	ResolveArtifact(id, name string) (string, error)
}

// EventSource hands out lifecycle event subscriptions
type EventSource interface {
	Subscribe() (<-chan events.Event, func())
}
