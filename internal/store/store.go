// Package store persists session and playback records. Persistence is
// write-through and best-effort: the in-memory room record stays the source
// of truth, and a failed write is logged, never rolled back.
package store

import (
	"context"

	"github.com/syncwatch/syncwatch/internal/models"
)

// Store writes session and playback records to durable storage.
type Store interface {
	SaveSession(ctx context.Context, session models.Session) error
	SavePlayback(ctx context.Context, session models.Session, state models.PlaybackState) error
	Close()
}

// Noop discards everything; used when no database is configured.
type Noop struct{}

func (Noop) SaveSession(context.Context, models.Session) error { return nil }
func (Noop) SavePlayback(context.Context, models.Session, models.PlaybackState) error {
	return nil
}
func (Noop) Close() {}
