// Package service implements the booking, station directory, user
// profile and authentication use cases on top of the repositories.
// Services return *apperr.Error values for every failure a client can
// act on; anything else is an internal error.
package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/evee/internal/database"
	"github.com/iliyamo/evee/internal/model"
	"github.com/iliyamo/evee/internal/queue"
)

// EventPublisher delivers booking events after a change is committed.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.BookingEvent) error
}

// StationObserver is told about every committed availability change
// before the write that caused it returns to the caller.  ctx carries
// the caller's deadline; implementations should finish quickly and
// must not fail the write.
type StationObserver interface {
	StationChanged(ctx context.Context, change model.StationChange)
}

// Observers fans a change out to several observers in order.
type Observers []StationObserver

// StationChanged implements StationObserver.
func (o Observers) StationChanged(ctx context.Context, change model.StationChange) {
	for _, obs := range o {
		if obs != nil {
			obs.StationChanged(ctx, change)
		}
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, queue.BookingEvent) error { return nil }

func utcNow() time.Time { return time.Now().UTC() }

// inTx runs fn inside a transaction and commits when fn returns nil.
func inTx(ctx context.Context, db *database.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
