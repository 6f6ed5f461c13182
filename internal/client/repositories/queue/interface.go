// Package queue persists deferred remote mutations of hierarchy entities
// in the sync_queue container.
package queue

import (
	"context"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
)

type Repository interface {
	// Enqueue appends a new pending entry and returns its id.
	Enqueue(ctx context.Context, q *models.QueueEntry) (int64, error)

	// Update overwrites the mutable state of an existing entry.
	Update(ctx context.Context, q *models.QueueEntry) error

	// Get returns the entry or common.ErrNotFound.
	Get(ctx context.Context, id int64) (*models.QueueEntry, error)

	// List returns every entry in creation order.
	List(ctx context.Context) ([]*models.QueueEntry, error)

	// ListDue returns pending entries whose NextAttemptAt is not after now,
	// in creation order.
	ListDue(ctx context.Context, now time.Time) ([]*models.QueueEntry, error)

	// ListByEntity returns entries targeting the given record.
	ListByEntity(ctx context.Context, t models.EntityType, entityID string) ([]*models.QueueEntry, error)

	// DeleteByEntity drops every entry targeting the given record.
	DeleteByEntity(ctx context.Context, t models.EntityType, entityID string) (int64, error)

	// DeleteCompleted garbage-collects completed entries.
	DeleteCompleted(ctx context.Context) (int64, error)

	// ResetFailed returns failed entries to pending with a fresh retry budget.
	ResetFailed(ctx context.Context) (int64, error)

	// ResetSyncing returns entries left in syncing by an interrupted drain.
	ResetSyncing(ctx context.Context) (int64, error)

	// CountByStatus counts entries in the given state.
	CountByStatus(ctx context.Context, status models.QueueStatus) (int, error)

	// NextAttempt returns the earliest NextAttemptAt among pending entries.
	NextAttempt(ctx context.Context) (time.Time, bool, error)
}
