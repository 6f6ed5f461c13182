package models

import "time"

type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

type QueueStatus string

const (
	QueuePending   QueueStatus = "pending"
	QueueSyncing   QueueStatus = "syncing"
	QueueCompleted QueueStatus = "completed"
	QueueFailed    QueueStatus = "failed"
)

// QueueEntry is a deferred remote mutation for a hierarchy entity.
//
// ServerID is captured at enqueue time for deletes, because the local
// record is gone by the time the entry runs.
type QueueEntry struct {
	ID         int64
	Operation  Operation
	EntityType EntityType
	EntityID   string
	ServerID   int64

	Status        QueueStatus
	RetryCount    int
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     time.Time
}

// Due reports whether the entry may be attempted at now.
func (q *QueueEntry) Due(now time.Time) bool {
	return q.Status == QueuePending && !q.NextAttemptAt.After(now)
}
