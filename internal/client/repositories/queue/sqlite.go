package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
	"github.com/dmitrijs2005/fieldsync/internal/timex"
)

const columns = `id, operation, entity_type, entity_id, server_id, status, retry_count, last_error, next_attempt_at, created_at`

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func writeErr(op string, err error) error {
	if dbx.IsMissingTable(err) {
		return fmt.Errorf("failed to %s: %w", op, common.ErrContainerMissing)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func (r *SQLiteRepository) Enqueue(ctx context.Context, q *models.QueueEntry) (int64, error) {
	if q.EntityID == "" || !q.EntityType.Valid() {
		return 0, fmt.Errorf("%w: queue entry needs entity type and id", common.ErrInvalidRecord)
	}
	if q.Status == "" {
		q.Status = models.QueuePending
	}

	query := `INSERT INTO sync_queue (operation, entity_type, entity_id, server_id, status, retry_count, last_error, next_attempt_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query,
		string(q.Operation), string(q.EntityType), q.EntityID, q.ServerID, string(q.Status),
		q.RetryCount, q.LastError, timex.ToMillis(q.NextAttemptAt), timex.ToMillis(q.CreatedAt))
	if err != nil {
		return 0, writeErr("enqueue "+string(q.Operation)+" "+q.EntityID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue entry id: %w", err)
	}
	q.ID = id
	return id, nil
}

func (r *SQLiteRepository) Update(ctx context.Context, q *models.QueueEntry) error {
	query := `UPDATE sync_queue
		SET server_id = ?, status = ?, retry_count = ?, last_error = ?, next_attempt_at = ?
		WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query,
		q.ServerID, string(q.Status), q.RetryCount, q.LastError, timex.ToMillis(q.NextAttemptAt), q.ID)
	if err != nil {
		return writeErr(fmt.Sprintf("update queue entry[%d]", q.ID), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("update queue entry[%d]: %w", q.ID, common.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id int64) (*models.QueueEntry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM sync_queue WHERE id = ?`, id)
	q, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) || dbx.IsMissingTable(err) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entry[%d]: %w", id, err)
	}
	return q, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]*models.QueueEntry, error) {
	return r.query(ctx, `SELECT `+columns+` FROM sync_queue ORDER BY created_at, id`)
}

func (r *SQLiteRepository) ListDue(ctx context.Context, now time.Time) ([]*models.QueueEntry, error) {
	query := `SELECT ` + columns + ` FROM sync_queue
		WHERE status = ? AND next_attempt_at <= ?
		ORDER BY created_at, id`
	return r.query(ctx, query, string(models.QueuePending), timex.ToMillis(now))
}

func (r *SQLiteRepository) ListByEntity(ctx context.Context, t models.EntityType, entityID string) ([]*models.QueueEntry, error) {
	query := `SELECT ` + columns + ` FROM sync_queue
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY created_at, id`
	return r.query(ctx, query, string(t), entityID)
}

func (r *SQLiteRepository) DeleteByEntity(ctx context.Context, t models.EntityType, entityID string) (int64, error) {
	return r.exec(ctx, "delete queue entries of "+entityID,
		`DELETE FROM sync_queue WHERE entity_type = ? AND entity_id = ?`, string(t), entityID)
}

func (r *SQLiteRepository) DeleteCompleted(ctx context.Context) (int64, error) {
	return r.exec(ctx, "delete completed queue entries",
		`DELETE FROM sync_queue WHERE status = ?`, string(models.QueueCompleted))
}

func (r *SQLiteRepository) ResetFailed(ctx context.Context) (int64, error) {
	return r.exec(ctx, "reset failed queue entries",
		`UPDATE sync_queue SET status = ?, retry_count = 0, last_error = '', next_attempt_at = 0 WHERE status = ?`,
		string(models.QueuePending), string(models.QueueFailed))
}

func (r *SQLiteRepository) ResetSyncing(ctx context.Context) (int64, error) {
	return r.exec(ctx, "reset syncing queue entries",
		`UPDATE sync_queue SET status = ? WHERE status = ?`,
		string(models.QueuePending), string(models.QueueSyncing))
}

func (r *SQLiteRepository) CountByStatus(ctx context.Context, status models.QueueStatus) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue WHERE status = ?`, string(status)).Scan(&n)
	if dbx.IsMissingTable(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count queue entries: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) NextAttempt(ctx context.Context) (time.Time, bool, error) {
	var ms sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT MIN(next_attempt_at) FROM sync_queue WHERE status = ?`,
		string(models.QueuePending)).Scan(&ms)
	if dbx.IsMissingTable(err) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to select next attempt: %w", err)
	}
	if !ms.Valid {
		return time.Time{}, false, nil
	}
	return timex.FromMillis(ms.Int64), true, nil
}

func (r *SQLiteRepository) exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, writeErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...any) ([]*models.QueueEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if dbx.IsMissingTable(err) {
		return []*models.QueueEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select queue entries: %w", err)
	}
	defer rows.Close()

	result := []*models.QueueEntry{}
	for rows.Next() {
		q, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		result = append(result, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue entries: %w", err)
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.QueueEntry, error) {
	q := &models.QueueEntry{}
	var op, et, status string
	var next, created int64
	err := s.Scan(&q.ID, &op, &et, &q.EntityID, &q.ServerID, &status, &q.RetryCount, &q.LastError, &next, &created)
	if err != nil {
		return nil, err
	}
	q.Operation = models.Operation(op)
	q.EntityType = models.EntityType(et)
	q.Status = models.QueueStatus(status)
	q.NextAttemptAt = timex.FromMillis(next)
	q.CreatedAt = timex.FromMillis(created)
	return q, nil
}
