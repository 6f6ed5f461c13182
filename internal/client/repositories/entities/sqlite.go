package entities

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
	"github.com/dmitrijs2005/fieldsync/internal/timex"
)

const columns = `id, server_id, offline_id, parent_id, name, attributes, sync_status, created_at, updated_at`

var indexes = map[string]bool{
	IndexParentID:   true,
	IndexSyncStatus: true,
	IndexServerID:   true,
	IndexOfflineID:  true,
}

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func table(t models.EntityType) (string, error) {
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", models.ErrUnknownEntityType, t)
	}
	return string(t), nil
}

func (r *SQLiteRepository) Put(ctx context.Context, e *models.Entity) (string, error) {
	if err := e.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrInvalidRecord, err)
	}
	tbl, _ := table(e.Type)

	attrs := e.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("failed to encode attributes: %w", err)
	}

	query := `INSERT INTO ` + tbl + ` (` + columns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			server_id = excluded.server_id,
			offline_id = excluded.offline_id,
			parent_id = excluded.parent_id,
			name = excluded.name,
			attributes = excluded.attributes,
			sync_status = excluded.sync_status,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`

	_, err = r.db.ExecContext(ctx, query,
		e.ID, e.ServerID, e.OfflineID, e.ParentID, e.Name, string(b), string(e.SyncStatus),
		timex.ToMillis(e.CreatedAt), timex.ToMillis(e.UpdatedAt))
	if err != nil {
		if dbx.IsMissingTable(err) {
			return "", fmt.Errorf("failed to put %s: %w", tbl, common.ErrContainerMissing)
		}
		return "", fmt.Errorf("failed to put %s[%s]: %w", tbl, e.ID, err)
	}
	return e.ID, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, t models.EntityType, id string) (*models.Entity, error) {
	tbl, err := table(t)
	if err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM `+tbl+` WHERE id = ?`, id)
	e, err := scan(row, t)
	if errors.Is(err, sql.ErrNoRows) || dbx.IsMissingTable(err) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s[%s]: %w", tbl, id, err)
	}
	return e, nil
}

func (r *SQLiteRepository) List(ctx context.Context, t models.EntityType) ([]*models.Entity, error) {
	tbl, err := table(t)
	if err != nil {
		return nil, err
	}
	return r.query(ctx, t, `SELECT `+columns+` FROM `+tbl+` ORDER BY created_at, id`)
}

func (r *SQLiteRepository) ListByIndex(ctx context.Context, t models.EntityType, index string, value any) ([]*models.Entity, error) {
	tbl, err := table(t)
	if err != nil {
		return nil, err
	}
	if !indexes[index] {
		return nil, fmt.Errorf("%w: %s.%s", common.ErrUnknownIndex, tbl, index)
	}
	if s, ok := value.(models.SyncStatus); ok {
		value = string(s)
	}
	return r.query(ctx, t, `SELECT `+columns+` FROM `+tbl+` WHERE `+index+` = ?`, value)
}

func (r *SQLiteRepository) Delete(ctx context.Context, t models.EntityType, id string) error {
	tbl, err := table(t)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `DELETE FROM `+tbl+` WHERE id = ?`, id)
	if err != nil {
		if dbx.IsMissingTable(err) {
			return fmt.Errorf("failed to delete %s: %w", tbl, common.ErrContainerMissing)
		}
		return fmt.Errorf("failed to delete %s[%s]: %w", tbl, id, err)
	}
	return nil
}

func (r *SQLiteRepository) CountPending(ctx context.Context, t models.EntityType) (int, error) {
	tbl, err := table(t)
	if err != nil {
		return 0, err
	}
	var n int
	err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+tbl+` WHERE sync_status = ?`, string(models.SyncPending)).Scan(&n)
	if dbx.IsMissingTable(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count pending %s: %w", tbl, err)
	}
	return n, nil
}

func (r *SQLiteRepository) query(ctx context.Context, t models.EntityType, query string, args ...any) ([]*models.Entity, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if dbx.IsMissingTable(err) {
		return []*models.Entity{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", t, err)
	}
	defer rows.Close()

	result := []*models.Entity{}
	for rows.Next() {
		e, err := scan(rows, t)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", t, err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s rows: %w", t, err)
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner, t models.EntityType) (*models.Entity, error) {
	var (
		e         = &models.Entity{Type: t}
		attrs     string
		status    string
		createdAt int64
		updatedAt int64
	)
	if err := s.Scan(&e.ID, &e.ServerID, &e.OfflineID, &e.ParentID, &e.Name, &attrs, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	e.SyncStatus = models.SyncStatus(status)
	e.CreatedAt = timex.FromMillis(createdAt)
	e.UpdatedAt = timex.FromMillis(updatedAt)
	e.Attributes = map[string]string{}
	if attrs != "" {
		if err := json.Unmarshal([]byte(attrs), &e.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes of %s: %w", e.ID, err)
		}
	}
	return e, nil
}
