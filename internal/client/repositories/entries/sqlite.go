package entries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
	"github.com/dmitrijs2005/fieldsync/internal/timex"
)

const columns = `id, server_id, offline_id, survey_id, folder_id, data, is_synced, created_at`

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

func args(e *models.RemoteEntry) []any {
	data := string(e.Data)
	if data == "" {
		data = "{}"
	}
	return []any{e.ID, e.ServerID, e.OfflineID, e.SurveyID, e.FolderID, data, e.IsSynced, timex.ToMillis(e.CreatedAt)}
}

func (r *SQLiteRepository) InsertIfMissing(ctx context.Context, e *models.RemoteEntry) (bool, error) {
	if e.ID == "" {
		return false, fmt.Errorf("%w: entry id is empty", common.ErrInvalidRecord)
	}
	query := `INSERT INTO entries (` + columns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, args(e)...)
	if err != nil {
		return false, writeErr("insert entry["+e.ID+"]", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *SQLiteRepository) Put(ctx context.Context, e *models.RemoteEntry) error {
	if e.ID == "" {
		return fmt.Errorf("%w: entry id is empty", common.ErrInvalidRecord)
	}
	query := `INSERT INTO entries (` + columns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			server_id = excluded.server_id,
			offline_id = excluded.offline_id,
			survey_id = excluded.survey_id,
			folder_id = excluded.folder_id,
			data = excluded.data,
			is_synced = excluded.is_synced,
			created_at = excluded.created_at`
	if _, err := r.db.ExecContext(ctx, query, args(e)...); err != nil {
		return writeErr("put entry["+e.ID+"]", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.RemoteEntry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM entries WHERE id = ?`, id)
	e, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) || dbx.IsMissingTable(err) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry[%s]: %w", id, err)
	}
	return e, nil
}

func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]*models.RemoteEntry, error) {
	query := `SELECT ` + columns + ` FROM entries ORDER BY created_at DESC, id`
	var qargs []any
	if limit > 0 {
		query += ` LIMIT ?`
		qargs = append(qargs, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, qargs...)
	if dbx.IsMissingTable(err) {
		return []*models.RemoteEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select entries: %w", err)
	}
	defer rows.Close()

	result := []*models.RemoteEntry{}
	for rows.Next() {
		e, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entries: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id); err != nil {
		return writeErr("delete entry["+id+"]", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.RemoteEntry, error) {
	e := &models.RemoteEntry{}
	var data string
	var created int64
	if err := s.Scan(&e.ID, &e.ServerID, &e.OfflineID, &e.SurveyID, &e.FolderID, &data, &e.IsSynced, &created); err != nil {
		return nil, err
	}
	e.Data = []byte(data)
	e.CreatedAt = timex.FromMillis(created)
	return e, nil
}
