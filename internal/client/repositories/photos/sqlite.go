package photos

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

const photoColumns = `id, blob, checksum, size, timestamp, sync_status, last_error, blob_purged,
	url, server_entry_id, server_photo_id, created_at, updated_at`

const metadataColumns = `photo_id, location, description, folder_id, house_id, village_id, sub_village_id, survey_id`

var metadataIndexes = map[string]bool{
	IndexFolderID:     true,
	IndexHouseID:      true,
	IndexVillageID:    true,
	IndexSubVillageID: true,
	IndexSurveyID:     true,
}

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

func (r *SQLiteRepository) Put(ctx context.Context, p *models.Photo) (string, error) {
	if p.ID == "" {
		return "", fmt.Errorf("%w: photo id is empty", common.ErrInvalidRecord)
	}
	status := p.SyncStatus
	if status == "" {
		status = models.PhotoPending
	}

	query := `INSERT INTO photos (` + photoColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			blob = excluded.blob,
			checksum = excluded.checksum,
			size = excluded.size,
			timestamp = excluded.timestamp,
			sync_status = excluded.sync_status,
			last_error = excluded.last_error,
			blob_purged = excluded.blob_purged,
			url = excluded.url,
			server_entry_id = excluded.server_entry_id,
			server_photo_id = excluded.server_photo_id,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.Blob, p.Checksum, p.Size, timex.ToMillis(p.Timestamp), string(status), p.LastError, p.BlobPurged,
		p.URL, p.ServerEntryID, p.ServerPhotoID, timex.ToMillis(p.CreatedAt), timex.ToMillis(p.UpdatedAt))
	if err != nil {
		return "", writeErr("put photo["+p.ID+"]", err)
	}
	return p.ID, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.Photo, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+photoColumns+` FROM photos WHERE id = ?`, id)
	p, err := scanPhoto(row)
	if errors.Is(err, sql.ErrNoRows) || dbx.IsMissingTable(err) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get photo[%s]: %w", id, err)
	}
	return p, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]*models.Photo, error) {
	return r.queryPhotos(ctx, `SELECT `+photoColumns+` FROM photos ORDER BY created_at, id`)
}

func (r *SQLiteRepository) ListByStatus(ctx context.Context, status models.PhotoStatus) ([]*models.Photo, error) {
	return r.queryPhotos(ctx, `SELECT `+photoColumns+` FROM photos WHERE sync_status = ? ORDER BY created_at, id`, string(status))
}

func (r *SQLiteRepository) ListIDsByStatus(ctx context.Context, status models.PhotoStatus) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM photos WHERE sync_status = ? ORDER BY created_at, id`, string(status))
	if dbx.IsMissingTable(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select photo ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan photo id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate photo ids: %w", err)
	}
	return ids, nil
}

func (r *SQLiteRepository) Transition(ctx context.Context, id string, from, to models.PhotoStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE photos SET sync_status = ? WHERE id = ? AND sync_status = ?`,
		string(to), id, string(from))
	if err != nil {
		return false, writeErr("move photo["+id+"] to "+string(to), err)
	}
	return affectedOne(res)
}

func (r *SQLiteRepository) SaveSyncResult(ctx context.Context, p *models.Photo) (bool, error) {
	query := `UPDATE photos SET
			sync_status = ?,
			last_error = ?,
			url = ?,
			server_entry_id = ?,
			server_photo_id = ?,
			updated_at = ?
		WHERE id = ? AND sync_status = ?`
	res, err := r.db.ExecContext(ctx, query,
		string(p.SyncStatus), p.LastError, p.URL, p.ServerEntryID, p.ServerPhotoID, timex.ToMillis(p.UpdatedAt),
		p.ID, string(models.PhotoSyncing))
	if err != nil {
		return false, writeErr("save sync result of photo["+p.ID+"]", err)
	}
	return affectedOne(res)
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM photo_metadata WHERE photo_id = ?`, id); err != nil {
		return writeErr("delete photo metadata["+id+"]", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM photos WHERE id = ?`, id); err != nil {
		return writeErr("delete photo["+id+"]", err)
	}
	return nil
}

func (r *SQLiteRepository) PutMetadata(ctx context.Context, md *models.PhotoMetadata) error {
	if md.PhotoID == "" {
		return fmt.Errorf("%w: metadata without photo id", common.ErrInvalidRecord)
	}
	query := `INSERT INTO photo_metadata (` + metadataColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(photo_id) DO UPDATE SET
			location = excluded.location,
			description = excluded.description,
			folder_id = excluded.folder_id,
			house_id = excluded.house_id,
			village_id = excluded.village_id,
			sub_village_id = excluded.sub_village_id,
			survey_id = excluded.survey_id`
	_, err := r.db.ExecContext(ctx, query, md.PhotoID, md.Location, md.Description,
		md.FolderID, md.HouseID, md.VillageID, md.SubVillageID, md.SurveyID)
	if err != nil {
		return writeErr("put photo metadata["+md.PhotoID+"]", err)
	}
	return nil
}

func (r *SQLiteRepository) GetMetadata(ctx context.Context, photoID string) (*models.PhotoMetadata, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+metadataColumns+` FROM photo_metadata WHERE photo_id = ?`, photoID)
	md, err := scanMetadata(row)
	if errors.Is(err, sql.ErrNoRows) || dbx.IsMissingTable(err) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get photo metadata[%s]: %w", photoID, err)
	}
	return md, nil
}

func (r *SQLiteRepository) ListMetadataByIndex(ctx context.Context, index string, value any) ([]*models.PhotoMetadata, error) {
	if !metadataIndexes[index] {
		return nil, fmt.Errorf("%w: photo_metadata.%s", common.ErrUnknownIndex, index)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+metadataColumns+` FROM photo_metadata WHERE `+index+` = ?`, value)
	if dbx.IsMissingTable(err) {
		return []*models.PhotoMetadata{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select photo metadata: %w", err)
	}
	defer rows.Close()

	result := []*models.PhotoMetadata{}
	for rows.Next() {
		md, err := scanMetadata(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan photo metadata row: %w", err)
		}
		result = append(result, md)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate photo metadata rows: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) ResetStatus(ctx context.Context, from, to models.PhotoStatus) (int64, error) {
	query := `UPDATE photos SET sync_status = ?, last_error = CASE WHEN ? = 'pending' THEN '' ELSE last_error END
		WHERE sync_status = ?`
	res, err := r.db.ExecContext(ctx, query, string(to), string(to), string(from))
	if err != nil {
		return 0, writeErr("reset photo status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) ListPurgeable(ctx context.Context) ([]*models.Photo, error) {
	query := `SELECT id, size, created_at FROM photos
		WHERE sync_status = ? AND blob_purged = 0
		ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, query, string(models.PhotoSynced))
	if dbx.IsMissingTable(err) {
		return []*models.Photo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select purgeable photos: %w", err)
	}
	defer rows.Close()

	result := []*models.Photo{}
	for rows.Next() {
		var (
			p         = &models.Photo{SyncStatus: models.PhotoSynced}
			createdAt int64
		)
		if err := rows.Scan(&p.ID, &p.Size, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan purgeable photo: %w", err)
		}
		p.CreatedAt = timex.FromMillis(createdAt)
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate purgeable photos: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) PurgeBlob(ctx context.Context, id string) error {
	query := `UPDATE photos SET blob = NULL, blob_purged = 1 WHERE id = ? AND sync_status = ?`
	res, err := r.db.ExecContext(ctx, query, id, string(models.PhotoSynced))
	if err != nil {
		return writeErr("purge photo["+id+"]", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("purge photo[%s]: %w", id, common.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) CountByStatus(ctx context.Context, status models.PhotoStatus) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM photos WHERE sync_status = ?`, string(status)).Scan(&n)
	if dbx.IsMissingTable(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count photos: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) Stats(ctx context.Context) (models.PhotoStats, error) {
	stats := models.PhotoStats{Counts: map[models.PhotoStatus]int{}}

	query := `SELECT sync_status, COUNT(*), COALESCE(SUM(LENGTH(blob)), 0), COALESCE(SUM(blob_purged), 0)
		FROM photos GROUP BY sync_status`
	rows, err := r.db.QueryContext(ctx, query)
	if dbx.IsMissingTable(err) {
		return stats, nil
	}
	if err != nil {
		return stats, fmt.Errorf("failed to collect photo stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			count  int
			bytes  int64
			purged int
		)
		if err := rows.Scan(&status, &count, &bytes, &purged); err != nil {
			return stats, fmt.Errorf("failed to scan photo stats: %w", err)
		}
		stats.Counts[models.PhotoStatus(status)] = count
		stats.BlobBytes += bytes
		stats.Purged += purged
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("failed to iterate photo stats: %w", err)
	}
	return stats, nil
}

func (r *SQLiteRepository) queryPhotos(ctx context.Context, query string, args ...any) ([]*models.Photo, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if dbx.IsMissingTable(err) {
		return []*models.Photo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select photos: %w", err)
	}
	defer rows.Close()

	result := []*models.Photo{}
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan photo row: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate photo rows: %w", err)
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPhoto(s scanner) (*models.Photo, error) {
	p := &models.Photo{}
	var status string
	var ts, createdAt, updatedAt int64
	err := s.Scan(&p.ID, &p.Blob, &p.Checksum, &p.Size, &ts, &status, &p.LastError, &p.BlobPurged,
		&p.URL, &p.ServerEntryID, &p.ServerPhotoID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.SyncStatus = models.PhotoStatus(status)
	p.Timestamp = timex.FromMillis(ts)
	p.CreatedAt = timex.FromMillis(createdAt)
	p.UpdatedAt = timex.FromMillis(updatedAt)
	return p, nil
}

func scanMetadata(s scanner) (*models.PhotoMetadata, error) {
	md := &models.PhotoMetadata{}
	err := s.Scan(&md.PhotoID, &md.Location, &md.Description, &md.FolderID, &md.HouseID,
		&md.VillageID, &md.SubVillageID, &md.SurveyID)
	if err != nil {
		return nil, err
	}
	return md, nil
}
