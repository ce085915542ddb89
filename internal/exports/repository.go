// Package exports persists metadata for archived session exports.
package exports

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/busbell/backend/internal/models"
)

// Repository handles export record persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an exports repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts an export record after the snapshot is archived.
func (r *Repository) Create(ctx context.Context, rec *models.ExportRecord) error {
	const q = `INSERT INTO exports (id, session_id, s3_url, s3_key, total_bells, file_size)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`
	return r.pool.QueryRow(ctx, q, rec.ID, rec.SessionID, rec.S3URL, rec.S3Key, rec.TotalBells, rec.FileSize).
		Scan(&rec.CreatedAt)
}

// GetByID returns an export record by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.ExportRecord, error) {
	const q = `SELECT id, session_id, s3_url, s3_key, total_bells, file_size, created_at
		FROM exports WHERE id = $1`
	var rec models.ExportRecord
	err := r.pool.QueryRow(ctx, q, id).Scan(&rec.ID, &rec.SessionID, &rec.S3URL, &rec.S3Key, &rec.TotalBells, &rec.FileSize, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListBySession returns all export records for a session, newest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.ExportRecord, error) {
	const q = `SELECT id, session_id, s3_url, s3_key, total_bells, file_size, created_at
		FROM exports WHERE session_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.ExportRecord
	for rows.Next() {
		var rec models.ExportRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.S3URL, &rec.S3Key, &rec.TotalBells, &rec.FileSize, &rec.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

// Delete removes an export record. Returns pgx.ErrNoRows when the record
// does not exist.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM exports WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
