package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	apperrors "github.com/shipslog/backend/internal/errors"
	"github.com/shipslog/backend/internal/media"
)

// MediaStore implements media.Store on Postgres.
type MediaStore struct {
	db *DB
}

func NewMediaStore(db *DB) *MediaStore {
	return &MediaStore{db: db}
}

func (s *MediaStore) Create(ctx context.Context, item *media.Item) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO media_items
			(id, kind, source_path, status, storage_locator, transcript, embedding, summary, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		item.ID, item.Kind, item.SourcePath, item.Status,
		item.StorageLocator, item.Transcript, pq.Array(item.Embedding), item.Summary,
		item.LastError, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return apperrors.DatabaseError("failed to insert media item").WithCause(err)
	}
	return nil
}

func (s *MediaStore) Get(ctx context.Context, id string) (*media.Item, error) {
	var item media.Item
	var embedding pq.Float64Array
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, source_path, status, storage_locator, transcript, embedding, summary, last_error, created_at, updated_at
		FROM media_items WHERE id = $1`, id,
	).Scan(
		&item.ID, &item.Kind, &item.SourcePath, &item.Status,
		&item.StorageLocator, &item.Transcript, &embedding, &item.Summary,
		&item.LastError, &item.CreatedAt, &item.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperrors.ItemNotFound(id)
	}
	if err != nil {
		return nil, apperrors.DatabaseError("failed to load media item").WithCause(err)
	}
	item.Embedding = []float64(embedding)
	return &item, nil
}

func (s *MediaStore) Update(ctx context.Context, item *media.Item) error {
	existing, err := s.Get(ctx, item.ID)
	if err != nil {
		return err
	}
	if existing.Status != item.Status && !existing.Status.CanTransitionTo(item.Status) {
		return apperrors.InvalidTransition(string(existing.Status), string(item.Status))
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE media_items
		SET kind = $2, source_path = $3, status = $4, storage_locator = $5,
			transcript = $6, embedding = $7, summary = $8, last_error = $9, updated_at = NOW()
		WHERE id = $1`,
		item.ID, item.Kind, item.SourcePath, item.Status,
		item.StorageLocator, item.Transcript, pq.Array(item.Embedding), item.Summary,
		item.LastError,
	)
	if err != nil {
		return apperrors.DatabaseError("failed to update media item").WithCause(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.DatabaseError("failed to read update result").WithCause(err)
	}
	if n == 0 {
		return apperrors.ItemNotFound(item.ID)
	}
	return nil
}

func (s *MediaStore) List(ctx context.Context, limit int) ([]*media.Item, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, source_path, status, storage_locator, transcript, embedding, summary, last_error, created_at, updated_at
		FROM media_items ORDER BY created_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, apperrors.DatabaseError("failed to list media items").WithCause(err)
	}
	defer rows.Close()

	var items []*media.Item
	for rows.Next() {
		var item media.Item
		var embedding pq.Float64Array
		if err := rows.Scan(
			&item.ID, &item.Kind, &item.SourcePath, &item.Status,
			&item.StorageLocator, &item.Transcript, &embedding, &item.Summary,
			&item.LastError, &item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, apperrors.DatabaseError("failed to scan media item").WithCause(err)
		}
		item.Embedding = []float64(embedding)
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.DatabaseError(fmt.Sprintf("row iteration failed: %v", err)).WithCause(err)
	}
	return items, nil
}
