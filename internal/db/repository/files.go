package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"duckq/internal/db"
	"duckq/internal/domain"
)

var _ domain.FileRepository = (*FileRepo)(nil)

// FileRepo stores uploaded datasets in the files collection. Records are
// immutable: there is no update, only Delete followed by Put.
type FileRepo struct {
	store *db.Store
	now   func() time.Time
}

// NewFileRepo creates a FileRepo over the given store.
func NewFileRepo(store *db.Store) *FileRepo {
	return &FileRepo{store: store, now: time.Now}
}

// SetClock replaces the time source used for UploadedAt.
func (r *FileRepo) SetClock(now func() time.Time) {
	r.now = now
}

// Put stores a new file under a freshly generated key and returns the key.
func (r *FileRepo) Put(ctx context.Context, f domain.NewFile) (string, error) {
	if f.Name == "" {
		return "", domain.ErrValidation("file name is required")
	}
	p, err := r.store.Pools(ctx)
	if err != nil {
		return "", err
	}

	key := uuid.NewString()
	data := f.Data
	if data == nil {
		data = []byte{}
	}
	_, err = p.Write.ExecContext(ctx,
		`INSERT INTO files (key, name, mime_type, data, uploaded_at) VALUES (?, ?, ?, ?, ?)`,
		key, f.Name, f.MimeType, data, r.now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("put file: %w", mapDBError(err, "file", key))
	}
	return key, nil
}

// Get returns the file stored under key.
func (r *FileRepo) Get(ctx context.Context, key string) (*domain.FileRecord, error) {
	p, err := r.store.Pools(ctx)
	if err != nil {
		return nil, err
	}

	var (
		rec        domain.FileRecord
		uploadedAt int64
	)
	err = p.Read.QueryRowContext(ctx,
		`SELECT key, name, mime_type, data, uploaded_at FROM files WHERE key = ?`, key).
		Scan(&rec.Key, &rec.Name, &rec.MimeType, &rec.Data, &uploadedAt)
	if err != nil {
		return nil, mapDBError(err, "file", key)
	}
	rec.UploadedAt = fromMillis(uploadedAt)
	return &rec, nil
}

// Delete removes the file stored under key. Deleting an absent key is not
// an error.
func (r *FileRepo) Delete(ctx context.Context, key string) error {
	p, err := r.store.Pools(ctx)
	if err != nil {
		return err
	}
	if _, err := p.Write.ExecContext(ctx, `DELETE FROM files WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// List returns every stored file, oldest first.
func (r *FileRepo) List(ctx context.Context) ([]domain.FileRecord, error) {
	p, err := r.store.Pools(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := p.Read.QueryContext(ctx,
		`SELECT key, name, mime_type, data, uploaded_at FROM files ORDER BY uploaded_at, key`)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.FileRecord
	for rows.Next() {
		var (
			rec        domain.FileRecord
			uploadedAt int64
		)
		if err := rows.Scan(&rec.Key, &rec.Name, &rec.MimeType, &rec.Data, &uploadedAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		rec.UploadedAt = fromMillis(uploadedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}
