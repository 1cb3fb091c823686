package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"duckq/internal/db"
	"duckq/internal/domain"
)

var _ domain.CacheRepository = (*CacheRepo)(nil)

// CacheRepo stores memoized query results in the cache collection.
//
// Expiry is lazy: a record whose TTL has elapsed is treated as absent by Get
// and List, which also delete it on the spot. There is no background sweep,
// so an expired record stays on disk until something reads it.
type CacheRepo struct {
	store  *db.Store
	now    func() time.Time
	logger *slog.Logger
}

// NewCacheRepo creates a CacheRepo over the given store.
func NewCacheRepo(store *db.Store, logger *slog.Logger) *CacheRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheRepo{store: store, now: time.Now, logger: logger}
}

// SetClock replaces the time source used for CreatedAt and expiry checks.
func (r *CacheRepo) SetClock(now func() time.Time) {
	r.now = now
}

// Put stores a new cache entry under a freshly generated key.
func (r *CacheRepo) Put(ctx context.Context, e domain.NewCacheEntry) (string, error) {
	if e.TTL < 0 {
		return "", domain.ErrValidation("ttl must not be negative")
	}
	result := e.Result
	if result == nil {
		result = []domain.Row{}
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encode cache result: %w", err)
	}
	var planJSON sql.NullString
	if e.Plan != nil {
		b, err := json.Marshal(e.Plan)
		if err != nil {
			return "", fmt.Errorf("encode cache plan: %w", err)
		}
		planJSON = sql.NullString{String: string(b), Valid: true}
	}

	p, err := r.store.Pools(ctx)
	if err != nil {
		return "", err
	}

	key := uuid.NewString()
	_, err = p.Write.ExecContext(ctx,
		`INSERT INTO cache (key, result, plan, created_at, ttl_ms) VALUES (?, ?, ?, ?, ?)`,
		key, string(resultJSON), planJSON, r.now().UnixMilli(), nullMillis(e.TTL))
	if err != nil {
		return "", fmt.Errorf("put cache entry: %w", mapDBError(err, "cache entry", key))
	}
	return key, nil
}

// Get returns the live cache entry stored under key. An expired entry is
// deleted and reported as not found.
func (r *CacheRepo) Get(ctx context.Context, key string) (*domain.CacheRecord, error) {
	p, err := r.store.Pools(ctx)
	if err != nil {
		return nil, err
	}

	row := p.Read.QueryRowContext(ctx,
		`SELECT key, result, plan, created_at, ttl_ms FROM cache WHERE key = ?`, key)
	rec, err := scanCacheRecord(row)
	if err != nil {
		return nil, mapDBError(err, "cache entry", key)
	}

	if rec.Expired(r.now()) {
		r.evict(ctx, p, key)
		return nil, domain.ErrNotFound("cache entry %q not found", key)
	}
	return rec, nil
}

// Delete removes the cache entry stored under key. Deleting an absent key is
// not an error.
func (r *CacheRepo) Delete(ctx context.Context, key string) error {
	p, err := r.store.Pools(ctx)
	if err != nil {
		return err
	}
	if _, err := p.Write.ExecContext(ctx, `DELETE FROM cache WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// List returns every live cache entry, oldest first, evicting expired
// entries in the same pass.
func (r *CacheRepo) List(ctx context.Context) ([]domain.CacheRecord, error) {
	p, err := r.store.Pools(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := p.Read.QueryContext(ctx,
		`SELECT key, result, plan, created_at, ttl_ms FROM cache ORDER BY created_at, key`)
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}

	now := r.now()
	var (
		live    []domain.CacheRecord
		expired []string
	)
	for rows.Next() {
		rec, err := scanCacheRecord(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		if rec.Expired(now) {
			expired = append(expired, rec.Key)
			continue
		}
		live = append(live, *rec)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}

	for _, key := range expired {
		r.evict(ctx, p, key)
	}
	return live, nil
}

// evict is best-effort: a failed delete leaves the row for the next read to
// retry, and the caller still sees the entry as absent.
func (r *CacheRepo) evict(ctx context.Context, p *db.Pools, key string) {
	if _, err := p.Write.ExecContext(ctx, `DELETE FROM cache WHERE key = ?`, key); err != nil {
		r.logger.WarnContext(ctx, "evict expired cache entry", "key", key, "error", err)
		return
	}
	r.logger.DebugContext(ctx, "evicted expired cache entry", "key", key)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCacheRecord(s rowScanner) (*domain.CacheRecord, error) {
	var (
		rec        domain.CacheRecord
		resultJSON string
		planJSON   sql.NullString
		createdAt  int64
		ttlMS      sql.NullInt64
	)
	if err := s.Scan(&rec.Key, &resultJSON, &planJSON, &createdAt, &ttlMS); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(resultJSON), &rec.Result); err != nil {
		return nil, fmt.Errorf("decode cache result %q: %w", rec.Key, err)
	}
	if planJSON.Valid {
		rec.Plan = &domain.QueryPlan{}
		if err := json.Unmarshal([]byte(planJSON.String), rec.Plan); err != nil {
			return nil, fmt.Errorf("decode cache plan %q: %w", rec.Key, err)
		}
	}
	rec.CreatedAt = fromMillis(createdAt)
	if ttlMS.Valid {
		rec.TTL = time.Duration(ttlMS.Int64) * time.Millisecond
	}
	return &rec, nil
}
