package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Row is one result row keyed by column name. Values on the wire are limited
// to string, float64/int, bool, and nil; 64-bit integers travel as strings.
type Row map[string]interface{}

// FileRecord is an uploaded dataset held in the files collection.
type FileRecord struct {
	Key        string
	Name       string
	MimeType   string
	Data       []byte
	UploadedAt time.Time
}

// NewFile is the caller-supplied part of a FileRecord. Key and UploadedAt
// are assigned by the store.
type NewFile struct {
	Name     string
	MimeType string
	Data     []byte
}

// QueryPlan records the query that produced a cached result.
type QueryPlan struct {
	SQL            string          `json:"sql"`
	OptimizedSteps json.RawMessage `json:"optimizedSteps,omitempty"`
}

// CacheRecord is a memoized query result held in the cache collection.
// A zero TTL never expires.
type CacheRecord struct {
	Key       string
	Result    []Row
	Plan      *QueryPlan
	CreatedAt time.Time
	TTL       time.Duration
}

// Expired reports whether the record is logically absent at now.
func (c *CacheRecord) Expired(now time.Time) bool {
	if c.TTL <= 0 {
		return false
	}
	return now.Sub(c.CreatedAt) > c.TTL
}

// NewCacheEntry is the caller-supplied part of a CacheRecord.
type NewCacheEntry struct {
	Result []Row
	Plan   *QueryPlan
	TTL    time.Duration
}

// FileReader is the read side of the files collection, which is all the
// worker needs. Get returns a *NotFoundError for an absent key.
type FileReader interface {
	Get(ctx context.Context, key string) (*FileRecord, error)
}

// FileRepository provides access to the files collection.
type FileRepository interface {
	FileReader
	Put(ctx context.Context, f NewFile) (string, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]FileRecord, error)
}

// CacheRepository provides access to the cache collection. Get and List
// never return expired records; Get reports an expired key as a
// *NotFoundError, exactly like an absent one.
type CacheRepository interface {
	Put(ctx context.Context, e NewCacheEntry) (string, error)
	Get(ctx context.Context, key string) (*CacheRecord, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]CacheRecord, error)
}
