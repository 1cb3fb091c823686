package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Pools is an initialised content store: a single-connection write pool and
// a read pool over the same SQLite file, with the schema in place.
type Pools struct {
	Write *sql.DB
	Read  *sql.DB
}

// Store is the memoized handle to the content store database. The first
// call to Pools opens the database and runs migrations; concurrent first
// callers share that one initialisation, and later callers get the cached
// pools. Construct one Store per process and pass it to every consumer.
type Store struct {
	path        string
	readMaxOpen int

	group singleflight.Group
	mu    sync.Mutex
	pools *Pools
	inits atomic.Int64
}

// NewStore returns a Store for the SQLite file at path. Nothing is opened
// until the first call to Pools.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// NewStoreWithPools returns a Store that is already initialised with the
// given pools. Migrations are not run.
func NewStoreWithPools(writeDB, readDB *sql.DB) *Store {
	return &Store{pools: &Pools{Write: writeDB, Read: readDB}}
}

// Path returns the SQLite file path backing the store.
func (s *Store) Path() string { return s.path }

// Pools returns the initialised pools, opening the database on first use.
// A failed initialisation is not cached; the next caller retries.
func (s *Store) Pools(ctx context.Context) (*Pools, error) {
	if p := s.loaded(); p != nil {
		return p, nil
	}

	ch := s.group.DoChan("init", func() (interface{}, error) {
		if p := s.loaded(); p != nil {
			return p, nil
		}
		// Initialisation is shared, so one caller's cancellation must not
		// fail it for the others.
		p, err := s.open(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.pools = p
		s.mu.Unlock()
		return p, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Pools), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes both pools if they were opened. The Store may be reopened
// by a later call to Pools.
func (s *Store) Close() error {
	s.mu.Lock()
	p := s.pools
	s.pools = nil
	s.mu.Unlock()
	if p == nil {
		return nil
	}
	return errors.Join(p.Read.Close(), p.Write.Close())
}

func (s *Store) loaded() *Pools {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pools
}

func (s *Store) open(ctx context.Context) (*Pools, error) {
	if s.path == "" {
		return nil, fmt.Errorf("content store path is not configured")
	}
	s.inits.Add(1)

	writeDB, readDB, err := OpenSQLitePair(s.path, s.readMaxOpen)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(ctx, writeDB); err != nil {
		_ = readDB.Close()
		_ = writeDB.Close()
		return nil, fmt.Errorf("content store schema: %w", err)
	}
	return &Pools{Write: writeDB, Read: readDB}, nil
}
