package db

import (
	"context"
	"path/filepath"
	"testing"
)

// OpenTestStore returns an initialised Store backed by a SQLite file in
// t.TempDir(), closed on cleanup.
func OpenTestStore(t *testing.T) *Store {
	t.Helper()

	s := NewStore(filepath.Join(t.TempDir(), "store.sqlite"))
	if _, err := s.Pools(context.Background()); err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}
