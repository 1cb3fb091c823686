// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase. This follows the Go convention of a
// shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"sync"

	"duckq/internal/domain"
)

// === File Reader Mock ===

// MockFileReader implements domain.FileReader for testing.
type MockFileReader struct {
	GetFn func(ctx context.Context, key string) (*domain.FileRecord, error)
}

// Get implements the interface method for testing.
func (m *MockFileReader) Get(ctx context.Context, key string) (*domain.FileRecord, error) {
	if m.GetFn != nil {
		return m.GetFn(ctx, key)
	}
	panic("unexpected call to MockFileReader.Get")
}

// FileMap returns a MockFileReader serving the given records by key and
// reporting every other key as not found.
func FileMap(files map[string]domain.FileRecord) *MockFileReader {
	return &MockFileReader{GetFn: func(_ context.Context, key string) (*domain.FileRecord, error) {
		f, ok := files[key]
		if !ok {
			return nil, domain.ErrNotFound("file %q not found", key)
		}
		f.Key = key
		return &f, nil
	}}
}

// === Analytical Engine Mock ===

// MockEngine implements domain.AnalyticalEngine for testing.
type MockEngine struct {
	ConnectFn            func(ctx context.Context) (domain.EngineConn, error)
	RegisterFileBufferFn func(ctx context.Context, name string, data []byte) (string, error)
	CloseFn              func() error

	mu     sync.Mutex
	closed int
}

// Connect implements the interface method for testing.
func (m *MockEngine) Connect(ctx context.Context) (domain.EngineConn, error) {
	if m.ConnectFn != nil {
		return m.ConnectFn(ctx)
	}
	panic("unexpected call to MockEngine.Connect")
}

// RegisterFileBuffer implements the interface method for testing.
func (m *MockEngine) RegisterFileBuffer(ctx context.Context, name string, data []byte) (string, error) {
	if m.RegisterFileBufferFn != nil {
		return m.RegisterFileBufferFn(ctx, name, data)
	}
	panic("unexpected call to MockEngine.RegisterFileBuffer")
}

// Close implements the interface method for testing. It records the call.
func (m *MockEngine) Close() error {
	m.mu.Lock()
	m.closed++
	m.mu.Unlock()
	if m.CloseFn != nil {
		return m.CloseFn()
	}
	return nil
}

// Closed returns how many times Close was called.
func (m *MockEngine) Closed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockConn implements domain.EngineConn for testing.
type MockConn struct {
	ExecFn  func(ctx context.Context, query string) error
	QueryFn func(ctx context.Context, query string) (*domain.ResultSet, error)
	CloseFn func() error
}

// Exec implements the interface method for testing.
func (m *MockConn) Exec(ctx context.Context, query string) error {
	if m.ExecFn != nil {
		return m.ExecFn(ctx, query)
	}
	panic("unexpected call to MockConn.Exec")
}

// Query implements the interface method for testing.
func (m *MockConn) Query(ctx context.Context, query string) (*domain.ResultSet, error) {
	if m.QueryFn != nil {
		return m.QueryFn(ctx, query)
	}
	panic("unexpected call to MockConn.Query")
}

// Close implements the interface method for testing.
func (m *MockConn) Close() error {
	if m.CloseFn != nil {
		return m.CloseFn()
	}
	return nil
}

// === Engine Factory ===

// EngineFactory counts constructions and delegates to New.
type EngineFactory struct {
	New func(ctx context.Context) (domain.AnalyticalEngine, error)

	mu    sync.Mutex
	calls int
}

// Build implements the factory signature used by sessions.
func (f *EngineFactory) Build(ctx context.Context) (domain.AnalyticalEngine, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.New != nil {
		return f.New(ctx)
	}
	panic("unexpected call to EngineFactory.Build")
}

// Calls returns how many engines were requested.
func (f *EngineFactory) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
