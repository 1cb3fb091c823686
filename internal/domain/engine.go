package domain

import "context"

// ResultSet is a query result in engine-native form: cell values are
// whatever the driver produced, including int64 and other types that do not
// survive the wire unchanged.
type ResultSet struct {
	Columns []string
	Rows    []Row
}

// AnalyticalEngine is an embedded SQL engine instance. Files are handed to
// it as byte buffers and queried through a connection.
type AnalyticalEngine interface {
	// Connect opens a new connection to the engine.
	Connect(ctx context.Context) (EngineConn, error)
	// RegisterFileBuffer makes data readable by SQL under name and returns
	// the location to use in table functions such as read_csv_auto.
	// Registering an existing name replaces its contents.
	RegisterFileBuffer(ctx context.Context, name string, data []byte) (string, error)
	Close() error
}

// EngineConn is a single connection to an AnalyticalEngine.
type EngineConn interface {
	Exec(ctx context.Context, query string) error
	Query(ctx context.Context, query string) (*ResultSet, error)
	Close() error
}
