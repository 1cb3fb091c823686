package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"duckq/internal/domain"
)

// Compile-time check.
var _ domain.EngineConn = (*Conn)(nil)

// Conn wraps a dedicated *sql.Conn to implement domain.EngineConn.
type Conn struct {
	conn *sql.Conn
}

// Exec runs a statement that returns no rows.
func (c *Conn) Exec(ctx context.Context, query string) error {
	_, err := c.conn.ExecContext(ctx, query)
	return err
}

// Query runs a statement and materialises every row. Cell values are the
// driver's native Go types.
func (c *Conn) Query(ctx context.Context, query string) (*domain.ResultSet, error) {
	rows, err := c.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("read column types: %w", err)
	}
	isUUID := make([]bool, len(types))
	for i, ct := range types {
		isUUID[i] = strings.EqualFold(ct.DatabaseTypeName(), "UUID")
	}

	out := &domain.ResultSet{Columns: cols, Rows: []domain.Row{}}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(domain.Row, len(cols))
		for i, col := range cols {
			if isUUID[i] {
				row[col] = uuidString(values[i])
				continue
			}
			row[col] = values[i]
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close returns the connection to the pool.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// uuidString renders a UUID cell in canonical form. The driver hands UUIDs
// over as their 16 raw bytes.
func uuidString(v interface{}) interface{} {
	switch x := v.(type) {
	case []byte:
		if id, err := uuid.FromBytes(x); err == nil {
			return id.String()
		}
	case [16]byte:
		return uuid.UUID(x).String()
	case fmt.Stringer:
		return x.String()
	}
	return v
}
