// Package ddl builds the DuckDB statements the engine session issues on
// behalf of the worker.
package ddl

import (
	"fmt"
	"strings"
)

// DropTableIfExists returns: DROP TABLE IF EXISTS "<table>".
func DropTableIfExists(table string) (string, error) {
	if err := ValidateTableName(table); err != nil {
		return "", err
	}
	return "DROP TABLE IF EXISTS " + QuoteIdentifier(table), nil
}

// CreateTableFromCSV returns a statement that materialises a table from a
// CSV file using DuckDB's dialect and type auto-detection:
// CREATE TABLE "<table>" AS SELECT * FROM read_csv_auto('<location>').
func CreateTableFromCSV(table, location string) (string, error) {
	if err := ValidateTableName(table); err != nil {
		return "", err
	}
	if location == "" {
		return "", fmt.Errorf("file location is required")
	}
	return fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM read_csv_auto(%s)",
		QuoteIdentifier(table), QuoteLiteral(location)), nil
}

// ShowTables returns the catalog introspection statement listing tables and
// views in the current schema.
func ShowTables() string {
	return "SHOW TABLES"
}

// Explain prefixes a query with EXPLAIN.
func Explain(query string) (string, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return "", fmt.Errorf("query is required")
	}
	return "EXPLAIN " + strings.TrimSuffix(q, ";"), nil
}

// SetThreads returns: SET threads = <n>.
func SetThreads(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("threads must be positive, got %d", n)
	}
	return fmt.Sprintf("SET threads = %d", n), nil
}

// SetMaxMemory returns: SET max_memory = '<size>'.
func SetMaxMemory(size string) (string, error) {
	if err := ValidateMemorySize(size); err != nil {
		return "", err
	}
	return "SET max_memory = " + QuoteLiteral(strings.TrimSpace(size)), nil
}
