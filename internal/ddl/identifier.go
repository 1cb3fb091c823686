package ddl

import (
	"fmt"
	"regexp"
	"strings"
)

// memorySizeRe matches DuckDB memory sizes such as 512MB, 2GB, 1.5GiB.
var memorySizeRe = regexp.MustCompile(`(?i)^\d+(\.\d+)?\s*(B|KB|MB|GB|TB|KIB|MIB|GIB|TIB)$`)

// maxIdentifierLen is the maximum length allowed for a table identifier.
const maxIdentifierLen = 255

// ValidateTableName checks that name can be used as a quoted table
// identifier: non-empty, bounded, and free of NUL bytes.
func ValidateTableName(name string) error {
	if name == "" {
		return fmt.Errorf("table name is required")
	}
	if len(name) > maxIdentifierLen {
		return fmt.Errorf("table name must be at most %d characters", maxIdentifierLen)
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("table name contains a NUL byte")
	}
	return nil
}

// QuoteIdentifier wraps a SQL identifier in double quotes, escaping any
// embedded double-quote characters by doubling them (standard SQL).
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral wraps a string value in single quotes, escaping any
// embedded single-quote characters by doubling them (standard SQL).
func QuoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// ValidateMemorySize checks a DuckDB memory limit string.
func ValidateMemorySize(size string) error {
	if !memorySizeRe.MatchString(strings.TrimSpace(size)) {
		return fmt.Errorf("memory size %q must look like 512MB or 2GB", size)
	}
	return nil
}
