package ddl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTableName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "simple", input: "sales_q1_csv"},
		{name: "leading_digit", input: "2024_csv"},
		{name: "unicode", input: "données_csv"},
		{name: "empty", input: "", wantErr: "required"},
		{name: "too_long", input: strings.Repeat("a", 256), wantErr: "at most 255"},
		{name: "nul", input: "a\x00b", wantErr: "NUL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTableName(tt.input)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"simple", `"simple"`},
		{"with space", `"with space"`},
		{`with"quote`, `"with""quote"`},
		{"", `""`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, QuoteIdentifier(tt.input))
		})
	}
}

func TestQuoteLiteral(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"simple", "'simple'"},
		{"it's", "'it''s'"},
		{"/tmp/duckq-1/a.csv", "'/tmp/duckq-1/a.csv'"},
		{"", "''"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, QuoteLiteral(tt.input))
		})
	}
}

func TestValidateMemorySize(t *testing.T) {
	for _, ok := range []string{"512MB", "2GB", "1.5GiB", "100kb", " 4GB "} {
		assert.NoError(t, ValidateMemorySize(ok), ok)
	}
	for _, bad := range []string{"", "lots", "2", "2 PB", "1GB; DROP TABLE x"} {
		assert.Error(t, ValidateMemorySize(bad), bad)
	}
}
