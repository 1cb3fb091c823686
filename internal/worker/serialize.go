package worker

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/duckdb/duckdb-go/v2"

	"duckq/internal/domain"
)

// SerializeRows converts engine-native rows into wire rows. 64-bit integers
// become their exact decimal string; the remaining engine types are
// normalised to strings, numbers, booleans, or null.
func SerializeRows(rows []domain.Row) []domain.Row {
	out := make([]domain.Row, len(rows))
	for i, row := range rows {
		wire := make(domain.Row, len(row))
		for col, v := range row {
			wire[col] = SerializeValue(v)
		}
		out[i] = wire
	}
	return out
}

// SerializeValue normalises a single engine value for the wire.
func SerializeValue(v interface{}) interface{} {
	switch x := v.(type) {
	case nil, string, bool, int8, int16, int32, uint8, uint16, uint32:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case *big.Int:
		if x == nil {
			return nil
		}
		return x.String()
	case float32:
		return finite(float64(x))
	case float64:
		return finite(x)
	case duckdb.Decimal:
		return finite(x.Float64())
	case duckdb.Interval:
		return FormatInterval(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case []byte:
		return string(x)
	case []interface{}:
		list := make([]interface{}, len(x))
		for i, e := range x {
			list[i] = SerializeValue(e)
		}
		return list
	case map[string]interface{}:
		m := make(map[string]interface{}, len(x))
		for k, e := range x {
			m[k] = SerializeValue(e)
		}
		return m
	default:
		return fmt.Sprint(x)
	}
}

// finite keeps JSON encodable floats; NaN and infinities become strings.
func finite(f float64) interface{} {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return f
}

// FormatInterval renders an interval the way DuckDB prints it, e.g.
// "1 year 2 months 3 days 04:05:06.5". A zero interval is "00:00:00".
func FormatInterval(iv duckdb.Interval) string {
	var parts []string
	if years := iv.Months / 12; years != 0 {
		parts = append(parts, plural(int64(years), "year"))
	}
	if months := iv.Months % 12; months != 0 {
		parts = append(parts, plural(int64(months), "month"))
	}
	if iv.Days != 0 {
		parts = append(parts, plural(int64(iv.Days), "day"))
	}
	if iv.Micros != 0 || len(parts) == 0 {
		parts = append(parts, clock(iv.Micros))
	}
	return strings.Join(parts, " ")
}

func plural(n int64, unit string) string {
	if n == 1 || n == -1 {
		return strconv.FormatInt(n, 10) + " " + unit
	}
	return strconv.FormatInt(n, 10) + " " + unit + "s"
}

func clock(micros int64) string {
	sign := ""
	if micros < 0 {
		sign = "-"
		micros = -micros
	}
	secs := micros / 1_000_000
	frac := micros % 1_000_000
	out := fmt.Sprintf("%s%02d:%02d:%02d", sign, secs/3600, secs/60%60, secs%60)
	if frac != 0 {
		out += strings.TrimRight(fmt.Sprintf(".%06d", frac), "0")
	}
	return out
}
