package source

import (
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// Date and time layouts used when rendering temporal columns as text.
const (
	dateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02T15:04:05.999999999"
)

// Normalize converts a driver value into one of the cell types a table
// carries: nil, bool, string or json.Number.
func Normalize(v any) any {
	return normalize(0, v)
}

func normalize(oid uint32, v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bool, string, json.Number:
		return val
	case int:
		return json.Number(strconv.FormatInt(int64(val), 10))
	case int8:
		return json.Number(strconv.FormatInt(int64(val), 10))
	case int16:
		return json.Number(strconv.FormatInt(int64(val), 10))
	case int32:
		return json.Number(strconv.FormatInt(int64(val), 10))
	case int64:
		return json.Number(strconv.FormatInt(val, 10))
	case uint8:
		return json.Number(strconv.FormatUint(uint64(val), 10))
	case uint16:
		return json.Number(strconv.FormatUint(uint64(val), 10))
	case uint32:
		return json.Number(strconv.FormatUint(uint64(val), 10))
	case uint64:
		return json.Number(strconv.FormatUint(val, 10))
	case float32:
		return floatValue(float64(val), 32)
	case float64:
		return floatValue(val, 64)
	case *big.Int:
		if val == nil {
			return nil
		}
		return json.Number(val.String())
	case pgtype.Numeric:
		return numericValue(val)
	case decimal.Decimal:
		return json.Number(val.String())
	case time.Time:
		return timeValue(oid, val)
	case [16]byte:
		return uuid.UUID(val).String()
	case uuid.UUID:
		return val.String()
	case []byte:
		return `\x` + hex.EncodeToString(val)
	case map[string]any, []any:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(raw)
	case driver.Valuer:
		inner, err := val.Value()
		if err != nil {
			return fmt.Sprint(val)
		}
		if _, again := inner.(driver.Valuer); again {
			return fmt.Sprint(inner)
		}
		return normalize(oid, inner)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// floatValue renders finite floats as numbers and the IEEE specials as the
// text PostgreSQL uses for them.
func floatValue(f float64, bitSize int) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return json.Number(strconv.FormatFloat(f, 'g', -1, bitSize))
}

func numericValue(n pgtype.Numeric) any {
	switch {
	case !n.Valid:
		return nil
	case n.NaN:
		return "NaN"
	case n.InfinityModifier == pgtype.Infinity:
		return "Infinity"
	case n.InfinityModifier == pgtype.NegativeInfinity:
		return "-Infinity"
	case n.Int == nil:
		return json.Number("0")
	}
	return json.Number(decimal.NewFromBigInt(n.Int, n.Exp).String())
}

func timeValue(oid uint32, t time.Time) string {
	switch oid {
	case pgtype.DateOID:
		return t.Format(dateLayout)
	case pgtype.TimestampOID:
		return t.Format(timestampLayout)
	default:
		return t.Format(time.RFC3339Nano)
	}
}
