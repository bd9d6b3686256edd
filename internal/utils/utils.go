package utils

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// NormalizeScalar converts a parameter value into the fixed set of JSON
// scalar shapes used for cache key hashing: nil, bool, int64, float64 or string.
// Integers of every width collapse to int64, times become RFC 3339 UTC strings,
// pointers are dereferenced and fmt.Stringer values use their string form.
// Whole floats are kept as floats but format identically to integers in JSON,
// so 1 and 1.0 hash the same.
func NormalizeScalar(value interface{}) interface{} {
	switch v := value.(type) {
	case nil:
		return nil
	case bool, string:
		return v
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint:
		return uint64ToScalar(uint64(v))
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return uint64ToScalar(v)
	case float32:
		return normalizeFloat(float64(v))
	case float64:
		return normalizeFloat(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if v == nil {
			return nil
		}
		return v.UTC().Format(time.RFC3339Nano)
	case *string:
		if v == nil {
			return nil
		}
		return *v
	case *int64:
		if v == nil {
			return nil
		}
		return *v
	case *int:
		if v == nil {
			return nil
		}
		return int64(*v)
	case *bool:
		if v == nil {
			return nil
		}
		return *v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func uint64ToScalar(v uint64) interface{} {
	if v > math.MaxInt64 {
		return strconv.FormatUint(v, 10)
	}
	return int64(v)
}

// NaN and infinities have no JSON form; hash their text instead.
func normalizeFloat(f float64) interface{} {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return f
}
