package mart

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// attrSeparator separates canonical attr components. ASCII Unit Separator
// cannot occur in real attribute values, so concatenation is unambiguous.
const attrSeparator = "\x1f"

// AttrHash computes a deterministic SHA-256 over an ordered attr list.
//
// The hash is the authoritative "did anything change?" signal for SCD2: the
// dimension loader compares the incoming snapshot's hash against the current
// row's stored attr_hash instead of comparing every column value, which is
// both faster and robust against driver type round-trips (TEXT scanned as
// []byte, floats reformatted, etc).
//
// Canonicalization rules:
//   - attrs are encoded in order as "name=value" joined by attrSeparator
//   - nil values encode as a single NUL byte so missing differs from empty
//   - time.Time encodes as RFC3339Nano in UTC
//   - decimals encode via String (exact, no float formatting)
//
// Output is a lowercase hex string of length 64.
func AttrHash(attrs []Attr) string {
	h := sha256.New()
	for i, a := range attrs {
		if i > 0 {
			h.Write([]byte(attrSeparator))
		}
		h.Write([]byte(a.Name))
		h.Write([]byte{'='})
		h.Write([]byte(canonicalValue(a.Value)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func canonicalValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "\x00"
	case string:
		return t
	case []byte:
		return string(t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case decimal.Decimal:
		return t.String()
	case *int:
		if t == nil {
			return "\x00"
		}
		return strconv.Itoa(*t)
	case *float64:
		if t == nil {
			return "\x00"
		}
		return strconv.FormatFloat(*t, 'g', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
