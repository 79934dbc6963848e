package storage

import (
	"fmt"
	"strings"
)

// NormalizeKey converts a business key value to a canonical string form,
// suitable for in-memory lookup caches.
//
// Backends must not assume a particular underlying type for keys (drivers can
// return TEXT as string or []byte); this helper keeps caches consistent across
// backends.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case int64:
		return fmt.Sprintf("%d", t)
	case int:
		return fmt.Sprintf("%d", t)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
