package mart

import (
	"fmt"
	"time"
)

// ValidationError reports a malformed or incomplete input record.
//
// Validation errors are record-local: the loaders reject the record, report it,
// and continue with the rest of the batch.
type ValidationError struct {
	Kind        string // e.g. "dim_customer", "order_line"
	BusinessKey string
	Field       string
	Reason      string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s key=%q field=%s: %s", e.Kind, e.BusinessKey, e.Field, e.Reason)
}

// ReferentialGapError reports a fact event referencing a dimension that has no
// version valid at the event's business timestamp.
//
// The fact loader defers such events for retry after dimension catch-up; they
// are never silently dropped.
type ReferentialGapError struct {
	Dimension   Dimension
	BusinessKey string
	At          time.Time
}

func (e *ReferentialGapError) Error() string {
	return fmt.Sprintf("referential gap: %s key=%q has no version valid at %s",
		e.Dimension, e.BusinessKey, e.At.UTC().Format(time.RFC3339))
}

// ConflictError reports that two writers raced on the same dimension business
// key: the conditional close of the current row matched zero rows.
//
// Callers recover by re-reading the current version and retrying.
type ConflictError struct {
	Dimension   Dimension
	BusinessKey string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s key=%q current row changed underneath writer", e.Dimension, e.BusinessKey)
}

// RefreshTimeoutError reports that a materialized view rebuild exceeded its
// deadline. The previously published view remains intact.
type RefreshTimeoutError struct {
	View    string
	Timeout time.Duration
}

func (e *RefreshTimeoutError) Error() string {
	return fmt.Sprintf("refresh timeout: view %s exceeded %s; old version left in place", e.View, e.Timeout)
}
