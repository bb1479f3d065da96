package extract

import (
	"fmt"
	"strings"
)

// StructuralError means the source cannot be mapped at all: a required canonical
// field has no column in the header. The whole batch is rejected.
type StructuralError struct {
	Institution string
	Missing     []string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("institution %s: missing required columns after mapping: %s",
		e.Institution, strings.Join(e.Missing, ", "))
}

// RowParseError describes one dropped row. The batch carries on without it.
type RowParseError struct {
	Row    int // 1-based data row, header excluded
	Field  string
	Value  string
	Reason string
}

func (e *RowParseError) Error() string {
	return fmt.Sprintf("row %d: %s %q: %s", e.Row, e.Field, e.Value, e.Reason)
}
