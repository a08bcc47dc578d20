package models

import "time"

// FilterMode selects the primary predicate of a filter pass.
type FilterMode string

const (
	FilterModeAll       FilterMode = "all"
	FilterModePattern   FilterMode = "pattern"
	FilterModeDateSince FilterMode = "date_since"
)

// FilterConfig describes which files qualify for collection. When both
// Pattern and Since are set, a file qualifies only if it satisfies both
// predicates.
type FilterConfig struct {
	Mode    FilterMode
	Pattern string
	Since   time.Time
}
