package services

import (
	"fmt"
	"regexp"
	"time"

	"github.com/tupyy/log-collector-agent/internal/models"
)

// Filter is a compiled, side-effect free predicate over file metadata.
// Directories always pass: traversal and inclusion are distinct decisions,
// the pattern applies to leaf files only.
type Filter struct {
	pattern *regexp.Regexp
	since   time.Time
}

// CompileFilter validates the configuration and compiles the predicates.
// An invalid regular expression is a configuration error raised here, never
// mid-traversal. When both pattern and since are present every predicate
// must pass.
func CompileFilter(cfg models.FilterConfig) (*Filter, error) {
	f := &Filter{}

	switch cfg.Mode {
	case models.FilterModeAll, "":
	case models.FilterModePattern:
		if cfg.Pattern == "" {
			return nil, fmt.Errorf("pattern filter requires a pattern")
		}
	case models.FilterModeDateSince:
		if cfg.Since.IsZero() {
			return nil, fmt.Errorf("date filter requires a since timestamp")
		}
	default:
		return nil, fmt.Errorf("unknown filter mode %q", cfg.Mode)
	}

	if cfg.Pattern != "" {
		re, err := regexp.Compile(cfg.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid filter pattern %q: %w", cfg.Pattern, err)
		}
		f.pattern = re
	}
	f.since = cfg.Since

	return f, nil
}

// Matches reports whether the entry qualifies for collection.
func (f *Filter) Matches(entry models.FileEntry) bool {
	if entry.IsDir {
		return true
	}
	if f.pattern != nil && !f.pattern.MatchString(entry.Name()) {
		return false
	}
	if !f.since.IsZero() && entry.ModifiedAt.Before(f.since) {
		return false
	}
	return true
}

// ParseSince parses the date formats accepted by the front end:
// "2006-01-02" and "2006-01-02 15:04:05" (with T accepted as separator).
func ParseSince(value string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or YYYY-MM-DD HH:MM:SS", value)
}
