package models

import (
	"fmt"
	"path"
	"time"
)

// FileEntry is an immutable snapshot of a discovered file. Path is always
// relative to the source root it was discovered under; AbsolutePath is the
// full path on the origin filesystem (POSIX style for remote entries).
type FileEntry struct {
	Path         string
	AbsolutePath string
	Size         int64
	ModifiedAt   time.Time
	IsDir        bool
}

// Name returns the base filename. Pattern filters match against this, never
// against the full path.
func (e FileEntry) Name() string {
	return path.Base(e.Path)
}

// SizeString renders the size in a human readable form.
func (e FileEntry) SizeString() string {
	size := float64(e.Size)
	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if size < 1024.0 {
			return fmt.Sprintf("%.2f %s", size, unit)
		}
		size /= 1024.0
	}
	return fmt.Sprintf("%.2f TB", size)
}
