package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/tupyy/log-collector-agent/pkg/events"
)

// ErrInsufficientSpace is terminal: a transfer or compression that cannot
// fit must not start.
var ErrInsufficientSpace = errors.New("insufficient disk space")

// DiskSpaceWarning is the payload of disk_space_warning events.
type DiskSpaceWarning struct {
	Path      string `json:"path"`
	FreeBytes uint64 `json:"freeBytes"`
	Required  uint64 `json:"requiredBytes"`
}

// SpaceMonitor answers whether an operation of a known uncompressed size can
// commit to a path. The check is conservative: compression ratios are
// unknown in advance so the estimate uses raw sizes plus a configured
// margin.
type SpaceMonitor struct {
	margin int64
	bus    *events.Bus
}

func NewSpaceMonitor(margin int64, bus *events.Bus) *SpaceMonitor {
	return &SpaceMonitor{margin: margin, bus: bus}
}

// CheckLocal verifies the filesystem holding path has room for requiredBytes
// plus the margin.
func (m *SpaceMonitor) CheckLocal(path string, requiredBytes int64) error {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return fmt.Errorf("statfs %s: %w", path, err)
	}
	free := stat.Bavail * uint64(stat.Bsize)
	return m.check(path, free, requiredBytes)
}

// CheckRemote verifies free space on the remote filesystem holding path,
// queried over the session channel.
func (m *SpaceMonitor) CheckRemote(ctx context.Context, ch Channel, path string, requiredBytes int64) error {
	free, err := ch.FreeSpace(ctx, path)
	if err != nil {
		return fmt.Errorf("querying remote free space for %s: %w", path, err)
	}
	return m.check(path, free, requiredBytes)
}

func (m *SpaceMonitor) check(path string, free uint64, requiredBytes int64) error {
	required := uint64(requiredBytes)
	withMargin := required + uint64(m.margin)

	if free < required {
		return fmt.Errorf("%w: %s has %d bytes free, need %d", ErrInsufficientSpace, path, free, required)
	}
	if free < withMargin {
		zap.S().Warnw("disk space low", "path", path, "free", free, "required", required, "margin", m.margin)
		if m.bus != nil {
			m.bus.Publish(events.TypeDiskSpaceWarning, DiskSpaceWarning{Path: path, FreeBytes: free, Required: required})
		}
	}
	return nil
}
