package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/pkg/sftp"
	"go.uber.org/zap"

	"github.com/tupyy/log-collector-agent/internal/models"
)

// ErrRootInaccessible is returned when the source root itself cannot be
// listed. Permission failures below the root are recoverable.
var ErrRootInaccessible = errors.New("source root inaccessible")

// DirLister is the listing capability discovery needs from a source.
// Remote sources are backed by the session channel, local sources by the
// filesystem.
type DirLister interface {
	ReadDir(path string) ([]os.FileInfo, error)
}

type localLister struct{}

func (localLister) ReadDir(dir string) ([]os.FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	infos := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			// Entry vanished between listing and stat; staleness is a
			// recognized race, skip it.
			zap.S().Debugw("skipping stale entry", "dir", dir, "name", e.Name(), "error", err)
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// LocalLister returns the DirLister over the local filesystem.
func LocalLister() DirLister {
	return localLister{}
}

// Discover walks the source root depth-first and returns every file entry
// accepted by the filter, paths relative to the root. Directories are always
// descended into regardless of the filter; symbolic links are never
// followed. Recoverable problems (permission denied below the root, stale
// entries) are returned alongside the result; the walk continues past them.
//
// Cancellation is honored between directory listings and entry yields: the
// partial result accumulated so far is returned together with ctx.Err().
func Discover(ctx context.Context, source models.SourceSpec, filter *Filter, lister DirLister) ([]models.FileEntry, []models.CollectionError, error) {
	root := cleanPath(source, source.RootPath)

	var (
		entries []models.FileEntry
		errs    []models.CollectionError
		visited = map[string]bool{}
	)

	var walk func(dir string) error
	walk = func(dir string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if visited[dir] {
			return nil
		}
		visited[dir] = true

		infos, err := lister.ReadDir(dir)
		if err != nil {
			if dir == root {
				return fmt.Errorf("%w: %s: %v", ErrRootInaccessible, dir, err)
			}
			errs = append(errs, models.CollectionError{
				FilePath:    dir,
				Kind:        errorKindFor(err),
				Message:     err.Error(),
				Recoverable: true,
			})
			zap.S().Warnw("skipping unreadable directory", "dir", dir, "error", err)
			return nil
		}

		sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })

		for _, info := range infos {
			if err := ctx.Err(); err != nil {
				return err
			}

			full := joinPath(source, dir, info.Name())

			if info.Mode()&os.ModeSymlink != 0 {
				zap.S().Debugw("symlink not followed", "path", full)
				continue
			}

			if info.IsDir() {
				if err := walk(full); err != nil {
					return err
				}
				continue
			}

			entry := models.FileEntry{
				Path:         relPath(root, full),
				AbsolutePath: full,
				Size:         info.Size(),
				ModifiedAt:   info.ModTime(),
			}
			if filter.Matches(entry) {
				entries = append(entries, entry)
			}
		}
		return nil
	}

	if err := walk(root); err != nil {
		return entries, errs, err
	}

	zap.S().Infow("discovery finished", "source", source.Label, "root", root, "files", len(entries), "recoverable_errors", len(errs))
	return entries, errs, nil
}

func errorKindFor(err error) models.ErrorKind {
	if isPermission(err) {
		return models.ErrorKindPermission
	}
	return models.ErrorKindDiscovery
}

func isPermission(err error) bool {
	return os.IsPermission(err) || errors.Is(err, sftp.ErrSSHFxPermissionDenied)
}

// Remote paths are always POSIX; local paths go through filepath and are
// normalized to forward slashes in the relative form so archive entries and
// destination layouts are uniform.
func cleanPath(source models.SourceSpec, p string) string {
	if source.IsRemote() {
		return path.Clean(p)
	}
	return filepath.Clean(p)
}

func joinPath(source models.SourceSpec, dir, name string) string {
	if source.IsRemote() {
		return path.Join(dir, name)
	}
	return filepath.Join(dir, name)
}

func relPath(root, full string) string {
	rel, err := filepath.Rel(root, full)
	if err != nil {
		return filepath.ToSlash(full)
	}
	return filepath.ToSlash(rel)
}
