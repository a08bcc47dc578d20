package services

import (
	"archive/tar"
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/tupyy/log-collector-agent/internal/models"
)

const (
	ArchiveExtZip   = "zip"
	ArchiveExtTarGz = "tar.gz"

	archiveTimeFormat = "20060102_150405"
)

var (
	ErrRemoteCommandFailed = errors.New("remote compression command failed")
	ErrLocalWriteFailed    = errors.New("local archive write failed")
)

// ArchiveName builds the archive file name for a source label:
// <label>_<YYYYMMDD_HHMMSS>.<ext>.
func ArchiveName(label, ext string, now time.Time) string {
	return fmt.Sprintf("%s_%s.%s", label, now.Format(archiveTimeFormat), ext)
}

// CompressLocal archives the given files under their discovery-relative
// paths. The extension of destArchive selects the format (zip or tar.gz).
// The archive is written to a temp file and renamed into place, so it is
// either fully present or absent. Files that vanished since discovery are
// skipped and reported; the returned list holds the entries actually
// included.
func CompressLocal(files []models.FileEntry, destArchive string) ([]models.FileEntry, []models.CollectionError, error) {
	if err := os.MkdirAll(filepath.Dir(destArchive), 0o755); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrLocalWriteFailed, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(destArchive), ".archive-*")
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrLocalWriteFailed, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	var included []models.FileEntry
	var errs []models.CollectionError

	add := func(write func(entry models.FileEntry, src *os.File, info os.FileInfo) error) error {
		for _, entry := range files {
			src, err := os.Open(entry.AbsolutePath)
			if err != nil {
				errs = append(errs, recoverableArchiveError(entry, err))
				continue
			}
			info, err := src.Stat()
			if err != nil {
				_ = src.Close()
				errs = append(errs, recoverableArchiveError(entry, err))
				continue
			}
			err = write(entry, src, info)
			_ = src.Close()
			if err != nil {
				return err
			}
			included = append(included, entry)
		}
		return nil
	}

	switch {
	case strings.HasSuffix(destArchive, "."+ArchiveExtZip):
		zw := zip.NewWriter(tmp)
		zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(out, flate.DefaultCompression)
		})
		err = add(func(entry models.FileEntry, src *os.File, info os.FileInfo) error {
			hdr, err := zip.FileInfoHeader(info)
			if err != nil {
				return err
			}
			hdr.Name = entry.Path
			hdr.Method = zip.Deflate
			w, err := zw.CreateHeader(hdr)
			if err != nil {
				return err
			}
			_, err = io.Copy(w, src)
			return err
		})
		if err == nil {
			err = zw.Close()
		}

	case strings.HasSuffix(destArchive, "."+ArchiveExtTarGz):
		gz := gzip.NewWriter(tmp)
		tw := tar.NewWriter(gz)
		err = add(func(entry models.FileEntry, src *os.File, info os.FileInfo) error {
			hdr, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			hdr.Name = entry.Path
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			_, err = io.Copy(tw, src)
			return err
		})
		if err == nil {
			err = tw.Close()
		}
		if err == nil {
			err = gz.Close()
		}

	default:
		return nil, nil, fmt.Errorf("unsupported archive format: %s", destArchive)
	}

	if err != nil {
		return nil, errs, fmt.Errorf("%w: %v", ErrLocalWriteFailed, err)
	}

	if err := tmp.Sync(); err != nil {
		return nil, errs, fmt.Errorf("%w: %v", ErrLocalWriteFailed, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, errs, fmt.Errorf("%w: %v", ErrLocalWriteFailed, err)
	}
	if err := os.Rename(tmpPath, destArchive); err != nil {
		return nil, errs, fmt.Errorf("%w: %v", ErrLocalWriteFailed, err)
	}
	tmpPath = ""

	zap.S().Infow("local archive written", "archive", destArchive, "files", len(included), "skipped", len(errs))
	return included, errs, nil
}

func recoverableArchiveError(entry models.FileEntry, err error) models.CollectionError {
	zap.S().Warnw("file skipped during compression", "path", entry.AbsolutePath, "error", err)
	return models.CollectionError{
		FilePath:    entry.Path,
		Kind:        models.ErrorKindCompression,
		Message:     err.Error(),
		Recoverable: true,
	}
}

// CompressRemote archives the files on the remote host by rendering the
// configured command template and executing it over the channel. The
// template placeholders are {{archive}}, {{dir}} (the source root the file
// list is relative to) and {{files}}. A non-zero exit reports
// ErrRemoteCommandFailed; the caller decides whether to fall back to
// per-file download.
func CompressRemote(ctx context.Context, ch Channel, cmdTemplate string, root string, files []models.FileEntry, remoteArchive string) error {
	quoted := make([]string, 0, len(files))
	for _, f := range files {
		quoted = append(quoted, shellQuote(f.Path))
	}

	cmd := cmdTemplate
	cmd = strings.ReplaceAll(cmd, "{{archive}}", shellQuote(remoteArchive))
	cmd = strings.ReplaceAll(cmd, "{{dir}}", shellQuote(root))
	cmd = strings.ReplaceAll(cmd, "{{files}}", strings.Join(quoted, " "))

	zap.S().Infow("running remote compression", "archive", remoteArchive, "files", len(files))

	_, stderr, exitCode, err := ch.Run(ctx, cmd)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteCommandFailed, err)
	}
	if exitCode != 0 {
		return fmt.Errorf("%w: exit code %d: %s", ErrRemoteCommandFailed, exitCode, strings.TrimSpace(stderr))
	}
	return nil
}

// VerifyArchive reopens the archive through the same decompression path used
// for extraction and walks every entry. It returns the set of member paths;
// delete-after-collect only acts on files confirmed present here.
func VerifyArchive(archivePath string) ([]string, error) {
	switch {
	case strings.HasSuffix(archivePath, "."+ArchiveExtZip):
		zr, err := zip.OpenReader(archivePath)
		if err != nil {
			return nil, err
		}
		defer zr.Close()

		members := make([]string, 0, len(zr.File))
		for _, f := range zr.File {
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("corrupt archive member %s: %w", f.Name, err)
			}
			if _, err := io.Copy(io.Discard, rc); err != nil {
				_ = rc.Close()
				return nil, fmt.Errorf("corrupt archive member %s: %w", f.Name, err)
			}
			_ = rc.Close()
			members = append(members, f.Name)
		}
		return members, nil

	case strings.HasSuffix(archivePath, "."+ArchiveExtTarGz):
		f, err := os.Open(archivePath)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer gz.Close()

		var members []string
		tr := tar.NewReader(gz)
		for {
			hdr, err := tr.Next()
			if errors.Is(err, io.EOF) {
				return members, nil
			}
			if err != nil {
				return nil, err
			}
			if _, err := io.Copy(io.Discard, tr); err != nil {
				return nil, fmt.Errorf("corrupt archive member %s: %w", hdr.Name, err)
			}
			members = append(members, path.Clean(hdr.Name))
		}

	default:
		return nil, fmt.Errorf("unsupported archive format: %s", archivePath)
	}
}

// ExtractArchive unpacks the archive under destDir preserving relative
// paths. The inverse of CompressLocal: extracting an archive reproduces the
// collected tree byte for byte.
func ExtractArchive(archivePath, destDir string) error {
	switch {
	case strings.HasSuffix(archivePath, "."+ArchiveExtZip):
		zr, err := zip.OpenReader(archivePath)
		if err != nil {
			return err
		}
		defer zr.Close()
		for _, f := range zr.File {
			if err := extractMember(destDir, f.Name, func() (io.ReadCloser, error) { return f.Open() }); err != nil {
				return err
			}
		}
		return nil

	case strings.HasSuffix(archivePath, "."+ArchiveExtTarGz):
		f, err := os.Open(archivePath)
		if err != nil {
			return err
		}
		defer f.Close()
		gz, err := gzip.NewReader(f)
		if err != nil {
			return err
		}
		defer gz.Close()
		tr := tar.NewReader(gz)
		for {
			hdr, err := tr.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			if hdr.Typeflag != tar.TypeReg {
				continue
			}
			if err := extractMember(destDir, hdr.Name, func() (io.ReadCloser, error) {
				return io.NopCloser(tr), nil
			}); err != nil {
				return err
			}
		}

	default:
		return fmt.Errorf("unsupported archive format: %s", archivePath)
	}
}

func extractMember(destDir, name string, open func() (io.ReadCloser, error)) error {
	cleaned := path.Clean(name)
	if strings.HasPrefix(cleaned, "..") || path.IsAbs(cleaned) {
		return fmt.Errorf("archive member escapes destination: %s", name)
	}
	target := filepath.Join(destDir, filepath.FromSlash(cleaned))
	if strings.HasSuffix(name, "/") {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
