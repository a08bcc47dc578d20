package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tupyy/log-collector-agent/internal/config"
	"github.com/tupyy/log-collector-agent/internal/models"
	"github.com/tupyy/log-collector-agent/internal/store"
	"github.com/tupyy/log-collector-agent/pkg/events"
	"github.com/tupyy/log-collector-agent/pkg/scheduler"
)

var (
	ErrCollectionInProgress = errors.New("collection already in progress")
	ErrNoActiveJob          = errors.New("no active collection job")
	ErrNoSources            = errors.New("at least one source is required")
)

// ChannelProvider is the borrowed view of the connection session the
// orchestrator works through. Satisfied by *Session; faked in tests.
type ChannelProvider interface {
	WithChannel(ctx context.Context, fn func(Channel) error) error
	State() models.SessionState
}

// CollectionRequest is the startCollection command payload. Paths narrows
// the job to an operator-chosen subset of the discovered files; each path is
// matched against the root-relative or the absolute form of an entry.
type CollectionRequest struct {
	Sources            []models.SourceSpec
	Filter             models.FilterConfig
	Paths              []string
	Compress           bool
	DeleteAfterCollect bool
	DestinationRoot    string
}

// CollectorService sequences discovery, compression, transfer and optional
// source deletion for one collection job at a time. Job state is owned by
// the scheduler worker running the job and published as snapshots; external
// cancellation goes through the job future's context.
type CollectorService struct {
	cfg       config.Collector
	scheduler *scheduler.Scheduler
	session   ChannelProvider
	store     *store.Store
	bus       *events.Bus
	space     *SpaceMonitor

	mu            sync.RWMutex
	job           *models.CollectionJob
	collectFuture *models.Future[models.Result[any]]
}

func NewCollectorService(cfg config.Collector, sched *scheduler.Scheduler, session ChannelProvider, st *store.Store, bus *events.Bus) *CollectorService {
	return &CollectorService{
		cfg:       cfg,
		scheduler: sched,
		session:   session,
		store:     st,
		bus:       bus,
		space:     NewSpaceMonitor(cfg.FreeSpaceMargin, bus),
	}
}

// Start validates the request and schedules the collection job. A second
// start while one job is running is rejected.
func (c *CollectorService) Start(ctx context.Context, req CollectionRequest) (string, error) {
	if len(req.Sources) == 0 {
		return "", ErrNoSources
	}
	filter, err := CompileFilter(req.Filter)
	if err != nil {
		return "", err
	}
	if req.DestinationRoot == "" {
		req.DestinationRoot = c.cfg.DestinationRoot
	}
	for _, src := range req.Sources {
		if src.IsRemote() && c.session.State() != models.SessionStateConnected {
			return "", ErrChannelUnavailable
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.collectFuture != nil && !c.collectFuture.IsResolved() {
		return "", ErrCollectionInProgress
	}

	job := &models.CollectionJob{
		ID:                 uuid.NewString(),
		Sources:            append([]models.SourceSpec(nil), req.Sources...),
		Filter:             req.Filter,
		SelectedPaths:      append([]string(nil), req.Paths...),
		Compress:           req.Compress,
		DeleteAfterCollect: req.DeleteAfterCollect,
		DestinationRoot:    req.DestinationRoot,
		Status:             models.JobStatusPending,
		StartedAt:          time.Now(),
	}
	c.job = job

	zap.S().Infow("collection job scheduled",
		"job", job.ID,
		"sources", len(job.Sources),
		"compress", job.Compress,
		"deleteAfterCollect", job.DeleteAfterCollect,
		"destination", job.DestinationRoot,
	)

	c.collectFuture = c.scheduler.AddWork(func(ctx context.Context) (any, error) {
		c.run(ctx, job, filter)
		return nil, nil
	})

	return job.ID, nil
}

// Cancel flips the active job into cancelling and cancels its context. The
// worker honors it at the next phase boundary or file boundary; an in-flight
// file transfer is allowed to finish.
func (c *CollectorService) Cancel(jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.collectFuture == nil || c.collectFuture.IsResolved() || c.job == nil {
		return ErrNoActiveJob
	}
	if jobID != "" && jobID != c.job.ID {
		return fmt.Errorf("job %s is not the active job", jobID)
	}

	zap.S().Infow("cancelling collection job", "job", c.job.ID)
	c.job.Status = models.JobStatusCancelling
	c.collectFuture.Stop()
	return nil
}

// Status returns a snapshot of the active or most recently finished job.
func (c *CollectorService) Status() (models.CollectionJob, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.job == nil {
		return models.CollectionJob{}, false
	}
	return c.job.Snapshot(), true
}

// ListFiles runs a standalone discovery pass over one source, the backing of
// the file browser in the front end.
func (c *CollectorService) ListFiles(ctx context.Context, source models.SourceSpec, filterCfg models.FilterConfig) ([]models.FileEntry, []models.CollectionError, error) {
	filter, err := CompileFilter(filterCfg)
	if err != nil {
		return nil, nil, err
	}

	if !source.IsRemote() {
		return Discover(ctx, source, filter, LocalLister())
	}

	var entries []models.FileEntry
	var errs []models.CollectionError
	err = c.session.WithChannel(ctx, func(ch Channel) error {
		var derr error
		entries, errs, derr = Discover(ctx, source, filter, ch)
		return derr
	})
	return entries, errs, err
}

// DeleteFiles removes the given files from a source. Paths must live under
// the source root. Failures are counted, not fatal.
func (c *CollectorService) DeleteFiles(ctx context.Context, source models.SourceSpec, paths []string) (int, int, error) {
	root := cleanPath(source, source.RootPath)
	sep := string(filepath.Separator)
	if source.IsRemote() {
		sep = "/"
	}
	for _, p := range paths {
		// Plain prefix matching would also admit siblings like
		// <root>-old, so the boundary separator is part of the check.
		cp := cleanPath(source, p)
		if cp != root && !strings.HasPrefix(cp, root+sep) {
			return 0, 0, fmt.Errorf("path %s is outside source root %s", p, root)
		}
	}

	deleted, failed := 0, 0
	remove := func(removeFn func(string) error) {
		for _, p := range paths {
			if err := removeFn(p); err != nil {
				zap.S().Warnw("file delete failed", "path", p, "error", err)
				failed++
				continue
			}
			deleted++
		}
	}

	if source.IsRemote() {
		err := c.session.WithChannel(ctx, func(ch Channel) error {
			remove(ch.Remove)
			return nil
		})
		if err != nil {
			return deleted, failed, err
		}
		return deleted, failed, nil
	}

	remove(os.Remove)
	return deleted, failed, nil
}

// sourceBatch is one source's discovered entry set, kept in discovery order.
type sourceBatch struct {
	source  models.SourceSpec
	entries []models.FileEntry
}

// run executes the whole job on the scheduler worker. Every mutation of the
// job goes through the service mutex so snapshots stay consistent.
func (c *CollectorService) run(ctx context.Context, job *models.CollectionJob, filter *Filter) {
	c.setStatus(job, models.JobStatusRunning, models.JobPhaseDiscovering)

	batches, terminalErr := c.discoverAll(ctx, job, filter)

	if terminalErr == nil {
		terminalErr = c.checkSpace(ctx, job)
	}

	if terminalErr == nil {
		for _, batch := range batches {
			if err := ctx.Err(); err != nil {
				terminalErr = err
				break
			}
			if len(batch.entries) == 0 {
				continue
			}
			if err := c.collectSource(ctx, job, batch); err != nil {
				terminalErr = err
				break
			}
		}
	}

	c.finalize(job, terminalErr)
}

func (c *CollectorService) discoverAll(ctx context.Context, job *models.CollectionJob, filter *Filter) ([]sourceBatch, error) {
	selected := make(map[string]bool, len(job.SelectedPaths))
	for _, p := range job.SelectedPaths {
		selected[p] = false
	}

	var batches []sourceBatch
	for _, source := range job.Sources {
		if err := ctx.Err(); err != nil {
			return batches, err
		}

		var (
			entries []models.FileEntry
			errs    []models.CollectionError
			err     error
		)
		if source.IsRemote() {
			err = c.session.WithChannel(ctx, func(ch Channel) error {
				var derr error
				entries, errs, derr = Discover(ctx, source, filter, ch)
				return derr
			})
		} else {
			entries, errs, err = Discover(ctx, source, filter, LocalLister())
		}

		c.appendErrors(job, errs...)

		if err != nil {
			if errors.Is(err, context.Canceled) {
				return batches, err
			}
			// An unreadable root (or a dead session) is terminal: the
			// operator selected this source explicitly.
			return batches, fmt.Errorf("discovering %s: %w", source.Label, err)
		}

		if len(selected) > 0 {
			var kept []models.FileEntry
			for _, e := range entries {
				if _, ok := selected[e.Path]; ok {
					selected[e.Path] = true
					kept = append(kept, e)
					continue
				}
				if _, ok := selected[e.AbsolutePath]; ok {
					selected[e.AbsolutePath] = true
					kept = append(kept, e)
				}
			}
			entries = kept
		}

		var total int64
		for _, e := range entries {
			total += e.Size
		}

		c.mu.Lock()
		job.TotalFiles += len(entries)
		job.TotalBytes += total
		c.mu.Unlock()

		batches = append(batches, sourceBatch{source: source, entries: entries})
	}

	for p, found := range selected {
		if found {
			continue
		}
		zap.S().Warnw("selected file not found in any source", "path", p)
		c.appendErrors(job, models.CollectionError{
			FilePath:    p,
			Kind:        models.ErrorKindDiscovery,
			Message:     "selected file not found",
			Recoverable: true,
		})
	}
	return batches, nil
}

func (c *CollectorService) checkSpace(ctx context.Context, job *models.CollectionJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.setPhase(job, models.JobPhaseSpaceChecking)

	if err := os.MkdirAll(job.DestinationRoot, 0o755); err != nil {
		return fmt.Errorf("creating destination root: %w", err)
	}

	c.mu.RLock()
	required := job.TotalBytes
	c.mu.RUnlock()

	if err := c.space.CheckLocal(job.DestinationRoot, required); err != nil {
		return err
	}

	if job.Compress {
		for _, source := range job.Sources {
			if !source.IsRemote() {
				continue
			}
			// Server-side archives are staged in the remote temp dir; the
			// estimate is the uncompressed total, deliberately conservative.
			err := c.session.WithChannel(ctx, func(ch Channel) error {
				return c.space.CheckRemote(ctx, ch, c.cfg.RemoteTempDir, required)
			})
			if err != nil {
				return err
			}
			break
		}
	}
	return nil
}

func (c *CollectorService) collectSource(ctx context.Context, job *models.CollectionJob, batch sourceBatch) error {
	switch {
	case job.Compress && batch.source.IsRemote():
		return c.collectRemoteCompressed(ctx, job, batch)
	case job.Compress:
		return c.collectLocalCompressed(ctx, job, batch)
	default:
		return c.transferFiles(ctx, job, batch)
	}
}

// collectRemoteCompressed archives the source on the remote host and
// downloads the single archive, minimizing network transfer. A failed
// remote command falls back to per-file download instead of aborting.
func (c *CollectorService) collectRemoteCompressed(ctx context.Context, job *models.CollectionJob, batch sourceBatch) error {
	c.setPhase(job, models.JobPhaseCompressing)

	archiveName := ArchiveName(batch.source.Label, ArchiveExtTarGz, job.StartedAt)
	remoteArchive := path.Join(c.cfg.RemoteTempDir, archiveName)
	root := path.Clean(batch.source.RootPath)

	cmdCtx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
	err := c.session.WithChannel(cmdCtx, func(ch Channel) error {
		return CompressRemote(cmdCtx, ch, c.cfg.ArchiveCommand, root, batch.entries, remoteArchive)
	})
	cancel()

	if err != nil {
		if errors.Is(err, ErrRemoteCommandFailed) {
			zap.S().Warnw("remote compression failed, falling back to per-file transfer",
				"job", job.ID, "source", batch.source.Label, "error", err)
			c.appendErrors(job, models.CollectionError{
				FilePath:    remoteArchive,
				Kind:        models.ErrorKindCompression,
				Message:     err.Error(),
				Recoverable: true,
			})
			return c.transferFiles(ctx, job, batch)
		}
		return err
	}

	c.setPhase(job, models.JobPhaseDownloading)
	localArchive := filepath.Join(job.DestinationRoot, archiveName)

	err = c.session.WithChannel(ctx, func(ch Channel) error {
		_, err := downloadFile(ch, remoteArchive, localArchive)
		return err
	})
	if err != nil {
		return fmt.Errorf("downloading archive %s: %w", remoteArchive, err)
	}

	members, err := VerifyArchive(localArchive)
	if err != nil {
		return fmt.Errorf("verifying archive %s: %w", localArchive, err)
	}

	// Remote staging cleanup is best-effort.
	if cerr := c.session.WithChannel(ctx, func(ch Channel) error { return ch.Remove(remoteArchive) }); cerr != nil {
		zap.S().Warnw("failed to remove remote archive", "path", remoteArchive, "error", cerr)
	}

	var sourceBytes int64
	for _, e := range batch.entries {
		sourceBytes += e.Size
	}

	c.mu.Lock()
	job.Artifacts = append(job.Artifacts, localArchive)
	job.CollectedFiles += len(batch.entries)
	job.TransferredBytes += sourceBytes
	job.CurrentFile = archiveName
	c.mu.Unlock()
	c.publishProgress(job)

	if job.DeleteAfterCollect && ctx.Err() == nil {
		c.deleteCollected(ctx, job, batch, memberSet(members))
	}
	return nil
}

// collectLocalCompressed archives local sources straight into the
// destination; entries keep their discovery-relative paths.
func (c *CollectorService) collectLocalCompressed(ctx context.Context, job *models.CollectionJob, batch sourceBatch) error {
	c.setPhase(job, models.JobPhaseCompressing)

	archiveName := ArchiveName(batch.source.Label, ArchiveExtZip, job.StartedAt)
	localArchive := filepath.Join(job.DestinationRoot, archiveName)

	included, errs, err := CompressLocal(batch.entries, localArchive)
	c.appendErrors(job, errs...)
	if err != nil {
		return err
	}

	members, err := VerifyArchive(localArchive)
	if err != nil {
		return fmt.Errorf("verifying archive %s: %w", localArchive, err)
	}

	var includedBytes int64
	for _, e := range included {
		includedBytes += e.Size
	}

	c.mu.Lock()
	job.Artifacts = append(job.Artifacts, localArchive)
	job.CollectedFiles += len(included)
	job.FailedFiles += len(batch.entries) - len(included)
	job.TransferredBytes += includedBytes
	job.CurrentFile = archiveName
	c.mu.Unlock()
	c.publishProgress(job)

	if job.DeleteAfterCollect && ctx.Err() == nil {
		c.deleteCollected(ctx, job, sourceBatch{source: batch.source, entries: included}, memberSet(members))
	}
	return nil
}

// transferFiles copies every entry individually, preserving the relative
// path structure under a timestamped destination folder. Per-file failures
// are recoverable; a dead channel is terminal.
func (c *CollectorService) transferFiles(ctx context.Context, job *models.CollectionJob, batch sourceBatch) error {
	c.setPhase(job, models.JobPhaseTransferring)

	base := filepath.Join(job.DestinationRoot, job.StartedAt.Format(archiveTimeFormat), batch.source.Label)
	var transferred []models.FileEntry

	for _, entry := range batch.entries {
		// Cancellation between files only: an in-flight write always runs
		// to completion so no partial destination file is left behind.
		if err := ctx.Err(); err != nil {
			break
		}

		dest := filepath.Join(base, filepath.FromSlash(entry.Path))

		var written int64
		var err error
		if batch.source.IsRemote() {
			err = c.session.WithChannel(ctx, func(ch Channel) error {
				written, err = downloadFile(ch, entry.AbsolutePath, dest)
				return err
			})
		} else {
			written, err = copyLocalFile(entry.AbsolutePath, dest)
		}

		if err != nil {
			if errors.Is(err, ErrChannelUnavailable) {
				return fmt.Errorf("transferring %s: %w", entry.Path, err)
			}
			zap.S().Warnw("file transfer failed", "job", job.ID, "path", entry.Path, "error", err)
			c.mu.Lock()
			job.FailedFiles++
			job.Errors = append(job.Errors, models.CollectionError{
				FilePath:    entry.Path,
				Kind:        transferErrorKind(err),
				Message:     err.Error(),
				Recoverable: true,
			})
			c.mu.Unlock()
			continue
		}

		transferred = append(transferred, entry)
		c.mu.Lock()
		job.CollectedFiles++
		job.TransferredBytes += written
		job.CurrentFile = entry.Path
		c.mu.Unlock()
		c.publishProgress(job)
	}

	// A cancelled job must leave every source file in place, including the
	// ones already transferred.
	if job.DeleteAfterCollect && len(transferred) > 0 && ctx.Err() == nil {
		all := memberSet(nil)
		for _, e := range transferred {
			all[e.Path] = true
		}
		c.deleteCollected(ctx, job, sourceBatch{source: batch.source, entries: transferred}, all)
	}
	return ctx.Err()
}

// deleteCollected removes source files after collection, but only those
// confirmed durable: present in the verified archive member set or fully
// transferred and renamed into place.
func (c *CollectorService) deleteCollected(ctx context.Context, job *models.CollectionJob, batch sourceBatch, confirmed map[string]bool) {
	c.setPhase(job, models.JobPhaseDeleting)

	var toDelete []models.FileEntry
	for _, e := range batch.entries {
		if confirmed[e.Path] {
			toDelete = append(toDelete, e)
			continue
		}
		zap.S().Warnw("skipping source delete, file not confirmed in archive", "path", e.Path)
	}

	removeAll := func(removeFn func(string) error) {
		for _, e := range toDelete {
			if err := removeFn(e.AbsolutePath); err != nil {
				zap.S().Warnw("source delete failed", "path", e.AbsolutePath, "error", err)
				c.appendErrors(job, models.CollectionError{
					FilePath:    e.Path,
					Kind:        models.ErrorKindDelete,
					Message:     err.Error(),
					Recoverable: true,
				})
			}
		}
	}

	if batch.source.IsRemote() {
		err := c.session.WithChannel(ctx, func(ch Channel) error {
			removeAll(ch.Remove)
			return nil
		})
		if err != nil {
			zap.S().Warnw("source delete pass failed", "source", batch.source.Label, "error", err)
		}
		return
	}
	removeAll(os.Remove)
}

func (c *CollectorService) finalize(job *models.CollectionJob, terminalErr error) {
	c.setPhase(job, models.JobPhaseFinalizing)

	c.mu.Lock()
	job.FinishedAt = time.Now()
	job.CurrentFile = ""
	switch {
	case terminalErr != nil && errors.Is(terminalErr, context.Canceled):
		job.Status = models.JobStatusCancelled
	case terminalErr != nil:
		job.Status = models.JobStatusFailed
		job.Errors = append(job.Errors, models.CollectionError{
			Kind:        terminalErrorKind(terminalErr),
			Message:     terminalErr.Error(),
			Recoverable: false,
		})
	default:
		job.Status = models.JobStatusCompleted
	}
	snapshot := job.Snapshot()
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Jobs().Insert(context.Background(), &snapshot); err != nil {
			zap.S().Errorw("failed to persist job record", "job", snapshot.ID, "error", err)
		}
	}

	switch snapshot.Status {
	case models.JobStatusFailed:
		zap.S().Errorw("collection job failed", "job", snapshot.ID, "error", terminalErr)
		c.publish(events.TypeJobFailed, snapshot.Summarize())
	default:
		zap.S().Infow("collection job finished",
			"job", snapshot.ID,
			"status", snapshot.Status,
			"collected", snapshot.CollectedFiles,
			"failed", snapshot.FailedFiles,
			"bytes", snapshot.TransferredBytes,
		)
		c.publish(events.TypeJobCompleted, snapshot.Summarize())
	}
}

func (c *CollectorService) setStatus(job *models.CollectionJob, status models.JobStatus, phase models.JobPhase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if job.Status == models.JobStatusCancelling && status == models.JobStatusRunning {
		return
	}
	zap.S().Debugw("job status transition", "job", job.ID, "from", job.Status, "to", status)
	job.Status = status
	job.Phase = phase
}

func (c *CollectorService) setPhase(job *models.CollectionJob, phase models.JobPhase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job.Phase = phase
}

func (c *CollectorService) appendErrors(job *models.CollectionJob, errs ...models.CollectionError) {
	if len(errs) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	job.Errors = append(job.Errors, errs...)
}

func (c *CollectorService) publishProgress(job *models.CollectionJob) {
	c.mu.RLock()
	progress := models.Progress{
		JobID:            job.ID,
		TransferredBytes: job.TransferredBytes,
		TotalBytes:       job.TotalBytes,
		CurrentFile:      job.CurrentFile,
	}
	c.mu.RUnlock()
	c.publish(events.TypeJobProgress, progress)
}

func (c *CollectorService) publish(eventType events.Type, payload any) {
	if c.bus != nil {
		c.bus.Publish(eventType, payload)
	}
}

func memberSet(members []string) map[string]bool {
	set := make(map[string]bool, len(members))
	for _, m := range members {
		set[path.Clean(m)] = true
	}
	return set
}

func transferErrorKind(err error) models.ErrorKind {
	if isPermission(err) {
		return models.ErrorKindPermission
	}
	return models.ErrorKindTransfer
}

func terminalErrorKind(err error) models.ErrorKind {
	switch {
	case errors.Is(err, ErrInsufficientSpace):
		return models.ErrorKindDiskSpace
	case errors.Is(err, ErrChannelUnavailable):
		return models.ErrorKindConnection
	case errors.Is(err, ErrRootInaccessible):
		return models.ErrorKindDiscovery
	case errors.Is(err, ErrRemoteCommandFailed), errors.Is(err, ErrLocalWriteFailed):
		return models.ErrorKindCompression
	default:
		return models.ErrorKindTransfer
	}
}

// downloadFile streams one remote file into localPath through a temp file
// plus rename, so the destination is never partially visible.
func downloadFile(ch Channel, remotePath, localPath string) (int64, error) {
	src, err := ch.Open(remotePath)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	return writeDurable(src, localPath)
}

func copyLocalFile(srcPath, destPath string) (int64, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	return writeDurable(src, destPath)
}

func writeDurable(src io.Reader, destPath string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".transfer-*")
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()

	written, err := io.Copy(tmp, src)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmpPath, destPath)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}
	return written, nil
}
