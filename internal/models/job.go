package models

import "time"

// JobStatus represents the lifecycle state of a collection job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusRunning    JobStatus = "running"
	JobStatusCancelling JobStatus = "cancelling"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether the job can no longer change.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCancelled || s == JobStatusCompleted || s == JobStatusFailed
}

// JobPhase is the internal sub-phase of a running job.
type JobPhase string

const (
	JobPhaseDiscovering   JobPhase = "discovering"
	JobPhaseSpaceChecking JobPhase = "space_checking"
	JobPhaseCompressing   JobPhase = "compressing"
	JobPhaseDownloading   JobPhase = "downloading"
	JobPhaseTransferring  JobPhase = "transferring"
	JobPhaseDeleting      JobPhase = "deleting"
	JobPhaseFinalizing    JobPhase = "finalizing"
)

// ErrorKind classifies collection errors for the job summary.
type ErrorKind string

const (
	ErrorKindDiscovery   ErrorKind = "discovery"
	ErrorKindPermission  ErrorKind = "permission_denied"
	ErrorKindTransfer    ErrorKind = "transfer"
	ErrorKindCompression ErrorKind = "compression"
	ErrorKindDelete      ErrorKind = "delete"
	ErrorKindConnection  ErrorKind = "connection"
	ErrorKindDiskSpace   ErrorKind = "disk_space"
)

// CollectionError is a single accumulated failure. Recoverable errors never
// abort the job; they are surfaced in the summary.
type CollectionError struct {
	FilePath    string    `json:"filePath"`
	Kind        ErrorKind `json:"kind"`
	Message     string    `json:"message"`
	Recoverable bool      `json:"recoverable"`
}

// CollectionJob describes an in-flight or finished collection. It is mutated
// only by the orchestrator worker and published as snapshots.
type CollectionJob struct {
	ID                 string
	Sources            []SourceSpec
	Filter             FilterConfig
	SelectedPaths      []string
	Compress           bool
	DeleteAfterCollect bool
	DestinationRoot    string

	Status      JobStatus
	Phase       JobPhase
	CurrentFile string

	TotalFiles     int
	CollectedFiles int
	FailedFiles    int

	TransferredBytes int64
	TotalBytes       int64

	StartedAt  time.Time
	FinishedAt time.Time

	Artifacts []string
	Errors    []CollectionError
}

// Snapshot returns a deep copy safe to hand to readers outside the
// orchestrator worker.
func (j *CollectionJob) Snapshot() CollectionJob {
	cp := *j
	cp.Sources = append([]SourceSpec(nil), j.Sources...)
	cp.SelectedPaths = append([]string(nil), j.SelectedPaths...)
	cp.Artifacts = append([]string(nil), j.Artifacts...)
	cp.Errors = append([]CollectionError(nil), j.Errors...)
	return cp
}

// Progress is emitted after each completed file or archive.
type Progress struct {
	JobID            string `json:"jobId"`
	TransferredBytes int64  `json:"transferredBytes"`
	TotalBytes       int64  `json:"totalBytes"`
	CurrentFile      string `json:"currentFile"`
}

// Summary is the terminal report of a job.
type Summary struct {
	JobID            string            `json:"jobId"`
	Status           JobStatus         `json:"status"`
	TotalFiles       int               `json:"totalFiles"`
	CollectedFiles   int               `json:"collectedFiles"`
	FailedFiles      int               `json:"failedFiles"`
	TransferredBytes int64             `json:"transferredBytes"`
	TotalBytes       int64             `json:"totalBytes"`
	Artifacts        []string          `json:"artifacts"`
	Errors           []CollectionError `json:"errors"`
}

// Summarize builds the terminal summary from a finished job.
func (j *CollectionJob) Summarize() Summary {
	snap := j.Snapshot()
	return Summary{
		JobID:            snap.ID,
		Status:           snap.Status,
		TotalFiles:       snap.TotalFiles,
		CollectedFiles:   snap.CollectedFiles,
		FailedFiles:      snap.FailedFiles,
		TransferredBytes: snap.TransferredBytes,
		TotalBytes:       snap.TotalBytes,
		Artifacts:        snap.Artifacts,
		Errors:           snap.Errors,
	}
}
