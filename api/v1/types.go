package v1

import "time"

// ConnectRequest configures and opens the SSH session.
type ConnectRequest struct {
	Host              string `json:"host" binding:"required"`
	Port              int    `json:"port"`
	Username          string `json:"username" binding:"required"`
	Password          string `json:"password,omitempty"`
	PrivateKeyPath    string `json:"privateKeyPath,omitempty"`
	ConnectTimeout    string `json:"connectTimeout,omitempty"`
	KeepAliveInterval string `json:"keepAliveInterval,omitempty"`
	ReconnectAttempts int    `json:"reconnectAttempts,omitempty"`
	ReconnectBackoff  string `json:"reconnectBackoff,omitempty"`
}

// ConnectionStatus describes the session state.
type ConnectionStatus struct {
	State    string `json:"state"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
}

// Source identifies a file tree to collect from.
type Source struct {
	Kind     string `json:"kind" binding:"required"`
	RootPath string `json:"rootPath" binding:"required"`
	Label    string `json:"label" binding:"required"`
}

// Filter selects files inside a source.
type Filter struct {
	Mode    string `json:"mode,omitempty"`
	Pattern string `json:"pattern,omitempty"`
	Since   string `json:"since,omitempty"`
}

// StartCollectionRequest launches a collection job. Paths, when present,
// narrows the job to the named files; each path is matched against the
// root-relative or the absolute form of a discovered entry.
type StartCollectionRequest struct {
	Sources            []Source `json:"sources" binding:"required"`
	Filter             Filter   `json:"filter"`
	Paths              []string `json:"paths,omitempty"`
	Compress           bool     `json:"compress"`
	DeleteAfterCollect bool     `json:"deleteAfterCollect"`
	DestinationRoot    string   `json:"destinationRoot,omitempty"`
}

// StartCollectionResponse carries the id of the scheduled job.
type StartCollectionResponse struct {
	JobID string `json:"jobId"`
}

// CollectionError is one recorded problem of a job.
type CollectionError struct {
	FilePath    string `json:"filePath,omitempty"`
	Kind        string `json:"kind"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// Job is the API view of a collection job.
type Job struct {
	ID                 string            `json:"id"`
	Sources            []Source          `json:"sources"`
	Filter             Filter            `json:"filter"`
	SelectedPaths      []string          `json:"selectedPaths,omitempty"`
	Compress           bool              `json:"compress"`
	DeleteAfterCollect bool              `json:"deleteAfterCollect"`
	DestinationRoot    string            `json:"destinationRoot"`
	Status             string            `json:"status"`
	Phase              string            `json:"phase,omitempty"`
	CurrentFile        string            `json:"currentFile,omitempty"`
	TotalFiles         int               `json:"totalFiles"`
	CollectedFiles     int               `json:"collectedFiles"`
	FailedFiles        int               `json:"failedFiles"`
	TransferredBytes   int64             `json:"transferredBytes"`
	TotalBytes         int64             `json:"totalBytes"`
	StartedAt          time.Time         `json:"startedAt"`
	FinishedAt         *time.Time        `json:"finishedAt,omitempty"`
	Artifacts          []string          `json:"artifacts,omitempty"`
	Errors             []CollectionError `json:"errors,omitempty"`
}

// JobList wraps the job history.
type JobList struct {
	Jobs []Job `json:"jobs"`
}

// FileQueryRequest lists files of one source through the filter.
type FileQueryRequest struct {
	Source Source `json:"source" binding:"required"`
	Filter Filter `json:"filter"`
}

// FileEntry is one discovered file.
type FileEntry struct {
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	SizeHuman  string    `json:"sizeHuman"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// FileQueryResponse is the discovery result.
type FileQueryResponse struct {
	Files  []FileEntry       `json:"files"`
	Errors []CollectionError `json:"errors,omitempty"`
}

// DeleteFilesRequest removes files from a source.
type DeleteFilesRequest struct {
	Source Source   `json:"source" binding:"required"`
	Paths  []string `json:"paths" binding:"required"`
}

// DeleteFilesResponse counts the outcome per file.
type DeleteFilesResponse struct {
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}
