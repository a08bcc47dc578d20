package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/tupyy/log-collector-agent/internal/models"
)

// JobsStore persists finished collection jobs. Sources, filter, artifacts
// and errors are stored as JSON columns; only terminal jobs are written.
type JobsStore struct {
	db *sql.DB
}

func NewJobsStore(db *sql.DB) *JobsStore {
	return &JobsStore{db: db}
}

// Insert records a finished job.
func (s *JobsStore) Insert(ctx context.Context, job *models.CollectionJob) error {
	sources, err := json.Marshal(job.Sources)
	if err != nil {
		return fmt.Errorf("marshaling sources: %w", err)
	}
	filter, err := json.Marshal(job.Filter)
	if err != nil {
		return fmt.Errorf("marshaling filter: %w", err)
	}
	selectedPaths, err := json.Marshal(job.SelectedPaths)
	if err != nil {
		return fmt.Errorf("marshaling selected paths: %w", err)
	}
	artifacts, err := json.Marshal(job.Artifacts)
	if err != nil {
		return fmt.Errorf("marshaling artifacts: %w", err)
	}
	jobErrors, err := json.Marshal(job.Errors)
	if err != nil {
		return fmt.Errorf("marshaling errors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, queryInsertJob,
		job.ID, string(job.Status), string(job.Phase), job.Compress, job.DeleteAfterCollect, job.DestinationRoot,
		job.TotalFiles, job.CollectedFiles, job.FailedFiles, job.TransferredBytes, job.TotalBytes,
		job.StartedAt, job.FinishedAt, string(sources), string(filter), string(selectedPaths), string(artifacts), string(jobErrors))
	return err
}

// Get retrieves one job by id.
func (s *JobsStore) Get(ctx context.Context, id string) (*models.CollectionJob, error) {
	row := s.db.QueryRowContext(ctx, queryGetJob, id)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// List returns the most recent jobs, newest first.
func (s *JobsStore) List(ctx context.Context, limit int) ([]models.CollectionJob, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, queryListJobs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var jobs []models.CollectionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.CollectionJob, error) {
	var (
		job                                                     models.CollectionJob
		status, phase                                           string
		sources, filter, selectedPaths, artifacts, jobErrorsRaw string
	)
	err := row.Scan(&job.ID, &status, &phase, &job.Compress, &job.DeleteAfterCollect, &job.DestinationRoot,
		&job.TotalFiles, &job.CollectedFiles, &job.FailedFiles, &job.TransferredBytes, &job.TotalBytes,
		&job.StartedAt, &job.FinishedAt, &sources, &filter, &selectedPaths, &artifacts, &jobErrorsRaw)
	if err != nil {
		return nil, err
	}

	job.Status = models.JobStatus(status)
	job.Phase = models.JobPhase(phase)

	if err := json.Unmarshal([]byte(sources), &job.Sources); err != nil {
		return nil, fmt.Errorf("unmarshaling sources: %w", err)
	}
	if err := json.Unmarshal([]byte(filter), &job.Filter); err != nil {
		return nil, fmt.Errorf("unmarshaling filter: %w", err)
	}
	if err := json.Unmarshal([]byte(selectedPaths), &job.SelectedPaths); err != nil {
		return nil, fmt.Errorf("unmarshaling selected paths: %w", err)
	}
	if err := json.Unmarshal([]byte(artifacts), &job.Artifacts); err != nil {
		return nil, fmt.Errorf("unmarshaling artifacts: %w", err)
	}
	if err := json.Unmarshal([]byte(jobErrorsRaw), &job.Errors); err != nil {
		return nil, fmt.Errorf("unmarshaling errors: %w", err)
	}
	return &job, nil
}
