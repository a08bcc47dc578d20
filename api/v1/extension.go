package v1

import (
	"time"

	"github.com/tupyy/log-collector-agent/internal/models"
)

func (s *ConnectionStatus) FromModel(state models.SessionState, profile *models.ConnectionProfile) {
	s.State = string(state)
	if profile != nil {
		s.Host = profile.Host
		s.Port = profile.Port
		s.Username = profile.Username
	}
}

func (s *Source) FromModel(m models.SourceSpec) {
	s.Kind = string(m.Kind)
	s.RootPath = m.RootPath
	s.Label = m.Label
}

func (s *Source) ToModel() models.SourceSpec {
	return models.SourceSpec{
		Kind:     models.SourceKind(s.Kind),
		RootPath: s.RootPath,
		Label:    s.Label,
	}
}

func (f *Filter) FromModel(m models.FilterConfig) {
	f.Mode = string(m.Mode)
	f.Pattern = m.Pattern
	if !m.Since.IsZero() {
		f.Since = m.Since.Format(time.RFC3339)
	}
}

func (e *CollectionError) FromModel(m models.CollectionError) {
	e.FilePath = m.FilePath
	e.Kind = string(m.Kind)
	e.Message = m.Message
	e.Recoverable = m.Recoverable
}

func (j *Job) FromModel(m models.CollectionJob) {
	j.ID = m.ID
	j.Sources = make([]Source, len(m.Sources))
	for i, s := range m.Sources {
		j.Sources[i].FromModel(s)
	}
	j.Filter.FromModel(m.Filter)
	j.SelectedPaths = append([]string(nil), m.SelectedPaths...)
	j.Compress = m.Compress
	j.DeleteAfterCollect = m.DeleteAfterCollect
	j.DestinationRoot = m.DestinationRoot
	j.Status = string(m.Status)
	j.Phase = string(m.Phase)
	j.CurrentFile = m.CurrentFile
	j.TotalFiles = m.TotalFiles
	j.CollectedFiles = m.CollectedFiles
	j.FailedFiles = m.FailedFiles
	j.TransferredBytes = m.TransferredBytes
	j.TotalBytes = m.TotalBytes
	j.StartedAt = m.StartedAt
	if !m.FinishedAt.IsZero() {
		finished := m.FinishedAt
		j.FinishedAt = &finished
	}
	j.Artifacts = append([]string(nil), m.Artifacts...)
	j.Errors = make([]CollectionError, len(m.Errors))
	for i, e := range m.Errors {
		j.Errors[i].FromModel(e)
	}
}

func (f *FileEntry) FromModel(m models.FileEntry) {
	f.Path = m.Path
	f.Size = m.Size
	f.SizeHuman = m.SizeString()
	f.ModifiedAt = m.ModifiedAt
}
