package models

// SourceKind discriminates between log roots reached over SFTP and roots on
// the local filesystem.
type SourceKind string

const (
	SourceKindRemote SourceKind = "remote"
	SourceKindLocal  SourceKind = "local"
)

// SourceSpec identifies one log source root selected for collection.
type SourceSpec struct {
	Kind     SourceKind
	RootPath string
	Label    string
}

func (s SourceSpec) IsRemote() bool {
	return s.Kind == SourceKindRemote
}
