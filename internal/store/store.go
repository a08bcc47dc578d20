package store

import "database/sql"

// Store provides access to all storage repositories.
type Store struct {
	db       *sql.DB
	profiles *ProfilesStore
	jobs     *JobsStore
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:       db,
		profiles: NewProfilesStore(db),
		jobs:     NewJobsStore(db),
	}
}

func (s *Store) Profiles() *ProfilesStore {
	return s.profiles
}

func (s *Store) Jobs() *JobsStore {
	return s.jobs
}

func (s *Store) Close() error {
	return s.db.Close()
}
