package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/tupyy/log-collector-agent/internal/models"
)

// ErrNotFound is returned when a record is not found.
var ErrNotFound = errors.New("not found")

// ProfilesStore persists the single connection profile using DuckDB.
// Durations are stored as nanoseconds.
type ProfilesStore struct {
	db *sql.DB
}

func NewProfilesStore(db *sql.DB) *ProfilesStore {
	return &ProfilesStore{db: db}
}

// Get retrieves the stored connection profile.
func (s *ProfilesStore) Get(ctx context.Context) (*models.ConnectionProfile, error) {
	row := s.db.QueryRowContext(ctx, queryGetProfile)

	var (
		p                                  models.ConnectionProfile
		connectTimeout, keepAlive, backoff int64
	)
	err := row.Scan(&p.Host, &p.Port, &p.Username, &p.Password, &p.PrivateKeyPath,
		&connectTimeout, &keepAlive, &p.ReconnectAttempts, &backoff,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.ConnectTimeout = time.Duration(connectTimeout)
	p.KeepAliveInterval = time.Duration(keepAlive)
	p.ReconnectBackoff = time.Duration(backoff)
	return &p, nil
}

// Save stores or updates the connection profile.
func (s *ProfilesStore) Save(ctx context.Context, p *models.ConnectionProfile) error {
	_, err := s.db.ExecContext(ctx, queryUpsertProfile,
		p.Host, p.Port, p.Username, p.Password, p.PrivateKeyPath,
		int64(p.ConnectTimeout), int64(p.KeepAliveInterval), p.ReconnectAttempts, int64(p.ReconnectBackoff))
	return err
}

// Delete removes the stored connection profile.
func (s *ProfilesStore) Delete(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, queryDeleteProfile)
	return err
}
