package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/tupyy/log-collector-agent/internal/config"
	"github.com/tupyy/log-collector-agent/internal/models"
	"github.com/tupyy/log-collector-agent/pkg/events"
)

var (
	ErrAuthFailed         = errors.New("authentication failed")
	ErrConnectTimeout     = errors.New("connection timed out")
	ErrNetwork            = errors.New("network error")
	ErrChannelUnavailable = errors.New("channel unavailable: session not connected")
	ErrAlreadyConnected   = errors.New("a session is already established")
)

// ConnectionState is the payload of connection_state_changed events.
type ConnectionState struct {
	State models.SessionState `json:"state"`
	Addr  string              `json:"addr,omitempty"`
}

// Session owns the one live SSH transport and its SFTP subsystem. Components
// borrow the channel through WithChannel; they never own it. A background
// keep-alive probe guards transport liveness and drives bounded reconnects.
type Session struct {
	cfg config.Collector
	bus *events.Bus

	mu      sync.Mutex
	state   models.SessionState
	profile *models.ConnectionProfile
	client  *ssh.Client
	sftp    *sftp.Client
	closeCh chan any

	// channelMu serializes channel use: the SFTP/command channel is not
	// safely shared, so discovery and transfer calls queue here.
	channelMu sync.Mutex
}

func NewSession(cfg config.Collector, bus *events.Bus) *Session {
	return &Session{
		cfg:   cfg,
		bus:   bus,
		state: models.SessionStateDisconnected,
	}
}

func (s *Session) State() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Profile() *models.ConnectionProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// Connect establishes the transport and the SFTP channel, then starts the
// keep-alive loop. Only one session may be alive at a time.
func (s *Session) Connect(ctx context.Context, profile models.ConnectionProfile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	s.applyProfileDefaults(&profile)

	s.mu.Lock()
	if s.state != models.SessionStateDisconnected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.setStateLocked(models.SessionStateConnecting)
	s.mu.Unlock()

	client, sftpClient, err := s.dial(ctx, profile)
	if err != nil {
		s.mu.Lock()
		s.setStateLocked(models.SessionStateDisconnected)
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.client = client
	s.sftp = sftpClient
	s.profile = &profile
	s.closeCh = make(chan any)
	s.setStateLocked(models.SessionStateConnected)
	closeCh := s.closeCh
	s.mu.Unlock()

	if profile.KeepAliveInterval > 0 {
		go s.keepAlive(profile, closeCh)
	}

	zap.S().Infow("ssh session established", "addr", profile.Addr(), "user", profile.Username)
	return nil
}

// Disconnect tears down the transport. Safe to call in any state.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
	if s.state != models.SessionStateDisconnected {
		s.setStateLocked(models.SessionStateDisconnected)
	}
	s.profile = nil
	zap.S().Info("ssh session closed")
}

// WithChannel runs fn with exclusive access to the session channel. While the
// keep-alive loop has the session degraded or reconnecting it waits for the
// outcome instead of failing, bounded by ctx; it returns
// ErrChannelUnavailable only once the session is disconnected.
func (s *Session) WithChannel(ctx context.Context, fn func(Channel) error) error {
	s.channelMu.Lock()
	defer s.channelMu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.mu.Lock()
		state := s.state
		if state == models.SessionStateConnected && s.client != nil && s.sftp != nil {
			ch := &sshChannel{client: s.client, sftp: s.sftp}
			s.mu.Unlock()
			return fn(ch)
		}
		s.mu.Unlock()

		switch state {
		case models.SessionStateConnecting, models.SessionStateDegraded, models.SessionStateReconnecting:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
		default:
			return ErrChannelUnavailable
		}
	}
}

func (s *Session) applyProfileDefaults(p *models.ConnectionProfile) {
	if p.ConnectTimeout == 0 {
		p.ConnectTimeout = s.cfg.ConnectTimeout
	}
	if p.KeepAliveInterval == 0 {
		p.KeepAliveInterval = s.cfg.KeepAliveInterval
	}
	if p.ReconnectAttempts == 0 {
		p.ReconnectAttempts = s.cfg.ReconnectAttempts
	}
	if p.ReconnectBackoff == 0 {
		p.ReconnectBackoff = s.cfg.ReconnectBackoff
	}
}

func (s *Session) dial(ctx context.Context, profile models.ConnectionProfile) (*ssh.Client, *sftp.Client, error) {
	authMethods, err := buildAuthMethods(profile)
	if err != nil {
		return nil, nil, err
	}

	sshCfg := &ssh.ClientConfig{
		User:            profile.Username,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         profile.ConnectTimeout,
	}

	dialer := net.Dialer{Timeout: profile.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", profile.Addr())
	if err != nil {
		return nil, nil, classifyDialError(err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, profile.Addr(), sshCfg)
	if err != nil {
		_ = conn.Close()
		return nil, nil, classifyDialError(err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("opening sftp subsystem: %w", err)
	}
	return client, sftpClient, nil
}

func buildAuthMethods(profile models.ConnectionProfile) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if profile.PrivateKeyPath != "" {
		key, err := os.ReadFile(profile.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("reading private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parsing private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if profile.Password != "" {
		methods = append(methods, ssh.Password(profile.Password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("profile has neither password nor private key")
	}
	return methods, nil
}

func classifyDialError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrConnectTimeout, err)
	}
	if strings.Contains(err.Error(), "unable to authenticate") ||
		strings.Contains(err.Error(), "auth") && strings.Contains(err.Error(), "fail") {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

// keepAlive probes the transport until the session is closed. A failed probe
// degrades the session and triggers bounded reconnect attempts; exhausting
// them leaves the session disconnected.
func (s *Session) keepAlive(profile models.ConnectionProfile, closeCh chan any) {
	tick := time.NewTicker(profile.KeepAliveInterval)
	defer func() {
		tick.Stop()
		zap.S().Debugw("keep-alive loop stopped", "addr", profile.Addr())
	}()

	for {
		select {
		case <-tick.C:
		case <-closeCh:
			return
		}

		if s.probe() == nil {
			continue
		}

		zap.S().Warnw("keep-alive probe failed, session degraded", "addr", profile.Addr())
		s.mu.Lock()
		s.setStateLocked(models.SessionStateDegraded)
		s.mu.Unlock()

		if !s.reconnect(profile, closeCh) {
			return
		}
	}
}

func (s *Session) probe() error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return ErrChannelUnavailable
	}
	// Global request on the muxed transport; independent of any in-flight
	// channel operation.
	_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
	return err
}

// reconnect runs the bounded reconnect policy. It returns false when the
// session ends up disconnected (either exhausted attempts or closed).
func (s *Session) reconnect(profile models.ConnectionProfile, closeCh chan any) bool {
	for attempt := 1; attempt <= profile.ReconnectAttempts; attempt++ {
		select {
		case <-closeCh:
			return false
		case <-time.After(profile.ReconnectBackoff * time.Duration(attempt)):
		}

		s.mu.Lock()
		s.setStateLocked(models.SessionStateReconnecting)
		s.mu.Unlock()

		zap.S().Infow("reconnect attempt", "attempt", attempt, "max", profile.ReconnectAttempts, "addr", profile.Addr())

		ctx, cancel := context.WithTimeout(context.Background(), profile.ConnectTimeout)
		client, sftpClient, err := s.dial(ctx, profile)
		cancel()
		if err != nil {
			zap.S().Warnw("reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}

		s.mu.Lock()
		s.closeClientsLocked()
		s.client = client
		s.sftp = sftpClient
		s.setStateLocked(models.SessionStateConnected)
		s.mu.Unlock()

		zap.S().Infow("session reconnected", "addr", profile.Addr())
		return true
	}

	zap.S().Errorw("reconnect attempts exhausted, session disconnected", "addr", profile.Addr())
	s.mu.Lock()
	s.closeClientsLocked()
	s.setStateLocked(models.SessionStateDisconnected)
	s.mu.Unlock()
	return false
}

func (s *Session) setStateLocked(state models.SessionState) {
	if s.state == state {
		return
	}
	zap.S().Debugw("session state transition", "from", s.state, "to", state)
	s.state = state

	payload := ConnectionState{State: state}
	if s.profile != nil {
		payload.Addr = s.profile.Addr()
	}
	if s.bus != nil {
		s.bus.Publish(events.TypeConnectionStateChanged, payload)
	}
}

func (s *Session) closeClientsLocked() {
	if s.sftp != nil {
		_ = s.sftp.Close()
		s.sftp = nil
	}
	if s.client != nil {
		_ = s.client.Close()
		s.client = nil
	}
}

func (s *Session) teardownLocked() {
	if s.closeCh != nil {
		close(s.closeCh)
		s.closeCh = nil
	}
	s.closeClientsLocked()
}
