package models

import (
	"fmt"
	"time"
)

// SessionState represents the current state of the SSH connection session.
type SessionState string

const (
	// SessionStateDisconnected - no live transport
	SessionStateDisconnected SessionState = "disconnected"
	// SessionStateConnecting - dialing and authenticating
	SessionStateConnecting SessionState = "connecting"
	// SessionStateConnected - transport and SFTP channel established
	SessionStateConnected SessionState = "connected"
	// SessionStateDegraded - keep-alive probe failed, transport suspect
	SessionStateDegraded SessionState = "degraded"
	// SessionStateReconnecting - bounded reconnect attempts in progress
	SessionStateReconnecting SessionState = "reconnecting"
)

// ConnectionProfile holds everything needed to establish and maintain one
// SSH session. Immutable once a session is established.
type ConnectionProfile struct {
	Host              string
	Port              int
	Username          string
	Password          string
	PrivateKeyPath    string
	ConnectTimeout    time.Duration
	KeepAliveInterval time.Duration
	ReconnectAttempts int
	ReconnectBackoff  time.Duration
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (p ConnectionProfile) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

func (p ConnectionProfile) Validate() error {
	if p.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if p.Username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	if p.Port < 1 || p.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", p.Port)
	}
	return nil
}
