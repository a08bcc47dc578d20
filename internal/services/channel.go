package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// Channel is the borrowed view over the session's SFTP subsystem and shell
// command execution. The session hands out exactly one channel at a time;
// callers must not retain it beyond the WithChannel callback.
type Channel interface {
	ReadDir(path string) ([]os.FileInfo, error)
	Stat(path string) (os.FileInfo, error)
	Open(path string) (io.ReadCloser, error)
	Remove(path string) error

	// FreeSpace returns the available bytes on the filesystem holding path.
	FreeSpace(ctx context.Context, path string) (uint64, error)

	// Run executes a shell command on the remote host and returns its
	// stdout, stderr and exit code. The command is aborted when ctx expires.
	Run(ctx context.Context, cmd string) (stdout, stderr string, exitCode int, err error)
}

// sshChannel implements Channel over one live ssh transport.
type sshChannel struct {
	client *ssh.Client
	sftp   *sftp.Client
}

func (c *sshChannel) ReadDir(path string) ([]os.FileInfo, error) {
	return c.sftp.ReadDir(path)
}

func (c *sshChannel) Stat(path string) (os.FileInfo, error) {
	return c.sftp.Stat(path)
}

func (c *sshChannel) Open(path string) (io.ReadCloser, error) {
	return c.sftp.Open(path)
}

func (c *sshChannel) Remove(path string) error {
	return c.sftp.Remove(path)
}

func (c *sshChannel) FreeSpace(ctx context.Context, path string) (uint64, error) {
	// statvfs@openssh.com is an extension; fall back to df when the server
	// does not support it.
	vfs, err := c.sftp.StatVFS(path)
	if err == nil {
		return vfs.FreeSpace(), nil
	}
	zap.S().Debugw("statvfs not supported, falling back to df", "path", path, "error", err)

	stdout, _, exitCode, err := c.Run(ctx, fmt.Sprintf(`df -B1 %s | tail -1 | awk '{print $4}'`, shellQuote(path)))
	if err != nil {
		return 0, err
	}
	if exitCode != 0 {
		return 0, fmt.Errorf("df exited with code %d", exitCode)
	}
	free, err := strconv.ParseUint(strings.TrimSpace(stdout), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected df output %q: %w", stdout, err)
	}
	return free, nil
}

func (c *sshChannel) Run(ctx context.Context, cmd string) (string, string, int, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return "", "", -1, fmt.Errorf("opening exec session: %w", err)
	}
	defer session.Close()

	var stdout, stderr strings.Builder
	session.Stdout = &stdout
	session.Stderr = &stderr

	if err := session.Start(cmd); err != nil {
		return "", "", -1, fmt.Errorf("starting command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				return stdout.String(), stderr.String(), exitErr.ExitStatus(), nil
			}
			return stdout.String(), stderr.String(), -1, err
		}
		return stdout.String(), stderr.String(), 0, nil
	case <-ctx.Done():
		// Closing the session tears down the remote process. A stuck
		// command must not hang the whole job.
		_ = session.Close()
		return stdout.String(), stderr.String(), -1, ctx.Err()
	}
}

// shellQuote wraps a path in single quotes for safe interpolation into the
// remote shell command line.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
