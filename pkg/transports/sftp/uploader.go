package sftp

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	sftplib "github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Uploader pushes bundle files to the ops share over SFTP.
type Uploader struct {
	config *Config

	connMu      sync.RWMutex
	sshClient   *ssh.Client
	sftpClient  *sftplib.Client
	isConnected bool
	connectedAt time.Time
	lastUsedAt  time.Time
}

// NewUploader creates a new bundle uploader.
func NewUploader(config *Config) (*Uploader, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Uploader{
		config: config,
	}, nil
}

// Connect establishes the SSH connection and opens an SFTP session.
func (u *Uploader) Connect(ctx context.Context) error {
	u.connMu.Lock()
	defer u.connMu.Unlock()

	if u.isConnected && u.sftpClient != nil {
		// Already connected, verify the session is still alive
		if _, err := u.sftpClient.Getwd(); err == nil {
			return nil
		}
		log.Warn().Msg("existing connection is dead, reconnecting")
		u.closeLocked()
	}

	clientConfig, err := u.config.buildClientConfig()
	if err != nil {
		return &TransportError{
			Op:          "connect",
			Err:         err,
			IsTemporary: false,
			IsAuthError: true,
		}
	}

	address := u.config.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)

	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- client
	}()

	select {
	case <-ctx.Done():
		return &TransportError{
			Op:          "connect",
			Err:         ctx.Err(),
			IsTemporary: true,
			IsAuthError: false,
		}
	case err := <-errChan:
		return &TransportError{
			Op:          "connect",
			Err:         err,
			IsTemporary: true,
			IsAuthError: false,
		}
	case client := <-connChan:
		sftpClient, err := sftplib.NewClient(client)
		if err != nil {
			_ = client.Close()
			return &TransportError{
				Op:          "sftp-init",
				Err:         fmt.Errorf("failed to open SFTP session: %w", err),
				IsTemporary: true,
				IsAuthError: false,
			}
		}

		u.sshClient = client
		u.sftpClient = sftpClient
		u.isConnected = true
		u.connectedAt = time.Now()
		u.lastUsedAt = time.Now()

		log.Info().Str("address", address).Msg("SFTP connection established")
		return nil
	}
}

// Disconnect closes the SFTP session and the SSH connection.
func (u *Uploader) Disconnect() error {
	u.connMu.Lock()
	defer u.connMu.Unlock()

	if !u.isConnected {
		return nil
	}

	log.Debug().Str("host", u.config.Host).Msg("closing SFTP connection")

	err := u.closeLocked()
	if err != nil {
		return &TransportError{
			Op:          "disconnect",
			Err:         err,
			IsTemporary: false,
			IsAuthError: false,
		}
	}

	return nil
}

// closeLocked tears down both clients (must be called with lock held).
func (u *Uploader) closeLocked() error {
	var firstErr error

	if u.sftpClient != nil {
		if err := u.sftpClient.Close(); err != nil {
			firstErr = err
		}
		u.sftpClient = nil
	}
	if u.sshClient != nil {
		if err := u.sshClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		u.sshClient = nil
	}
	u.isConnected = false

	return firstErr
}

// IsConnected returns true if the uploader has an active connection.
func (u *Uploader) IsConnected() bool {
	u.connMu.RLock()
	defer u.connMu.RUnlock()
	return u.isConnected
}

// HealthCheck verifies the SFTP session is still alive and responsive.
func (u *Uploader) HealthCheck(ctx context.Context) error {
	u.connMu.RLock()
	defer u.connMu.RUnlock()

	if !u.isConnected || u.sftpClient == nil {
		return &TransportError{
			Op:          "healthcheck",
			Err:         fmt.Errorf("not connected"),
			IsTemporary: false,
			IsAuthError: false,
		}
	}

	if _, err := u.sftpClient.Getwd(); err != nil {
		return &TransportError{
			Op:          "healthcheck",
			Err:         err,
			IsTemporary: true,
			IsAuthError: false,
		}
	}

	return nil
}

// ConnectionInfo returns information about the current connection.
func (u *Uploader) ConnectionInfo() ConnectionInfo {
	u.connMu.RLock()
	defer u.connMu.RUnlock()

	return ConnectionInfo{
		Host:         u.config.Host,
		Port:         u.config.Port,
		User:         u.config.User,
		ConnectedAt:  u.connectedAt,
		LastActivity: u.lastUsedAt,
	}
}

// Upload pushes a local bundle file into the configured remote directory.
// The remote file keeps the local base name. After the copy the remote
// file is stat'ed and its size compared against the bytes written; a
// mismatch fails the upload even though every write call succeeded.
func (u *Uploader) Upload(ctx context.Context, localPath string) (*UploadResult, error) {
	startTime := time.Now()

	sftpClient, err := u.getClient()
	if err != nil {
		return nil, err
	}

	remotePath := path.Join(u.config.RemoteDir, filepath.Base(localPath))

	log.Debug().
		Str("local", localPath).
		Str("remote", remotePath).
		Msg("uploading bundle")

	localFile, err := os.Open(localPath)
	if err != nil {
		return nil, &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to open local file: %w", err),
			IsTemporary: false,
			IsAuthError: false,
		}
	}
	defer localFile.Close()

	if err := sftpClient.MkdirAll(u.config.RemoteDir); err != nil {
		return nil, &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to create remote directory: %w", err),
			IsTemporary: false,
			IsAuthError: false,
		}
	}

	remoteFile, err := sftpClient.Create(remotePath)
	if err != nil {
		return nil, &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to create remote file: %w", err),
			IsTemporary: true,
			IsAuthError: false,
		}
	}
	defer remoteFile.Close()

	// Hash while copying so the result carries the bundle checksum
	hash := sha256.New()
	bytesWritten, err := u.copyWithContext(ctx, io.MultiWriter(remoteFile, hash), localFile)
	if err != nil {
		return nil, &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to copy file: %w", err),
			IsTemporary: true,
			IsAuthError: false,
		}
	}

	if err := sftpClient.Chmod(remotePath, 0o644); err != nil {
		log.Warn().Err(err).Msg("failed to set file permissions")
	}

	// Read the share back; a clean write is not proof the bundle landed
	remoteInfo, err := sftpClient.Stat(remotePath)
	if err != nil {
		return nil, &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to stat uploaded file: %w", err),
			IsTemporary: true,
			IsAuthError: false,
		}
	}
	if remoteInfo.Size() != bytesWritten {
		return nil, &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("uploaded size mismatch: wrote %d bytes, share reports %d", bytesWritten, remoteInfo.Size()),
			IsTemporary: true,
			IsAuthError: false,
		}
	}

	finishedAt := time.Now()
	result := &UploadResult{
		RemotePath:       remotePath,
		BytesTransferred: bytesWritten,
		Checksum:         fmt.Sprintf("%x", hash.Sum(nil)),
		Duration:         finishedAt.Sub(startTime),
		StartedAt:        startTime,
		FinishedAt:       finishedAt,
	}

	log.Info().
		Str("local", localPath).
		Str("remote", remotePath).
		Int64("bytes", bytesWritten).
		Str("checksum", result.Checksum).
		Dur("duration", result.Duration).
		Msg("bundle uploaded successfully")

	return result, nil
}

// getClient returns the SFTP client (used internally by Upload).
func (u *Uploader) getClient() (*sftplib.Client, error) {
	u.connMu.Lock()
	defer u.connMu.Unlock()

	if !u.isConnected || u.sftpClient == nil {
		return nil, &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("not connected"),
			IsTemporary: false,
			IsAuthError: false,
		}
	}

	u.lastUsedAt = time.Now()
	return u.sftpClient, nil
}

// copyWithContext copies data from src to dst while respecting context cancellation.
func (u *Uploader) copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, err := src.Read(buf)
		if nr > 0 {
			nw, err := dst.Write(buf[0:nr])
			if nw > 0 {
				written += int64(nw)
			}
			if err != nil {
				return written, err
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return written, err
		}
	}

	return written, nil
}
