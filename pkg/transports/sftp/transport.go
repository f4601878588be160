// Package sftp uploads exported bundles to an ops file share.
//
// Deployments that need a change-control paper trail keep a copy of every
// update set bundle on a shared drop directory. The uploader opens an SSH
// connection, pushes the bundle over SFTP, and confirms the upload by
// reading the remote file back through a stat rather than trusting the
// write call.
package sftp

import (
	"time"
)

// ConnectionInfo describes an active connection to the file share.
type ConnectionInfo struct {
	Host string
	Port int
	User string

	ConnectedAt  time.Time
	LastActivity time.Time
}

// UploadResult reports where a bundle landed and how the transfer went.
type UploadResult struct {
	RemotePath       string
	BytesTransferred int64

	// Checksum is the SHA256 of the bundle as written locally. Compare
	// it against the share when auditing a transfer.
	Checksum string

	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
}

// TransportError classifies a transport failure so callers can decide
// between retrying and fixing credentials.
type TransportError struct {
	Op  string
	Err error

	IsTemporary bool
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
