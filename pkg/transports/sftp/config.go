package sftp

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Config holds connection settings for the ops share.
type Config struct {
	Host string
	Port int
	User string

	// Password is used when no private key is configured, or as a
	// fallback when the key is rejected.
	Password string

	PrivateKeyPath       string
	PrivateKeyPassphrase string

	// KnownHostsPath feeds host key verification. With an empty path,
	// or with StrictHostKeyChecking off, any host key is accepted.
	KnownHostsPath        string
	StrictHostKeyChecking bool

	// RemoteDir is where bundles land on the share.
	RemoteDir string

	ConnectTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(host string, user string) *Config {
	return &Config{
		Host:                  host,
		Port:                  22,
		User:                  user,
		KnownHostsPath:        filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		StrictHostKeyChecking: true,
		RemoteDir:             "/srv/glidepush/bundles",
		ConnectTimeout:        30 * time.Second,
	}
}

// Validate reports the first problem with the configuration.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.Password == "" && c.PrivateKeyPath == "" {
		return fmt.Errorf("either password or private key path is required")
	}
	if c.PrivateKeyPath != "" {
		if _, err := os.Stat(c.PrivateKeyPath); os.IsNotExist(err) {
			return fmt.Errorf("private key file not found: %s", c.PrivateKeyPath)
		}
	}
	if c.RemoteDir == "" {
		return fmt.Errorf("remote directory is required")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	return nil
}

// buildClientConfig assembles the ssh.ClientConfig. Key authentication
// is tried before password authentication when both are configured.
func (c *Config) buildClientConfig() (*ssh.ClientConfig, error) {
	var methods []ssh.AuthMethod

	if c.PrivateKeyPath != "" {
		signer, err := c.loadSigner()
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if c.Password != "" {
		methods = append(methods, passwordMethods(c.Password)...)
	}

	callback, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            methods,
		HostKeyCallback: callback,
		Timeout:         c.ConnectTimeout,
	}, nil
}

// loadSigner reads and parses the configured private key.
func (c *Config) loadSigner() (ssh.Signer, error) {
	keyBytes, err := os.ReadFile(c.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	var signer ssh.Signer
	if c.PrivateKeyPassphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(c.PrivateKeyPassphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyBytes)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return signer, nil
}

// passwordMethods returns plain password auth plus a keyboard-interactive
// responder. Many servers present their password prompt through
// keyboard-interactive rather than password auth.
func passwordMethods(password string) []ssh.AuthMethod {
	return []ssh.AuthMethod{
		ssh.Password(password),
		ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = password
			}
			return answers, nil
		}),
	}
}

func (c *Config) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.KnownHostsPath != "" && c.StrictHostKeyChecking {
		callback, err := knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
		return callback, nil
	}
	// Accepts any host key. Acceptable for lab shares only.
	return ssh.InsecureIgnoreHostKey(), nil
}

// Address returns the dial target as host:port.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
