// Package tlscert loads the HTTPS server certificate from PEM files and
// re-reads it on every handshake so rotated certificates are picked up
// without a restart.
package tlscert

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"

	"github.com/Saloed/GalaxyAPI/internal/logging"
)

// MinTLSVersion is the minimum supported TLS version for the server.
const MinTLSVersion = tls.VersionTLS12

// Files names the certificate and private key.
type Files struct {
	CertFile string
	KeyFile  string
}

// Load checks both files and the key pair once, then returns a server
// config whose certificate is loaded per handshake.
func Load(files Files, logger *logging.Logger) (*tls.Config, error) {
	if files.CertFile == "" {
		return nil, fmt.Errorf("server.tls_cert_file is required when server.tls_mode=file")
	}
	if files.KeyFile == "" {
		return nil, fmt.Errorf("server.tls_key_file is required when server.tls_mode=file")
	}
	if err := validateFile(files.CertFile); err != nil {
		return nil, fmt.Errorf("invalid certificate file: %w", err)
	}
	if err := validateFile(files.KeyFile); err != nil {
		return nil, fmt.Errorf("invalid key file: %w", err)
	}
	if err := checkKeyFilePermissions(files.KeyFile); err != nil {
		return nil, fmt.Errorf("insecure key file permissions: %w", err)
	}
	if _, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile); err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}

	if logger == nil {
		logger = logging.Discard()
	}
	return &tls.Config{
		MinVersion: MinTLSVersion,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
			if err != nil {
				logger.Error("failed to reload certificate",
					slog.String("cert_file", files.CertFile),
					slog.String("error", err.Error()))
				return nil, err
			}
			return &cert, nil
		},
	}, nil
}

func validateFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("file not accessible: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("path is a directory, not a file")
	}
	if info.Size() == 0 {
		return fmt.Errorf("file is empty")
	}
	return nil
}

// checkKeyFilePermissions rejects keys readable by group or others.
func checkKeyFilePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		return fmt.Errorf("key file has insecure permissions %o (should be 0600 or 0400)", mode)
	}
	return nil
}
