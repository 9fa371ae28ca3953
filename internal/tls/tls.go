// Package tls builds the daemon's server TLS config from explicit cert files
// or a directory, generating a self-signed pair on first use when asked.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/svcdeck/internal/config"
)

const (
	tlsCrt = "tls.crt"
	tlsKey = "tls.key"
)

// parseTLSVersion parses TLS version string and returns the corresponding constant
func parseTLSVersion(ver string) (uint16, error) {
	switch strings.ToLower(strings.TrimSpace(ver)) {
	case "", "default", "1.2", "tls1.2":
		return tls.VersionTLS12, nil
	case "1.3", "tls1.3":
		return tls.VersionTLS13, nil
	}
	return 0, fmt.Errorf("unsupported tls min_version %q", ver)
}

// Setup returns the server TLS config, or nil when TLS is disabled. Relative
// paths resolve against baseDir.
func Setup(c config.TLSConfig, baseDir string) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	minVer, err := parseTLSVersion(c.MinVersion)
	if err != nil {
		return nil, err
	}

	var certPath, keyPath string
	switch {
	case c.CertFile != "" && c.KeyFile != "":
		certPath, keyPath = resolve(baseDir, c.CertFile), resolve(baseDir, c.KeyFile)
	case c.Dir != "":
		dir := resolve(baseDir, c.Dir)
		certPath, keyPath = filepath.Join(dir, tlsCrt), filepath.Join(dir, tlsKey)
		if c.AutoGenerate && !certificatesExist(certPath, keyPath) {
			if err := GenerateSelfSignedCert(CertConfig{
				Hosts:    c.Hosts,
				NotAfter: time.Now().AddDate(0, 0, 365),
				CertPath: certPath,
				KeyPath:  keyPath,
			}); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	default:
		return nil, errors.New("tls enabled but neither cert_file/key_file nor dir is set")
	}

	// load once up front so a bad pair fails at startup, not on first handshake
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("load tls key pair: %w", err)
	}
	return &tls.Config{
		MinVersion:     minVer,
		GetCertificate: reloadingCertificate(certPath, keyPath),
	}, nil
}

// reloadingCertificate re-reads the pair on every handshake so rotated
// certificates apply without a restart.
func reloadingCertificate(certPath, keyPath string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, err
		}
		return &cert, nil
	}
}

func resolve(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) || baseDir == "" {
		return filepath.Clean(p)
	}
	return filepath.Join(baseDir, p)
}

// certificatesExist checks if both certificate files exist
func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}
