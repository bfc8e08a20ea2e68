// Package tls builds the server-side TLS configuration for the HTTP surface.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/loykin/hashvisr/internal/config"
)

const (
	certName = "tls.crt"
	keyName  = "tls.key"
)

func parseVersion(v string) (uint16, error) {
	switch v {
	case "", "1.2", "tls1.2", "TLS1.2":
		return tls.VersionTLS12, nil
	case "1.3", "tls1.3", "TLS1.3":
		return tls.VersionTLS13, nil
	}
	return 0, fmt.Errorf("unsupported tls version %q", v)
}

// Setup returns nil when TLS is disabled. Explicit cert/key files win over Dir;
// with AutoGenerate a missing pair in Dir is created self-signed.
func Setup(c config.TLSConfig) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	minVer, err := parseVersion(c.MinVersion)
	if err != nil {
		return nil, err
	}
	certPath, keyPath := c.CertFile, c.KeyFile
	if certPath == "" || keyPath == "" {
		if c.Dir == "" {
			return nil, errors.New("tls enabled but neither cert_file/key_file nor dir is set")
		}
		certPath, keyPath = filepath.Join(c.Dir, certName), filepath.Join(c.Dir, keyName)
		if c.AutoGenerate && !exists(certPath, keyPath) {
			if err := os.MkdirAll(c.Dir, 0o700); err != nil {
				return nil, fmt.Errorf("create tls dir: %w", err)
			}
			if err := GenerateSelfSigned(SelfSigned{CertPath: certPath, KeyPath: keyPath}); err != nil {
				return nil, fmt.Errorf("generate certificate: %w", err)
			}
		}
	}
	// Load once up front so a bad pair fails at startup, not on first handshake.
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	return &tls.Config{
		MinVersion:     minVer,
		GetCertificate: reloading(certPath, keyPath),
	}, nil
}

// reloading re-reads the pair on every handshake so a renewed certificate is
// picked up without a restart.
func reloading(certPath, keyPath string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		c, err := tls.LoadX509KeyPair(filepath.Clean(certPath), filepath.Clean(keyPath))
		if err != nil {
			return nil, err
		}
		return &c, nil
	}
}

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}
