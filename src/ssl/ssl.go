// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

// Package ssl serves the dashboard over HTTPS. The certificate comes from
// configured files, an existing Let's Encrypt directory, or ACME.
package ssl

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/acme/autocert"
)

type Source string

const (
	SourceManual      Source = "manual"
	SourceLetsEncrypt Source = "letsencrypt"
	SourceACME        Source = "acme"
)

// DefaultLetsEncryptDir is where certbot keeps its live certificates.
const DefaultLetsEncryptDir = "/etc/letsencrypt/live"

// Certificates expiring sooner than this are reported as due for renewal.
const renewBefore = 30 * 24 * time.Hour

var ErrNoCertificate = errors.New("ssl: no certificate found")

type Config struct {
	CertFile string
	KeyFile  string
	// Host name used to pick a Let's Encrypt certificate
	Domain string
	// Searched when no files are configured, empty uses DefaultLetsEncryptDir
	LetsEncryptDir string
	// "1.2" or "1.3"
	MinVersion string

	ACME ACMEConfig
}

// Setup is a ready TLS configuration and where its certificate came from.
type Setup struct {
	TLS       *tls.Config
	Source    Source
	Domain    string
	CertFile  string
	ExpiresAt time.Time

	acme *autocert.Manager
}

func minVersion(v string) uint16 {
	switch strings.TrimSpace(v) {
	case "1.3":
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}

func baseConfig(cfg Config) *tls.Config {
	return &tls.Config{
		MinVersion: minVersion(cfg.MinVersion),
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}
}

// Load picks the certificate source: ACME when enabled, then the configured
// files, then a Let's Encrypt directory matching the domain.
func Load(cfg Config) (*Setup, error) {
	if cfg.ACME.Enabled {
		return loadACME(cfg)
	}

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		return loadFiles(cfg, cfg.CertFile, cfg.KeyFile, cfg.Domain, SourceManual)
	}

	dir := cfg.LetsEncryptDir
	if dir == "" {
		dir = DefaultLetsEncryptDir
	}
	certFile, keyFile, domain, err := FindLetsEncrypt(dir, cfg.Domain)
	if err != nil {
		return nil, err
	}
	return loadFiles(cfg, certFile, keyFile, domain, SourceLetsEncrypt)
}

func loadFiles(cfg Config, certFile, keyFile, domain string, source Source) (*Setup, error) {
	if certFile == "" || keyFile == "" {
		return nil, errors.New("ssl: both cert_file and key_file are required")
	}

	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("ssl: invalid certificate/key pair: %w", err)
	}

	setup := &Setup{
		TLS:      baseConfig(cfg),
		Source:   source,
		Domain:   domain,
		CertFile: certFile,
	}
	setup.TLS.Certificates = []tls.Certificate{pair}

	if len(pair.Certificate) > 0 {
		if leaf, err := x509.ParseCertificate(pair.Certificate[0]); err == nil {
			setup.ExpiresAt = leaf.NotAfter
			if setup.Domain == "" && len(leaf.DNSNames) > 0 {
				setup.Domain = leaf.DNSNames[0]
			}
		}
	}

	return setup, nil
}

// FindLetsEncrypt returns the fullchain and key of the live directory named
// after domain (with or without "www."), or the first valid one when none
// matches.
func FindLetsEncrypt(dir string, domain string) (certFile, keyFile, name string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", "", ErrNoCertificate
		}
		return "", "", "", fmt.Errorf("ssl: %w", err)
	}

	valid := func(name string) (string, string, bool) {
		cert := filepath.Join(dir, name, "fullchain.pem")
		key := filepath.Join(dir, name, "privkey.pem")
		if _, err := tls.LoadX509KeyPair(cert, key); err != nil {
			return "", "", false
		}
		return cert, key, true
	}

	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain != "" {
		for _, want := range []string{domain, strings.TrimPrefix(domain, "www.")} {
			if cert, key, ok := valid(want); ok {
				return cert, key, want, nil
			}
		}
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if cert, key, ok := valid(entry.Name()); ok {
			return cert, key, entry.Name(), nil
		}
	}

	return "", "", "", ErrNoCertificate
}

// NeedsRenewal reports a certificate that expires within 30 days.
func (s *Setup) NeedsRenewal(now time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return s.ExpiresAt.Sub(now) < renewBefore
}

// HTTPHandler answers ACME HTTP-01 challenges on the plain HTTP port and
// passes everything else to fallback.
func (s *Setup) HTTPHandler(fallback http.Handler) http.Handler {
	if s == nil || s.acme == nil {
		return fallback
	}
	return s.acme.HTTPHandler(fallback)
}

func (s *Setup) String() string {
	out := string(s.Source)
	if s.Domain != "" {
		out += " certificate for " + s.Domain
	}
	if !s.ExpiresAt.IsZero() {
		out += ", expires " + s.ExpiresAt.Format("2006-01-02")
	}
	return out
}
