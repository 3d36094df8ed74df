// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package netdiag

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"time"
)

// Matches the "notAfter" style of OpenSSL, e.g. "Jan  5 12:00:00 2026 GMT"
const certTimeFormat = "Jan _2 15:04:05 2006 MST"

type CertInfo struct {
	Host      string
	Port      int
	Subject   string
	Issuer    string
	NotBefore time.Time
	NotAfter  time.Time
	DNSNames  []string
	IPs       []string
	Version   string
	checkedAt time.Time
}

// DaysRemaining counts whole days until expiry, negative once expired.
func (c *CertInfo) DaysRemaining() int {
	now := c.checkedAt
	if now.IsZero() {
		now = time.Now()
	}
	return int(math.Floor(c.NotAfter.Sub(now).Hours() / 24))
}

func (c *CertInfo) String() string {
	lines := []string{
		"Subject: " + c.Subject,
		"Issuer: " + c.Issuer,
		"Valid from: " + c.NotBefore.UTC().Format(certTimeFormat),
		"Valid until: " + c.NotAfter.UTC().Format(certTimeFormat),
		"Days remaining: " + strconv.Itoa(c.DaysRemaining()),
	}

	sans := append(append([]string{}, c.DNSNames...), c.IPs...)
	if len(sans) > 0 {
		lines = append(lines, "SANs: "+strings.Join(sans, ", "))
	}
	if c.Version != "" {
		lines = append(lines, "Protocol: "+c.Version)
	}

	return strings.Join(lines, "\n")
}

func commonName(name string, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}

// CheckSSL performs a verified TLS handshake with SNI and reports the leaf certificate.
func (d *Diag) CheckSSL(ctx context.Context, host string, port int) (*CertInfo, error) {
	if port <= 0 || port > 65535 {
		port = 443
	}

	ctx, cancel := context.WithTimeout(ctx, orDefault(d.SSLTimeout, DefaultSSLTimeout))
	defer cancel()

	raw, err := d.dial(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("ssl check: %w", err)
	}
	defer raw.Close()

	if deadline, ok := ctx.Deadline(); ok {
		raw.SetDeadline(deadline)
	}

	conn := tls.Client(raw, &tls.Config{
		ServerName: host,
		RootCAs:    d.RootCAs,
		MinVersion: tls.VersionTLS10,
	})
	if err := conn.HandshakeContext(ctx); err != nil {
		var verr *tls.CertificateVerificationError
		if errors.As(err, &verr) {
			return nil, fmt.Errorf("ssl check: certificate not trusted: %w", verr.Err)
		}
		return nil, fmt.Errorf("ssl check: %w", err)
	}

	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, errors.New("ssl check: server sent no certificate")
	}

	return certInfo(host, port, state.PeerCertificates[0], tls.VersionName(state.Version)), nil
}

func certInfo(host string, port int, cert *x509.Certificate, version string) *CertInfo {
	info := &CertInfo{
		Host:      host,
		Port:      port,
		Subject:   commonName(cert.Subject.CommonName, cert.Subject.String()),
		Issuer:    commonName(cert.Issuer.CommonName, cert.Issuer.String()),
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
		DNSNames:  cert.DNSNames,
		Version:   version,
		checkedAt: time.Now(),
	}
	for _, ip := range cert.IPAddresses {
		info.IPs = append(info.IPs, ip.String())
	}

	return info
}
