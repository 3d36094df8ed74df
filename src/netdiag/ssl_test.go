// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package netdiag

import (
	"context"
	"crypto/x509"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func newTLSServer(t *testing.T) (*httptest.Server, string, int) {
	t.Helper()

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(portStr)

	return srv, host, port
}

func TestCheckSSL(t *testing.T) {
	srv, host, port := newTLSServer(t)

	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())

	d := &Diag{RootCAs: pool}
	info, err := d.CheckSSL(context.Background(), host, port)
	if err != nil {
		t.Fatal(err)
	}

	if info.Subject == "" || info.Issuer == "" {
		t.Error("expected subject and issuer but got", info.Subject, info.Issuer)
	}
	if !info.NotAfter.Equal(srv.Certificate().NotAfter) {
		t.Error("unexpected expiry", info.NotAfter)
	}

	out := info.String()
	for _, prefix := range []string{"Subject: ", "Issuer: ", "Valid from: ", "Valid until: ", "Days remaining: ", "SANs: "} {
		if !strings.Contains(out, prefix) {
			t.Error("missing", prefix, "in", out)
		}
	}
	if !strings.Contains(out, "127.0.0.1") {
		t.Error("expected IP SAN in", out)
	}
}

func TestCheckSSLUntrusted(t *testing.T) {
	_, host, port := newTLSServer(t)

	d := &Diag{}
	_, err := d.CheckSSL(context.Background(), host, port)
	if err == nil {
		t.Fatal("expected verification error for a self-signed certificate")
	}
	if !strings.Contains(err.Error(), "not trusted") {
		t.Error("unexpected error", err)
	}
}

func TestCertInfoDaysRemaining(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	info := &CertInfo{NotAfter: now.Add(36 * time.Hour), checkedAt: now}
	if info.DaysRemaining() != 1 {
		t.Error("expected 1 day but got", info.DaysRemaining())
	}

	info.NotAfter = now.Add(-12 * time.Hour)
	if info.DaysRemaining() != -1 {
		t.Error("expected -1 day but got", info.DaysRemaining())
	}
}
