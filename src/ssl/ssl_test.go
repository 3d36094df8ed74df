// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package ssl

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeCert creates a self-signed certificate for name in dir.
func writeCert(t *testing.T, dir string, name string, certName string, keyName string, notAfter time.Time) (string, string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: name},
		DNSNames:     []string{name},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	certFile := filepath.Join(dir, certName)
	keyFile := filepath.Join(dir, keyName)
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0600); err != nil {
		t.Fatal(err)
	}
	return certFile, keyFile
}

func TestLoadFiles(t *testing.T) {
	dir := t.TempDir()
	expires := time.Now().Add(10 * 24 * time.Hour).Truncate(time.Second)
	certFile, keyFile := writeCert(t, dir, "tools.lab", "cert.pem", "key.pem", expires)

	setup, err := Load(Config{CertFile: certFile, KeyFile: keyFile, MinVersion: "1.3"})
	if err != nil {
		t.Fatal(err)
	}
	if setup.Source != SourceManual || setup.Domain != "tools.lab" {
		t.Error("unexpected setup", setup)
	}
	if setup.TLS.MinVersion != tls.VersionTLS13 || len(setup.TLS.Certificates) != 1 {
		t.Error("unexpected TLS config")
	}
	if !setup.ExpiresAt.Equal(expires.UTC()) {
		t.Error("unexpected expiry", setup.ExpiresAt)
	}
	if !setup.NeedsRenewal(time.Now()) {
		t.Error("a certificate expiring in 10 days needs renewal")
	}

	if _, err := Load(Config{CertFile: certFile}); err == nil {
		t.Error("expected error without key file")
	}
}

func TestFindLetsEncrypt(t *testing.T) {
	live := t.TempDir()
	year := time.Now().Add(365 * 24 * time.Hour)
	writeCert(t, filepath.Join(live, "aaa.lab"), "aaa.lab", "fullchain.pem", "privkey.pem", year)
	writeCert(t, filepath.Join(live, "tools.lab"), "tools.lab", "fullchain.pem", "privkey.pem", year)
	// Incomplete directory
	if err := os.MkdirAll(filepath.Join(live, "broken.lab"), 0700); err != nil {
		t.Fatal(err)
	}

	testData := map[string]string{
		"tools.lab":     "tools.lab",
		"www.tools.lab": "tools.lab",
		"other.lab":     "aaa.lab",
		"":              "aaa.lab",
	}

	for domain, exp := range testData {
		_, _, name, err := FindLetsEncrypt(live, domain)
		if err != nil || name != exp {
			t.Error("FindLetsEncrypt", domain, "got", name, err, "expected", exp)
		}
	}

	_, _, _, err := FindLetsEncrypt(filepath.Join(live, "missing"), "tools.lab")
	if !errors.Is(err, ErrNoCertificate) {
		t.Error("expected ErrNoCertificate, got", err)
	}

	setup, err := Load(Config{Domain: "tools.lab", LetsEncryptDir: live})
	if err != nil {
		t.Fatal(err)
	}
	if setup.Source != SourceLetsEncrypt || setup.NeedsRenewal(time.Now()) {
		t.Error("unexpected setup", setup)
	}
}

func TestACME(t *testing.T) {
	if _, err := Load(Config{ACME: ACMEConfig{Enabled: true, CacheDir: t.TempDir()}}); err == nil {
		t.Error("expected error without domains")
	}

	setup, err := Load(Config{ACME: ACMEConfig{Enabled: true, CacheDir: t.TempDir(), Domains: []string{"tools.lab"}}})
	if err != nil {
		t.Fatal(err)
	}
	if setup.Source != SourceACME || setup.TLS.GetCertificate == nil {
		t.Error("unexpected setup", setup)
	}

	policy := hostWhitelist([]string{"Tools.lab"})
	if policy(context.Background(), "tools.lab") != nil || policy(context.Background(), "evil.lab") == nil {
		t.Error("unexpected host policy")
	}

	fallback := http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rw.WriteHeader(http.StatusTeapot)
	})
	handler := setup.HTTPHandler(fallback)

	rw := httptest.NewRecorder()
	handler.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
	if rw.Code != http.StatusTeapot {
		t.Error("non-challenge requests should reach the fallback", rw.Code)
	}

	// example.com is not an allowed host
	rw = httptest.NewRecorder()
	handler.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/.well-known/acme-challenge/token", nil))
	if rw.Code != http.StatusForbidden {
		t.Error("expected 403 for a foreign host, got", rw.Code)
	}

	var none *Setup
	rw = httptest.NewRecorder()
	none.HTTPHandler(fallback).ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
	if rw.Code != http.StatusTeapot {
		t.Error("nil setup should pass through")
	}
}
