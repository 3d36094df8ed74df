// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

// Package netdiag wraps the network diagnostics offered by the dashboard:
// ping, traceroute, DNS, WHOIS, TLS certificate checks and IP discovery.
package netdiag

import (
	"context"
	"crypto/x509"
	"net"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/casjay-forks/vlabstools/src/netshare"
)

const (
	DefaultCommandTimeout = 60 * time.Second
	DefaultSSLTimeout     = 5 * time.Second
	DefaultDNSTimeout     = 5 * time.Second
	DefaultWhoisTimeout   = 10 * time.Second
	DefaultHTTPTimeout    = 5 * time.Second
)

// DialFunc opens a network connection; tests replace it.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Diag holds the settings shared by every diagnostic.
// The zero value is usable and picks the defaults above.
type Diag struct {
	Runner Runner

	// Operating system used to pick ping/traceroute flags
	GOOS string

	Dial DialFunc

	SSLTimeout time.Duration
	// Extra roots for certificate verification, nil uses the system pool
	RootCAs *x509.CertPool

	// host:port of the DNS server for record queries, empty uses the system one
	DNSServer string
	// DNS-over-HTTPS endpoint, queried instead of DNSServer when set
	DoHURL     string
	DNSTimeout time.Duration
	// Resolver for the plain address lookup
	Resolver *net.Resolver

	WhoisTimeout time.Duration
	// Optional WHOIS server override (host or host:port)
	WhoisServer string

	HTTPClient  *http.Client
	IPEndpoints IPEndpoints
}

func New() *Diag {
	return &Diag{
		Runner:      Runner{Timeout: DefaultCommandTimeout},
		GOOS:        runtime.GOOS,
		IPEndpoints: DefaultIPEndpoints(),
	}
}

func (d *Diag) goos() string {
	if d.GOOS == "" {
		return runtime.GOOS
	}
	return d.GOOS
}

func (d *Diag) dial(ctx context.Context, network, address string) (net.Conn, error) {
	if d.Dial != nil {
		return d.Dial(ctx, network, address)
	}
	var dialer net.Dialer
	return dialer.DialContext(ctx, network, address)
}

func (d *Diag) resolver() *net.Resolver {
	if d.Resolver != nil {
		return d.Resolver
	}
	return net.DefaultResolver
}

func (d *Diag) httpClient() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return &http.Client{Timeout: DefaultHTTPTimeout}
}

func orDefault(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

// CleanHost validates a host name or address typed into a form.
// Values that could be read as command options are rejected.
func CleanHost(host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", netshare.NewInputError("host", "please enter a host")
	}

	// Accept pasted URLs
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	host = strings.Trim(host, "[]")

	if host == "" || strings.HasPrefix(host, "-") || strings.ContainsAny(host, " \t\r\n;&|`$<>'\"\\") {
		return "", netshare.NewInputError("host", "invalid host name")
	}
	if len(host) > 253 {
		return "", netshare.NewInputError("host", "host name too long")
	}

	return host, nil
}
