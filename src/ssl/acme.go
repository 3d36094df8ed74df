// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package ssl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"
)

const stagingDirectory = "https://acme-staging-v02.api.letsencrypt.org/directory"

type ACMEConfig struct {
	Enabled bool
	Email   string
	// Issued certificates are kept here between restarts
	CacheDir string
	// Use the Let's Encrypt staging environment
	Staging bool
	// Names a certificate may be requested for; at least one is required
	Domains []string
}

// hostWhitelist allows only the configured names, case-insensitively.
func hostWhitelist(domains []string) autocert.HostPolicy {
	allowed := make(map[string]bool, len(domains))
	for _, d := range domains {
		allowed[strings.ToLower(strings.TrimSpace(d))] = true
	}
	return func(ctx context.Context, host string) error {
		if allowed[strings.ToLower(host)] {
			return nil
		}
		return fmt.Errorf("ssl: host %q not allowed", host)
	}
}

func loadACME(cfg Config) (*Setup, error) {
	a := cfg.ACME
	if len(a.Domains) == 0 {
		return nil, errors.New("ssl: acme needs at least one domain")
	}
	if a.CacheDir == "" {
		return nil, errors.New("ssl: acme needs a cache directory")
	}
	if err := os.MkdirAll(a.CacheDir, 0700); err != nil {
		return nil, fmt.Errorf("ssl: %w", err)
	}

	m := &autocert.Manager{
		Prompt:      autocert.AcceptTOS,
		Cache:       autocert.DirCache(a.CacheDir),
		Email:       a.Email,
		HostPolicy:  hostWhitelist(a.Domains),
		RenewBefore: renewBefore,
	}
	if a.Staging {
		m.Client = &acme.Client{DirectoryURL: stagingDirectory}
	}

	tlsCfg := baseConfig(cfg)
	tlsCfg.GetCertificate = m.GetCertificate
	tlsCfg.NextProtos = []string{"h2", "http/1.1", acme.ALPNProto}

	return &Setup{
		TLS:    tlsCfg,
		Source: SourceACME,
		Domain: a.Domains[0],
		acme:   m,
	}, nil
}
