// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package netdiag

import (
	"context"
	"fmt"
	"strings"

	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"
	"golang.org/x/net/publicsuffix"

	"github.com/casjay-forks/vlabstools/src/netshare"
)

// WhoisFields is the order fields are displayed in
var WhoisFields = []string{"domain_name", "registrar", "creation_date", "expiration_date", "name_servers", "status"}

type WhoisInfo struct {
	Domain string
	Raw    string
	Fields map[string]string
}

func (w *WhoisInfo) String() string {
	lines := make([]string, 0, len(WhoisFields))
	for _, k := range WhoisFields {
		v := w.Fields[k]
		if v == "" {
			v = "None"
		}
		lines = append(lines, k+": "+v)
	}
	return strings.Join(lines, "\n")
}

// RegistrableDomain reduces "www.shop.example.co.uk" to "example.co.uk".
func RegistrableDomain(input string) (string, error) {
	host, err := CleanHost(input)
	if err != nil {
		return "", err
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if i := strings.LastIndex(host, ":"); i >= 0 && !strings.Contains(host[:i], ":") {
		host = host[:i]
	}

	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return "", netshare.NewInputError("domain", "not a registrable domain name")
	}

	return domain, nil
}

// Whois queries the registry for the registrable part of domain.
func (d *Diag) Whois(ctx context.Context, domain string) (*WhoisInfo, error) {
	domain, err := RegistrableDomain(domain)
	if err != nil {
		return nil, err
	}

	client := whois.NewClient().SetTimeout(orDefault(d.WhoisTimeout, DefaultWhoisTimeout))

	type result struct {
		raw string
		err error
	}
	done := make(chan result, 1)

	go func() {
		var servers []string
		if d.WhoisServer != "" {
			servers = append(servers, d.WhoisServer)
		}
		raw, err := client.Whois(domain, servers...)
		done <- result{raw, err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		return nil, fmt.Errorf("whois %s: %w", domain, res.err)
	}

	return parseWhois(domain, res.raw), nil
}

func parseWhois(domain string, raw string) *WhoisInfo {
	info := &WhoisInfo{
		Domain: domain,
		Raw:    raw,
		Fields: make(map[string]string),
	}

	parsed, err := whoisparser.Parse(raw)
	if err != nil {
		return info
	}

	if parsed.Domain != nil {
		info.Fields["domain_name"] = strings.ToUpper(parsed.Domain.Domain)
		info.Fields["creation_date"] = parsed.Domain.CreatedDate
		info.Fields["expiration_date"] = parsed.Domain.ExpirationDate
		info.Fields["name_servers"] = strings.Join(parsed.Domain.NameServers, ", ")
		info.Fields["status"] = strings.Join(parsed.Domain.Status, ", ")
	}
	if parsed.Registrar != nil {
		info.Fields["registrar"] = parsed.Registrar.Name
	}

	return info
}
