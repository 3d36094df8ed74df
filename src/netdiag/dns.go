// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package netdiag

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/miekg/dns"
)

// RecordTypes are queried in this order
var RecordTypes = []uint16{
	dns.TypeA,
	dns.TypeAAAA,
	dns.TypeMX,
	dns.TypeNS,
	dns.TypeTXT,
	dns.TypeCNAME,
}

type Record struct {
	Type   string
	Values []string
}

type DNSReport struct {
	Host      string
	Addresses []string
	// Resolver error for the address lookup, if any
	AddrErr error
	Records []Record
	// Types whose query timed out or was refused
	Failed []string
	// Server that answered the record queries
	Server string
}

func (r *DNSReport) String() string {
	var lines []string

	if r.AddrErr != nil {
		lines = append(lines, "DNS error (resolver): "+r.AddrErr.Error())
	} else {
		lines = append(lines, "Addresses:")
		for _, a := range r.Addresses {
			lines = append(lines, "  - "+a)
		}
	}

	for _, rec := range r.Records {
		lines = append(lines, rec.Type+": "+strings.Join(rec.Values, ", "))
	}

	if len(r.Failed) > 0 {
		lines = append(lines, "Query failed: "+strings.Join(r.Failed, ", "))
	}

	return strings.Join(lines, "\n")
}

// DNSLookup resolves host with the system resolver and then asks a DNS
// server for A, AAAA, MX, NS, TXT and CNAME records. Types without answers
// are omitted; types whose query failed are listed in Failed. Every lookup
// gets its own DNSTimeout.
func (d *Diag) DNSLookup(ctx context.Context, host string) (*DNSReport, error) {
	timeout := orDefault(d.DNSTimeout, DefaultDNSTimeout)
	report := &DNSReport{Host: host}

	lookupCtx, cancel := context.WithTimeout(ctx, timeout)
	addrs, err := d.resolver().LookupIPAddr(lookupCtx, host)
	cancel()
	if err != nil {
		report.AddrErr = err
	} else {
		seen := make(map[string]struct{})
		for _, a := range addrs {
			s := a.IP.String()
			if _, ok := seen[s]; !ok {
				seen[s] = struct{}{}
				report.Addresses = append(report.Addresses, s)
			}
		}
		sort.Strings(report.Addresses)
	}

	exchange, server, err := d.exchanger()
	if err != nil {
		if report.AddrErr != nil {
			return nil, report.AddrErr
		}
		return report, nil
	}
	report.Server = server

	for _, qtype := range RecordTypes {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(host), qtype)
		msg.RecursionDesired = true

		queryCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := exchange(queryCtx, msg)
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil || (resp.Rcode != dns.RcodeSuccess && resp.Rcode != dns.RcodeNameError) {
			report.Failed = append(report.Failed, dns.TypeToString[qtype])
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			continue
		}

		values := answerValues(resp, qtype)
		if len(values) > 0 {
			report.Records = append(report.Records, Record{Type: dns.TypeToString[qtype], Values: values})
		}
	}

	if report.AddrErr != nil && len(report.Records) == 0 {
		return nil, report.AddrErr
	}

	return report, nil
}

type exchangeFunc func(ctx context.Context, msg *dns.Msg) (*dns.Msg, error)

// exchanger picks DoH when configured, otherwise plain DNS over UDP with
// TCP retry on truncation.
func (d *Diag) exchanger() (exchangeFunc, string, error) {
	if d.DoHURL != "" {
		return d.exchangeDoH, d.DoHURL, nil
	}

	server, err := d.dnsServer()
	if err != nil {
		return nil, "", err
	}

	timeout := orDefault(d.DNSTimeout, DefaultDNSTimeout)
	exchange := func(ctx context.Context, msg *dns.Msg) (*dns.Msg, error) {
		client := &dns.Client{Timeout: timeout}
		resp, _, err := client.ExchangeContext(ctx, msg, server)
		if err == nil && resp.Truncated {
			client.Net = "tcp"
			resp, _, err = client.ExchangeContext(ctx, msg, server)
		}
		return resp, err
	}

	return exchange, server, nil
}

func (d *Diag) dnsServer() (string, error) {
	if d.DNSServer != "" {
		if _, _, err := net.SplitHostPort(d.DNSServer); err != nil {
			return net.JoinHostPort(d.DNSServer, "53"), nil
		}
		return d.DNSServer, nil
	}

	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		return "", errors.New("no DNS server configured")
	}

	return net.JoinHostPort(conf.Servers[0], conf.Port), nil
}

// exchangeDoH sends the query as an RFC 8484 POST.
func (d *Diag) exchangeDoH(ctx context.Context, msg *dns.Msg) (*dns.Msg, error) {
	// RFC 8484 recommends id 0 for cache friendliness
	msg.Id = 0

	packed, err := msg.Pack()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.DoHURL, bytes.NewReader(packed))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/dns-message")
	req.Header.Set("Accept", "application/dns-message")

	resp, err := d.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("doh: unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 65535))
	if err != nil {
		return nil, err
	}

	answer := new(dns.Msg)
	if err := answer.Unpack(body); err != nil {
		return nil, fmt.Errorf("doh: %w", err)
	}

	return answer, nil
}

func answerValues(resp *dns.Msg, qtype uint16) []string {
	var values []string

	for _, rr := range resp.Answer {
		if rr.Header().Rrtype != qtype {
			continue
		}

		switch v := rr.(type) {
		case *dns.A:
			values = append(values, v.A.String())
		case *dns.AAAA:
			values = append(values, v.AAAA.String())
		case *dns.MX:
			values = append(values, strconv.Itoa(int(v.Preference))+" "+v.Mx)
		case *dns.NS:
			values = append(values, v.Ns)
		case *dns.TXT:
			values = append(values, strconv.Quote(strings.Join(v.Txt, "")))
		case *dns.CNAME:
			values = append(values, v.Target)
		}
	}

	return values
}
