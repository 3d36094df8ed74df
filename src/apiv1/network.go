// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package apiv1

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/casjay-forks/vlabstools/src/netshare"
	"github.com/casjay-forks/vlabstools/src/portscan"
	"github.com/casjay-forks/vlabstools/src/toolbox"
)

// Tool failures (unreachable host, NXDOMAIN, ...) are answered with 200 and
// the message in "error"; only bad input and limits use error codes.
func toolFailure(err error) (string, error) {
	if err == nil {
		return "", nil
	}
	if errors.Is(err, netshare.ErrBadRequest) {
		return "", err
	}
	return netshare.Message(err), nil
}

type textAnswer struct {
	Host   string `json:"host"`
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

// GET /api/v1/ip
func (data *Data) handleIP(rw http.ResponseWriter, req *http.Request) error {
	if err := requireMethod(req, http.MethodGet); err != nil {
		return err
	}

	info, err := data.Tools.IP(req.Context())
	if err != nil {
		return err
	}
	return writeJSON(rw, info)
}

// GET /api/v1/ping?host=
func (data *Data) handlePing(rw http.ResponseWriter, req *http.Request) error {
	if err := requireMethod(req, http.MethodGet); err != nil {
		return err
	}

	host := req.URL.Query().Get("host")
	out, err := data.Tools.Ping(req.Context(), host)
	msg, err := toolFailure(err)
	if err != nil {
		return err
	}
	return writeJSON(rw, textAnswer{Host: host, Output: out, Error: msg})
}

// GET /api/v1/traceroute?host=
func (data *Data) handleTraceroute(rw http.ResponseWriter, req *http.Request) error {
	if err := requireMethod(req, http.MethodGet); err != nil {
		return err
	}

	host := req.URL.Query().Get("host")
	out, err := data.Tools.Traceroute(req.Context(), host)
	msg, err := toolFailure(err)
	if err != nil {
		return err
	}
	return writeJSON(rw, textAnswer{Host: host, Output: out, Error: msg})
}

type dnsRecord struct {
	Type   string   `json:"type"`
	Values []string `json:"values"`
}

type dnsAnswer struct {
	Host      string      `json:"host"`
	Addresses []string    `json:"addresses"`
	AddrError string      `json:"addressError,omitempty"`
	Records   []dnsRecord `json:"records"`
	Failed    []string    `json:"failed,omitempty"`
	Server    string      `json:"server,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// GET /api/v1/dns?host=
func (data *Data) handleDNS(rw http.ResponseWriter, req *http.Request) error {
	if err := requireMethod(req, http.MethodGet); err != nil {
		return err
	}

	ans := dnsAnswer{Host: req.URL.Query().Get("host")}

	report, err := data.Tools.DNS(req.Context(), ans.Host)
	if ans.Error, err = toolFailure(err); err != nil {
		return err
	}

	if report != nil {
		ans.Host = report.Host
		ans.Addresses = report.Addresses
		ans.AddrError = netshare.Message(report.AddrErr)
		ans.Server = report.Server
		ans.Failed = report.Failed
		for _, rec := range report.Records {
			ans.Records = append(ans.Records, dnsRecord{Type: rec.Type, Values: rec.Values})
		}
	}

	return writeJSON(rw, ans)
}

type whoisAnswer struct {
	Domain string            `json:"domain"`
	Fields map[string]string `json:"fields,omitempty"`
	Raw    string            `json:"raw,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// GET /api/v1/whois?domain=
func (data *Data) handleWhois(rw http.ResponseWriter, req *http.Request) error {
	if err := requireMethod(req, http.MethodGet); err != nil {
		return err
	}
	if err := data.rateLimit(req); err != nil {
		return err
	}

	ans := whoisAnswer{Domain: req.URL.Query().Get("domain")}

	info, err := data.Tools.Whois(req.Context(), ans.Domain)
	if ans.Error, err = toolFailure(err); err != nil {
		return err
	}

	if info != nil {
		ans.Domain = info.Domain
		ans.Fields = info.Fields
		ans.Raw = info.Raw
	}

	return writeJSON(rw, ans)
}

type sslAnswer struct {
	Host          string   `json:"host"`
	Port          int      `json:"port"`
	Subject       string   `json:"subject,omitempty"`
	Issuer        string   `json:"issuer,omitempty"`
	NotBefore     int64    `json:"notBefore,omitempty"`
	NotAfter      int64    `json:"notAfter,omitempty"`
	DaysRemaining int      `json:"daysRemaining"`
	DNSNames      []string `json:"dnsNames,omitempty"`
	IPs           []string `json:"ips,omitempty"`
	Version       string   `json:"tlsVersion,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// GET /api/v1/ssl?host=&port=
func (data *Data) handleSSL(rw http.ResponseWriter, req *http.Request) error {
	if err := requireMethod(req, http.MethodGet); err != nil {
		return err
	}

	query := req.URL.Query()
	ans := sslAnswer{Host: query.Get("host"), Port: 443}

	if p := query.Get("port"); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return netshare.NewInputError("port", "port must be a number")
		}
		ans.Port = port
	}

	cert, err := data.Tools.SSL(req.Context(), ans.Host, ans.Port)
	if ans.Error, err = toolFailure(err); err != nil {
		return err
	}

	if cert != nil {
		ans.Host = cert.Host
		ans.Subject = cert.Subject
		ans.Issuer = cert.Issuer
		ans.NotBefore = cert.NotBefore.Unix()
		ans.NotAfter = cert.NotAfter.Unix()
		ans.DaysRemaining = cert.DaysRemaining()
		ans.DNSNames = cert.DNSNames
		ans.IPs = cert.IPs
		ans.Version = cert.Version
	}

	return writeJSON(rw, ans)
}

type scanRequest struct {
	Host  string `json:"host"`
	Ports string `json:"ports"`
}

type openPort struct {
	Port    int    `json:"port"`
	Service string `json:"service"`
}

type scanAnswer struct {
	Host       string     `json:"host"`
	Total      int        `json:"total"`
	Scanned    int        `json:"scanned"`
	Open       []openPort `json:"open"`
	Summary    string     `json:"summary"`
	DurationMs int64      `json:"durationMs"`
	Cancelled  bool       `json:"cancelled,omitempty"`
}

// POST /api/v1/scan {"host": "...", "ports": "80,443,8000-8100"}
func (data *Data) handleScan(rw http.ResponseWriter, req *http.Request) error {
	if err := requireMethod(req, http.MethodPost); err != nil {
		return err
	}
	if err := data.rateLimit(req); err != nil {
		return err
	}

	in := scanRequest{Ports: toolbox.DefaultPorts}
	if err := readJSON(rw, req, &in); err != nil {
		return err
	}
	if strings.TrimSpace(in.Ports) == "" {
		in.Ports = toolbox.DefaultPorts
	}

	report, err := data.Tools.Scan(req.Context(), in.Host, in.Ports, nil)
	if err != nil && !report.Cancelled {
		return err
	}

	ans := scanAnswer{
		Host:       report.Host,
		Total:      report.Total,
		Scanned:    report.Scanned,
		Open:       []openPort{},
		Summary:    report.Summary(),
		DurationMs: report.Duration.Milliseconds(),
		Cancelled:  report.Cancelled,
	}
	for _, p := range report.Open {
		ans.Open = append(ans.Open, openPort{Port: p, Service: portscan.ServiceName(p)})
	}

	return writeJSON(rw, ans)
}
