// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

// Package toolbox is the layer shared by the web pages, the JSON API and the
// terminal scan mode. It validates input, runs one tool, and takes care of
// logging, metrics and the run history.
package toolbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/casjay-forks/vlabstools/src/backup"
	"github.com/casjay-forks/vlabstools/src/catalog"
	"github.com/casjay-forks/vlabstools/src/logger"
	"github.com/casjay-forks/vlabstools/src/metrics"
	"github.com/casjay-forks/vlabstools/src/mssql"
	"github.com/casjay-forks/vlabstools/src/netdiag"
	"github.com/casjay-forks/vlabstools/src/netshare"
	"github.com/casjay-forks/vlabstools/src/portscan"
	"github.com/casjay-forks/vlabstools/src/storage"
)

// DefaultPorts is the port list offered by the scan forms.
const DefaultPorts = "80,443,22"

// History is the run history; storage.DB implements it.
type History interface {
	HistoryAdd(ctx context.Context, rec storage.Record) (storage.Record, error)
	HistoryList(ctx context.Context, kind string, limit int) ([]storage.Record, error)
	Ping(ctx context.Context) error
}

type Toolbox struct {
	Log     logger.Logger
	History History

	Diag    *netdiag.Diag
	Scanner *portscan.Scanner
	Catalog *catalog.Catalog
	Backup  *backup.Service

	// Connection defaults for the SQL backup form
	MSSQL mssql.ConnOptions
	// Rows returned by History
	HistoryLimit int
}

func (tb *Toolbox) track(tool string, target string, start time.Time, err error) {
	took := time.Since(start)
	metrics.RecordTool(tool, took, err)
	tb.Log.Tool(tool, target, took, err)
}

func (tb *Toolbox) Ping(ctx context.Context, host string) (string, error) {
	host, err := netdiag.CleanHost(host)
	if err != nil {
		return "", err
	}

	start := time.Now()
	out := tb.Diag.Ping(ctx, host)
	tb.track("ping", host, start, ctx.Err())

	return out, ctx.Err()
}

func (tb *Toolbox) Traceroute(ctx context.Context, host string) (string, error) {
	host, err := netdiag.CleanHost(host)
	if err != nil {
		return "", err
	}

	start := time.Now()
	out := tb.Diag.Traceroute(ctx, host)
	tb.track("traceroute", host, start, ctx.Err())

	return out, ctx.Err()
}

func (tb *Toolbox) DNS(ctx context.Context, host string) (*netdiag.DNSReport, error) {
	host, err := netdiag.CleanHost(host)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	report, err := tb.Diag.DNSLookup(ctx, host)
	tb.track("dns", host, start, err)

	return report, err
}

func (tb *Toolbox) Whois(ctx context.Context, domain string) (*netdiag.WhoisInfo, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return nil, netshare.NewInputError("domain", "please enter a domain")
	}

	start := time.Now()
	info, err := tb.Diag.Whois(ctx, domain)
	tb.track("whois", domain, start, err)

	return info, err
}

func (tb *Toolbox) SSL(ctx context.Context, host string, port int) (*netdiag.CertInfo, error) {
	host, err := netdiag.CleanHost(host)
	if err != nil {
		return nil, err
	}
	if port < 0 || port > portscan.MaxPort {
		return nil, netshare.NewInputError("port", "port must be between 1 and 65535")
	}

	start := time.Now()
	info, err := tb.Diag.CheckSSL(ctx, host, port)
	tb.track("ssl", host, start, err)

	return info, err
}

// IPInfo is what the IP tab shows.
type IPInfo struct {
	Public netdiag.PublicIPs `json:"public"`
	Local  []string          `json:"local"`
	// Set when no echo service answered
	PublicErr string `json:"publicError,omitempty"`
}

func (tb *Toolbox) IP(ctx context.Context) (IPInfo, error) {
	start := time.Now()

	var info IPInfo
	local, err := netdiag.LocalIPs(ctx)
	if err != nil {
		tb.track("ip", "local", start, err)
		return info, err
	}
	info.Local = local

	pub, err := tb.Diag.PublicIP(ctx)
	if err != nil {
		info.PublicErr = err.Error()
	}
	info.Public = pub
	tb.track("ip", "public", start, nil)

	return info, nil
}

// Scan parses the port list, scans host and stores the outcome in the
// history. A cancelled scan still returns its partial report.
func (tb *Toolbox) Scan(ctx context.Context, host string, ports string, progress portscan.ProgressFunc) (portscan.Report, error) {
	host, err := netdiag.CleanHost(host)
	if err != nil {
		return portscan.Report{}, err
	}

	list := portscan.ParsePorts(ports)
	if len(list) == 0 {
		return portscan.Report{}, netshare.NewInputError("ports", "please enter a valid port list")
	}

	start := time.Now()
	report := tb.Scanner.Scan(ctx, host, list, progress)
	err = nil
	if report.Cancelled {
		err = ctx.Err()
	}
	tb.track("scan", host, start, err)
	metrics.RecordScan(report.Scanned, len(report.Open))

	status := storage.StatusOK
	if report.Cancelled {
		status = storage.StatusFailed
	}
	// The request context may already be gone
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	tb.record(recCtx, storage.Record{
		Kind:    storage.KindScan,
		Target:  host,
		Summary: report.Summary(),
		Status:  status,
	})

	return report, err
}

func (tb *Toolbox) record(ctx context.Context, rec storage.Record) {
	if tb.History == nil {
		return
	}
	if _, err := tb.History.HistoryAdd(ctx, rec); err != nil {
		tb.Log.Error(fmt.Errorf("history: %w", err))
	}
}

// Runs returns the newest history rows, optionally of one kind.
func (tb *Toolbox) Runs(ctx context.Context, kind string) ([]storage.Record, error) {
	if tb.History == nil {
		return []storage.Record{}, nil
	}

	switch kind {
	case "", storage.KindZip, storage.KindMSSQL, storage.KindScan:
	default:
		return nil, netshare.NewInputError("kind", "unknown history kind")
	}

	return tb.History.HistoryList(ctx, kind, tb.HistoryLimit)
}

// Healthy reports whether the history database answers.
func (tb *Toolbox) Healthy(ctx context.Context) error {
	if tb.History == nil {
		return nil
	}
	return tb.History.Ping(ctx)
}

// SQLConn fills empty connection fields from the configured defaults.
func (tb *Toolbox) SQLConn(in mssql.ConnOptions) mssql.ConnOptions {
	def := tb.MSSQL
	if strings.TrimSpace(in.Server) == "" {
		in.Server = def.Server
	}
	if in.Port == 0 {
		in.Port = def.Port
	}
	if in.Auth == "" {
		in.Auth = def.Auth
	}
	if in.Auth == def.Auth && in.User == "" {
		in.User = def.User
		if in.Password == "" {
			in.Password = def.Password
		}
	}
	if in.Timeout == 0 {
		in.Timeout = def.Timeout
	}

	return in
}
