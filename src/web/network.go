// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package web

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/casjay-forks/vlabstools/src/netshare"
	"github.com/casjay-forks/vlabstools/src/portscan"
	"github.com/casjay-forks/vlabstools/src/toolbox"
)

var networkTabs = []Tab{
	{Slug: "ip", Title: "IP"},
	{Slug: "ping", Title: "Ping"},
	{Slug: "traceroute", Title: "Traceroute"},
	{Slug: "ssl", Title: "SSL"},
	{Slug: "dns", Title: "DNS"},
	{Slug: "whois", Title: "WHOIS"},
	{Slug: "scan", Title: "Port scan"},
}

type scanRow struct {
	Port    int
	Service string
}

type networkTmpl struct {
	Tabs []Tab
	Tab  string

	// Form values, echoed back after a submit
	Host   string
	Domain string
	Port   int
	Ports  string

	CommonPorts string

	// Result shown as preformatted text
	Output string
	Error  string

	ScanRows    []scanRow
	ScanSummary string
}

func commonPorts() string {
	list := portscan.CommonPorts()
	out := make([]string, len(list))
	for i, p := range list {
		out[i] = strconv.Itoa(p)
	}
	return strings.Join(out, ",")
}

func newNetworkTmpl(tab string) networkTmpl {
	return networkTmpl{
		Tabs:        networkTabs,
		Tab:         pickTab(networkTabs, tab),
		Port:        443,
		Ports:       toolbox.DefaultPorts,
		CommonPorts: commonPorts(),
	}
}

// Pattern: GET /network?tab=
func (data *Data) renderNetwork(rw http.ResponseWriter, req *http.Request) error {
	return data.renderPage(rw, req, "network", newNetworkTmpl(req.URL.Query().Get("tab")))
}

// Pattern: POST /network
func (data *Data) submitNetwork(rw http.ResponseWriter, req *http.Request) error {
	body := newNetworkTmpl(req.PostFormValue("tab"))
	body.Host = strings.TrimSpace(req.PostFormValue("host"))
	body.Domain = strings.TrimSpace(req.PostFormValue("domain"))
	if ports := req.PostFormValue("ports"); ports != "" {
		body.Ports = ports
	}
	if port := req.PostFormValue("port"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			body.Error = netshare.Message(netshare.NewInputError("port", "port must be a number"))
			return data.renderPage(rw, req, "network", body)
		}
		body.Port = p
	}

	// Expensive or third-party tools are rate limited per client
	switch body.Tab {
	case "scan", "whois":
		if err := data.RateLimitTools.CheckAndUse(data.clientIP(req)); err != nil {
			return err
		}
	}

	ctx := req.Context()
	var err error

	switch body.Tab {
	case "ip":
		var info toolbox.IPInfo
		info, err = data.Tools.IP(ctx)
		if err == nil {
			body.Output = formatIPInfo(info)
		}

	case "ping":
		body.Output, err = data.Tools.Ping(ctx, body.Host)

	case "traceroute":
		body.Output, err = data.Tools.Traceroute(ctx, body.Host)

	case "ssl":
		cert, sslErr := data.Tools.SSL(ctx, body.Host, body.Port)
		if err = sslErr; err == nil {
			body.Output = cert.String()
		}

	case "dns":
		report, dnsErr := data.Tools.DNS(ctx, body.Host)
		if err = dnsErr; err == nil {
			body.Output = report.String()
		}

	case "whois":
		info, whoisErr := data.Tools.Whois(ctx, body.Domain)
		if err = whoisErr; err == nil {
			body.Output = info.String()
		}

	case "scan":
		report, scanErr := data.Tools.Scan(ctx, body.Host, body.Ports, nil)
		if err = scanErr; err == nil {
			body.Output = report.String()
			body.ScanSummary = report.Summary()
			for _, p := range report.Open {
				body.ScanRows = append(body.ScanRows, scanRow{Port: p, Service: portscan.ServiceName(p)})
			}
		}
	}

	if err != nil {
		body.Error = netshare.Message(err)
	}

	return data.renderPage(rw, req, "network", body)
}

func formatIPInfo(info toolbox.IPInfo) string {
	lines := []string{}

	if info.PublicErr != "" {
		lines = append(lines, "Public IP: "+info.PublicErr)
	} else {
		if info.Public.V4 != "" {
			lines = append(lines, "Public IPv4: "+info.Public.V4)
		}
		if info.Public.V6 != "" {
			lines = append(lines, "Public IPv6: "+info.Public.V6)
		}
		lines = append(lines, "Preferred: "+info.Public.Preferred())
	}

	if len(info.Local) == 0 {
		lines = append(lines, "Local IPv4: none")
	} else {
		lines = append(lines, "Local IPv4: "+strings.Join(info.Local, ", "))
	}

	return strings.Join(lines, "\n")
}
