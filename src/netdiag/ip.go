// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package netdiag

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// IPEndpoints are the public IP echo services, tried JSON first.
type IPEndpoints struct {
	V4JSON string
	V4Text string
	V6JSON string
	V6Text string
}

func DefaultIPEndpoints() IPEndpoints {
	return IPEndpoints{
		V4JSON: "https://api4.ipify.org?format=json",
		V4Text: "https://ipv4.icanhazip.com",
		V6JSON: "https://api6.ipify.org?format=json",
		V6Text: "https://ipv6.icanhazip.com",
	}
}

type PublicIPs struct {
	V4 string `json:"ipv4,omitempty"`
	V6 string `json:"ipv6,omitempty"`
}

// Preferred returns the IPv6 address when known, else IPv4.
func (p PublicIPs) Preferred() string {
	if p.V6 != "" {
		return p.V6
	}
	return p.V4
}

var ErrNoPublicIP = errors.New("could not determine public IP")

func (d *Diag) fetch(ctx context.Context, url string) (string, error) {
	if url == "" {
		return "", errors.New("no endpoint")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := d.httpClient().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.New(resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(body)), nil
}

func (d *Diag) lookupIP(ctx context.Context, jsonURL, textURL string, wantV6 bool) string {
	valid := func(s string) bool {
		ip := net.ParseIP(s)
		return ip != nil && (ip.To4() == nil) == wantV6
	}

	if body, err := d.fetch(ctx, jsonURL); err == nil {
		var data struct {
			IP string `json:"ip"`
		}
		if json.Unmarshal([]byte(body), &data) == nil && valid(data.IP) {
			return data.IP
		}
	}

	if body, err := d.fetch(ctx, textURL); err == nil && valid(body) {
		return body
	}

	return ""
}

// PublicIP asks the echo services for both address families.
func (d *Diag) PublicIP(ctx context.Context) (PublicIPs, error) {
	ep := d.IPEndpoints
	if ep == (IPEndpoints{}) {
		ep = DefaultIPEndpoints()
	}

	var ips PublicIPs
	done := make(chan struct{})

	go func() {
		defer close(done)
		ips.V6 = d.lookupIP(ctx, ep.V6JSON, ep.V6Text, true)
	}()
	ips.V4 = d.lookupIP(ctx, ep.V4JSON, ep.V4Text, false)
	<-done

	if ips.V4 == "" && ips.V6 == "" {
		return ips, ErrNoPublicIP
	}

	return ips, nil
}

// LocalIPs lists the non-loopback IPv4 addresses of every interface.
func LocalIPs(ctx context.Context) ([]string, error) {
	ifaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	var addrs []string
	for _, iface := range ifaces {
		for _, a := range iface.Addrs {
			addrs = append(addrs, a.Addr)
		}
	}

	return filterLocalIPv4(addrs), nil
}

// filterLocalIPv4 accepts "ip" or "ip/prefix" strings.
func filterLocalIPv4(addrs []string) []string {
	seen := make(map[string]struct{})
	out := []string{}

	for _, a := range addrs {
		if i := strings.IndexByte(a, '/'); i >= 0 {
			a = a[:i]
		}
		ip := net.ParseIP(a)
		if ip == nil || ip.To4() == nil || ip.IsLoopback() {
			continue
		}
		s := ip.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	sort.Strings(out)

	return out
}
