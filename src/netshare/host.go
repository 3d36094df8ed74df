// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package netshare

import (
	"net"
	"net/http"
	"strings"
)

// forwardedParam returns one parameter of an RFC 7239 Forwarded header.
func forwardedParam(req *http.Request, name string) string {
	forwarded := req.Header.Get("Forwarded")
	if forwarded == "" {
		return ""
	}

	// Only the first hop matters
	first := strings.Split(forwarded, ",")[0]
	for _, part := range strings.Split(first, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(strings.ToLower(part), name+"=") {
			return strings.Trim(part[len(name)+1:], "\"")
		}
	}

	return ""
}

func GetProtocol(req *http.Request) string {
	if proto := forwardedParam(req, "proto"); proto != "" {
		return proto
	}

	if xProto := req.Header.Get("X-Forwarded-Proto"); xProto != "" {
		return strings.TrimSpace(strings.Split(xProto, ",")[0])
	}

	if req.Header.Get("X-Forwarded-Ssl") == "on" {
		return "https"
	}

	if req.TLS != nil {
		return "https"
	}

	return "http"
}

// IsSecure reports whether the client reached us over HTTPS.
func IsSecure(req *http.Request) bool {
	return GetProtocol(req) == "https"
}

func parseForwardedFor(val string) net.IP {
	val = strings.Trim(strings.TrimSpace(val), "\"")

	// [2001:db8::1]:47011
	if strings.HasPrefix(val, "[") {
		if end := strings.Index(val, "]"); end > 0 {
			val = val[1:end]
		}
	} else if strings.Count(val, ":") == 1 {
		// 192.0.2.60:47011
		val = strings.Split(val, ":")[0]
	}

	return net.ParseIP(val)
}

// GetClientAddrTrusted extracts the client IP address from the request.
// Proxy headers are honoured when trustProxy is set or when the direct
// peer sits on a private or loopback address.
func GetClientAddrTrusted(req *http.Request, trustProxy bool) net.IP {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	remoteIP := net.ParseIP(host)
	if remoteIP == nil {
		return net.IPv4zero
	}

	if !trustProxy && !remoteIP.IsPrivate() && !remoteIP.IsLoopback() && !remoteIP.IsLinkLocalUnicast() {
		return remoteIP
	}

	if ip := parseForwardedFor(forwardedParam(req, "for")); ip != nil {
		return ip
	}

	for _, name := range []string{"X-Real-IP", "X-Forwarded-For", "CF-Connecting-IP", "True-Client-IP"} {
		val := req.Header.Get(name)
		if val == "" {
			continue
		}
		if ip := net.ParseIP(strings.TrimSpace(strings.Split(val, ",")[0])); ip != nil {
			return ip
		}
	}

	return remoteIP
}

// GetClientAddr uses the direct connection unless it comes from a local proxy.
func GetClientAddr(req *http.Request) net.IP {
	return GetClientAddrTrusted(req, false)
}
