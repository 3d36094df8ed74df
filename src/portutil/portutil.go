// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

// Package portutil handles the server.port setting: one HTTP port, or an
// HTTP and an HTTPS port separated by a comma.
package portutil

import (
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"
	"strings"
)

// FindUnusedPort returns a random port in [minPort, maxPort] that can be
// bound on every address.
func FindUnusedPort(minPort, maxPort int) (int, error) {
	if minPort < 1 || maxPort > 65535 || minPort > maxPort {
		return 0, fmt.Errorf("invalid port range: %d-%d", minPort, maxPort)
	}

	for attempts := 0; attempts < 100; attempts++ {
		port := rand.IntN(maxPort-minPort+1) + minPort
		if IsPortAvailable(port) {
			return port, nil
		}
	}

	return 0, fmt.Errorf("no available port found in range %d-%d after 100 attempts", minPort, maxPort)
}

func IsPortAvailable(port int) bool {
	if port < 1 || port > 65535 {
		return false
	}

	listener, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return false
	}
	listener.Close()
	return true
}

func parsePort(s string, name string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid %s port: %q", name, s)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("%s port out of range: %d", name, port)
	}
	return port, nil
}

// ParsePorts reads "8501" (HTTP only) or "8501,8443" (HTTP and HTTPS).
func ParsePorts(portStr string) (httpPort, httpsPort int, err error) {
	portStr = strings.TrimSpace(portStr)
	if portStr == "" {
		return 0, 0, fmt.Errorf("port string is empty")
	}

	parts := strings.Split(portStr, ",")
	if len(parts) > 2 {
		return 0, 0, fmt.Errorf("expected at most two ports, got %q", portStr)
	}

	httpPort, err = parsePort(parts[0], "HTTP")
	if err != nil {
		return 0, 0, err
	}

	if len(parts) == 2 {
		httpsPort, err = parsePort(parts[1], "HTTPS")
		if err != nil {
			return 0, 0, err
		}
		if httpsPort == httpPort {
			return 0, 0, fmt.Errorf("HTTP and HTTPS ports must differ")
		}
	}

	return httpPort, httpsPort, nil
}

// FormatPorts is the inverse of ParsePorts.
func FormatPorts(httpPort, httpsPort int) string {
	if httpsPort > 0 {
		return strconv.Itoa(httpPort) + "," + strconv.Itoa(httpsPort)
	}
	return strconv.Itoa(httpPort)
}
