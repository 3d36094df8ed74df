// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package netdiag

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	tcpPingAttempts = 3
	tcpPingTimeout  = 1500 * time.Millisecond
	tcpPingInterval = 200 * time.Millisecond
)

// Ports tried in turn when no ping binary is available
var tcpPingPorts = []int{443, 80, 53}

// Ping sends four echo requests with the system ping command, falling back
// to timed TCP connects when ping is missing.
func (d *Diag) Ping(ctx context.Context, host string) string {
	if !d.Runner.Has("ping") {
		return d.TCPPing(ctx, host, tcpPingAttempts)
	}

	if d.goos() == "windows" {
		return d.Runner.Run(ctx, "ping", "-n", "4", host)
	}
	return d.Runner.Run(ctx, "ping", "-c", "4", host)
}

// TCPPing measures connect time to 443, 80 and 53 in turn.
func (d *Diag) TCPPing(ctx context.Context, host string, attempts int) string {
	var lines []string
	okAny := false

	for i := 0; i < attempts; i++ {
		port := tcpPingPorts[i%len(tcpPingPorts)]
		addr := net.JoinHostPort(host, strconv.Itoa(port))

		attemptCtx, cancel := context.WithTimeout(ctx, tcpPingTimeout)
		start := time.Now()
		conn, err := d.dial(attemptCtx, "tcp", addr)
		elapsed := time.Since(start)
		cancel()

		if err == nil {
			conn.Close()
			okAny = true
			lines = append(lines, fmt.Sprintf("TCP ping to %s  time=%.1f ms", addr, float64(elapsed.Microseconds())/1000))
		} else {
			lines = append(lines, fmt.Sprintf("TCP ping to %s  timeout", addr))
		}

		select {
		case <-ctx.Done():
			return strings.Join(lines, "\n")
		case <-time.After(tcpPingInterval):
		}
	}

	if !okAny {
		lines = append(lines, "Could not ping (no common port open or traffic blocked).")
	}

	return strings.Join(lines, "\n")
}

// Traceroute uses tracert on Windows, otherwise traceroute or tracepath.
func (d *Diag) Traceroute(ctx context.Context, host string) string {
	if d.goos() == "windows" {
		if d.Runner.Has("tracert") {
			return d.Runner.Run(ctx, "tracert", "-d", host)
		}
	} else {
		if d.Runner.Has("traceroute") {
			return d.Runner.Run(ctx, "traceroute", "-n", host)
		}
		if d.Runner.Has("tracepath") {
			return d.Runner.Run(ctx, "tracepath", host)
		}
	}

	return "No traceroute, tracert or tracepath command available on this host."
}
