// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package netdiag

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
)

func TestTCPPingFallback(t *testing.T) {
	var dialed []string

	d := &Diag{
		Runner: Runner{LookPath: lookPathOnly()},
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			dialed = append(dialed, address)
			if strings.HasSuffix(address, ":80") {
				client, server := net.Pipe()
				server.Close()
				return client, nil
			}
			return nil, errors.New("refused")
		},
	}

	res := d.Ping(context.Background(), "192.0.2.7")
	lines := strings.Split(res, "\n")

	if len(dialed) != 3 || dialed[0] != "192.0.2.7:443" || dialed[1] != "192.0.2.7:80" || dialed[2] != "192.0.2.7:53" {
		t.Fatal("unexpected dial order", dialed)
	}
	if len(lines) != 3 {
		t.Fatal("expected 3 lines but got", lines)
	}
	if lines[0] != "TCP ping to 192.0.2.7:443  timeout" {
		t.Error("unexpected line", lines[0])
	}
	if !strings.HasPrefix(lines[1], "TCP ping to 192.0.2.7:80  time=") || !strings.HasSuffix(lines[1], " ms") {
		t.Error("unexpected line", lines[1])
	}
}

func TestTCPPingAllFail(t *testing.T) {
	d := &Diag{
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			return nil, errors.New("refused")
		},
	}

	res := d.TCPPing(context.Background(), "192.0.2.7", 3)
	lines := strings.Split(res, "\n")
	if len(lines) != 4 || !strings.HasPrefix(lines[3], "Could not ping") {
		t.Error("expected a final failure line but got", lines)
	}
}
