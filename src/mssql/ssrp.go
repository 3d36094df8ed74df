// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package mssql

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"
)

// SQL Server Resolution Protocol (browser service)
const (
	browserPort = 1434

	ssrpUnicastEx = 0x03
	ssrpResponse  = 0x05
)

type Instance struct {
	ServerName   string
	InstanceName string
	IsClustered  bool
	Version      string
	// 0 when the instance does not listen on TCP
	TCPPort int
}

// Address formats the instance the way ConnOptions.Server expects it.
func (i Instance) Address(host string) string {
	if i.TCPPort != 0 {
		return host + "," + strconv.Itoa(i.TCPPort)
	}
	if i.InstanceName != "" && !strings.EqualFold(i.InstanceName, "MSSQLSERVER") {
		return host + `\` + i.InstanceName
	}
	return host
}

var ErrNoBrowserResponse = errors.New("no response from SQL Server Browser")

// DiscoverInstances asks the SQL Server Browser on host for its instances.
func DiscoverInstances(ctx context.Context, host string, timeout time.Duration) ([]Instance, error) {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", net.JoinHostPort(host, strconv.Itoa(browserPort)))
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if _, err := conn.Write([]byte{ssrpUnicastEx}); err != nil {
		return nil, err
	}

	buf := make([]byte, 65535)
	n, err := conn.Read(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, ErrNoBrowserResponse
		}
		return nil, err
	}

	return ParseBrowserResponse(buf[:n])
}

// ParseBrowserResponse decodes an SVR_RESP message: 0x05, a little-endian
// length, then "key;value;...;;" records.
func ParseBrowserResponse(msg []byte) ([]Instance, error) {
	if len(msg) < 3 || msg[0] != ssrpResponse {
		return nil, errors.New("ssrp: malformed response")
	}

	size := int(binary.LittleEndian.Uint16(msg[1:3]))
	body := msg[3:]
	if size < len(body) {
		body = body[:size]
	}

	var instances []Instance
	for _, record := range strings.Split(string(body), ";;") {
		if strings.TrimSpace(record) == "" {
			continue
		}

		fields := strings.Split(record, ";")
		var inst Instance
		for i := 0; i+1 < len(fields); i += 2 {
			val := fields[i+1]
			switch strings.ToLower(fields[i]) {
			case "servername":
				inst.ServerName = val
			case "instancename":
				inst.InstanceName = val
			case "isclustered":
				inst.IsClustered = strings.EqualFold(val, "yes")
			case "version":
				inst.Version = val
			case "tcp":
				inst.TCPPort, _ = strconv.Atoi(val)
			}
		}

		if inst.InstanceName != "" || inst.ServerName != "" {
			instances = append(instances, inst)
		}
	}

	return instances, nil
}
