// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package sysinfo

import (
	"context"
	"os"
	"os/user"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

const bootTimeFormat = "2006-01-02 15:04:05"

type Row struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Info []Row

// Get returns the value of key or an empty string.
func (info Info) Get(key string) string {
	for _, row := range info {
		if row.Key == key {
			return row.Value
		}
	}
	return ""
}

func (info Info) String() string {
	width := 0
	for _, row := range info {
		if len(row.Key) > width {
			width = len(row.Key)
		}
	}

	var b strings.Builder
	for _, row := range info {
		b.WriteString(row.Key)
		b.WriteString(strings.Repeat(" ", width-len(row.Key)+2))
		b.WriteString(row.Value)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	for _, env := range []string{"USER", "USERNAME", "LOGNAME"} {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	return ""
}

// Collect gathers host facts. Individual probes that fail yield "Unknown"
// rather than an error.
func Collect(ctx context.Context) Info {
	var osName, osVersion, osRelease, hostname, bootTime string
	if hi, err := host.InfoWithContext(ctx); err == nil {
		osName = hi.OS
		osVersion = strings.TrimSpace(hi.Platform + " " + hi.PlatformVersion)
		osRelease = hi.KernelVersion
		hostname = hi.Hostname
	}
	if osName == "" {
		osName = runtime.GOOS
	}
	if hostname == "" {
		hostname, _ = os.Hostname()
	}

	if boot, err := host.BootTimeWithContext(ctx); err == nil && boot > 0 {
		bootTime = time.Unix(int64(boot), 0).Format(bootTimeFormat)
	}

	var physical, logical string
	if n, err := cpu.CountsWithContext(ctx, false); err == nil && n > 0 {
		physical = strconv.Itoa(n)
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		logical = strconv.Itoa(n)
	} else {
		logical = strconv.Itoa(runtime.NumCPU())
	}

	var ram string
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		ram = strconv.FormatFloat(float64(vm.Total)/(1<<30), 'f', 2, 64)
	}

	var processor string
	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		processor = infos[0].ModelName
	}

	machine := runtime.GOARCH
	if arch, err := host.KernelArch(); err == nil && arch != "" {
		machine = arch
	}

	return Info{
		{"OS", osName},
		{"OS Version", orUnknown(osVersion)},
		{"OS Release", orUnknown(osRelease)},
		{"Hostname", orUnknown(hostname)},
		{"User", orUnknown(currentUser())},
		{"CPU Cores (physical)", orUnknown(physical)},
		{"CPU Cores (logical)", logical},
		{"RAM (GB)", orUnknown(ram)},
		{"Boot Time", orUnknown(bootTime)},
		{"Go Version", runtime.Version()},
		{"Machine", machine},
		{"Processor", orUnknown(processor)},
	}
}
