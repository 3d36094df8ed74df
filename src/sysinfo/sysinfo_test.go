// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package sysinfo

import (
	"context"
	"runtime"
	"testing"

	"github.com/shirou/gopsutil/v3/host"
)

func TestCollect(t *testing.T) {
	info := Collect(context.Background())

	expKeys := []string{
		"OS", "OS Version", "OS Release", "Hostname", "User",
		"CPU Cores (physical)", "CPU Cores (logical)", "RAM (GB)",
		"Boot Time", "Go Version", "Machine", "Processor",
	}

	if len(info) != len(expKeys) {
		t.Fatalf("expected %d rows but got %d", len(expKeys), len(info))
	}

	for i, key := range expKeys {
		if info[i].Key != key {
			t.Errorf("row %d: expected key %q but got %q", i, key, info[i].Key)
		}
		if info[i].Value == "" {
			t.Errorf("row %q has empty value", key)
		}
	}

	if info.Get("Go Version") != runtime.Version() {
		t.Error("unexpected Go version", info.Get("Go Version"))
	}
	if arch, err := host.KernelArch(); err == nil && arch != "" && info.Get("Machine") != arch {
		t.Errorf("expected machine %q but got %q", arch, info.Get("Machine"))
	}
	if info.Get("missing") != "" {
		t.Error("expected empty value for unknown key")
	}
}

func TestInfoString(t *testing.T) {
	info := Info{{"OS", "linux"}, {"Hostname", "box"}}

	exp := "OS        linux\nHostname  box"
	if res := info.String(); res != exp {
		t.Errorf("expected %q but got %q", exp, res)
	}
}
