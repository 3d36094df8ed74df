// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package portscan

import (
	"reflect"
	"testing"
)

func TestParsePorts(t *testing.T) {
	testData := map[string][]int{
		"":                 {},
		"22,80,443":        {22, 80, 443},
		"443, 22 ,80,22":   {22, 80, 443},
		"1-5":              {1, 2, 3, 4, 5},
		"5-3":              {3, 4, 5},
		"0,70000,abc,8080": {8080},
		"65534-70000":      {65534, 65535},
		"x-10,20-y,25":     {25},
		"10-12,11":         {10, 11, 12},
	}

	for s, exp := range testData {
		res := ParsePorts(s)
		if !reflect.DeepEqual(exp, res) {
			t.Error("expected", exp, "but got", res, "(input:", s, ")")
		}
	}
}

func TestAllPorts(t *testing.T) {
	ports := AllPorts()
	if len(ports) != MaxPort {
		t.Fatal("expected", MaxPort, "ports but got", len(ports))
	}
	if ports[0] != 1 || ports[len(ports)-1] != 65535 {
		t.Error("unexpected bounds", ports[0], ports[len(ports)-1])
	}
}

func TestServiceName(t *testing.T) {
	if ServiceName(22) != "SSH" {
		t.Error("expected SSH but got", ServiceName(22))
	}
	if ServiceName(1433) != "MSSQL" {
		t.Error("expected MSSQL but got", ServiceName(1433))
	}
	if ServiceName(4) != "" {
		t.Error("expected empty name for unknown port")
	}
}
