// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package portscan

import (
	"sort"
	"strconv"
	"strings"
)

const (
	MinPort = 1
	MaxPort = 65535
)

// ParsePorts parses "22,80,443" and ranges like "1-1024".
// Reversed ranges are swapped, invalid tokens are skipped and ports outside
// 1..65535 are dropped. The result is unique and sorted.
func ParsePorts(s string) []int {
	seen := make(map[int]struct{})

	for _, token := range strings.Split(s, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		if lo, hi, ok := strings.Cut(token, "-"); ok {
			a, errA := strconv.Atoi(strings.TrimSpace(lo))
			b, errB := strconv.Atoi(strings.TrimSpace(hi))
			if errA != nil || errB != nil {
				continue
			}
			if a > b {
				a, b = b, a
			}
			if a < MinPort {
				a = MinPort
			}
			if b > MaxPort {
				b = MaxPort
			}
			for p := a; p <= b; p++ {
				seen[p] = struct{}{}
			}
			continue
		}

		p, err := strconv.Atoi(token)
		if err != nil || p < MinPort || p > MaxPort {
			continue
		}
		seen[p] = struct{}{}
	}

	ports := make([]int, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}
	sort.Ints(ports)

	return ports
}

// AllPorts returns 1..65535.
func AllPorts() []int {
	ports := make([]int, 0, MaxPort)
	for p := MinPort; p <= MaxPort; p++ {
		ports = append(ports, p)
	}
	return ports
}

// validPorts drops out-of-range and duplicate ports, keeping order.
func validPorts(ports []int) []int {
	seen := make(map[int]struct{}, len(ports))
	out := make([]int, 0, len(ports))
	for _, p := range ports {
		if p < MinPort || p > MaxPort {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
