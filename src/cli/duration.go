// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package cli

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// ParseDuration accepts values like "300ms", "10m", "1h 1d" or "2w".
// Units: ms, s, m, h, d, w.
func ParseDuration(s string) (time.Duration, error) {
	var out time.Duration
	invalid := errors.New("invalid format \"" + s + "\"")

	rest := strings.ReplaceAll(s, " ", "")
	if rest == "" {
		return 0, invalid
	}

	for rest != "" {
		i := 0
		for i < len(rest) && '0' <= rest[i] && rest[i] <= '9' {
			i++
		}
		if i == 0 || i == len(rest) {
			return 0, invalid
		}

		val, err := strconv.ParseInt(rest[:i], 10, 64)
		if err != nil {
			return 0, invalid
		}
		rest = rest[i:]

		var unit time.Duration
		switch {
		case strings.HasPrefix(rest, "ms"):
			unit = time.Millisecond
			rest = rest[2:]
		case rest[0] == 's':
			unit = time.Second
			rest = rest[1:]
		case rest[0] == 'm':
			unit = time.Minute
			rest = rest[1:]
		case rest[0] == 'h':
			unit = time.Hour
			rest = rest[1:]
		case rest[0] == 'd':
			unit = 24 * time.Hour
			rest = rest[1:]
		case rest[0] == 'w':
			unit = 7 * 24 * time.Hour
			rest = rest[1:]
		default:
			return 0, invalid
		}

		out += time.Duration(val) * unit
	}

	return out, nil
}
