// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/casjay-forks/vlabstools/src/cli"
)

// CronExpr is a parsed schedule. Each field is a bit set of allowed values.
type CronExpr struct {
	minute  uint64
	hour    uint64
	day     uint64
	month   uint64
	weekday uint64

	// Day-of-month and weekday are ORed when both are restricted
	dayStar     bool
	weekdayStar bool

	every  time.Duration
	source string
}

var shorthands = map[string]string{
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
	"@monthly":  "0 0 1 * *",
	"@weekly":   "0 0 * * 0",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@hourly":   "0 * * * *",
}

// ParseCron accepts "minute hour day month weekday", the @daily family and
// "@every <duration>" where duration may use d and w units.
func ParseCron(expr string) (*CronExpr, error) {
	expr = strings.TrimSpace(expr)
	c := &CronExpr{source: expr}

	if rest, ok := strings.CutPrefix(expr, "@every "); ok {
		dur, err := cli.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return nil, fmt.Errorf("invalid duration: %s", rest)
		}
		if dur < time.Second {
			return nil, fmt.Errorf("@every interval must be at least 1s")
		}
		c.every = dur
		return c, nil
	}

	if full, ok := shorthands[strings.ToLower(expr)]; ok {
		expr = full
	}

	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("invalid cron expression: expected 5 fields, got %d", len(parts))
	}

	fields := []struct {
		name     string
		dst      *uint64
		min, max int
	}{
		{"minute", &c.minute, 0, 59},
		{"hour", &c.hour, 0, 23},
		{"day", &c.day, 1, 31},
		{"month", &c.month, 1, 12},
		{"weekday", &c.weekday, 0, 7},
	}

	for i, f := range fields {
		bits, err := parseField(parts[i], f.min, f.max)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", f.name, err)
		}
		*f.dst = bits
	}

	// 7 is Sunday too
	if c.weekday&(1<<7) != 0 {
		c.weekday |= 1
		c.weekday &^= 1 << 7
	}

	c.dayStar = strings.HasPrefix(parts[2], "*")
	c.weekdayStar = strings.HasPrefix(parts[4], "*")

	return c, nil
}

func parseField(field string, min, max int) (uint64, error) {
	var bits uint64

	for _, part := range strings.Split(field, ",") {
		rangePart, stepPart, hasStep := strings.Cut(part, "/")

		step := 1
		if hasStep {
			var err error
			step, err = strconv.Atoi(stepPart)
			if err != nil || step <= 0 {
				return 0, fmt.Errorf("invalid step: %s", part)
			}
		}

		var start, end int
		switch {
		case rangePart == "*":
			start, end = min, max
		case strings.Contains(rangePart, "-"):
			a, b, _ := strings.Cut(rangePart, "-")
			var err1, err2 error
			start, err1 = strconv.Atoi(a)
			end, err2 = strconv.Atoi(b)
			if err1 != nil || err2 != nil {
				return 0, fmt.Errorf("invalid range: %s", rangePart)
			}
			if start > end {
				return 0, fmt.Errorf("range start %d > end %d", start, end)
			}
		default:
			v, err := strconv.Atoi(rangePart)
			if err != nil {
				return 0, fmt.Errorf("invalid value: %s", rangePart)
			}
			start = v
			end = v
			if hasStep {
				end = max
			}
		}

		if start < min || end > max {
			return 0, fmt.Errorf("value out of range [%d-%d]: %s", min, max, part)
		}

		for v := start; v <= end; v += step {
			bits |= 1 << uint(v)
		}
	}

	if bits == 0 {
		return 0, fmt.Errorf("empty field")
	}
	return bits, nil
}

func has(bits uint64, v int) bool {
	return bits&(1<<uint(v)) != 0
}

func (c *CronExpr) dayMatches(t time.Time) bool {
	dom := has(c.day, t.Day())
	dow := has(c.weekday, int(t.Weekday()))

	if c.dayStar || c.weekdayStar {
		return dom && dow
	}
	return dom || dow
}

// Next returns the first matching time strictly after the given one, or the
// zero time when nothing matches within five years.
func (c *CronExpr) Next(after time.Time) time.Time {
	if c.every > 0 {
		return after.Add(c.every)
	}

	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(5, 0, 0)

	for t.Before(limit) {
		if !has(c.month, int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !c.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !has(c.hour, t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, t.Location())
			continue
		}
		if !has(c.minute, t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}

	return time.Time{}
}

func (c *CronExpr) String() string {
	return c.source
}
