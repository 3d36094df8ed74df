// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package portscan

import (
	"context"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout = 300 * time.Millisecond
	DefaultWorkers = 200
)

// DialFunc opens a TCP connection; it is swapped out in tests.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// ProgressFunc is called after every completed probe with done increasing by one.
type ProgressFunc func(total, done int)

type Scanner struct {
	// Per-probe connect timeout
	Timeout time.Duration
	// Maximum probes in flight
	Workers int
	// Probes per second, 0 = unlimited
	Rate int

	Dial DialFunc
}

type Report struct {
	Host     string
	Total    int
	Scanned  int
	Open     []int
	Duration time.Duration
	// Set when the context ended before every port was probed
	Cancelled bool
}

func New(timeout time.Duration, workers int, probesPerSecond int) *Scanner {
	return &Scanner{
		Timeout: timeout,
		Workers: workers,
		Rate:    probesPerSecond,
	}
}

func (s *Scanner) timeout() time.Duration {
	if s.Timeout <= 0 {
		return DefaultTimeout
	}
	return s.Timeout
}

func (s *Scanner) workers() int {
	if s.Workers <= 0 {
		return DefaultWorkers
	}
	return s.Workers
}

// probe reports whether port accepted a connection. finished is false when
// the dial failed because the scan itself was cancelled.
func (s *Scanner) probe(scanCtx context.Context, host string, port int) (open bool, finished bool) {
	ctx, cancel := context.WithTimeout(scanCtx, s.timeout())
	defer cancel()

	dial := s.Dial
	if dial == nil {
		d := net.Dialer{Timeout: s.timeout()}
		dial = d.DialContext
	}

	conn, err := dial(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false, scanCtx.Err() == nil
	}
	conn.Close()

	return true, true
}

// Scan probes every port of host with a bounded number of concurrent
// connects. An empty port list scans 1..65535.
func (s *Scanner) Scan(ctx context.Context, host string, ports []int, progress ProgressFunc) Report {
	start := time.Now()

	host = strings.Trim(strings.TrimSpace(host), "[]")
	if len(ports) == 0 {
		ports = AllPorts()
	} else {
		ports = validPorts(ports)
	}

	report := Report{
		Host:  host,
		Total: len(ports),
		Open:  []int{},
	}

	var limiter *rate.Limiter
	if s.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.Rate), 1)
	}

	sem := semaphore.NewWeighted(int64(s.workers()))

	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, port := range ports {
		if ctx.Err() != nil {
			break
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				break
			}
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		wg.Add(1)
		go func(port int) {
			defer wg.Done()
			defer sem.Release(1)

			open, finished := s.probe(ctx, host, port)
			if !finished {
				return
			}

			mu.Lock()
			defer mu.Unlock()

			if open {
				report.Open = append(report.Open, port)
			}
			report.Scanned++
			if progress != nil {
				progress(report.Total, report.Scanned)
			}
		}(port)
	}

	wg.Wait()

	sort.Ints(report.Open)
	report.Cancelled = ctx.Err() != nil && report.Scanned < report.Total
	report.Duration = time.Since(start)

	return report
}

// String renders the result the way the scan page shows it.
func (r Report) String() string {
	if len(r.Open) == 0 {
		return "No open ports found."
	}

	var b strings.Builder
	b.WriteString("OPEN:")
	for _, p := range r.Open {
		b.WriteString("\n" + strconv.Itoa(p) + "/tcp OPEN")
	}

	return b.String()
}

// Summary is the one-line form stored in the run history.
func (r Report) Summary() string {
	out := strconv.Itoa(len(r.Open)) + " open of " + strconv.Itoa(r.Total)
	if r.Cancelled {
		out += " (cancelled after " + strconv.Itoa(r.Scanned) + ")"
	}
	return out
}
