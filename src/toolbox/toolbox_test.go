// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package toolbox

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/casjay-forks/vlabstools/src/logger"
	"github.com/casjay-forks/vlabstools/src/mssql"
	"github.com/casjay-forks/vlabstools/src/netshare"
	"github.com/casjay-forks/vlabstools/src/portscan"
	"github.com/casjay-forks/vlabstools/src/storage"
)

type memHistory struct {
	mu   sync.Mutex
	recs []storage.Record
}

func (h *memHistory) HistoryAdd(ctx context.Context, rec storage.Record) (storage.Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec.ID = strconv.Itoa(len(h.recs) + 1)
	h.recs = append(h.recs, rec)
	return rec, nil
}

func (h *memHistory) HistoryList(ctx context.Context, kind string, limit int) ([]storage.Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := []storage.Record{}
	for _, rec := range h.recs {
		if kind == "" || rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (h *memHistory) Ping(ctx context.Context) error {
	return nil
}

func quietLog() logger.Logger {
	log := logger.New("2006-01-02 15:04:05")
	log.SetWriter(io.Discard)
	return log
}

func TestScanRecordsHistory(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	open := ln.Addr().(*net.TCPAddr).Port

	hist := &memHistory{}
	tb := &Toolbox{
		Log:     quietLog(),
		History: hist,
		Scanner: portscan.New(200*time.Millisecond, 4, 0),
	}

	var calls int
	report, err := tb.Scan(context.Background(), "127.0.0.1", strconv.Itoa(open), func(total, done int) {
		calls++
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Open) != 1 || report.Open[0] != open {
		t.Errorf("open = %v, want [%d]", report.Open, open)
	}
	if calls != 1 {
		t.Errorf("progress calls = %d, want 1", calls)
	}

	runs, _ := tb.Runs(context.Background(), storage.KindScan)
	if len(runs) != 1 {
		t.Fatalf("history rows = %d, want 1", len(runs))
	}
	if runs[0].Target != "127.0.0.1" || runs[0].Status != storage.StatusOK || runs[0].Summary != "1 open of 1" {
		t.Errorf("unexpected history row %+v", runs[0])
	}
}

func TestScanRejectsInput(t *testing.T) {
	tb := &Toolbox{Log: quietLog(), Scanner: portscan.New(0, 0, 0)}

	tests := map[string][2]string{
		"empty host":  {"", "22"},
		"option host": {"-oProxy", "22"},
		"no ports":    {"example.com", "abc,99999"},
	}

	for name, in := range tests {
		_, err := tb.Scan(context.Background(), in[0], in[1], nil)
		if !errors.Is(err, netshare.ErrBadRequest) {
			t.Errorf("%s: error = %v, want a bad request", name, err)
		}
	}
}

func TestRunsUnknownKind(t *testing.T) {
	tb := &Toolbox{History: &memHistory{}}

	if _, err := tb.Runs(context.Background(), "tar"); !errors.Is(err, netshare.ErrBadRequest) {
		t.Errorf("error = %v, want a bad request", err)
	}
	if _, err := tb.Runs(context.Background(), ""); err != nil {
		t.Errorf("error = %v", err)
	}
}

func TestSSLPortRange(t *testing.T) {
	tb := &Toolbox{Log: quietLog()}

	if _, err := tb.SSL(context.Background(), "example.com", 70000); !errors.Is(err, netshare.ErrBadRequest) {
		t.Errorf("error = %v, want a bad request", err)
	}
}

func TestSQLConnDefaults(t *testing.T) {
	tb := &Toolbox{MSSQL: mssql.ConnOptions{
		Server:   "db01",
		Auth:     mssql.AuthSQL,
		User:     "sa",
		Password: "secret",
		Timeout:  time.Second,
	}}

	got := tb.SQLConn(mssql.ConnOptions{})
	if got.Server != "db01" || got.User != "sa" || got.Password != "secret" || got.Timeout != time.Second {
		t.Errorf("defaults not applied: %+v", got)
	}

	got = tb.SQLConn(mssql.ConnOptions{Server: `db02\SQLEXPRESS`, Auth: mssql.AuthWindows})
	if got.Server != `db02\SQLEXPRESS` || got.User != "" || got.Password != "" {
		t.Errorf("windows auth must not inherit SQL credentials: %+v", got)
	}

	got = tb.SQLConn(mssql.ConnOptions{User: "backup", Password: "pw"})
	if got.User != "backup" || got.Password != "pw" {
		t.Errorf("form credentials overwritten: %+v", got)
	}
}
