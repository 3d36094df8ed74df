// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package apiv1

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/casjay-forks/vlabstools/src/catalog"
	"github.com/casjay-forks/vlabstools/src/config"
	"github.com/casjay-forks/vlabstools/src/logger"
	"github.com/casjay-forks/vlabstools/src/netshare"
	"github.com/casjay-forks/vlabstools/src/portscan"
	"github.com/casjay-forks/vlabstools/src/storage"
	"github.com/casjay-forks/vlabstools/src/toolbox"
)

type memHistory struct {
	recs []storage.Record
	down bool
}

func (h *memHistory) HistoryAdd(ctx context.Context, rec storage.Record) (storage.Record, error) {
	rec.ID = strconv.Itoa(len(h.recs) + 1)
	h.recs = append(h.recs, rec)
	return rec, nil
}

func (h *memHistory) HistoryList(ctx context.Context, kind string, limit int) ([]storage.Record, error) {
	var out []storage.Record
	for _, rec := range h.recs {
		if kind == "" || rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (h *memHistory) Ping(ctx context.Context) error {
	if h.down {
		return errors.New("database is down")
	}
	return nil
}

func newTestAPI(perMinute uint) (*Data, *memHistory) {
	log := logger.New("2006-01-02 15:04:05")
	log.SetWriter(io.Discard)

	hist := &memHistory{}
	tools := &toolbox.Toolbox{
		Log:     log,
		History: hist,
		Scanner: portscan.New(200*time.Millisecond, 4, 0),
		Catalog: catalog.Default(),
	}

	return Load(tools, config.Config{
		Log:            log,
		RateLimitTools: netshare.NewRateLimitSystem(perMinute, 1),
		Version:        "test",
	}), hist
}

func call(data *Data, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rw := httptest.NewRecorder()
	data.Hand(rw, req)
	return rw
}

func TestScan(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	open := ln.Addr().(*net.TCPAddr).Port

	data, hist := newTestAPI(0)

	rw := call(data, http.MethodPost, "/api/v1/scan", `{"host": "127.0.0.1", "ports": "`+strconv.Itoa(open)+`"}`)
	if rw.Code != http.StatusOK {
		t.Fatal("expected 200, got", rw.Code, rw.Body.String())
	}

	var ans scanAnswer
	if err := json.Unmarshal(rw.Body.Bytes(), &ans); err != nil {
		t.Fatal(err)
	}
	if ans.Total != 1 || len(ans.Open) != 1 || ans.Open[0].Port != open {
		t.Error("unexpected answer", rw.Body.String())
	}
	if len(hist.recs) != 1 {
		t.Error("scan was not recorded")
	}
}

func TestErrors(t *testing.T) {
	data, _ := newTestAPI(0)

	testData := []struct {
		method string
		target string
		body   string
		code   int
	}{
		{http.MethodGet, "/api/v1/nothing", "", 404},
		{http.MethodGet, "/api/v1/scan", "", 405},
		{http.MethodPost, "/api/v1/scan", `{"host": "127.0.0.1", "ports": "abc"}`, 400},
		{http.MethodPost, "/api/v1/scan", `{"host": "", "ports": "80"}`, 400},
		{http.MethodPost, "/api/v1/scan", `{"host": "127.0.0.1", "bogus": 1}`, 400},
		{http.MethodPost, "/api/v1/scan", `not json`, 400},
		{http.MethodPost, "/api/v1/password", `{"lower": false, "upper": false, "digits": false, "symbols": false}`, 400},
		{http.MethodGet, "/api/v1/ssl?host=example.com&port=x", "", 400},
		{http.MethodGet, "/api/v1/ssl?host=example.com&port=70000", "", 400},
		{http.MethodGet, "/api/v1/whois?domain=", "", 400},
		{http.MethodGet, "/api/v1/history?kind=bogus", "", 400},
	}

	for _, test := range testData {
		rw := call(data, test.method, test.target, test.body)
		if rw.Code != test.code {
			t.Error(test.method, test.target, "expected", test.code, "got", rw.Code)
			continue
		}

		var resp errorType
		if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
			t.Error(test.target, "error body is not JSON:", err)
		}
		if resp.Code != test.code {
			t.Error(test.target, "body code", resp.Code)
		}
	}
}

func TestPassword(t *testing.T) {
	data, _ := newTestAPI(0)

	rw := call(data, http.MethodPost, "/api/v1/password", `{"length": 24, "quantity": 5, "symbols": true}`)
	if rw.Code != http.StatusOK {
		t.Fatal("expected 200, got", rw.Code, rw.Body.String())
	}
	if rw.Header().Get("Cache-Control") != "no-store" {
		t.Error("passwords must not be cached")
	}

	var ans passwordAnswer
	if err := json.Unmarshal(rw.Body.Bytes(), &ans); err != nil {
		t.Fatal(err)
	}
	if len(ans.Passwords) != 5 {
		t.Fatal("expected 5 passwords, got", len(ans.Passwords))
	}
	for _, p := range ans.Passwords {
		if len(p) != 24 {
			t.Error("unexpected length", p)
		}
	}
	if ans.Strength == "" || ans.Bits <= 0 {
		t.Error("missing strength", ans)
	}
}

func TestSoftware(t *testing.T) {
	data, _ := newTestAPI(0)

	rw := call(data, http.MethodGet, "/api/v1/software?platform=windows&q=google", "")
	var ans softwareAnswer
	if err := json.Unmarshal(rw.Body.Bytes(), &ans); err != nil {
		t.Fatal(err)
	}
	if ans.Platform != string(catalog.Windows) {
		t.Error("unexpected platform", ans.Platform)
	}
	if len(ans.Entries) != 1 || ans.Entries[0].Name != "GoogleDrive" {
		t.Error("unexpected entries", ans.Entries)
	}

	rw = call(data, http.MethodGet, "/api/v1/software?q=zzz-not-there", "")
	if !strings.Contains(rw.Body.String(), `"entries": []`) {
		t.Error("empty result should be an empty list", rw.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	data, hist := newTestAPI(0)

	rw := call(data, http.MethodGet, "/api/v1/healthz", "")
	if rw.Code != http.StatusOK || !strings.Contains(rw.Body.String(), `"healthy"`) {
		t.Error("unexpected healthz", rw.Code, rw.Body.String())
	}

	hist.down = true
	rw = call(data, http.MethodGet, "/api/v1/healthz", "")
	if rw.Code != http.StatusServiceUnavailable || !strings.Contains(rw.Body.String(), `"degraded"`) {
		t.Error("unexpected healthz", rw.Code, rw.Body.String())
	}
}

func TestRateLimit(t *testing.T) {
	data, _ := newTestAPI(1)

	// The first call uses the only token, its result does not matter
	call(data, http.MethodGet, "/api/v1/whois?domain=", "")

	rw := call(data, http.MethodGet, "/api/v1/whois?domain=", "")
	if rw.Code != http.StatusTooManyRequests {
		t.Fatal("expected 429, got", rw.Code)
	}
	if rw.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
}
