// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package web

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/casjay-forks/vlabstools/src/backup"
	"github.com/casjay-forks/vlabstools/src/catalog"
	"github.com/casjay-forks/vlabstools/src/config"
	"github.com/casjay-forks/vlabstools/src/logger"
	"github.com/casjay-forks/vlabstools/src/mssql"
	"github.com/casjay-forks/vlabstools/src/netshare"
	"github.com/casjay-forks/vlabstools/src/passwd"
	"github.com/casjay-forks/vlabstools/src/portscan"
	"github.com/casjay-forks/vlabstools/src/storage"
	"github.com/casjay-forks/vlabstools/src/toolbox"
)

type memHistory struct {
	mu   sync.Mutex
	recs []storage.Record
}

func (h *memHistory) HistoryAdd(ctx context.Context, rec storage.Record) (storage.Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec.ID = strconv.Itoa(len(h.recs) + 1)
	rec.CreateTime = time.Now().Unix()
	h.recs = append(h.recs, rec)
	return rec, nil
}

func (h *memHistory) HistoryList(ctx context.Context, kind string, limit int) ([]storage.Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]storage.Record{}, h.recs...), nil
}

func (h *memHistory) Ping(ctx context.Context) error {
	return nil
}

// newTestServer starts the dashboard; a non-empty passwordFile turns on login.
func newTestServer(t *testing.T, passwordFile string) (*httptest.Server, *memHistory) {
	t.Helper()

	log := logger.New("2006-01-02 15:04:05")
	log.SetWriter(io.Discard)

	hist := &memHistory{}
	tools := &toolbox.Toolbox{
		Log:     log,
		History: hist,
		Scanner: portscan.New(200*time.Millisecond, 4, 0),
		Catalog: catalog.Default(),
		Backup:  &backup.Service{Log: log, History: hist, Destination: t.TempDir()},
		MSSQL:   mssql.ConnOptions{Server: "localhost", Auth: mssql.AuthSQL, User: "sa"},
	}

	data, err := Load(tools, config.Config{
		Log:               log,
		RateLimitTools:    netshare.NewRateLimitSystem(0, 0),
		Version:           "test",
		Title:             "VLabsTools",
		TagLine:           "IT tools dashboard",
		PasswordFile:      passwordFile,
		SessionSecret:     []byte("0123456789abcdef0123456789abcdef"),
		SessionMaxAge:     3600,
		BruteForceMax:     3,
		BruteForceLockout: time.Minute,
		HistoryLimit:      10,
	})
	if err != nil {
		t.Fatal(err)
	}

	r := mux.NewRouter()
	data.Register(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, hist
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func get(t *testing.T, c *http.Client, u string) (int, string, http.Header) {
	t.Helper()
	resp, err := c.Get(u)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body), resp.Header
}

func post(t *testing.T, c *http.Client, u string, form url.Values) (int, string, http.Header) {
	t.Helper()
	resp, err := c.PostForm(u, form)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body), resp.Header
}

var csrfRe = regexp.MustCompile(`name="csrf_token" value="([^"]+)"`)

func csrfFrom(t *testing.T, body string) string {
	t.Helper()
	m := csrfRe.FindStringSubmatch(body)
	if m == nil {
		t.Fatal("no csrf token in page")
	}
	return m[1]
}

func TestPagesRender(t *testing.T) {
	srv, _ := newTestServer(t, "")
	c := newClient(t)

	pages := map[string]string{
		"/":           "Hello there!",
		"/network":    "Check IP",
		"/software":   "Dropbox",
		"/encryption": "Generate",
		"/backup":     "Find instances",
		"/system":     "Hostname",
		"/about":      "JSON API",
	}

	for path, want := range pages {
		code, body, _ := get(t, c, srv.URL+path)
		if code != http.StatusOK {
			t.Error(path, "returned", code)
			continue
		}
		if !strings.Contains(body, want) {
			t.Error(path, "does not contain", want)
		}
		if !strings.Contains(body, `href="/encryption"`) {
			t.Error(path, "is missing the sidebar")
		}
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := newTestServer(t, "")
	c := newClient(t)

	code, body, _ := get(t, c, srv.URL+"/nothing-here")
	if code != http.StatusNotFound {
		t.Fatal("expected 404, got", code)
	}
	if !strings.Contains(body, "Not Found") {
		t.Error("error page does not show the status")
	}
}

func TestPostRequiresCSRF(t *testing.T) {
	srv, _ := newTestServer(t, "")
	c := newClient(t)

	code, _, _ := post(t, c, srv.URL+"/encryption", url.Values{"length": {"12"}})
	if code != http.StatusForbidden {
		t.Fatal("expected 403, got", code)
	}

	// Pages without a form do not accept posts, even with a valid token
	_, body, _ := get(t, c, srv.URL+"/encryption")
	code, _, _ = post(t, c, srv.URL+"/system", url.Values{"csrf_token": {csrfFrom(t, body)}})
	if code != http.StatusMethodNotAllowed {
		t.Fatal("expected 405, got", code)
	}
}

func TestEncryptionSubmit(t *testing.T) {
	srv, _ := newTestServer(t, "")
	c := newClient(t)

	_, body, _ := get(t, c, srv.URL+"/encryption")
	code, body, hdr := post(t, c, srv.URL+"/encryption", url.Values{
		"csrf_token": {csrfFrom(t, body)},
		"length":     {"20"},
		"quantity":   {"3"},
		"lower":      {"on"},
		"digits":     {"on"},
	})
	if code != http.StatusOK {
		t.Fatal("expected 200, got", code)
	}
	if hdr.Get("Cache-Control") != "no-store" {
		t.Error("generated passwords must not be cached")
	}

	list := regexp.MustCompile(`<li><code>([^<]+)</code></li>`).FindAllStringSubmatch(body, -1)
	if len(list) != 3 {
		t.Fatal("expected 3 passwords, got", len(list))
	}
	for _, m := range list {
		if len(m[1]) != 20 {
			t.Error("unexpected password length", m[1])
		}
	}

	// No character set selected
	_, body, _ = get(t, c, srv.URL+"/encryption")
	_, body, _ = post(t, c, srv.URL+"/encryption", url.Values{
		"csrf_token": {csrfFrom(t, body)},
		"length":     {"20"},
	})
	if !strings.Contains(body, `class="alert"`) {
		t.Error("expected an error when no character set is chosen")
	}
}

func TestSoftwareFilter(t *testing.T) {
	srv, _ := newTestServer(t, "")
	c := newClient(t)

	_, body, _ := get(t, c, srv.URL+"/software?platform=windows&q=DROP")
	if !strings.Contains(body, "Dropbox") {
		t.Error("filter lost Dropbox")
	}
	if strings.Contains(body, "Unikey") {
		t.Error("filter kept Unikey")
	}
}

func TestBackupPreview(t *testing.T) {
	srv, _ := newTestServer(t, "")
	c := newClient(t)

	_, body, _ := get(t, c, srv.URL+"/backup?tab=sql")
	// Copy-only backups leave the differential base alone, so the form starts checked
	if !strings.Contains(body, `name="copy_only" checked`) {
		t.Error("copy only should be checked by default")
	}

	code, body, _ := post(t, c, srv.URL+"/backup", url.Values{
		"csrf_token":  {csrfFrom(t, body)},
		"tab":         {"sql"},
		"action":      {"preview"},
		"database":    {"Sales"},
		"dir":         {`D:\Backup`},
		"file":        {"sales.bak"},
		"copy_only":   {"on"},
		"compression": {"on"},
		"verify":      {"on"},
	})
	if code != http.StatusOK {
		t.Fatal("expected 200, got", code)
	}
	if !strings.Contains(body, `class="card statement"`) || !strings.Contains(body, "BACKUP") {
		t.Error("preview did not render the statement")
	}
	if !strings.Contains(body, "COPY_ONLY") {
		t.Error("default statement lacks COPY_ONLY")
	}
	if strings.Contains(body, `class="alert"`) {
		t.Error("unexpected error on preview")
	}

	// Missing database is reported inline
	_, body, _ = post(t, c, srv.URL+"/backup", url.Values{
		"csrf_token": {csrfFrom(t, body)},
		"tab":        {"sql"},
		"action":     {"preview"},
		"dir":        {`D:\Backup`},
	})
	if !strings.Contains(body, "missing database name") {
		t.Error("expected the missing database message")
	}
}

func TestLoginFlow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "passwd")
	if err := passwd.SetPassword(path, "admin", "s3cret-pass"); err != nil {
		t.Fatal(err)
	}

	srv, _ := newTestServer(t, path)
	c := newClient(t)

	code, _, hdr := get(t, c, srv.URL+"/network?tab=dns")
	if code != http.StatusFound {
		t.Fatal("expected redirect to login, got", code)
	}
	if hdr.Get("Location") != "/login?redirect="+url.QueryEscape("/network?tab=dns") {
		t.Error("unexpected login redirect", hdr.Get("Location"))
	}

	// Static files and health stay public
	if code, _, _ := get(t, c, srv.URL+"/style.css"); code != http.StatusOK {
		t.Error("style.css returned", code)
	}

	_, body, _ := get(t, c, srv.URL+"/login?redirect=/network")
	token := csrfFrom(t, body)

	code, body, _ = post(t, c, srv.URL+"/login", url.Values{
		"csrf_token": {token},
		"username":   {"admin"},
		"password":   {"wrong"},
		"redirect":   {"/network"},
	})
	if code != http.StatusUnauthorized {
		t.Fatal("expected 401 for a bad password, got", code)
	}

	code, _, hdr = post(t, c, srv.URL+"/login", url.Values{
		"csrf_token": {csrfFrom(t, body)},
		"username":   {"admin"},
		"password":   {"s3cret-pass"},
		"redirect":   {"//evil.example/"},
	})
	if code != http.StatusSeeOther {
		t.Fatal("expected 303 after login, got", code)
	}
	if hdr.Get("Location") != "/" {
		t.Error("off-site redirect was not replaced", hdr.Get("Location"))
	}

	code, body, _ = get(t, c, srv.URL+"/network")
	if code != http.StatusOK {
		t.Fatal("expected 200 after login, got", code)
	}
	if !strings.Contains(body, "Log out") {
		t.Error("logged in page has no logout button")
	}

	code, _, _ = post(t, c, srv.URL+"/logout", url.Values{"csrf_token": {csrfFrom(t, body)}})
	if code != http.StatusSeeOther {
		t.Fatal("expected 303 after logout, got", code)
	}
	if code, _, _ := get(t, c, srv.URL+"/network"); code != http.StatusFound {
		t.Error("still logged in after logout")
	}
}

func TestLoginLockout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "passwd")
	if err := passwd.SetPassword(path, "admin", "s3cret-pass"); err != nil {
		t.Fatal(err)
	}

	srv, _ := newTestServer(t, path)
	c := newClient(t)

	_, body, _ := get(t, c, srv.URL+"/login")
	token := csrfFrom(t, body)

	var code int
	var hdr http.Header
	for i := 0; i < 4; i++ {
		code, _, hdr = post(t, c, srv.URL+"/login", url.Values{
			"csrf_token": {token},
			"username":   {"admin"},
			"password":   {"wrong"},
		})
	}
	if code != http.StatusTooManyRequests {
		t.Fatal("expected 429 once locked out, got", code)
	}
	if hdr.Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
}

func TestScanSocket(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	open := ln.Addr().(*net.TCPAddr).Port

	srv, hist := newTestServer(t, "")
	c := newClient(t)

	_, body, _ := get(t, c, srv.URL+"/network?tab=scan")
	token := csrfFrom(t, body)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/scan?" + url.Values{
		"host":       {"127.0.0.1"},
		"ports":      {strconv.Itoa(open)},
		"csrf_token": {token},
	}.Encode()

	srvURL, _ := url.Parse(srv.URL)
	hdr := http.Header{}
	for _, ck := range c.Jar.Cookies(srvURL) {
		hdr.Add("Cookie", ck.String())
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, hdr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	var msg scanMessage
	for msg.Type != "result" && msg.Type != "error" {
		msg = scanMessage{}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatal(err)
		}
	}

	if msg.Type == "error" {
		t.Fatal(msg.Error)
	}
	if msg.Summary != "1 open of 1" {
		t.Error("unexpected summary", msg.Summary)
	}
	if len(msg.Open) != 1 || msg.Open[0].Port != open {
		t.Error("unexpected open ports", msg.Open)
	}

	runs, _ := hist.HistoryList(context.Background(), "", 0)
	if len(runs) != 1 || runs[0].Kind != storage.KindScan {
		t.Error("scan was not recorded", runs)
	}
}

func TestScanSocketRejectsBadToken(t *testing.T) {
	srv, _ := newTestServer(t, "")

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/scan?host=127.0.0.1&ports=80&csrf_token=nope"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected the handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Error("expected 403")
	}
}
