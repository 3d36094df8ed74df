// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package netdiag

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/miekg/dns"
)

// zone answers for example.test
func answer(w dns.ResponseWriter, req *dns.Msg) {
	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.Answer = zoneRecords(req.Question[0])
	w.WriteMsg(resp)
}

func zoneRecords(q dns.Question) []dns.RR {
	if q.Name != "example.test." {
		return nil
	}

	var out []dns.RR
	add := func(s string) {
		rr, err := dns.NewRR(s)
		if err == nil {
			out = append(out, rr)
		}
	}

	switch q.Qtype {
	case dns.TypeA:
		add("example.test. 60 IN A 192.0.2.10")
		add("example.test. 60 IN A 192.0.2.2")
	case dns.TypeMX:
		add("example.test. 60 IN MX 10 mail.example.test.")
	case dns.TypeTXT:
		add(`example.test. 60 IN TXT "v=spf1 -all"`)
	}

	return out
}

func startDNSServer(t *testing.T) string {
	t.Helper()
	return startDNSServerWith(t, dns.HandlerFunc(answer))
}

func startDNSServerWith(t *testing.T, handler dns.Handler) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skip("cannot listen:", err)
	}

	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        pc,
		Handler:           handler,
		NotifyStartedFunc: func() { close(started) },
	}
	go srv.ActivateAndServe()
	<-started
	t.Cleanup(func() { srv.Shutdown() })

	return pc.LocalAddr().String()
}

func testResolver(server string) *net.Resolver {
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "udp", server)
		},
	}
}

func TestDNSLookup(t *testing.T) {
	server := startDNSServer(t)
	d := &Diag{DNSServer: server, Resolver: testResolver(server)}

	report, err := d.DNSLookup(context.Background(), "example.test")
	if err != nil {
		t.Fatal(err)
	}

	exp := strings.Join([]string{
		"Addresses:",
		"  - 192.0.2.10",
		"  - 192.0.2.2",
		"A: 192.0.2.10, 192.0.2.2",
		"MX: 10 mail.example.test.",
		`TXT: "v=spf1 -all"`,
	}, "\n")

	if res := report.String(); res != exp {
		t.Errorf("expected\n%s\nbut got\n%s", exp, res)
	}
}

func TestDNSLookupSlowServer(t *testing.T) {
	// Each answer takes most of the timeout and TXT never arrives in time
	server := startDNSServerWith(t, dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
		delay := 120 * time.Millisecond
		if req.Question[0].Qtype == dns.TypeTXT {
			delay = time.Second
		}
		time.Sleep(delay)
		answer(w, req)
	}))
	d := &Diag{DNSServer: server, Resolver: testResolver(server), DNSTimeout: 300 * time.Millisecond}

	report, err := d.DNSLookup(context.Background(), "example.test")
	if err != nil {
		t.Fatal(err)
	}

	var types []string
	for _, rec := range report.Records {
		types = append(types, rec.Type)
	}
	if strings.Join(types, ",") != "A,MX" {
		t.Error("unexpected record types", types)
	}
	if strings.Join(report.Failed, ",") != "TXT" {
		t.Error("expected TXT to be reported as failed, got", report.Failed)
	}
	if !strings.HasSuffix(report.String(), "Query failed: TXT") {
		t.Error("failure missing from report:\n" + report.String())
	}
}

func TestDNSLookupDoH(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/dns-message" {
			http.Error(w, "bad content type", http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(r.Body)

		req := new(dns.Msg)
		if err := req.Unpack(body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		resp := new(dns.Msg)
		resp.SetReply(req)
		resp.Answer = zoneRecords(req.Question[0])
		packed, _ := resp.Pack()

		w.Header().Set("Content-Type", "application/dns-message")
		w.Write(packed)
	}))
	defer srv.Close()

	server := startDNSServer(t)
	d := &Diag{DoHURL: srv.URL, HTTPClient: srv.Client(), Resolver: testResolver(server)}

	report, err := d.DNSLookup(context.Background(), "example.test")
	if err != nil {
		t.Fatal(err)
	}
	if report.Server != srv.URL {
		t.Error("expected DoH server but got", report.Server)
	}
	if len(report.Records) != 3 || report.Records[1].Type != "MX" {
		t.Error("unexpected records", report.Records)
	}
}

func TestDNSReportResolverError(t *testing.T) {
	r := &DNSReport{AddrErr: &net.DNSError{Err: "no such host", Name: "x.test"}, Records: []Record{{Type: "NS", Values: []string{"ns1.test."}}}}
	exp := "DNS error (resolver): lookup x.test: no such host\nNS: ns1.test."
	if res := r.String(); res != exp {
		t.Errorf("expected %q but got %q", exp, res)
	}
}
