// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package netdiag

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestPublicIP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v4json":
			w.Write([]byte(`{"ip":"203.0.113.5"}`))
		case "/v6json":
			http.Error(w, "down", http.StatusBadGateway)
		case "/v6text":
			w.Write([]byte("2001:db8::5\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d := &Diag{
		HTTPClient: srv.Client(),
		IPEndpoints: IPEndpoints{
			V4JSON: srv.URL + "/v4json",
			V4Text: srv.URL + "/v4text",
			V6JSON: srv.URL + "/v6json",
			V6Text: srv.URL + "/v6text",
		},
	}

	ips, err := d.PublicIP(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ips.V4 != "203.0.113.5" || ips.V6 != "2001:db8::5" {
		t.Error("unexpected addresses", ips)
	}
	if ips.Preferred() != "2001:db8::5" {
		t.Error("expected IPv6 to be preferred but got", ips.Preferred())
	}
}

func TestPublicIPUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	d := &Diag{
		HTTPClient:  srv.Client(),
		IPEndpoints: IPEndpoints{V4JSON: srv.URL, V4Text: srv.URL, V6JSON: srv.URL, V6Text: srv.URL},
	}

	if _, err := d.PublicIP(context.Background()); !errors.Is(err, ErrNoPublicIP) {
		t.Error("expected ErrNoPublicIP but got", err)
	}
}

func TestFilterLocalIPv4(t *testing.T) {
	in := []string{"127.0.0.1/8", "192.168.1.20/24", "fe80::1/64", "10.0.0.5/8", "192.168.1.20/24", "bogus"}
	exp := []string{"10.0.0.5", "192.168.1.20"}

	if res := filterLocalIPv4(in); !reflect.DeepEqual(res, exp) {
		t.Error("expected", exp, "but got", res)
	}
}
