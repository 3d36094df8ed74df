// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package netdiag

import (
	"strings"
	"testing"
)

func TestRegistrableDomain(t *testing.T) {
	testData := map[string]string{
		"example.com":                  "example.com",
		"WWW.Example.COM.":             "example.com",
		"https://shop.example.co.uk/x": "example.co.uk",
		"mail.google.com:443":          "google.com",
	}

	for in, exp := range testData {
		res, err := RegistrableDomain(in)
		if err != nil {
			t.Error("unexpected error for", in, err)
			continue
		}
		if res != exp {
			t.Error("expected", exp, "but got", res, "(input:", in, ")")
		}
	}

	for _, in := range []string{"", "com", "-x.com"} {
		if _, err := RegistrableDomain(in); err == nil {
			t.Error("expected error for", in)
		}
	}
}

func TestWhoisInfoString(t *testing.T) {
	info := &WhoisInfo{Fields: map[string]string{
		"domain_name": "EXAMPLE.COM",
		"registrar":   "RESERVED-Internet Assigned Numbers Authority",
	}}

	lines := strings.Split(info.String(), "\n")
	if len(lines) != len(WhoisFields) {
		t.Fatal("expected", len(WhoisFields), "lines but got", len(lines))
	}
	if lines[0] != "domain_name: EXAMPLE.COM" {
		t.Error("unexpected line", lines[0])
	}
	if lines[2] != "creation_date: None" {
		t.Error("unexpected line", lines[2])
	}
}
