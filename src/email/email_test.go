// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package email

import (
	"bufio"
	"errors"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"
)

// fakeSMTP accepts one message and returns the DATA payload on the channel.
func fakeSMTP(t *testing.T) (string, int, <-chan string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	out := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		tp := textproto.NewConn(conn)
		tp.PrintfLine("220 fake ESMTP")
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			cmd := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
			switch cmd {
			case "EHLO", "HELO":
				tp.PrintfLine("250 fake")
			case "MAIL", "RCPT":
				tp.PrintfLine("250 OK")
			case "DATA":
				tp.PrintfLine("354 go ahead")
				data, _ := tp.ReadDotLines()
				out <- strings.Join(data, "\n")
				tp.PrintfLine("250 queued")
			case "QUIT":
				tp.PrintfLine("221 bye")
				return
			default:
				tp.PrintfLine("502 unknown")
			}
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port, out
}

func TestNew(t *testing.T) {
	m, err := New(Config{})
	if m != nil || err != nil {
		t.Error("disabled config should yield a nil mailer")
	}
	if !errors.Is(m.Send("s", "b"), ErrDisabled) {
		t.Error("nil mailer should report ErrDisabled")
	}

	if _, err := New(Config{Enabled: true, Host: "smtp.lab"}); err == nil {
		t.Error("expected error without from and to")
	}

	m, err = New(Config{Enabled: true, Host: "smtp.lab", From: "a@lab", To: []string{"b@lab"}, TLS: "tls"})
	if err != nil {
		t.Fatal(err)
	}
	if m.cfg.Port != 465 || m.cfg.Timeout != 10*time.Second {
		t.Error("unexpected defaults", m.cfg.Port, m.cfg.Timeout)
	}
}

func TestJobFailed(t *testing.T) {
	host, port, out := fakeSMTP(t)

	m, err := New(Config{
		Enabled: true,
		Host:    host,
		Port:    port,
		TLS:     "none",
		From:    "tools@lab",
		To:      []string{"ops@lab", "it@lab"},
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := m.JobFailed("srv01", "backup-share", 1500*time.Millisecond, errors.New("disk full")); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-out:
		for _, want := range []string{
			"Subject: [VLabsTools] job backup-share failed on srv01",
			"To: ops@lab, it@lab",
			"Error: disk full",
			"Duration: 1.5s",
		} {
			if !strings.Contains(msg, want) {
				t.Error("message lacks", strconv.Quote(want), "\n", msg)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}

func TestBuildMessage(t *testing.T) {
	msg := string(buildMessage("a@lab", []string{"b@lab"}, "hi\r\nBcc: x@evil", "body", time.Unix(0, 0)))

	r := textproto.NewReader(bufio.NewReader(strings.NewReader(msg)))
	hdr, err := r.ReadMIMEHeader()
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Get("Bcc") != "" || hdr.Get("Subject") != "hi Bcc: x@evil" {
		t.Error("header injection", hdr)
	}
}
