// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

// Package email sends plain text notifications, such as failed scheduled
// backups, through an SMTP relay.
package email

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

var ErrDisabled = errors.New("email: notifications are not configured")

type Config struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	// auto, tls, starttls or none
	TLS  string
	From string
	To   []string
	// Dial timeout, 10s when zero
	Timeout time.Duration
}

type Mailer struct {
	cfg Config
}

// New returns nil when notifications are disabled; a nil Mailer drops
// every message.
func New(cfg Config) (*Mailer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Host == "" || cfg.From == "" || len(cfg.To) == 0 {
		return nil, errors.New("email: host, from and to are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 25
		if strings.EqualFold(cfg.TLS, "tls") {
			cfg.Port = 465
		}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Mailer{cfg: cfg}, nil
}

func (m *Mailer) addr() string {
	return net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
}

func (m *Mailer) auth() smtp.Auth {
	if m.cfg.Username == "" {
		return nil
	}
	return smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
}

// Send mails subject and body to every configured recipient.
func (m *Mailer) Send(subject string, body string) error {
	if m == nil {
		return ErrDisabled
	}

	msg := buildMessage(m.cfg.From, m.cfg.To, subject, body, time.Now())

	switch strings.ToLower(m.cfg.TLS) {
	case "tls", "ssl":
		return m.send(true, false, msg)
	case "starttls":
		return m.send(false, true, msg)
	default:
		// auto upgrades when STARTTLS is offered, none never does
		return m.send(false, false, msg)
	}
}

// send delivers msg over implicit TLS or, when requireStartTLS is set,
// fails if the server does not offer STARTTLS.
func (m *Mailer) send(implicitTLS bool, requireStartTLS bool, msg []byte) error {
	tlsCfg := &tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}
	dialer := &net.Dialer{Timeout: m.cfg.Timeout}

	var conn net.Conn
	var err error
	if implicitTLS {
		conn, err = tls.DialWithDialer(dialer, "tcp", m.addr(), tlsCfg)
	} else {
		conn, err = dialer.Dial("tcp", m.addr())
	}
	if err != nil {
		return fmt.Errorf("email: dial %s: %w", m.addr(), err)
	}
	conn.SetDeadline(time.Now().Add(2 * m.cfg.Timeout))

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("email: %w", err)
	}
	defer client.Close()

	if !implicitTLS && !strings.EqualFold(m.cfg.TLS, "none") {
		ok, _ := client.Extension("STARTTLS")
		if ok {
			if err := client.StartTLS(tlsCfg); err != nil {
				return fmt.Errorf("email: starttls: %w", err)
			}
		} else if requireStartTLS {
			return errors.New("email: server does not offer STARTTLS")
		}
	}

	if auth := m.auth(); auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("email: auth: %w", err)
		}
	}

	if err := client.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("email: MAIL FROM: %w", err)
	}
	for _, to := range m.cfg.To {
		if err := client.Rcpt(to); err != nil {
			return fmt.Errorf("email: RCPT TO %s: %w", to, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("email: DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("email: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("email: %w", err)
	}

	return client.Quit()
}

// JobFailed sends the notification for a failed scheduled job.
func (m *Mailer) JobFailed(host string, job string, took time.Duration, jobErr error) error {
	subject := "[VLabsTools] job " + job + " failed"
	if host != "" {
		subject += " on " + host
	}

	var body strings.Builder
	body.WriteString("Job: " + job + "\r\n")
	if host != "" {
		body.WriteString("Host: " + host + "\r\n")
	}
	body.WriteString("Duration: " + took.Round(time.Millisecond).String() + "\r\n")
	body.WriteString("Error: " + jobErr.Error() + "\r\n")

	return m.Send(subject, body.String())
}

// headerValue drops line breaks so values cannot inject headers.
func headerValue(s string) string {
	return strings.NewReplacer("\r", "", "\n", " ").Replace(s)
}

func buildMessage(from string, to []string, subject string, body string, date time.Time) []byte {
	var msg strings.Builder

	msg.WriteString("From: " + headerValue(from) + "\r\n")
	msg.WriteString("To: " + headerValue(strings.Join(to, ", ")) + "\r\n")
	msg.WriteString("Subject: " + headerValue(subject) + "\r\n")
	msg.WriteString("Date: " + date.Format(time.RFC1123Z) + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	return []byte(msg.String())
}
