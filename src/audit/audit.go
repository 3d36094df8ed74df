// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

// Package audit writes security relevant events as JSON Lines, one object
// per line, separate from the server log.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	EventLogin       = "auth.login"
	EventLoginFailed = "auth.login_failed"
	EventLogout      = "auth.logout"
	EventLockout     = "auth.lockout"
	EventPassword    = "auth.password_set"

	EventCSRFFailure = "security.csrf_failure"
	EventRateLimited = "security.rate_limited"

	EventServerStarted = "server.started"
	EventServerStopped = "server.stopped"

	EventBackupCreated = "backup.created"
	EventBackupFailed  = "backup.failed"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

type Entry struct {
	ID     string `json:"id"`
	Time   string `json:"time"`
	Event  string `json:"event"`
	Result string `json:"result"`
	// User name, "system" or empty for anonymous clients
	Actor     string         `json:"actor,omitempty"`
	IP        string         `json:"ip,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

type Config struct {
	Enabled bool
	// Full path of the audit file
	File string
}

type Logger struct {
	mu  sync.Mutex
	out io.WriteCloser
	now func() time.Time
}

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// New opens the audit file for appending. A disabled config returns a
// logger that drops every entry.
func New(cfg Config) (*Logger, error) {
	l := &Logger{now: time.Now}
	if !cfg.Enabled {
		return l, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0750); err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	file, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	l.out = file
	return l, nil
}

// Init replaces the package logger used by the event helpers.
func Init(cfg Config) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}

	globalMu.Lock()
	old := globalLogger
	globalLogger = l
	globalMu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

func Close() error {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		return nil
	}
	err := globalLogger.Close()
	globalLogger = nil
	return err
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return nil
	}
	err := l.out.Close()
	l.out = nil
	return err
}

func (l *Logger) Log(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.out == nil {
		return nil
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Time == "" {
		entry.Time = l.now().UTC().Format("2006-01-02T15:04:05.000Z")
	}
	if entry.Result == "" {
		entry.Result = ResultSuccess
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	if _, err := l.out.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	return nil
}

func log(entry Entry) {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()

	if l != nil {
		l.Log(entry)
	}
}

func Login(user, ip, requestID string) {
	log(Entry{Event: EventLogin, Actor: user, IP: ip, RequestID: requestID})
}

func LoginFailed(user, ip, requestID string) {
	log(Entry{
		Event:     EventLoginFailed,
		Result:    ResultFailure,
		IP:        ip,
		RequestID: requestID,
		Details:   map[string]any{"username": user},
	})
}

// Lockout records an address blocked after too many failed logins.
func Lockout(ip string, remaining time.Duration) {
	log(Entry{
		Event:   EventLockout,
		Result:  ResultFailure,
		IP:      ip,
		Details: map[string]any{"lockout_seconds": int(remaining.Seconds())},
	})
}

func Logout(user, ip, requestID string) {
	log(Entry{Event: EventLogout, Actor: user, IP: ip, RequestID: requestID})
}

func PasswordSet(user string) {
	log(Entry{Event: EventPassword, Actor: "system", Details: map[string]any{"username": user}})
}

func CSRFFailure(ip, path, requestID string) {
	log(Entry{
		Event:     EventCSRFFailure,
		Result:    ResultFailure,
		IP:        ip,
		RequestID: requestID,
		Details:   map[string]any{"path": path},
	})
}

func RateLimited(ip, path, requestID string) {
	log(Entry{
		Event:     EventRateLimited,
		Result:    ResultFailure,
		IP:        ip,
		RequestID: requestID,
		Details:   map[string]any{"path": path},
	})
}

func ServerStarted(version, addr string) {
	log(Entry{
		Event:   EventServerStarted,
		Actor:   "system",
		Details: map[string]any{"version": version, "address": addr},
	})
}

func ServerStopped(reason string, uptime time.Duration) {
	log(Entry{
		Event:   EventServerStopped,
		Actor:   "system",
		Details: map[string]any{"reason": reason, "uptime_seconds": int64(uptime.Seconds())},
	})
}

// Backup records a finished folder or database backup. A nil err means
// the archive was written.
func Backup(kind, target string, size int64, err error) {
	entry := Entry{
		Event:   EventBackupCreated,
		Actor:   "system",
		Details: map[string]any{"kind": kind, "target": target},
	}
	if err != nil {
		entry.Event = EventBackupFailed
		entry.Result = ResultFailure
		entry.Details["error"] = err.Error()
	} else {
		entry.Details["size"] = size
	}
	log(entry)
}
