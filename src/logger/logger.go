// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/casjay-forks/vlabstools/src/netshare"
)

type LogFormat struct {
	// Access log format: apache, nginx, text, json
	Access string
	// Error log format: text, json
	Error string
	// Server log format: text, json
	Server string
	// Debug log format: text, json
	Debug string
}

type LogLevel int

const (
	LogLevelInfo LogLevel = iota
	LogLevelWarn
	LogLevelError
)

type Logger struct {
	TimeFormat string
	Format     LogFormat
	Level      LogLevel

	// File writers receive every entry regardless of level
	serverFile io.Writer
	errorFile  io.Writer
	accessFile io.Writer
	debugFile  io.Writer

	// Console writers are filtered by level
	stdout io.Writer
	stderr io.Writer

	debugMode bool
}

func New(timeFormat string) Logger {
	return Logger{
		TimeFormat: timeFormat,
		Level:      LogLevelInfo,
		Format: LogFormat{
			Access: "apache",
			Error:  "text",
			Server: "text",
			Debug:  "text",
		},
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

// SetFormat sets the log format for each log type
func (l *Logger) SetFormat(format LogFormat) {
	l.Format = format
}

// SetLevel sets the minimum console log level (info, warn, error)
func (l *Logger) SetLevel(level string) {
	switch strings.ToLower(level) {
	case "warn", "warning":
		l.Level = LogLevelWarn
	case "error":
		l.Level = LogLevelError
	default:
		l.Level = LogLevelInfo
	}
}

// SetWriter sets both stdout and stderr to the same writer
func (l *Logger) SetWriter(w io.Writer) {
	l.stdout = w
	l.stderr = w
}

// SetWriters sets stdout and stderr separately
func (l *Logger) SetWriters(stdout, stderr io.Writer) {
	l.stdout = stdout
	l.stderr = stderr
}

// SetFileWriters sets the server and error log files
func (l *Logger) SetFileWriters(server, errorLog io.Writer) {
	l.serverFile = server
	l.errorFile = errorLog
}

func (l *Logger) SetAccessLogWriter(w io.Writer) {
	l.accessFile = w
}

func (l *Logger) SetDebugWriter(w io.Writer) {
	l.debugFile = w
}

func (l *Logger) SetDebugMode(enabled bool) {
	l.debugMode = enabled
}

// render formats one entry either as a JSON object or as a text line.
func (cfg Logger) render(format string, level string, msg string, fields map[string]interface{}) string {
	if format == "json" {
		entry := map[string]interface{}{
			"time":    time.Now().Format(time.RFC3339),
			"level":   level,
			"message": msg,
		}
		for k, v := range fields {
			entry[k] = v
		}
		data, _ := json.Marshal(entry)
		return string(data)
	}

	tag := "[" + level + "]"
	return fmt.Sprintf("%s %-9s %s", time.Now().Format(cfg.TimeFormat), tag, msg)
}

// Debug writes debug messages when debug mode is enabled
func (l *Logger) Debug(msg string) {
	if !l.debugMode || l.debugFile == nil {
		return
	}
	fmt.Fprintln(l.debugFile, l.render(l.Format.Debug, "DEBUG", msg, nil))
}

func getTrace() string {
	var trace strings.Builder
	for i := 2; ; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok {
			return trace.String()
		}
		trace.WriteString(file + "#" + strconv.Itoa(line) + ": ")
	}
}

func (cfg Logger) Info(msg string) {
	output := cfg.render(cfg.Format.Server, "INFO", msg, nil)

	if cfg.serverFile != nil {
		fmt.Fprintln(cfg.serverFile, output)
	}
	if cfg.Level <= LogLevelInfo && cfg.stdout != nil {
		fmt.Fprintln(cfg.stdout, output)
	}
}

func (cfg Logger) Warn(msg string) {
	output := cfg.render(cfg.Format.Server, "WARN", msg, nil)

	if cfg.serverFile != nil {
		fmt.Fprintln(cfg.serverFile, output)
	}
	if cfg.Level <= LogLevelWarn && cfg.stdout != nil {
		fmt.Fprintln(cfg.stdout, output)
	}
}

func (cfg Logger) Error(e error) {
	var output string
	if cfg.Format.Error == "json" {
		output = cfg.render("json", "ERROR", e.Error(), map[string]interface{}{"trace": getTrace()})
	} else {
		output = cfg.render("text", "ERROR", getTrace()+e.Error(), nil)
	}

	if cfg.errorFile != nil {
		fmt.Fprintln(cfg.errorFile, output)
	}
	// Errors are always shown
	if cfg.stderr != nil {
		fmt.Fprintln(cfg.stderr, output)
	}
}

// Tool records the outcome of one utility run (ping, scan, backup...).
// Failures go to the error stream, successes to the server stream.
func (cfg Logger) Tool(tool string, target string, took time.Duration, err error) {
	took = took.Round(time.Millisecond)
	if err != nil {
		cfg.Error(fmt.Errorf("%s %s failed after %s: %w", tool, target, took, err))
		return
	}

	var output string
	if cfg.Format.Server == "json" {
		output = cfg.render("json", "INFO", tool+" finished", map[string]interface{}{
			"tool":        tool,
			"target":      target,
			"duration_ms": took.Milliseconds(),
		})
	} else {
		output = cfg.render("text", "INFO", fmt.Sprintf("%s %s finished in %s", tool, target, took), nil)
	}

	if cfg.serverFile != nil {
		fmt.Fprintln(cfg.serverFile, output)
	}
	if cfg.Level <= LogLevelInfo && cfg.stdout != nil {
		fmt.Fprintln(cfg.stdout, output)
	}
}

func requestPath(req *http.Request) string {
	if req.URL.RawQuery != "" {
		return req.URL.Path + "?" + req.URL.RawQuery
	}
	return req.URL.Path
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func (cfg Logger) HttpRequest(req *http.Request, code int) {
	if cfg.accessFile == nil {
		return
	}

	clientIP := netshare.GetClientAddr(req).String()
	path := requestPath(req)
	referer := dashIfEmpty(req.Referer())
	userAgent := dashIfEmpty(req.UserAgent())

	switch cfg.Format.Access {
	case "json":
		entry := map[string]interface{}{
			"time":       time.Now().Format(time.RFC3339),
			"client_ip":  clientIP,
			"method":     req.Method,
			"path":       path,
			"protocol":   req.Proto,
			"status":     code,
			"referer":    referer,
			"user_agent": userAgent,
		}
		data, _ := json.Marshal(entry)
		fmt.Fprintln(cfg.accessFile, string(data))

	case "nginx":
		timestamp := time.Now().Format("02/Jan/2006:15:04:05 -0700")
		fmt.Fprintf(cfg.accessFile, "%s - - [%s] \"%s %s %s\" %d 0 \"%s\" \"%s\"\n",
			clientIP, timestamp, req.Method, path, req.Proto, code, referer, userAgent)

	case "text":
		timestamp := time.Now().Format(cfg.TimeFormat)
		fmt.Fprintf(cfg.accessFile, "%s %s %s %s %d %s\n",
			timestamp, clientIP, req.Method, path, code, userAgent)

	default:
		// Apache combined log format
		timestamp := time.Now().Format("02/Jan/2006:15:04:05 -0700")
		fmt.Fprintf(cfg.accessFile, "%s - - [%s] \"%s %s %s\" %d - \"%s\" \"%s\"\n",
			clientIP, timestamp, req.Method, path, req.Proto, code, referer, userAgent)
	}
}

func (cfg Logger) HttpError(req *http.Request, e error) {
	clientIP := netshare.GetClientAddr(req).String()
	path := requestPath(req)

	var output string
	if cfg.Format.Error == "json" {
		output = cfg.render("json", "ERROR", e.Error(), map[string]interface{}{
			"client_ip":  clientIP,
			"method":     req.Method,
			"path":       path,
			"user_agent": req.UserAgent(),
			"trace":      getTrace(),
		})
	} else {
		output = cfg.render("text", "ERROR", fmt.Sprintf("%s %s %s (User-Agent: %s) Error: %s%s",
			clientIP, req.Method, path, req.UserAgent(), getTrace(), e.Error()), nil)
	}

	if cfg.errorFile != nil {
		fmt.Fprintln(cfg.errorFile, output)
	}
	if cfg.stderr != nil {
		fmt.Fprintln(cfg.stderr, output)
	}
}
