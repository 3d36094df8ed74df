// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/casjay-forks/vlabstools/src/archive"
	"github.com/casjay-forks/vlabstools/src/audit"
	"github.com/casjay-forks/vlabstools/src/backup"
	"github.com/casjay-forks/vlabstools/src/catalog"
	"github.com/casjay-forks/vlabstools/src/cli"
	"github.com/casjay-forks/vlabstools/src/config"
	"github.com/casjay-forks/vlabstools/src/email"
	"github.com/casjay-forks/vlabstools/src/logger"
	"github.com/casjay-forks/vlabstools/src/mssql"
	"github.com/casjay-forks/vlabstools/src/netdiag"
	"github.com/casjay-forks/vlabstools/src/portscan"
	"github.com/casjay-forks/vlabstools/src/portutil"
	"github.com/casjay-forks/vlabstools/src/service"
	"github.com/casjay-forks/vlabstools/src/ssl"
	"github.com/casjay-forks/vlabstools/src/toolbox"
)

func isRunningAsRoot() bool {
	if runtime.GOOS == "windows" {
		return false
	}
	return os.Geteuid() == 0
}

// defaultDir picks the system path when running as root and a per-user path
// otherwise. kind is "data", "config" or "logs".
func defaultDir(kind string) string {
	if dir := os.Getenv(config.EnvPrefix + strings.ToUpper(kind) + "_DIR"); dir != "" {
		return dir
	}

	system := map[string]string{
		"data":   "/var/lib/vlabstools",
		"config": "/etc/vlabstools",
		"logs":   "/var/log/vlabstools",
	}[kind]

	home, err := os.UserHomeDir()

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("LOCALAPPDATA")
		if base == "" {
			base = os.Getenv("PROGRAMDATA")
		}
		return filepath.Join(base, "VLabsTools", strings.ToUpper(kind[:1])+kind[1:])
	case "darwin":
		if isRunningAsRoot() || err != nil {
			return system
		}
		return filepath.Join(home, "Library", "Application Support", "VLabsTools", kind)
	default:
		if isRunningAsRoot() || err != nil {
			return system
		}
		switch kind {
		case "config":
			return filepath.Join(home, ".config", "vlabstools")
		case "logs":
			return filepath.Join(home, ".local", "log", "vlabstools")
		}
		return filepath.Join(home, ".local", "share", "vlabstools")
	}
}

func ensureDirectories(dirs ...string) error {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// loadConfig reads server.yml from configDir, writing the defaults on first
// run. The .env file next to it is loaded before the environment overrides.
func loadConfig(configDir string) (*config.YAMLConfig, string, error) {
	path := filepath.Join(configDir, "server.yml")

	if err := config.LoadDotEnv(filepath.Join(configDir, ".env"), ".env"); err != nil {
		return nil, path, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.GenerateDefaultYAMLConfig(path); err != nil {
			return nil, path, err
		}
		fmt.Println("Generated default configuration: " + path)
	}

	cfg, err := config.LoadYAMLConfig(path)
	if err != nil {
		return nil, path, err
	}
	config.ApplyEnvironmentOverrides(cfg)

	return cfg, path, nil
}

// ensureSessionSecret generates and saves a cookie signing key when the
// configuration has none, so sessions survive restarts.
func ensureSessionSecret(cfg *config.YAMLConfig, path string) ([]byte, error) {
	if cfg.Server.Session.Secret != "" {
		return []byte(cfg.Server.Session.Secret), nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	cfg.Server.Session.Secret = hex.EncodeToString(buf)

	// Saved into the file as written, without env overrides or resolved paths
	onDisk, err := config.LoadYAMLConfig(path)
	if err == nil {
		onDisk.Server.Session.Secret = cfg.Server.Session.Secret
		err = config.SaveYAMLConfig(path, onDisk)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to save session secret: %v\n", err)
	}

	return []byte(cfg.Server.Session.Secret), nil
}

// logFiles are the open log streams; they stay open until exit.
type logFiles struct {
	access *os.File
	errors *os.File
	server *os.File
	debug  *os.File
}

func openLog(dir string, name string, def string) (*os.File, error) {
	if name == "" {
		name = def
	}
	fd, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return fd, nil
}

func openLogFiles(dir string, cfg *config.YAMLConfig, debug bool) (logFiles, error) {
	var files logFiles
	var err error

	files.access, err = openLog(dir, cfg.Logging.Access.File, "access.log")
	if err != nil {
		return files, err
	}
	files.errors, err = openLog(dir, cfg.Logging.Error.File, "error.log")
	if err != nil {
		return files, err
	}
	files.server, err = openLog(dir, cfg.Logging.Server.File, "vlabstools.log")
	if err != nil {
		return files, err
	}
	if debug {
		files.debug, err = openLog(dir, cfg.Logging.Debug.File, "debug.log")
		if err != nil {
			return files, err
		}
	}

	return files, nil
}

// serviceConfig starts this binary with the resolved directories, so the
// service reads the same configuration as the current invocation.
func serviceConfig(cfg *config.YAMLConfig) service.Config {
	exe, err := os.Executable()
	if err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
	}

	return service.Config{
		Name:        "vlabstools",
		DisplayName: cfg.Server.Title,
		Description: cfg.Server.Title + " IT utility dashboard",
		Executable:  exe,
		Args: []string{
			"--config", cfg.Directories.Config,
			"--data", cfg.Directories.Data,
			"--logs", cfg.Directories.Logs,
		},
		WorkingDir: cfg.Directories.Data,
	}
}

func newMailer(cfg *config.YAMLConfig) (*email.Mailer, error) {
	n := cfg.Notify.Email
	var to []string
	for _, addr := range n.To {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	return email.New(email.Config{
		Enabled:  n.Enabled,
		Host:     n.Host,
		Port:     n.Port,
		Username: n.Username,
		Password: n.Password,
		TLS:      n.TLS,
		From:     n.From,
		To:       to,
	})
}

// auditConfig resolves the audit file against the logs directory.
func auditConfig(cfg *config.YAMLConfig) audit.Config {
	name := cfg.Logging.Audit.File
	if name == "" {
		name = "audit.log"
	}
	if !filepath.IsAbs(name) {
		name = filepath.Join(cfg.Directories.Logs, name)
	}
	return audit.Config{Enabled: cfg.Logging.Audit.Enabled, File: name}
}

func (files logFiles) Close() {
	for _, fd := range []*os.File{files.access, files.errors, files.server, files.debug} {
		if fd != nil {
			fd.Close()
		}
	}
}

// newLogger wires the log files and, unless quiet, the console streams.
func newLogger(cfg *config.YAMLConfig, files logFiles, debug bool, quiet bool) logger.Logger {
	log := logger.New("2006/01/02 15:04:05")
	log.SetLevel(cfg.Logging.Level)
	log.SetFormat(logger.LogFormat{
		Access: cfg.Logging.Access.Format,
		Error:  cfg.Logging.Error.Format,
		Server: cfg.Logging.Server.Format,
		Debug:  cfg.Logging.Debug.Format,
	})
	log.SetFileWriters(files.server, files.errors)
	log.SetAccessLogWriter(files.access)
	if files.debug != nil {
		log.SetDebugWriter(files.debug)
	}
	log.SetDebugMode(debug)

	if quiet {
		log.SetWriters(nil, nil)
		return log
	}

	var stdout, stderr io.Writer
	if cfg.Logging.Server.Stdout || cfg.Logging.Debug.Stdout {
		stdout = os.Stdout
	}
	if cfg.Logging.Error.Stderr {
		stderr = os.Stderr
	}
	// Nothing configured for the console at all
	if stdout == nil && stderr == nil && !cfg.Logging.Access.Stdout && !cfg.Logging.Error.Stdout {
		stdout = os.Stdout
		stderr = os.Stderr
	}
	log.SetWriters(stdout, stderr)

	return log
}

// duration parses a config value, falling back to def when empty or invalid.
func duration(log logger.Logger, name string, value string, def time.Duration) time.Duration {
	if strings.TrimSpace(value) == "" {
		return def
	}
	d, err := cli.ParseDuration(value)
	if err != nil {
		log.Warn(fmt.Sprintf("invalid %s %q, using %s", name, value, def))
		return def
	}
	return d
}

func newDiag(log logger.Logger, cfg *config.YAMLConfig) *netdiag.Diag {
	diag := netdiag.New()
	diag.Runner.Timeout = duration(log, "tools.command_timeout", cfg.Tools.CommandTimeout, netdiag.DefaultCommandTimeout)
	diag.SSLTimeout = duration(log, "tools.ssl.timeout", cfg.Tools.SSL.Timeout, netdiag.DefaultSSLTimeout)
	diag.DNSServer = cfg.Tools.DNS.Server
	diag.DoHURL = cfg.Tools.DNS.DoH
	diag.DNSTimeout = duration(log, "tools.dns.timeout", cfg.Tools.DNS.Timeout, netdiag.DefaultDNSTimeout)
	diag.WhoisTimeout = duration(log, "tools.whois.timeout", cfg.Tools.Whois.Timeout, netdiag.DefaultWhoisTimeout)
	diag.HTTPClient = &http.Client{
		Timeout: duration(log, "tools.public_ip.timeout", cfg.Tools.PublicIP.Timeout, netdiag.DefaultHTTPTimeout),
	}
	return diag
}

func newScanner(log logger.Logger, cfg *config.YAMLConfig) *portscan.Scanner {
	return portscan.New(
		duration(log, "tools.scan.timeout", cfg.Tools.Scan.Timeout, 300*time.Millisecond),
		cfg.Tools.Scan.Workers,
		cfg.Tools.Scan.Rate,
	)
}

func newCatalog(cfg *config.YAMLConfig) (*catalog.Catalog, error) {
	convert := func(in []config.CatalogEntry) []catalog.Entry {
		out := make([]catalog.Entry, 0, len(in))
		for _, e := range in {
			out = append(out, catalog.Entry{Name: e.Name, URL: e.URL})
		}
		return out
	}
	return catalog.Load(convert(cfg.Catalog.Windows), convert(cfg.Catalog.Android), cfg.Catalog.File)
}

func newUploader(cfg *config.YAMLConfig) (*archive.Uploader, error) {
	up := cfg.Backup.Upload
	if !up.Enabled {
		return nil, nil
	}
	return archive.NewUploader(archive.UploadConfig{
		Endpoint:  up.Endpoint,
		AccessKey: up.AccessKey,
		SecretKey: up.SecretKey,
		Bucket:    up.Bucket,
		Prefix:    up.Prefix,
		UseSSL:    up.UseSSL,
	})
}

func sqlDefaults(cfg *config.YAMLConfig) mssql.ConnOptions {
	m := cfg.Backup.MSSQL
	return mssql.ConnOptions{
		Server:                 m.Server,
		Port:                   m.Port,
		Auth:                   m.Auth,
		User:                   m.User,
		Password:               m.Password,
		Encrypt:                m.Encrypt,
		TrustServerCertificate: m.TrustServerCertificate,
	}
}

// newToolbox builds the shared tool layer. history may be nil.
func newToolbox(log logger.Logger, cfg *config.YAMLConfig, history toolbox.History) (*toolbox.Toolbox, error) {
	cat, err := newCatalog(cfg)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	uploader, err := newUploader(cfg)
	if err != nil {
		return nil, err
	}

	tb := &toolbox.Toolbox{
		Log:          log,
		History:      history,
		Diag:         newDiag(log, cfg),
		Scanner:      newScanner(log, cfg),
		Catalog:      cat,
		MSSQL:        sqlDefaults(cfg),
		HistoryLimit: cfg.Database.HistoryLimit,
	}

	tb.Backup = &backup.Service{
		Log:         log,
		Uploader:    uploader,
		Destination: cfg.Backup.Folder.Destination,
		Level:       cfg.Backup.Folder.Level,
		Excludes:    cfg.Backup.Folder.Excludes,
	}
	if history != nil {
		tb.Backup.History = history
	}

	return tb, nil
}

// listenAddress joins the configured listen address and port.
// "all" and "" listen on every IPv4 and IPv6 address.
func listenAddress(listen string, port string) string {
	listen = strings.Trim(strings.TrimSpace(listen), "[]")
	if listen == "all" {
		listen = ""
	}
	if port == "" {
		port = "8501"
	}
	return net.JoinHostPort(listen, port)
}

// displayAddress is the URL printed at startup.
func displayAddress(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "::" || host == "0.0.0.0" {
		if name, err := os.Hostname(); err == nil && name != "" {
			host = name
		} else {
			host = "localhost"
		}
	}
	return "http://" + net.JoinHostPort(host, port)
}

// serverPorts reads server.port. An empty setting picks a free high port and
// saves it so the address stays the same across restarts.
func serverPorts(cfg *config.YAMLConfig, path string) (httpPort int, httpsPort int, err error) {
	if strings.TrimSpace(cfg.Server.Port) != "" {
		httpPort, httpsPort, err = portutil.ParsePorts(cfg.Server.Port)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid server.port: %w", err)
		}
		return httpPort, httpsPort, nil
	}

	httpPort, err = portutil.FindUnusedPort(64000, 65535)
	if err != nil {
		return 0, 0, err
	}
	cfg.Server.Port = portutil.FormatPorts(httpPort, 0)

	onDisk, err := config.LoadYAMLConfig(path)
	if err == nil {
		onDisk.Server.Port = cfg.Server.Port
		err = config.SaveYAMLConfig(path, onDisk)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to save port to config: %v\n", err)
	} else {
		fmt.Printf("Saved generated port %d to config file\n", httpPort)
	}

	return httpPort, 0, nil
}

func tlsConfig(cfg *config.YAMLConfig) ssl.Config {
	t := cfg.Server.TLS
	return ssl.Config{
		CertFile:   t.CertFile,
		KeyFile:    t.KeyFile,
		Domain:     t.Domain,
		MinVersion: t.MinVersion,
		ACME: ssl.ACMEConfig{
			Enabled:  t.ACME.Enabled,
			Email:    t.ACME.Email,
			CacheDir: t.ACME.CacheDir,
			Staging:  t.ACME.Staging,
			Domains:  t.ACME.Domains,
		},
	}
}
