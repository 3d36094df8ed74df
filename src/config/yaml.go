// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CatalogEntry is one downloadable program in the software catalog.
type CatalogEntry struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// BackupJob is a folder backup run by the scheduler.
type BackupJob struct {
	// Job name shown in logs and history
	Name string `yaml:"name"`
	// Cron expression or @every/@daily shorthand
	Schedule string `yaml:"schedule"`
	Source   string `yaml:"source"`
	// Destination directory (default: backup.folder.destination)
	Destination string `yaml:"destination"`
	// Optional zip password (AES-256)
	Password string   `yaml:"password"`
	Level    int      `yaml:"level"`
	Excludes []string `yaml:"excludes"`
	// Keep the newest N archives of this job, 0 keeps all
	Keep int `yaml:"keep"`
	// Upload the archive to object storage when backup.upload is enabled
	Upload bool `yaml:"upload"`
}

type LogStream struct {
	Stdout bool   `yaml:"stdout"`
	Stderr bool   `yaml:"stderr"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// YAMLConfig represents the server.yml file
type YAMLConfig struct {
	Server struct {
		// true = no login, false = admin password required
		Public bool `yaml:"public"`
		// Listen address (all, ::, 0.0.0.0, specific IP)
		Listen string `yaml:"listen"`
		// "8501" for HTTP only, "8501,8443" adds HTTPS
		Port  string `yaml:"port"`
		Title string `yaml:"title"`
		// Short description under the title
		TagLine string `yaml:"tagline"`

		Proxy struct {
			// Always trust X-Forwarded-* headers
			Trust bool `yaml:"trust"`
		} `yaml:"proxy"`

		Timeouts struct {
			// Seconds; write must cover long scans and backups
			Read  int `yaml:"read"`
			Write int `yaml:"write"`
			Idle  int `yaml:"idle"`
		} `yaml:"timeouts"`

		Metrics struct {
			Enabled  bool   `yaml:"enabled"`
			Endpoint string `yaml:"endpoint"`
			// Optional bearer token
			Token           string    `yaml:"token"`
			DurationBuckets []float64 `yaml:"duration_buckets"`
		} `yaml:"metrics"`

		Session struct {
			// Cookie signing key, generated when empty
			Secret string `yaml:"secret"`
			// Seconds
			MaxAge int `yaml:"max_age"`
		} `yaml:"session"`

		// Used when server.port names an HTTPS port
		TLS struct {
			CertFile string `yaml:"cert_file"`
			KeyFile  string `yaml:"key_file"`
			// Picks the Let's Encrypt certificate when no files are set
			Domain string `yaml:"domain"`
			// 1.2 or 1.3
			MinVersion string `yaml:"min_version"`

			ACME struct {
				Enabled  bool     `yaml:"enabled"`
				Email    string   `yaml:"email"`
				CacheDir string   `yaml:"cache_dir"`
				Staging  bool     `yaml:"staging"`
				Domains  []string `yaml:"domains"`
			} `yaml:"acme"`
		} `yaml:"tls"`
	} `yaml:"server"`

	Database struct {
		// sqlite, postgres, mysql
		Driver       string `yaml:"driver"`
		Source       string `yaml:"source"`
		MaxOpenConns int    `yaml:"max_open_conns"`
		MaxIdleConns int    `yaml:"max_idle_conns"`
		// Number of history rows shown and kept
		HistoryLimit int `yaml:"history_limit"`
	} `yaml:"database"`

	Security struct {
		// argon2id password file used when server.public=false
		PasswordFile string `yaml:"password_file"`

		BruteForce struct {
			MaxAttempts int `yaml:"max_attempts"`
			// Minutes
			Lockout int `yaml:"lockout"`
		} `yaml:"brute_force"`

		Headers struct {
			XFrameOptions         string `yaml:"x_frame_options"`
			XContentTypeOptions   string `yaml:"x_content_type_options"`
			ContentSecurityPolicy string `yaml:"content_security_policy"`
			ReferrerPolicy        string `yaml:"referrer_policy"`
			PermissionsPolicy     string `yaml:"permissions_policy"`
		} `yaml:"headers"`
	} `yaml:"security"`

	Tools struct {
		RateLimit struct {
			// Heavy tool runs per client per minute, 0 disables
			PerMinute uint `yaml:"per_minute"`
			Burst     uint `yaml:"burst"`
		} `yaml:"rate_limit"`

		// Timeout for ping and traceroute commands
		CommandTimeout string `yaml:"command_timeout"`

		Scan struct {
			Timeout string `yaml:"timeout"`
			Workers int    `yaml:"workers"`
			// Probes per second, 0 = unlimited
			Rate int `yaml:"rate"`
		} `yaml:"scan"`

		SSL struct {
			Timeout string `yaml:"timeout"`
		} `yaml:"ssl"`

		DNS struct {
			// host:port of the resolver, empty uses the system one
			Server string `yaml:"server"`
			// DNS-over-HTTPS endpoint (RFC 8484), empty disables
			DoH     string `yaml:"doh"`
			Timeout string `yaml:"timeout"`
		} `yaml:"dns"`

		Whois struct {
			Timeout string `yaml:"timeout"`
		} `yaml:"whois"`

		PublicIP struct {
			Timeout string `yaml:"timeout"`
		} `yaml:"public_ip"`
	} `yaml:"tools"`

	Backup struct {
		Folder struct {
			Destination string   `yaml:"destination"`
			Level       int      `yaml:"level"`
			Excludes    []string `yaml:"excludes"`
		} `yaml:"folder"`

		MSSQL struct {
			// host, host,port or host\instance
			Server string `yaml:"server"`
			Port   int    `yaml:"port"`
			// Windows or SQL
			Auth                   string `yaml:"auth"`
			User                   string `yaml:"user"`
			Password               string `yaml:"password"`
			Encrypt                bool   `yaml:"encrypt"`
			TrustServerCertificate bool   `yaml:"trust_server_certificate"`
		} `yaml:"mssql"`

		Upload struct {
			Enabled   bool   `yaml:"enabled"`
			Endpoint  string `yaml:"endpoint"`
			AccessKey string `yaml:"access_key"`
			SecretKey string `yaml:"secret_key"`
			Bucket    string `yaml:"bucket"`
			Prefix    string `yaml:"prefix"`
			UseSSL    bool   `yaml:"use_ssl"`
		} `yaml:"upload"`

		Jobs []BackupJob `yaml:"jobs"`
	} `yaml:"backup"`

	Notify struct {
		// Mail sent when a scheduled job fails
		Email struct {
			Enabled  bool   `yaml:"enabled"`
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			Username string `yaml:"username"`
			Password string `yaml:"password"`
			// auto, tls, starttls or none
			TLS  string   `yaml:"tls"`
			From string   `yaml:"from"`
			To   []string `yaml:"to"`
		} `yaml:"email"`
	} `yaml:"notify"`

	Catalog struct {
		Windows []CatalogEntry `yaml:"windows"`
		Android []CatalogEntry `yaml:"android"`
		// Optional "platform.Name = URL" file merged over the lists above
		File string `yaml:"file"`
	} `yaml:"catalog"`

	Directories struct {
		Data   string `yaml:"data"`
		Config string `yaml:"config"`
		Logs   string `yaml:"logs"`
	} `yaml:"directories"`

	Logging struct {
		// info, warn, error
		Level  string    `yaml:"level"`
		Access LogStream `yaml:"access"`
		Error  LogStream `yaml:"error"`
		Server LogStream `yaml:"server"`
		Debug  LogStream `yaml:"debug"`
		// JSON Lines security events, relative to the logs directory
		Audit struct {
			Enabled bool   `yaml:"enabled"`
			File    string `yaml:"file"`
		} `yaml:"audit"`
	} `yaml:"logging"`
}

// DefaultYAMLConfig returns a configuration with every default filled in.
func DefaultYAMLConfig() *YAMLConfig {
	cfg := &YAMLConfig{}

	// Server
	cfg.Server.Public = true
	cfg.Server.Listen = "all"
	cfg.Server.Port = "8501"
	cfg.Server.Title = "VLabsTools"
	cfg.Server.TagLine = "IT utilities for the lab"

	cfg.Server.Timeouts.Read = 15
	cfg.Server.Timeouts.Write = 600
	cfg.Server.Timeouts.Idle = 60

	cfg.Server.Metrics.Enabled = false
	cfg.Server.Metrics.Endpoint = "/metrics"
	cfg.Server.Metrics.DurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300}

	cfg.Server.Session.MaxAge = 8 * 60 * 60

	cfg.Server.TLS.MinVersion = "1.2"
	cfg.Server.TLS.ACME.CacheDir = "{data_dir}/acme"
	cfg.Server.TLS.ACME.Domains = []string{}

	// Database
	cfg.Database.Driver = "sqlite"
	cfg.Database.Source = "{data_dir}/db/vlabstools.db"
	cfg.Database.MaxOpenConns = 10
	cfg.Database.MaxIdleConns = 2
	cfg.Database.HistoryLimit = 100

	// Security
	cfg.Security.PasswordFile = "{config_dir}/passwd"
	cfg.Security.BruteForce.MaxAttempts = 5
	cfg.Security.BruteForce.Lockout = 15
	cfg.Security.Headers.XFrameOptions = "SAMEORIGIN"
	cfg.Security.Headers.XContentTypeOptions = "nosniff"
	cfg.Security.Headers.ContentSecurityPolicy = "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; connect-src 'self' ws: wss:; object-src 'none'; base-uri 'self'; form-action 'self'"
	cfg.Security.Headers.ReferrerPolicy = "strict-origin-when-cross-origin"
	cfg.Security.Headers.PermissionsPolicy = "geolocation=(), microphone=(), camera=()"

	// Tools
	cfg.Tools.RateLimit.PerMinute = 30
	cfg.Tools.RateLimit.Burst = 10
	cfg.Tools.CommandTimeout = "1m"
	cfg.Tools.Scan.Timeout = "300ms"
	cfg.Tools.Scan.Workers = 200
	cfg.Tools.Scan.Rate = 0
	cfg.Tools.SSL.Timeout = "5s"
	cfg.Tools.DNS.Timeout = "5s"
	cfg.Tools.Whois.Timeout = "10s"
	cfg.Tools.PublicIP.Timeout = "5s"

	// Backup
	cfg.Backup.Folder.Destination = "{data_dir}/backups"
	cfg.Backup.Folder.Level = 6
	cfg.Backup.Folder.Excludes = []string{}

	cfg.Backup.MSSQL.Server = "localhost"
	cfg.Backup.MSSQL.Auth = "SQL"
	cfg.Backup.MSSQL.User = "sa"
	cfg.Backup.MSSQL.Encrypt = false
	cfg.Backup.MSSQL.TrustServerCertificate = true

	cfg.Backup.Upload.Enabled = false
	cfg.Backup.Upload.UseSSL = true

	// Notifications
	cfg.Notify.Email.Enabled = false
	cfg.Notify.Email.Port = 587
	cfg.Notify.Email.TLS = "auto"
	cfg.Notify.Email.To = []string{}
	cfg.Backup.Jobs = []BackupJob{}

	// Catalog, empty = compiled-in lists
	cfg.Catalog.Windows = []CatalogEntry{}
	cfg.Catalog.Android = []CatalogEntry{}

	// Directories
	cfg.Directories.Data = "/var/lib/vlabstools"
	cfg.Directories.Config = "/etc/vlabstools"
	cfg.Directories.Logs = "/var/log/vlabstools"

	// Logging
	cfg.Logging.Level = "info"
	cfg.Logging.Access = LogStream{Format: "apache", File: "access.log"}
	cfg.Logging.Error = LogStream{Stderr: true, Format: "text", File: "error.log"}
	cfg.Logging.Server = LogStream{Stdout: true, Format: "text", File: "vlabstools.log"}
	cfg.Logging.Debug = LogStream{Stdout: true, Format: "text", File: "debug.log"}
	cfg.Logging.Audit.Enabled = true
	cfg.Logging.Audit.File = "audit.log"

	return cfg
}

// LoadYAMLConfig loads configuration from a YAML file on top of the defaults
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return ParseYAMLConfig(data)
}

func ParseYAMLConfig(data []byte) (*YAMLConfig, error) {
	cfg := DefaultYAMLConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// SaveYAMLConfig saves configuration to a YAML file
func SaveYAMLConfig(path string, cfg *YAMLConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GenerateDefaultYAMLConfig writes the default configuration file
func GenerateDefaultYAMLConfig(path string) error {
	return SaveYAMLConfig(path, DefaultYAMLConfig())
}

// ResolvePlaceholders replaces {data_dir}, {config_dir} and {logs_dir}
func ResolvePlaceholders(cfg *YAMLConfig) {
	replace := func(s string) string {
		s = strings.ReplaceAll(s, "{data_dir}", cfg.Directories.Data)
		s = strings.ReplaceAll(s, "{config_dir}", cfg.Directories.Config)
		s = strings.ReplaceAll(s, "{logs_dir}", cfg.Directories.Logs)
		return s
	}

	cfg.Server.TLS.CertFile = replace(cfg.Server.TLS.CertFile)
	cfg.Server.TLS.KeyFile = replace(cfg.Server.TLS.KeyFile)
	cfg.Server.TLS.ACME.CacheDir = replace(cfg.Server.TLS.ACME.CacheDir)
	cfg.Database.Source = replace(cfg.Database.Source)
	cfg.Security.PasswordFile = replace(cfg.Security.PasswordFile)
	cfg.Backup.Folder.Destination = replace(cfg.Backup.Folder.Destination)
	cfg.Catalog.File = replace(cfg.Catalog.File)

	for i := range cfg.Backup.Jobs {
		cfg.Backup.Jobs[i].Source = replace(cfg.Backup.Jobs[i].Source)
		cfg.Backup.Jobs[i].Destination = replace(cfg.Backup.Jobs[i].Destination)
	}
}
