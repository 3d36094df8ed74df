// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package config

import (
	"errors"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const EnvPrefix = "VLABSTOOLS_"

// getEnv gets VLABSTOOLS_* environment variables
func getEnv(name string) string {
	return os.Getenv(EnvPrefix + name)
}

// LoadDotEnv loads KEY=value pairs from the given .env files into the
// process environment. Variables already set are not overwritten and
// missing files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		err := godotenv.Load(path)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return err
	}
	return nil
}

// parseAddress splits VLABSTOOLS_ADDRESS into listen address and port.
// Examples:
//   - ":8080"           → port=8080
//   - "127.0.0.1"       → listen=127.0.0.1
//   - "172.17.0.1:8091" → listen=172.17.0.1, port=8091
//   - "[::1]:8080"      → listen=::1, port=8080
func parseAddress(addr string) (listen, port string) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}

	if strings.HasPrefix(addr, ":") {
		port = addr[1:]
		return
	}

	host, p, err := net.SplitHostPort(addr)
	if err != nil {
		// No port
		host = strings.Trim(addr, "[]")
	}
	port = p

	if net.ParseIP(host) != nil || host == "localhost" || host == "all" {
		listen = host
	}

	return
}

func envInt(name string, to *int) {
	if val := getEnv(name); val != "" {
		if num, err := strconv.Atoi(val); err == nil {
			*to = num
		}
	}
}

func envUint(name string, to *uint) {
	if val := getEnv(name); val != "" {
		if num, err := strconv.ParseUint(val, 10, 32); err == nil {
			*to = uint(num)
		}
	}
}

func envString(name string, to *string) {
	if val := getEnv(name); val != "" {
		*to = val
	}
}

func envBool(name string, to *bool) {
	if val := getEnv(name); val != "" {
		*to = isTruthy(val)
	}
}

// ApplyEnvironmentOverrides applies VLABSTOOLS_* variables on top of the file
func ApplyEnvironmentOverrides(cfg *YAMLConfig) {
	if val := getEnv("ADDRESS"); val != "" {
		listen, port := parseAddress(val)
		if listen != "" {
			cfg.Server.Listen = listen
		}
		if port != "" {
			cfg.Server.Port = port
		}
	}

	// Server
	envString("LISTEN", &cfg.Server.Listen)
	envString("PORT", &cfg.Server.Port)
	envString("TITLE", &cfg.Server.Title)
	envBool("PUBLIC", &cfg.Server.Public)
	envBool("TRUST_PROXY", &cfg.Server.Proxy.Trust)
	envBool("METRICS", &cfg.Server.Metrics.Enabled)
	envString("METRICS_TOKEN", &cfg.Server.Metrics.Token)
	envString("SESSION_SECRET", &cfg.Server.Session.Secret)
	envString("TLS_CERT_FILE", &cfg.Server.TLS.CertFile)
	envString("TLS_KEY_FILE", &cfg.Server.TLS.KeyFile)
	envString("TLS_DOMAIN", &cfg.Server.TLS.Domain)

	// Database
	envString("DB_DRIVER", &cfg.Database.Driver)
	envString("DB_SOURCE", &cfg.Database.Source)
	envInt("DB_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns)
	envInt("DB_MAX_IDLE_CONNS", &cfg.Database.MaxIdleConns)

	// Security
	envString("PASSWORD_FILE", &cfg.Security.PasswordFile)

	// Tools
	envUint("RATE_LIMIT_PER_MINUTE", &cfg.Tools.RateLimit.PerMinute)
	envString("COMMAND_TIMEOUT", &cfg.Tools.CommandTimeout)
	envString("SCAN_TIMEOUT", &cfg.Tools.Scan.Timeout)
	envInt("SCAN_WORKERS", &cfg.Tools.Scan.Workers)
	envInt("SCAN_RATE", &cfg.Tools.Scan.Rate)
	envString("DNS_SERVER", &cfg.Tools.DNS.Server)
	envString("DNS_DOH", &cfg.Tools.DNS.DoH)

	// Folder backup
	envString("BACKUP_DIR", &cfg.Backup.Folder.Destination)
	envInt("BACKUP_LEVEL", &cfg.Backup.Folder.Level)

	// SQL Server
	envString("MSSQL_SERVER", &cfg.Backup.MSSQL.Server)
	envInt("MSSQL_PORT", &cfg.Backup.MSSQL.Port)
	envString("MSSQL_AUTH", &cfg.Backup.MSSQL.Auth)
	envString("MSSQL_USER", &cfg.Backup.MSSQL.User)
	envString("MSSQL_PASSWORD", &cfg.Backup.MSSQL.Password)

	// Object storage upload
	envBool("S3_ENABLED", &cfg.Backup.Upload.Enabled)
	envString("S3_ENDPOINT", &cfg.Backup.Upload.Endpoint)
	envString("S3_ACCESS_KEY", &cfg.Backup.Upload.AccessKey)
	envString("S3_SECRET_KEY", &cfg.Backup.Upload.SecretKey)
	envString("S3_BUCKET", &cfg.Backup.Upload.Bucket)

	// Notifications
	envBool("SMTP_ENABLED", &cfg.Notify.Email.Enabled)
	envString("SMTP_HOST", &cfg.Notify.Email.Host)
	envInt("SMTP_PORT", &cfg.Notify.Email.Port)
	envString("SMTP_USERNAME", &cfg.Notify.Email.Username)
	envString("SMTP_PASSWORD", &cfg.Notify.Email.Password)
	envString("SMTP_FROM", &cfg.Notify.Email.From)
	if val := getEnv("SMTP_TO"); val != "" {
		cfg.Notify.Email.To = strings.Split(val, ",")
	}

	// Directories
	envString("DATA_DIR", &cfg.Directories.Data)
	envString("CONFIG_DIR", &cfg.Directories.Config)
	envString("LOGS_DIR", &cfg.Directories.Logs)

	// Logging
	envString("LOG_LEVEL", &cfg.Logging.Level)
	envBool("AUDIT_LOG", &cfg.Logging.Audit.Enabled)
}

// isTruthy checks if a string value represents true
func isTruthy(val string) bool {
	val = strings.ToLower(strings.TrimSpace(val))
	return val == "true" || val == "1" || val == "yes" || val == "on" || val == "enabled"
}
