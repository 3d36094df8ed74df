// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

// Package mssql lists SQL Server databases and runs server-side
// BACKUP DATABASE statements.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/casjay-forks/vlabstools/src/netshare"
)

const (
	AuthWindows = "Windows"
	AuthSQL     = "SQL"

	DefaultTimeout = 10 * time.Second

	// SERVERPROPERTY('EngineEdition') of Express
	EditionExpress = 4
)

type ConnOptions struct {
	// host, host,port or host\instance
	Server string
	// Overrides a port given in Server when non-zero
	Port int
	// Windows (integrated) or SQL (user and password)
	Auth     string
	User     string
	Password string

	Encrypt                bool
	TrustServerCertificate bool
	Timeout                time.Duration
}

// splitServer understands "host", "host,1433", "host:1433" and "host\INSTANCE".
func splitServer(server string) (host string, instance string, port int, err error) {
	server = strings.TrimSpace(server)
	if server == "" {
		return "", "", 0, netshare.NewInputError("server", "please enter a server")
	}

	host = server
	if i := strings.LastIndexAny(host, ",:"); i > 0 && !strings.Contains(host[:i], ":") {
		port, err = strconv.Atoi(strings.TrimSpace(host[i+1:]))
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, netshare.NewInputError("server", "invalid port in "+server)
		}
		host = host[:i]
	}
	if i := strings.Index(host, `\`); i >= 0 {
		instance = host[i+1:]
		host = host[:i]
	}
	if host == "." || strings.EqualFold(host, "(local)") {
		host = "localhost"
	}

	return host, instance, port, nil
}

// ConnString builds a sqlserver:// URL for go-mssqldb.
func ConnString(opts ConnOptions) (string, error) {
	host, instance, port, err := splitServer(opts.Server)
	if err != nil {
		return "", err
	}
	if opts.Port != 0 {
		port = opts.Port
	}

	u := &url.URL{
		Scheme: "sqlserver",
		Host:   host,
	}
	if port != 0 {
		u.Host = host + ":" + strconv.Itoa(port)
	}
	if instance != "" {
		u.Path = "/" + instance
	}

	switch opts.Auth {
	case AuthWindows:
		// No credentials makes the driver use integrated authentication
	case AuthSQL, "":
		if opts.User == "" {
			return "", netshare.NewInputError("user", "SQL authentication needs a user name")
		}
		u.User = url.UserPassword(opts.User, opts.Password)
	default:
		return "", netshare.NewInputError("auth", "unknown authentication "+opts.Auth)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	q := url.Values{}
	q.Set("database", "master")
	q.Set("app name", "VLabsTools")
	q.Set("dial timeout", strconv.Itoa(int(timeout.Seconds())))
	q.Set("connection timeout", strconv.Itoa(int(timeout.Seconds())))
	if opts.Encrypt {
		q.Set("encrypt", "true")
	} else {
		q.Set("encrypt", "disable")
	}
	if opts.TrustServerCertificate {
		q.Set("TrustServerCertificate", "true")
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Client is an open connection to one SQL Server instance.
type Client struct {
	db *sql.DB
}

// Open connects and pings the server.
func Open(ctx context.Context, opts ConnOptions) (*Client, error) {
	dsn, err := ConnString(opts)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to %s: %w", opts.Server, err)
	}

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

// ListDatabases returns online user databases ordered by name.
func (c *Client) ListDatabases(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT name
		FROM sys.databases
		WHERE state = 0 AND name NOT IN ('master','tempdb','model','msdb')
		ORDER BY name;`)
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}

	return names, rows.Err()
}

// DefaultBackupDir asks the server for its backup directory, first through
// SERVERPROPERTY and then the registry. Empty when neither is available.
func (c *Client) DefaultBackupDir(ctx context.Context) string {
	var dir sql.NullString

	err := c.db.QueryRowContext(ctx, "SELECT CAST(SERVERPROPERTY('InstanceDefaultBackupPath') AS nvarchar(4000))").Scan(&dir)
	if err == nil && dir.Valid && dir.String != "" {
		return dir.String
	}

	err = c.db.QueryRowContext(ctx, `
		DECLARE @dir nvarchar(4000);
		EXEC master.dbo.xp_instance_regread
			N'HKEY_LOCAL_MACHINE',
			N'SOFTWARE\Microsoft\MSSQLServer\MSSQLServer',
			N'BackupDirectory',
			@dir OUTPUT, 'no_output';
		SELECT @dir;`).Scan(&dir)
	if err == nil && dir.Valid {
		return dir.String
	}

	return ""
}

// EngineEdition returns SERVERPROPERTY('EngineEdition'), 0 when unknown.
func (c *Client) EngineEdition(ctx context.Context) (int, error) {
	var edition sql.NullInt64
	err := c.db.QueryRowContext(ctx, "SELECT CAST(SERVERPROPERTY('EngineEdition') AS int)").Scan(&edition)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return int(edition.Int64), nil
}
