// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package mssql

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/casjay-forks/vlabstools/src/netshare"
)

type BackupOptions struct {
	// Directory on the SQL Server machine, empty uses the server default
	Dir string
	// File name, default <db>_YYYYMMDD_HHMMSS.bak
	File        string
	CopyOnly    bool
	Compression bool
	Verify      bool
}

// Plan is a fully resolved backup ready to execute.
type Plan struct {
	Database  string
	Path      string
	Statement string
	// Empty unless verification was requested
	VerifyStatement string
	Compression     bool
}

type BackupResult struct {
	Plan
	Duration time.Duration
}

var windowsPath = regexp.MustCompile(`^[A-Za-z]:`)

// joinServerPath joins dir and file using the separator of the server's
// platform, guessed from the directory itself.
func joinServerPath(dir string, file string) string {
	if strings.Contains(dir, `\`) || windowsPath.MatchString(dir) {
		return strings.TrimRight(dir, `\/`) + `\` + file
	}
	return strings.TrimRight(dir, "/") + "/" + file
}

func quoteName(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func quoteString(s string) string {
	return "N'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// BuildBackupStatement renders the BACKUP DATABASE statement.
func BuildBackupStatement(db string, fullPath string, copyOnly bool, compression bool) string {
	opts := []string{"INIT", "SKIP", "STATS=10"}
	if copyOnly {
		opts = append(opts, "COPY_ONLY")
	}
	if compression {
		opts = append(opts, "COMPRESSION")
	}

	return fmt.Sprintf("BACKUP DATABASE %s TO DISK = %s WITH %s;", quoteName(db), quoteString(fullPath), strings.Join(opts, ", "))
}

func BuildVerifyStatement(fullPath string) string {
	return "RESTORE VERIFYONLY FROM DISK = " + quoteString(fullPath) + ";"
}

// PlanBackup resolves the file name and statements. defaultDir is used
// when opts.Dir is empty and compression is dropped on Express.
func PlanBackup(db string, opts BackupOptions, defaultDir string, edition int, now time.Time) (Plan, error) {
	db = strings.TrimSpace(db)
	if db == "" {
		return Plan{}, netshare.NewInputError("database", "missing database name")
	}

	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		dir = defaultDir
	}
	if dir == "" {
		return Plan{}, netshare.NewInputError("dir", "could not read the server's default backup directory, please enter one")
	}

	file := strings.TrimSpace(opts.File)
	if file == "" {
		file = db + "_" + now.Format("20060102_150405") + ".bak"
	}
	if !strings.HasSuffix(strings.ToLower(file), ".bak") {
		file += ".bak"
	}

	compression := opts.Compression
	if edition == EditionExpress {
		compression = false
	}

	full := joinServerPath(dir, file)
	plan := Plan{
		Database:    db,
		Path:        full,
		Statement:   BuildBackupStatement(db, full, opts.CopyOnly, compression),
		Compression: compression,
	}
	if opts.Verify {
		plan.VerifyStatement = BuildVerifyStatement(full)
	}

	return plan, nil
}

// Prepare looks up what PlanBackup needs from the server.
func (c *Client) Prepare(ctx context.Context, db string, opts BackupOptions) (Plan, error) {
	var defaultDir string
	if strings.TrimSpace(opts.Dir) == "" {
		defaultDir = c.DefaultBackupDir(ctx)
	}

	edition, err := c.EngineEdition(ctx)
	if err != nil {
		return Plan{}, fmt.Errorf("engine edition: %w", err)
	}

	return PlanBackup(db, opts, defaultDir, edition, time.Now())
}

// Backup runs BACKUP DATABASE on the server and returns the server-side path.
func (c *Client) Backup(ctx context.Context, db string, opts BackupOptions) (BackupResult, error) {
	start := time.Now()

	plan, err := c.Prepare(ctx, db, opts)
	if err != nil {
		return BackupResult{}, err
	}

	if _, err := c.db.ExecContext(ctx, plan.Statement); err != nil {
		return BackupResult{}, fmt.Errorf("backup %s: %w", db, err)
	}

	if plan.VerifyStatement != "" {
		if _, err := c.db.ExecContext(ctx, plan.VerifyStatement); err != nil {
			return BackupResult{}, fmt.Errorf("verify %s: %w", plan.Path, err)
		}
	}

	return BackupResult{Plan: plan, Duration: time.Since(start)}, nil
}
