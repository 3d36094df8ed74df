// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

// Package backup runs folder and SQL Server backups for the web page, the
// JSON API and scheduled jobs, and records each run in the history.
package backup

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/casjay-forks/vlabstools/src/archive"
	"github.com/casjay-forks/vlabstools/src/audit"
	"github.com/casjay-forks/vlabstools/src/logger"
	"github.com/casjay-forks/vlabstools/src/metrics"
	"github.com/casjay-forks/vlabstools/src/mssql"
	"github.com/casjay-forks/vlabstools/src/storage"
)

// History stores finished runs; storage.DB implements it.
type History interface {
	HistoryAdd(ctx context.Context, rec storage.Record) (storage.Record, error)
}

type Service struct {
	Log     logger.Logger
	History History
	// Nil when object storage upload is disabled
	Uploader *archive.Uploader

	// Defaults for empty form fields
	Destination string
	Level       int
	Excludes    []string
}

type FolderRequest struct {
	archive.Options
	// Copy the archive to object storage
	Upload bool
	// Keep the newest N archives with the same name prefix, 0 keeps all
	Keep int
	// Name prefix for retention, derived from the source when empty
	Prefix string
}

type FolderOutcome struct {
	archive.Result
	// Object key when uploaded
	ObjectKey string
	Pruned    []string
}

func (s *Service) record(ctx context.Context, rec storage.Record, runErr error) {
	audit.Backup(string(rec.Kind), rec.Target, rec.Size, runErr)

	if s.History == nil {
		return
	}
	if _, err := s.History.HistoryAdd(ctx, rec); err != nil {
		s.Log.Error(fmt.Errorf("history: %w", err))
	}
}

// namePrefix is the part of an archive name shared by every run of the same
// job, used for retention.
func namePrefix(opts archive.Options) string {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return filepath.Base(filepath.Clean(opts.Source)) + "_"
	}
	return strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
}

// Folder zips a directory, then optionally uploads and prunes old archives.
func (s *Service) Folder(ctx context.Context, req FolderRequest) (FolderOutcome, error) {
	start := time.Now()

	if strings.TrimSpace(req.Destination) == "" {
		req.Destination = s.Destination
	}
	if req.Level == 0 {
		req.Level = s.Level
	}
	if len(req.Excludes) == 0 {
		req.Excludes = s.Excludes
	}

	res, err := archive.ZipFolder(ctx, req.Options)
	out := FolderOutcome{Result: res}

	if err == nil && req.Upload {
		if s.Uploader == nil {
			err = fmt.Errorf("upload requested but object storage is not configured")
		} else {
			out.ObjectKey, err = s.Uploader.Upload(ctx, res.Path, res.SHA256)
		}
	}

	if err == nil && req.Keep > 0 {
		prefix := req.Prefix
		if prefix == "" {
			prefix = namePrefix(req.Options)
		}
		out.Pruned, err = archive.Prune(filepath.Dir(res.Path), prefix, req.Keep)
		if err == nil && req.Upload && s.Uploader != nil {
			var remote []string
			remote, err = s.Uploader.PruneRemote(ctx, prefix, req.Keep)
			out.Pruned = append(out.Pruned, remote...)
		}
	}

	took := time.Since(start)
	metrics.RecordTool("zip", took, err)
	s.Log.Tool("zip", req.Source, took, err)

	rec := storage.Record{
		Kind:   storage.KindZip,
		Target: req.Source,
		Status: storage.StatusOK,
	}
	if err != nil {
		rec.Status = storage.StatusFailed
		rec.Summary = err.Error()
	} else {
		metrics.RecordBackup("zip", res.Size)
		rec.Artifact = res.Path
		rec.Size = res.Size
		rec.SHA256 = res.SHA256
		rec.Summary = out.Summary()
	}
	s.record(ctx, rec, err)

	return out, err
}

func (o FolderOutcome) Summary() string {
	s := fmt.Sprintf("%d files, %s", o.Files, HumanSize(o.Size))
	if o.Encrypted {
		s += ", AES-256"
	}
	if o.ObjectKey != "" {
		s += ", uploaded as " + o.ObjectKey
	}
	if len(o.Pruned) > 0 {
		s += fmt.Sprintf(", pruned %d", len(o.Pruned))
	}
	return s
}

type MSSQLRequest struct {
	Conn     mssql.ConnOptions
	Database string
	mssql.BackupOptions
}

// MSSQL runs BACKUP DATABASE on the server.
func (s *Service) MSSQL(ctx context.Context, req MSSQLRequest) (mssql.BackupResult, error) {
	start := time.Now()

	res, err := func() (mssql.BackupResult, error) {
		client, err := mssql.Open(ctx, req.Conn)
		if err != nil {
			return mssql.BackupResult{}, err
		}
		defer client.Close()

		return client.Backup(ctx, req.Database, req.BackupOptions)
	}()

	took := time.Since(start)
	metrics.RecordTool("mssql", took, err)
	s.Log.Tool("mssql backup", req.Database, took, err)

	rec := storage.Record{
		Kind:   storage.KindMSSQL,
		Target: req.Conn.Server + "/" + req.Database,
		Status: storage.StatusOK,
	}
	if err != nil {
		rec.Status = storage.StatusFailed
		rec.Summary = err.Error()
	} else {
		rec.Artifact = res.Path
		rec.Summary = "backup completed in " + took.Round(time.Millisecond).String()
		if res.VerifyStatement != "" {
			rec.Summary += ", verified"
		}
	}
	s.record(ctx, rec, err)

	return res, err
}

// HumanSize formats a byte count with binary units.
func HumanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
