// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/casjay-forks/vlabstools/src/metrics"
)

const (
	KindZip   = "zip"
	KindMSSQL = "mssql"
	KindScan  = "scan"

	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Record is one finished backup or scan.
type Record struct {
	// Ignored when creating
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Target   string `json:"target"`
	Artifact string `json:"artifact"`
	Size     int64  `json:"size"`
	SHA256   string `json:"sha256"`
	Summary  string `json:"summary"`
	Status   string `json:"status"`
	// Ignored when creating
	CreateTime int64 `json:"createTime"`
}

func (r Record) Time() time.Time {
	return time.Unix(r.CreateTime, 0)
}

const historyColumns = `id, kind, target, artifact, size, sha256, summary, status, create_time`

func (db DB) HistoryAdd(ctx context.Context, rec Record) (Record, error) {
	rec.ID = uuid.NewString()
	rec.CreateTime = time.Now().Unix()
	if rec.Status == "" {
		rec.Status = StatusOK
	}

	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	_, err := db.pool.ExecContext(ctx, db.rebind(
		`INSERT INTO history (`+historyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.Kind, rec.Target, rec.Artifact, rec.Size, rec.SHA256, rec.Summary, rec.Status, rec.CreateTime,
	)
	metrics.RecordDBQuery("insert", err)

	return rec, err
}

func (db DB) HistoryGet(ctx context.Context, id string) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	var rec Record
	err := db.pool.QueryRowContext(ctx, db.rebind(`SELECT `+historyColumns+` FROM history WHERE id = ?`), id).Scan(
		&rec.ID, &rec.Kind, &rec.Target, &rec.Artifact, &rec.Size, &rec.SHA256, &rec.Summary, &rec.Status, &rec.CreateTime,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrNotFoundID
	}
	metrics.RecordDBQuery("select", err)

	return rec, err
}

// HistoryList returns the newest records first. An empty kind lists all.
func (db DB) HistoryList(ctx context.Context, kind string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	ctx, cancel := context.WithTimeout(ctx, defaultListTimeout)
	defer cancel()

	query := `SELECT ` + historyColumns + ` FROM history`
	args := []interface{}{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY create_time DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := db.pool.QueryContext(ctx, db.rebind(query), args...)
	metrics.RecordDBQuery("list", err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		err := rows.Scan(&rec.ID, &rec.Kind, &rec.Target, &rec.Artifact, &rec.Size, &rec.SHA256, &rec.Summary, &rec.Status, &rec.CreateTime)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}

	return out, rows.Err()
}

// HistoryPrune keeps the newest keep records and deletes the rest.
func (db DB) HistoryPrune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, defaultListTimeout)
	defer cancel()

	var cutoff int64
	err := db.pool.QueryRowContext(ctx, db.rebind(
		`SELECT create_time FROM history ORDER BY create_time DESC LIMIT 1 OFFSET ?`), keep-1,
	).Scan(&cutoff)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		metrics.RecordDBQuery("prune", err)
		return 0, err
	}

	res, err := db.pool.ExecContext(ctx, db.rebind(`DELETE FROM history WHERE create_time < ?`), cutoff)
	metrics.RecordDBQuery("prune", err)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}
