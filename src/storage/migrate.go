// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package storage

import (
	"context"
	"fmt"
	"io"
	"time"
)

const migrationTimeout = 5 * time.Minute

// MigrateHistory copies every history record from one database to another,
// for example when moving from the default SQLite file to PostgreSQL.
// Records that already exist in the destination are skipped.
func MigrateHistory(out io.Writer, srcDriver, srcSource, dstDriver, dstSource string) (int, error) {
	fmt.Fprintf(out, "Source: %s (%s)\n", srcDriver, srcSource)
	fmt.Fprintf(out, "Destination: %s (%s)\n", dstDriver, dstSource)

	src, err := NewPool(srcDriver, srcSource, 4, 1)
	if err != nil {
		return 0, fmt.Errorf("open source database: %w", err)
	}
	defer src.Close()

	dst, err := NewPool(dstDriver, dstSource, 4, 1)
	if err != nil {
		return 0, fmt.Errorf("open destination database: %w", err)
	}
	defer dst.Close()

	ctx, cancel := context.WithTimeout(context.Background(), migrationTimeout)
	defer cancel()

	if err := dst.InitDB(ctx); err != nil {
		return 0, err
	}

	rows, err := src.pool.QueryContext(ctx, `SELECT `+historyColumns+` FROM history ORDER BY create_time`)
	if err != nil {
		return 0, fmt.Errorf("read source database: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var rec Record
		err := rows.Scan(&rec.ID, &rec.Kind, &rec.Target, &rec.Artifact, &rec.Size, &rec.SHA256, &rec.Summary, &rec.Status, &rec.CreateTime)
		if err != nil {
			return count, fmt.Errorf("scan record: %w", err)
		}

		if _, err := dst.HistoryGet(ctx, rec.ID); err == nil {
			continue
		}

		_, err = dst.pool.ExecContext(ctx, dst.rebind(
			`INSERT INTO history (`+historyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			rec.ID, rec.Kind, rec.Target, rec.Artifact, rec.Size, rec.SHA256, rec.Summary, rec.Status, rec.CreateTime,
		)
		if err != nil {
			return count, fmt.Errorf("insert record %s: %w", rec.ID, err)
		}

		count++
	}

	if err := rows.Err(); err != nil {
		return count, err
	}

	fmt.Fprintf(out, "Migrated %d records.\n", count)
	return count, nil
}
