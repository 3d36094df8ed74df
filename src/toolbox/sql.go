// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package toolbox

import (
	"context"
	"time"

	"github.com/casjay-forks/vlabstools/src/backup"
	"github.com/casjay-forks/vlabstools/src/mssql"
	"github.com/casjay-forks/vlabstools/src/netdiag"
)

const browserTimeout = 3 * time.Second

// ServerInfo is what the SQL backup form needs after connecting.
type ServerInfo struct {
	Databases  []string `json:"databases"`
	DefaultDir string   `json:"defaultDir"`
	Edition    int      `json:"edition"`
}

func (tb *Toolbox) SQLServerInfo(ctx context.Context, conn mssql.ConnOptions) (ServerInfo, error) {
	conn = tb.SQLConn(conn)
	start := time.Now()

	info, err := func() (ServerInfo, error) {
		client, err := mssql.Open(ctx, conn)
		if err != nil {
			return ServerInfo{}, err
		}
		defer client.Close()

		dbs, err := client.ListDatabases(ctx)
		if err != nil {
			return ServerInfo{}, err
		}
		edition, err := client.EngineEdition(ctx)
		if err != nil {
			return ServerInfo{}, err
		}

		return ServerInfo{
			Databases:  dbs,
			DefaultDir: client.DefaultBackupDir(ctx),
			Edition:    edition,
		}, nil
	}()
	tb.track("mssql connect", conn.Server, start, err)

	return info, err
}

// SQLPreview renders the statements without touching a server. edition
// comes from an earlier SQLServerInfo call, 0 when unknown.
func (tb *Toolbox) SQLPreview(db string, opts mssql.BackupOptions, defaultDir string, edition int) (mssql.Plan, error) {
	return mssql.PlanBackup(db, opts, defaultDir, edition, time.Now())
}

func (tb *Toolbox) SQLBackup(ctx context.Context, conn mssql.ConnOptions, db string, opts mssql.BackupOptions) (mssql.BackupResult, error) {
	return tb.Backup.MSSQL(ctx, backup.MSSQLRequest{
		Conn:          tb.SQLConn(conn),
		Database:      db,
		BackupOptions: opts,
	})
}

// SQLDiscover lists the instances announced by the SQL Server Browser.
func (tb *Toolbox) SQLDiscover(ctx context.Context, host string) ([]mssql.Instance, error) {
	host, err := netdiag.CleanHost(host)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	instances, err := mssql.DiscoverInstances(ctx, host, browserTimeout)
	tb.track("mssql discover", host, start, err)

	return instances, err
}

func (tb *Toolbox) Folder(ctx context.Context, req backup.FolderRequest) (backup.FolderOutcome, error) {
	return tb.Backup.Folder(ctx, req)
}
