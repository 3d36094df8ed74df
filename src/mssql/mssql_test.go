// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package mssql

import (
	"encoding/binary"
	"errors"
	"net/url"
	"reflect"
	"testing"
	"time"

	"github.com/casjay-forks/vlabstools/src/netshare"
)

func TestBuildBackupStatement(t *testing.T) {
	testData := []struct {
		db          string
		path        string
		copyOnly    bool
		compression bool
		exp         string
	}{
		{
			"Sales", `D:\Backup\Sales_1.bak`, false, false,
			`BACKUP DATABASE [Sales] TO DISK = N'D:\Backup\Sales_1.bak' WITH INIT, SKIP, STATS=10;`,
		},
		{
			"Sales", `D:\Backup\Sales_1.bak`, true, true,
			`BACKUP DATABASE [Sales] TO DISK = N'D:\Backup\Sales_1.bak' WITH INIT, SKIP, STATS=10, COPY_ONLY, COMPRESSION;`,
		},
		{
			"we]ird", `C:\O'Brien\x.bak`, true, false,
			`BACKUP DATABASE [we]]ird] TO DISK = N'C:\O''Brien\x.bak' WITH INIT, SKIP, STATS=10, COPY_ONLY;`,
		},
	}

	for _, td := range testData {
		if res := BuildBackupStatement(td.db, td.path, td.copyOnly, td.compression); res != td.exp {
			t.Errorf("expected\n%s\nbut got\n%s", td.exp, res)
		}
	}
}

func TestPlanBackup(t *testing.T) {
	now := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)

	plan, err := PlanBackup("Sales", BackupOptions{CopyOnly: true, Compression: true, Verify: true}, `D:\SQLBackups\`, EditionExpress, now)
	if err != nil {
		t.Fatal(err)
	}

	if plan.Path != `D:\SQLBackups\Sales_20260506_070809.bak` {
		t.Error("unexpected path", plan.Path)
	}
	if plan.Compression {
		t.Error("compression must be disabled on Express")
	}
	if plan.VerifyStatement != `RESTORE VERIFYONLY FROM DISK = N'D:\SQLBackups\Sales_20260506_070809.bak';` {
		t.Error("unexpected verify statement", plan.VerifyStatement)
	}

	plan, err = PlanBackup("Sales", BackupOptions{Dir: "/var/opt/mssql/backup", File: "nightly", Compression: true}, "", 3, now)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Path != "/var/opt/mssql/backup/nightly.bak" {
		t.Error("unexpected path", plan.Path)
	}
	if !plan.Compression || plan.VerifyStatement != "" {
		t.Error("unexpected plan", plan)
	}
}

func TestPlanBackupErrors(t *testing.T) {
	now := time.Now()

	for _, td := range []struct {
		db  string
		dir string
	}{
		{"", `D:\b`},
		{"Sales", ""},
	} {
		_, err := PlanBackup(td.db, BackupOptions{}, td.dir, 0, now)
		var inErr *netshare.InputError
		if !errors.As(err, &inErr) {
			t.Error("expected input error for", td, "but got", err)
		}
	}
}

func TestConnString(t *testing.T) {
	dsn, err := ConnString(ConnOptions{
		Server:                 `db01\SQLEXPRESS`,
		Auth:                   AuthSQL,
		User:                   "sa",
		Password:               "p@ss;word",
		Encrypt:                true,
		TrustServerCertificate: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	u, err := url.Parse(dsn)
	if err != nil {
		t.Fatal(err)
	}
	if u.Scheme != "sqlserver" || u.Host != "db01" || u.Path != "/SQLEXPRESS" {
		t.Error("unexpected url", dsn)
	}
	if pw, _ := u.User.Password(); u.User.Username() != "sa" || pw != "p@ss;word" {
		t.Error("unexpected credentials", u.User)
	}
	q := u.Query()
	if q.Get("encrypt") != "true" || q.Get("TrustServerCertificate") != "true" || q.Get("connection timeout") != "10" {
		t.Error("unexpected query", q)
	}

	dsn, err = ConnString(ConnOptions{Server: "db02,1533", Auth: AuthWindows})
	if err != nil {
		t.Fatal(err)
	}
	u, _ = url.Parse(dsn)
	if u.Host != "db02:1533" || u.User != nil {
		t.Error("unexpected windows auth url", dsn)
	}
	if u.Query().Get("encrypt") != "disable" {
		t.Error("expected encryption to be disabled")
	}

	if _, err := ConnString(ConnOptions{Server: "db", Auth: AuthSQL}); err == nil {
		t.Error("expected error without user")
	}
	if _, err := ConnString(ConnOptions{Server: "db,99999", Auth: AuthWindows}); err == nil {
		t.Error("expected error for invalid port")
	}
}

func TestParseBrowserResponse(t *testing.T) {
	body := "ServerName;DB01;InstanceName;MSSQLSERVER;IsClustered;No;Version;15.0.2000.5;tcp;1433;;" +
		"ServerName;DB01;InstanceName;SQLEXPRESS;IsClustered;No;Version;16.0.1000.6;np;\\\\DB01\\pipe\\MSSQL$SQLEXPRESS\\sql\\query;;"

	msg := []byte{ssrpResponse, 0, 0}
	binary.LittleEndian.PutUint16(msg[1:3], uint16(len(body)))
	msg = append(msg, body...)

	instances, err := ParseBrowserResponse(msg)
	if err != nil {
		t.Fatal(err)
	}

	exp := []Instance{
		{ServerName: "DB01", InstanceName: "MSSQLSERVER", Version: "15.0.2000.5", TCPPort: 1433},
		{ServerName: "DB01", InstanceName: "SQLEXPRESS", Version: "16.0.1000.6"},
	}
	if !reflect.DeepEqual(instances, exp) {
		t.Error("expected", exp, "but got", instances)
	}

	if instances[0].Address("db01") != "db01,1433" || instances[1].Address("db01") != `db01\SQLEXPRESS` {
		t.Error("unexpected addresses", instances[0].Address("db01"), instances[1].Address("db01"))
	}

	if _, err := ParseBrowserResponse([]byte{0x01}); err == nil {
		t.Error("expected error for malformed response")
	}
}
