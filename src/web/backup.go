// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package web

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/casjay-forks/vlabstools/src/archive"
	"github.com/casjay-forks/vlabstools/src/backup"
	"github.com/casjay-forks/vlabstools/src/mssql"
	"github.com/casjay-forks/vlabstools/src/netshare"
	"github.com/casjay-forks/vlabstools/src/storage"
	"github.com/casjay-forks/vlabstools/src/toolbox"
)

var backupTabs = []Tab{
	{Slug: "sql", Title: "SQL Server"},
	{Slug: "folder", Title: "Folder"},
	{Slug: "history", Title: "History"},
}

type sqlForm struct {
	Server  string
	Port    int
	Auth    string
	User    string
	Encrypt bool
	Trust   bool

	Database    string
	Dir         string
	File        string
	CopyOnly    bool
	Compression bool
	Verify      bool

	// Learned on connect and carried in hidden fields
	DefaultDir string
	Edition    int
}

type folderForm struct {
	Source      string
	Destination string
	Name        string
	Level       int
	Excludes    string
	Keep        int
	Upload      bool
}

type backupTmpl struct {
	Tabs []Tab
	Tab  string

	SQL    sqlForm
	Folder folderForm

	Databases []string
	Instances []mssql.Instance
	Statement template.HTML

	UploadEnabled bool

	Result string
	Error  string

	History []storage.Record
}

func (data *Data) newBackupTmpl(tab string) backupTmpl {
	def := data.Tools.MSSQL
	svc := data.Tools.Backup

	return backupTmpl{
		Tabs: backupTabs,
		Tab:  pickTab(backupTabs, tab),
		SQL: sqlForm{
			Server:      def.Server,
			Port:        def.Port,
			Auth:        def.Auth,
			User:        def.User,
			Encrypt:     def.Encrypt,
			Trust:       def.TrustServerCertificate,
			CopyOnly:    true,
			Compression: true,
		},
		Folder: folderForm{
			Destination: svc.Destination,
			Level:       svc.Level,
			Excludes:    strings.Join(svc.Excludes, ", "),
		},
		UploadEnabled: svc.Uploader != nil,
	}
}

func (data *Data) loadHistory(req *http.Request, body *backupTmpl) {
	runs, err := data.Tools.Runs(req.Context(), "")
	if err != nil {
		body.Error = netshare.Message(err)
		return
	}
	body.History = runs
}

// Pattern: GET /backup?tab=
func (data *Data) renderBackup(rw http.ResponseWriter, req *http.Request) error {
	body := data.newBackupTmpl(req.URL.Query().Get("tab"))
	if body.Tab == "history" {
		data.loadHistory(req, &body)
	}

	return data.renderPage(rw, req, "backup", body)
}

func readSQLForm(req *http.Request) (sqlForm, mssql.ConnOptions, mssql.BackupOptions) {
	f := sqlForm{
		Server:      strings.TrimSpace(req.PostFormValue("server")),
		Port:        formInt(req, "port"),
		Auth:        req.PostFormValue("auth"),
		User:        strings.TrimSpace(req.PostFormValue("user")),
		Encrypt:     formBool(req, "encrypt"),
		Trust:       formBool(req, "trust"),
		Database:    strings.TrimSpace(req.PostFormValue("database")),
		Dir:         strings.TrimSpace(req.PostFormValue("dir")),
		File:        strings.TrimSpace(req.PostFormValue("file")),
		CopyOnly:    formBool(req, "copy_only"),
		Compression: formBool(req, "compression"),
		Verify:      formBool(req, "verify"),
		DefaultDir:  req.PostFormValue("default_dir"),
		Edition:     formInt(req, "edition"),
	}
	if f.Auth != mssql.AuthWindows {
		f.Auth = mssql.AuthSQL
	}

	conn := mssql.ConnOptions{
		Server:                 f.Server,
		Port:                   f.Port,
		Auth:                   f.Auth,
		User:                   f.User,
		Password:               req.PostFormValue("password"),
		Encrypt:                f.Encrypt,
		TrustServerCertificate: f.Trust,
	}
	opts := mssql.BackupOptions{
		Dir:         f.Dir,
		File:        f.File,
		CopyOnly:    f.CopyOnly,
		Compression: f.Compression,
		Verify:      f.Verify,
	}

	return f, conn, opts
}

func readFolderForm(req *http.Request) folderForm {
	return folderForm{
		Source:      strings.TrimSpace(req.PostFormValue("source")),
		Destination: strings.TrimSpace(req.PostFormValue("destination")),
		Name:        strings.TrimSpace(req.PostFormValue("name")),
		Level:       formInt(req, "level"),
		Excludes:    req.PostFormValue("excludes"),
		Keep:        formInt(req, "keep"),
		Upload:      formBool(req, "upload"),
	}
}

// Pattern: POST /backup
func (data *Data) submitBackup(rw http.ResponseWriter, req *http.Request) error {
	body := data.newBackupTmpl(req.PostFormValue("tab"))
	action := req.PostFormValue("action")

	switch action {
	case "backup", "zip":
		if err := data.RateLimitTools.CheckAndUse(data.clientIP(req)); err != nil {
			return err
		}
	}

	ctx := req.Context()
	var err error

	switch body.Tab {
	case "sql":
		var conn mssql.ConnOptions
		var opts mssql.BackupOptions
		body.SQL, conn, opts = readSQLForm(req)

		switch action {
		case "discover":
			body.Instances, err = data.Tools.SQLDiscover(ctx, body.SQL.Server)
			if err == nil && len(body.Instances) == 0 {
				body.Result = "No instances announced."
			}

		case "connect":
			var info toolbox.ServerInfo
			info, err = data.Tools.SQLServerInfo(ctx, conn)
			if err == nil {
				body.Databases = info.Databases
				body.SQL.DefaultDir = info.DefaultDir
				body.SQL.Edition = info.Edition
				body.Result = fmt.Sprintf("Connected, %d databases.", len(info.Databases))
				if info.DefaultDir == "" {
					body.Result += " The server did not report a default backup directory."
				}
			}

		case "preview":
			var plan mssql.Plan
			plan, err = data.Tools.SQLPreview(body.SQL.Database, opts, body.SQL.DefaultDir, body.SQL.Edition)
			if err == nil {
				body.Statement = highlightSQL(planStatements(plan))
			}

		case "backup":
			var res mssql.BackupResult
			res, err = data.Tools.SQLBackup(ctx, conn, body.SQL.Database, opts)
			if err == nil {
				body.Statement = highlightSQL(planStatements(res.Plan))
				body.Result = "Backup written to " + res.Path + " in " + res.Duration.Round(time.Millisecond).String()
				if res.VerifyStatement != "" {
					body.Result += ", verified"
				}
			}

		default:
			return netshare.ErrBadRequest
		}

	case "folder":
		body.Folder = readFolderForm(req)
		if action != "zip" {
			return netshare.ErrBadRequest
		}

		var out backup.FolderOutcome
		out, err = data.Tools.Folder(ctx, backup.FolderRequest{
			Options: archive.Options{
				Source:      body.Folder.Source,
				Destination: body.Folder.Destination,
				Name:        body.Folder.Name,
				Password:    req.PostFormValue("password"),
				Level:       body.Folder.Level,
				Excludes:    archive.SplitPatterns(body.Folder.Excludes),
			},
			Upload: body.Folder.Upload,
			Keep:   body.Folder.Keep,
		})
		if err == nil {
			body.Result = formatFolderOutcome(out)
		}

	default:
		return netshare.ErrMethodNotAllowed
	}

	if err != nil {
		body.Error = netshare.Message(err)
	}

	rw.Header().Set("Cache-Control", "no-store")
	return data.renderPage(rw, req, "backup", body)
}

func planStatements(plan mssql.Plan) string {
	if plan.VerifyStatement == "" {
		return plan.Statement
	}
	return plan.Statement + "\n" + plan.VerifyStatement
}

func formatFolderOutcome(out backup.FolderOutcome) string {
	lines := []string{
		"Archive: " + out.Path,
		"Summary: " + out.Summary(),
		"SHA-256: " + out.SHA256,
	}
	for _, p := range out.Pruned {
		lines = append(lines, "Removed: "+p)
	}

	return strings.Join(lines, "\n")
}
