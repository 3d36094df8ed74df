// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

var (
	ErrNotFoundID    = errors.New("db: could not find ID")
	ErrUnknownDriver = errors.New("db: unknown driver")
)

const (
	// Single row queries
	defaultQueryTimeout = 5 * time.Second
	// Lists and pruning
	defaultListTimeout = 10 * time.Second
)

type DB struct {
	pool   *sql.DB
	driver string
}

// DriverName maps a configured driver to the database/sql driver name.
func DriverName(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return "sqlite", nil
	case "postgres", "postgresql", "pgx":
		return "pgx", nil
	case "mysql", "mariadb":
		return "mysql", nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
}

func NewPool(driver string, dataSourceName string, maxOpenConns int, maxIdleConns int) (DB, error) {
	var db DB

	name, err := DriverName(driver)
	if err != nil {
		return db, err
	}
	db.driver = name

	if name == "sqlite" {
		if dir := filepath.Dir(strings.TrimPrefix(dataSourceName, "file:")); dir != "" && dataSourceName != ":memory:" {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return db, err
			}
		}
		// One writer at a time
		maxOpenConns = 1
	}

	db.pool, err = sql.Open(name, dataSourceName)
	if err != nil {
		return db, err
	}

	if maxOpenConns > 0 {
		db.pool.SetMaxOpenConns(maxOpenConns)
	}
	db.pool.SetMaxIdleConns(maxIdleConns)
	db.pool.SetConnMaxLifetime(time.Hour)
	db.pool.SetConnMaxIdleTime(10 * time.Minute)

	return db, nil
}

func (db DB) Driver() string {
	return db.driver
}

func (db DB) Close() error {
	return db.pool.Close()
}

func (db DB) Ping(ctx context.Context) error {
	return db.pool.PingContext(ctx)
}

// rebind turns ? placeholders into $N for postgres.
func (db DB) rebind(query string) string {
	if db.driver != "pgx" {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// InitDB creates the history table and its index.
func (db DB) InitDB(ctx context.Context) error {
	textType := "TEXT"
	keyType := "TEXT"
	if db.driver == "mysql" {
		// MySQL cannot index TEXT without a prefix length
		keyType = "VARCHAR(36)"
		textType = "VARCHAR(255)"
	}

	_, err := db.pool.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS history (
			id          `+keyType+` PRIMARY KEY,
			kind        `+textType+` NOT NULL,
			target      TEXT    NOT NULL,
			artifact    TEXT    NOT NULL,
			size        BIGINT  NOT NULL,
			sha256      TEXT    NOT NULL,
			summary     TEXT    NOT NULL,
			status      `+textType+` NOT NULL,
			create_time BIGINT  NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create history table: %w", err)
	}

	_, err = db.pool.ExecContext(ctx, `CREATE INDEX `+db.ifNotExists()+`history_create_time ON history (create_time)`)
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "duplicate") {
		return fmt.Errorf("create history index: %w", err)
	}

	return nil
}

func (db DB) ifNotExists() string {
	// MySQL has no CREATE INDEX IF NOT EXISTS, a duplicate key error is ignored instead
	if db.driver == "mysql" {
		return ""
	}
	return "IF NOT EXISTS "
}
