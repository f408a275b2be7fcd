//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 ETLPipe Authors
//
// This file is part of ETLPipe.
//
// ETLPipe is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// ETLPipe is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with ETLPipe. If not, see https://www.gnu.org/licenses/.

package load

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/datapipehq/etlpipe/core"
)

// Package load persists cleaned batches into a relational target. Every
// batch is written inside a single transaction: all rows commit or none.
// The loader stamps a processed_at timestamp column on every insert and
// ensures indexes on configured columns after the first successful load.

// Loader writes batches to one configured target. The connection is the
// only shared mutable resource in a run; it is held exclusively for the
// duration of one batch's transaction and released before the next
// source begins.
type Loader struct {
	db      *sql.DB
	target  core.Target
	indexed map[string]bool
}

// Open connects to the target and verifies reachability.
func Open(ctx context.Context, target core.Target) (*Loader, error) {
	var driverName string
	switch target.Driver {
	case core.DriverSQLite:
		driverName = "sqlite3"
	case core.DriverPostgres:
		driverName = "postgres"
	default:
		return nil, &core.LoadError{Op: "connect", Table: target.Table, Err: fmt.Errorf("unhandled target driver %q", target.Driver)}
	}

	db, err := sql.Open(driverName, target.DSN)
	if err != nil {
		return nil, &core.LoadError{Op: "connect", Table: target.Table, Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &core.LoadError{Op: "connect", Table: target.Table, Err: err}
	}

	return &Loader{db: db, target: target, indexed: make(map[string]bool)}, nil
}

// Close releases the database connection.
func (l *Loader) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// Load commits one batch according to the target's write mode. On any
// failure the transaction is rolled back and the table is left exactly
// as it was — never a partial subset of the batch.
func (l *Loader) Load(ctx context.Context, batch *core.Batch) (*core.LoadResult, error) {
	result := &core.LoadResult{Table: l.target.Table}
	if len(batch.Columns) == 0 {
		return result, nil
	}

	processedAt := time.Now().UTC()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &core.LoadError{Op: "begin", Table: l.target.Table, Err: err}
	}

	rows, err := l.loadInTx(ctx, tx, batch, processedAt)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, &core.LoadError{Op: "commit", Table: l.target.Table, Err: err}
	}
	result.RowsLoaded = rows

	if !l.indexed[l.target.Table] {
		result.IndexErr = l.ensureIndexes(ctx, batch.Columns)
		if result.IndexErr == nil {
			result.IndexesCreated = len(l.target.IndexColumns) > 0
		}
		l.indexed[l.target.Table] = true
	}
	return result, nil
}

func (l *Loader) loadInTx(ctx context.Context, tx *sql.Tx, batch *core.Batch, processedAt time.Time) (int64, error) {
	table := l.target.Table

	exists, err := l.tableExists(ctx, tx, table)
	if err != nil {
		return 0, &core.LoadError{Op: "inspect", Table: table, Err: err}
	}

	switch l.target.WriteMode {
	case core.WriteFail:
		if exists {
			var count int64
			query := fmt.Sprintf("SELECT COUNT(*) FROM %s", l.quote(table))
			if err := tx.QueryRowContext(ctx, query).Scan(&count); err != nil {
				return 0, &core.LoadError{Op: "inspect", Table: table, Err: err}
			}
			if count > 0 {
				return 0, &core.LoadError{Op: "write_mode", Table: table, Err: fmt.Errorf("table already holds %d rows and write mode is fail", count)}
			}
		}
	case core.WriteReplace:
		if exists {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE %s", l.quote(table))); err != nil {
				return 0, &core.LoadError{Op: "replace", Table: table, Err: err}
			}
		}
	case core.WriteAppend:
		// insert only
	default:
		return 0, &core.LoadError{Op: "write_mode", Table: table, Err: fmt.Errorf("unhandled write mode %q", l.target.WriteMode)}
	}

	if _, err := tx.ExecContext(ctx, l.createTableSQL(batch)); err != nil {
		return 0, &core.LoadError{Op: "create_table", Table: table, Err: err}
	}

	stmt, err := tx.PrepareContext(ctx, l.insertSQL(batch.Columns))
	if err != nil {
		return 0, &core.LoadError{Op: "prepare", Table: table, Err: err}
	}
	defer stmt.Close()

	var rows int64
	args := make([]interface{}, len(batch.Columns)+1)
	for _, row := range batch.Rows {
		for i, col := range batch.Columns {
			args[i] = row[col]
		}
		args[len(batch.Columns)] = processedAt
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, &core.LoadError{Op: "insert", Table: table, Err: err}
		}
		rows++
	}
	return rows, nil
}

// tableExists reports whether the target table is present.
func (l *Loader) tableExists(ctx context.Context, tx *sql.Tx, table string) (bool, error) {
	var count int64
	if err := tx.QueryRowContext(ctx, l.tableExistsQuery(), table).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// tableExistsQuery builds the per-driver existence check. The postgres
// query is scoped to the connection's schema so a same-named table
// elsewhere on the search path does not trip replace or fail mode.
func (l *Loader) tableExistsQuery() string {
	if l.target.Driver == core.DriverPostgres {
		return "SELECT COUNT(*) FROM information_schema.tables WHERE table_name = $1 AND table_schema = current_schema()"
	}
	return "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
}

// createTableSQL builds the DDL for the batch schema plus the loader's
// processed_at column.
func (l *Loader) createTableSQL(batch *core.Batch) string {
	cols := make([]string, 0, len(batch.Columns)+1)
	for _, col := range batch.Columns {
		cols = append(cols, fmt.Sprintf("%s %s", l.quote(col), l.columnType(batch, col)))
	}
	cols = append(cols, fmt.Sprintf("%s %s NOT NULL", l.quote("processed_at"), l.timestampType()))
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", l.quote(l.target.Table), strings.Join(cols, ", "))
}

// columnType infers the SQL type from the first non-nil value in the
// column, defaulting to TEXT.
func (l *Loader) columnType(batch *core.Batch, col string) string {
	for _, row := range batch.Rows {
		switch row[col].(type) {
		case nil:
			continue
		case int64, int:
			if l.target.Driver == core.DriverPostgres {
				return "BIGINT"
			}
			return "INTEGER"
		case float64:
			if l.target.Driver == core.DriverPostgres {
				return "DOUBLE PRECISION"
			}
			return "REAL"
		case time.Time:
			return l.timestampType()
		default:
			return "TEXT"
		}
	}
	return "TEXT"
}

func (l *Loader) timestampType() string {
	if l.target.Driver == core.DriverPostgres {
		return "TIMESTAMPTZ"
	}
	return "TIMESTAMP"
}

func (l *Loader) insertSQL(columns []string) string {
	quoted := make([]string, 0, len(columns)+1)
	for _, col := range columns {
		quoted = append(quoted, l.quote(col))
	}
	quoted = append(quoted, l.quote("processed_at"))

	placeholders := make([]string, len(quoted))
	for i := range placeholders {
		if l.target.Driver == core.DriverPostgres {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		} else {
			placeholders[i] = "?"
		}
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		l.quote(l.target.Table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "),
	)
}

// ensureIndexes creates the configured indexes once per table, after the
// first successful commit. CREATE INDEX IF NOT EXISTS makes the call
// idempotent across runs. Index failures never fail a committed source.
func (l *Loader) ensureIndexes(ctx context.Context, columns []string) error {
	if len(l.target.IndexColumns) == 0 {
		return nil
	}
	present := make(map[string]bool, len(columns)+1)
	for _, col := range columns {
		present[col] = true
	}
	present["processed_at"] = true

	for _, col := range l.target.IndexColumns {
		if !present[col] {
			continue
		}
		name := fmt.Sprintf("idx_%s_%s", l.target.Table, col)
		query := fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			l.quote(name), l.quote(l.target.Table), l.quote(col),
		)
		if _, err := l.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("create index %s: %w", name, err)
		}
	}
	return nil
}

func (l *Loader) quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
