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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datapipehq/etlpipe/core"
)

func sqliteTarget(t *testing.T, mode core.WriteMode) core.Target {
	t.Helper()
	return core.Target{
		Driver:    core.DriverSQLite,
		DSN:       filepath.Join(t.TempDir(), "test.db"),
		Table:     "orders",
		WriteMode: mode,
	}
}

func orderBatch() *core.Batch {
	return &core.Batch{
		Source:  "orders",
		Columns: []string{"order_id", "quantity", "price", "order_date"},
		Rows: []core.Record{
			{"order_id": "A", "quantity": int64(5), "price": 29.99, "order_date": time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)},
			{"order_id": "B", "quantity": int64(2), "price": 10.00, "order_date": time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)},
		},
	}
}

func countRows(t *testing.T, dsn, table string) int64 {
	t.Helper()
	db, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	defer db.Close()

	var count int64
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&count))
	return count
}

func TestLoader_AppendRoundTrip(t *testing.T) {
	target := sqliteTarget(t, core.WriteAppend)
	loader, err := Open(context.Background(), target)
	require.NoError(t, err)
	defer loader.Close()

	result, err := loader.Load(context.Background(), orderBatch())
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.RowsLoaded)
	assert.Equal(t, int64(2), countRows(t, target.DSN, target.Table))

	// Append again: rows accumulate.
	_, err = loader.Load(context.Background(), orderBatch())
	require.NoError(t, err)
	assert.Equal(t, int64(4), countRows(t, target.DSN, target.Table))
}

func TestLoader_ProcessedAtStamped(t *testing.T) {
	target := sqliteTarget(t, core.WriteAppend)
	loader, err := Open(context.Background(), target)
	require.NoError(t, err)
	defer loader.Close()

	_, err = loader.Load(context.Background(), orderBatch())
	require.NoError(t, err)

	db, err := sql.Open("sqlite3", target.DSN)
	require.NoError(t, err)
	defer db.Close()

	var nulls int64
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM orders WHERE processed_at IS NULL`).Scan(&nulls))
	assert.Equal(t, int64(0), nulls)
}

// TestLoader_ReplaceThenAppend: replace leaves one copy, a following
// append leaves two.
func TestLoader_ReplaceThenAppend(t *testing.T) {
	replaceTarget := sqliteTarget(t, core.WriteReplace)

	loader, err := Open(context.Background(), replaceTarget)
	require.NoError(t, err)
	_, err = loader.Load(context.Background(), orderBatch())
	require.NoError(t, err)
	_, err = loader.Load(context.Background(), orderBatch())
	require.NoError(t, err)
	require.NoError(t, loader.Close())
	assert.Equal(t, int64(2), countRows(t, replaceTarget.DSN, "orders"), "replace must drop previous contents")

	appendTarget := replaceTarget
	appendTarget.WriteMode = core.WriteAppend
	loader, err = Open(context.Background(), appendTarget)
	require.NoError(t, err)
	defer loader.Close()
	_, err = loader.Load(context.Background(), orderBatch())
	require.NoError(t, err)
	assert.Equal(t, int64(4), countRows(t, appendTarget.DSN, "orders"))
}

func TestLoader_FailModeOnNonEmptyTable(t *testing.T) {
	target := sqliteTarget(t, core.WriteAppend)
	loader, err := Open(context.Background(), target)
	require.NoError(t, err)
	_, err = loader.Load(context.Background(), orderBatch())
	require.NoError(t, err)
	require.NoError(t, loader.Close())

	target.WriteMode = core.WriteFail
	loader, err = Open(context.Background(), target)
	require.NoError(t, err)
	defer loader.Close()

	_, err = loader.Load(context.Background(), orderBatch())
	require.Error(t, err)

	var lerr *core.LoadError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "write_mode", lerr.Op)
	assert.Equal(t, int64(2), countRows(t, target.DSN, target.Table), "failed load must not change the table")
}

// TestLoader_AtomicRollbackOnMidBatchFailure pre-creates the table with
// a NOT NULL column so that a later row in the batch violates it. The
// earlier rows must not survive.
func TestLoader_AtomicRollbackOnMidBatchFailure(t *testing.T) {
	target := sqliteTarget(t, core.WriteAppend)

	db, err := sql.Open("sqlite3", target.DSN)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE "orders" ("order_id" TEXT, "quantity" INTEGER NOT NULL, "processed_at" TIMESTAMP NOT NULL)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	loader, err := Open(context.Background(), target)
	require.NoError(t, err)
	defer loader.Close()

	batch := &core.Batch{
		Source:  "orders",
		Columns: []string{"order_id", "quantity"},
		Rows: []core.Record{
			{"order_id": "A", "quantity": int64(1)},
			{"order_id": "B", "quantity": int64(2)},
			{"order_id": "C", "quantity": nil},
		},
	}

	_, err = loader.Load(context.Background(), batch)
	require.Error(t, err)

	var lerr *core.LoadError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "insert", lerr.Op)
	assert.Equal(t, int64(0), countRows(t, target.DSN, target.Table), "partial batches must roll back")
}

func TestLoader_IndexesCreatedOnce(t *testing.T) {
	target := sqliteTarget(t, core.WriteAppend)
	target.IndexColumns = []string{"order_id", "processed_at"}

	loader, err := Open(context.Background(), target)
	require.NoError(t, err)
	defer loader.Close()

	result, err := loader.Load(context.Background(), orderBatch())
	require.NoError(t, err)
	assert.True(t, result.IndexesCreated)
	assert.NoError(t, result.IndexErr)

	// Second load on the same table skips index creation.
	result, err = loader.Load(context.Background(), orderBatch())
	require.NoError(t, err)
	assert.False(t, result.IndexesCreated)

	db, err := sql.Open("sqlite3", target.DSN)
	require.NoError(t, err)
	defer db.Close()

	for _, name := range []string{"idx_orders_order_id", "idx_orders_processed_at"} {
		var count int64
		require.NoError(t, db.QueryRow(
			`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?`, name,
		).Scan(&count))
		assert.Equal(t, int64(1), count, name)
	}
}

func TestLoader_EmptyBatchIsNoOp(t *testing.T) {
	target := sqliteTarget(t, core.WriteAppend)
	loader, err := Open(context.Background(), target)
	require.NoError(t, err)
	defer loader.Close()

	result, err := loader.Load(context.Background(), &core.Batch{Source: "empty"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.RowsLoaded)
}

func TestTableExistsQuery_PostgresScopedToCurrentSchema(t *testing.T) {
	l := &Loader{target: core.Target{Driver: core.DriverPostgres, Table: "orders"}}
	assert.Contains(t, l.tableExistsQuery(), "table_schema = current_schema()")

	l = &Loader{target: core.Target{Driver: core.DriverSQLite, Table: "orders"}}
	assert.Contains(t, l.tableExistsQuery(), "sqlite_master")
}

func TestOpen_UnreachablePostgresFails(t *testing.T) {
	target := core.Target{
		Driver:    core.DriverPostgres,
		DSN:       "host=127.0.0.1 port=1 dbname=none user=none sslmode=disable connect_timeout=1",
		Table:     "orders",
		WriteMode: core.WriteAppend,
	}

	_, err := Open(context.Background(), target)
	var lerr *core.LoadError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "connect", lerr.Op)
}
