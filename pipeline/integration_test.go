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

package pipeline

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datapipehq/etlpipe/core"
	"github.com/datapipehq/etlpipe/extract"
	"github.com/datapipehq/etlpipe/load"
	"github.com/datapipehq/etlpipe/transform"
)

// End-to-end runs over real stages: CSV files on disk, the real
// transformer, and a SQLite target.

func writeCSV(t *testing.T, dir, name, content string) core.Source {
	t.Helper()
	path := filepath.Join(dir, name+".csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return core.Source{
		Name: name,
		Kind: core.KindCSV,
		CSV:  &core.CSVParams{Path: path, Delimiter: ','},
	}
}

func realRun(t *testing.T, policy core.Policy) (*Result, string) {
	t.Helper()
	dir := t.TempDir()

	sources := []core.Source{
		writeCSV(t, dir, "alpha", "order_id,quantity,price\nA-1,2,5.00\nA-2,1,3.50\n"),
		// beta's second row is malformed and fails extraction.
		writeCSV(t, dir, "beta", "order_id,quantity,price\nB-1,1,1.00\nB-2,1\n"),
		writeCSV(t, dir, "gamma", "order_id,quantity,price\nC-1,4,2.25\n"),
	}

	target := core.Target{
		Driver:    core.DriverSQLite,
		DSN:       filepath.Join(dir, "out.db"),
		Table:     "orders",
		WriteMode: core.WriteAppend,
	}
	loader, err := load.Open(context.Background(), target)
	require.NoError(t, err)
	t.Cleanup(func() { loader.Close() })

	rules := core.TransformRules{
		Types: map[string]core.ColumnType{
			"quantity": core.TypeInteger,
			"price":    core.TypeFloat,
		},
		Required:  []string{"order_id"},
		DedupKeys: []string{"order_id"},
		Derived: []core.DerivationRule{
			{Column: "total_amount", Op: core.DeriveMultiply, Operands: []string{"quantity", "price"}},
		},
	}

	p, err := New().
		WithSources(sources).
		WithExtractor(extract.New()).
		WithTransformer(transform.New()).
		WithLoader(loader).
		WithRules(rules).
		WithPolicy(policy).
		Build()
	require.NoError(t, err)

	result, err := p.Run(context.Background())
	require.NoError(t, err)
	return result, target.DSN
}

func queryOrders(t *testing.T, dsn string) (count int64, sources []string) {
	t.Helper()
	db, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM orders`).Scan(&count))

	rows, err := db.Query(`SELECT DISTINCT substr(order_id, 1, 1) FROM orders ORDER BY 1`)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var s string
		require.NoError(t, rows.Scan(&s))
		sources = append(sources, s)
	}
	require.NoError(t, rows.Err())
	return count, sources
}

func TestRun_RealStagesSkipPolicy(t *testing.T) {
	result, dsn := realRun(t, core.PolicySkip)

	require.Len(t, result.Sources, 3)
	assert.Equal(t, core.StatusCommitted, result.Sources[0].Status)
	assert.Equal(t, core.StatusFailed, result.Sources[1].Status)
	assert.Equal(t, core.StageExtract, result.Sources[1].FailedAt)
	assert.Equal(t, core.StatusCommitted, result.Sources[2].Status)

	var xerr *core.ExtractionError
	require.ErrorAs(t, result.Sources[1].Err, &xerr)

	count, sources := queryOrders(t, dsn)
	assert.Equal(t, int64(3), count)
	assert.Equal(t, []string{"A", "C"}, sources, "alpha and gamma committed, beta absent")

	assert.Equal(t, int64(0), result.Metrics.RowsDropped)
	assert.Equal(t, int64(3), result.Metrics.RowsLoaded)
}

func TestRun_RealStagesRollbackPolicy(t *testing.T) {
	result, dsn := realRun(t, core.PolicyRollback)

	assert.True(t, result.Aborted)
	assert.Equal(t, "beta", result.AbortSource)
	require.Len(t, result.Sources, 2, "gamma never attempted")

	count, sources := queryOrders(t, dsn)
	assert.Equal(t, int64(2), count, "alpha's commit persists")
	assert.Equal(t, []string{"A"}, sources)
}

func TestRun_RealStagesEnrichment(t *testing.T) {
	dir := t.TempDir()
	src := writeCSV(t, dir, "orders", "order_id,quantity,price\nORD-001,5,29.99\n")

	target := core.Target{
		Driver:    core.DriverSQLite,
		DSN:       filepath.Join(dir, "out.db"),
		Table:     "orders",
		WriteMode: core.WriteAppend,
	}
	loader, err := load.Open(context.Background(), target)
	require.NoError(t, err)
	defer loader.Close()

	rules := core.TransformRules{
		Types: map[string]core.ColumnType{
			"quantity": core.TypeInteger,
			"price":    core.TypeFloat,
		},
		Derived: []core.DerivationRule{
			{Column: "total_amount", Op: core.DeriveMultiply, Operands: []string{"quantity", "price"}},
		},
	}

	p, err := New().
		WithSources([]core.Source{src}).
		WithExtractor(extract.New()).
		WithTransformer(transform.New()).
		WithLoader(loader).
		WithRules(rules).
		Build()
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.NoError(t, err)

	db, err := sql.Open("sqlite3", target.DSN)
	require.NoError(t, err)
	defer db.Close()

	var quantity int64
	var total float64
	var processedAt string
	require.NoError(t, db.QueryRow(
		`SELECT quantity, total_amount, processed_at FROM orders WHERE order_id = 'ORD-001'`,
	).Scan(&quantity, &total, &processedAt))

	assert.Equal(t, int64(5), quantity)
	assert.InDelta(t, 149.95, total, 1e-9)
	assert.NotEmpty(t, processedAt)
}
