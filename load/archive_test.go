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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datapipehq/etlpipe/core"
)

func TestWriteArchive_MixedTypes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive", "orders.parquet")

	batch := &core.Batch{
		Source:  "orders",
		Columns: []string{"order_id", "quantity", "price", "order_date", "note"},
		Rows: []core.Record{
			{
				"order_id":   "A",
				"quantity":   int64(5),
				"price":      29.99,
				"order_date": time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
				"note":       nil,
			},
			{
				"order_id":   "B",
				"quantity":   nil,
				"price":      10.0,
				"order_date": time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
				"note":       "rush",
			},
		},
	}

	require.NoError(t, WriteArchive(batch, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestWriteArchive_EmptyBatchIsNoOp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.parquet")

	require.NoError(t, WriteArchive(&core.Batch{Source: "empty"}, path))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "no file should be written for an empty batch")
}

// TestWriteArchive_MixedColumnFails: a column whose values do not match
// the inferred type is an archive error, surfaced to the caller.
func TestWriteArchive_MixedColumnFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mixed.parquet")

	batch := &core.Batch{
		Source:  "mixed",
		Columns: []string{"v"},
		Rows: []core.Record{
			{"v": int64(1)},
			{"v": 2.5},
		},
	}

	err := WriteArchive(batch, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `column "v"`)
}
