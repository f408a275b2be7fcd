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

package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageErrors_WrapAndUnwrap(t *testing.T) {
	root := errors.New("connection refused")

	var err error = &ExtractionError{Op: "request", Source: "orders_api", Err: root}
	assert.Equal(t, `extract request: source "orders_api": connection refused`, err.Error())
	assert.ErrorIs(t, err, root)

	err = &LoadError{Op: "commit", Table: "orders", Err: root}
	assert.Equal(t, `load commit: table "orders": connection refused`, err.Error())
	assert.ErrorIs(t, err, root)
}

func TestParsePolicy(t *testing.T) {
	for _, s := range []string{"rollback", "skip", "continue"} {
		p, err := ParsePolicy(s)
		require.NoError(t, err)
		assert.Equal(t, Policy(s), p)
	}
	_, err := ParsePolicy("retry")
	assert.Error(t, err)
}

func TestParseWriteMode(t *testing.T) {
	for _, s := range []string{"append", "replace", "fail"} {
		m, err := ParseWriteMode(s)
		require.NoError(t, err)
		assert.Equal(t, WriteMode(s), m)
	}
	_, err := ParseWriteMode("merge")
	assert.Error(t, err)
}

func TestAPIParams_URL(t *testing.T) {
	p := &APIParams{BaseURL: "https://api.example.com/", Endpoint: "/v1/orders"}
	assert.Equal(t, "https://api.example.com/v1/orders", p.URL())

	p = &APIParams{BaseURL: "https://api.example.com"}
	assert.Equal(t, "https://api.example.com", p.URL())
}

func TestQualityReport_Dropped(t *testing.T) {
	q := &QualityReport{CoercionFailures: 2, MissingRequired: 3, Duplicates: 1}
	assert.Equal(t, int64(6), q.Dropped())
}

func TestBatch_Len(t *testing.T) {
	var b *Batch
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 1, (&Batch{Rows: []Record{{"a": time.Now()}}}).Len())
}
