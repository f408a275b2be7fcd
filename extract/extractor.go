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

package extract

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/datapipehq/etlpipe/core"
)

// Package extract reads raw record batches from configured sources.
// Source kinds form a closed set (CSV, JSON, API) and are matched
// exhaustively; file locations may be local paths or s3:// URIs.
// Extraction has no side effects beyond the read.

// Option configures an Extractor.
type Option func(*Extractor)

// WithS3Region sets the AWS region used for s3:// locations.
func WithS3Region(region string) Option {
	return func(e *Extractor) { e.s3Region = region }
}

// WithS3StaticCredentials sets explicit S3 credentials instead of the
// default AWS credential chain.
func WithS3StaticCredentials(accessKey, secretKey string) Option {
	return func(e *Extractor) {
		e.s3AccessKey = accessKey
		e.s3SecretKey = secretKey
	}
}

// withObjectFetcher overrides S3 object fetching; used by tests.
func withObjectFetcher(f objectFetcher) Option {
	return func(e *Extractor) { e.fetcher = f }
}

// Extractor reads one batch per source. Safe for sequential reuse across
// sources within a run.
type Extractor struct {
	s3Region    string
	s3AccessKey string
	s3SecretKey string
	fetcher     objectFetcher
}

// New creates an Extractor with the given options.
func New(opts ...Option) *Extractor {
	e := &Extractor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract reads the whole batch for one source descriptor. Any failure
// (missing file, malformed content, exhausted retries) yields a
// core.ExtractionError.
func (e *Extractor) Extract(ctx context.Context, src core.Source) (*core.Batch, error) {
	select {
	case <-ctx.Done():
		return nil, &core.ExtractionError{Op: "extract", Source: src.Name, Err: ctx.Err()}
	default:
	}

	switch src.Kind {
	case core.KindCSV:
		return e.extractCSV(ctx, src)
	case core.KindJSON:
		return e.extractJSON(ctx, src)
	case core.KindAPI:
		return e.extractAPI(ctx, src)
	default:
		return nil, &core.ExtractionError{
			Op:     "dispatch",
			Source: src.Name,
			Err:    fmt.Errorf("unhandled source kind %v", src.Kind),
		}
	}
}

// openLocation opens a local file or fetches an S3 object for reading.
func (e *Extractor) openLocation(ctx context.Context, path string) (io.ReadCloser, error) {
	if strings.HasPrefix(path, "s3://") {
		return e.fetchObject(ctx, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// recordsToBatch assembles decoded rows into a batch with a sorted union
// column set, for sources without an inherent column order (JSON, API).
func recordsToBatch(source string, rows []core.Record) *core.Batch {
	colSet := make(map[string]bool)
	for _, row := range rows {
		for col := range row {
			colSet[col] = true
		}
	}
	columns := make([]string, 0, len(colSet))
	for col := range colSet {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	return &core.Batch{Source: source, Columns: columns, Rows: rows}
}

// normalizeScalar maps decoded JSON values onto the batch scalar set.
// Whole-valued floats become int64 so that declared integer columns
// coerce cleanly.
func normalizeScalar(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case float64:
		if t == float64(int64(t)) {
			return int64(t)
		}
		return t
	case bool:
		return fmt.Sprintf("%t", t)
	case string, int64:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
