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
	"fmt"
	"time"
)

// Package core defines the shared data model for the ETL pipeline:
// records and batches, source/target descriptors, transformation rules,
// quality reports, and run metrics.

// Record represents a single data row. Each record is a map from column
// names to scalar values (string, int64, float64, time.Time, or nil).
type Record map[string]interface{}

// Batch is the ordered set of rows produced by one extraction of one
// source. Row order is input order; Columns carries the column order used
// for table DDL and archive output. After the transformer's validate step
// all rows share the column set in Columns.
type Batch struct {
	Source  string
	Columns []string
	Rows    []Record
}

// Len returns the number of rows in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}

// SourceKind identifies one of the supported source kinds. The set is
// closed: every switch over SourceKind must handle all three values.
type SourceKind int

const (
	// KindCSV reads a delimited file with a header row.
	KindCSV SourceKind = iota
	// KindJSON reads a file holding an array of objects or a single object.
	KindJSON
	// KindAPI issues an HTTP GET against a configured endpoint.
	KindAPI
)

// String returns the configuration spelling of the kind.
func (k SourceKind) String() string {
	switch k {
	case KindCSV:
		return "csv"
	case KindJSON:
		return "json"
	case KindAPI:
		return "api"
	default:
		return fmt.Sprintf("SourceKind(%d)", int(k))
	}
}

// Source describes one configured input. Exactly one of CSV, JSON, or API
// is non-nil, matching Kind. Descriptors are immutable once built from
// configuration.
type Source struct {
	Name string
	Kind SourceKind
	CSV  *CSVParams
	JSON *JSONParams
	API  *APIParams
}

// CSVParams holds extraction parameters for a CSV source. Path may be a
// local file path or an s3://bucket/key location.
type CSVParams struct {
	Path      string
	Delimiter rune
}

// JSONParams holds extraction parameters for a JSON source. Path may be a
// local file path or an s3://bucket/key location.
type JSONParams struct {
	Path string
}

// APIParams holds extraction parameters for an HTTP API source.
// RetryAttempts bounds the total number of requests; RetryDelay is the
// base delay, doubled per attempt up to the client's maximum.
type APIParams struct {
	BaseURL       string
	Endpoint      string
	QueryParams   map[string]string
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// URL joins the base URL and endpoint into the request URL.
func (p *APIParams) URL() string {
	base := p.BaseURL
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	ep := p.Endpoint
	for len(ep) > 0 && ep[0] == '/' {
		ep = ep[1:]
	}
	if ep == "" {
		return base
	}
	return base + "/" + ep
}

// ColumnType is a declared target type for type coercion.
type ColumnType string

const (
	TypeString  ColumnType = "string"
	TypeInteger ColumnType = "integer"
	TypeFloat   ColumnType = "float"
	TypeDate    ColumnType = "date"
)

// DeriveOp names an enrichment operation over existing columns.
type DeriveOp string

const (
	// DeriveMultiply stores the product of the numeric operand columns.
	DeriveMultiply DeriveOp = "multiply"
	// DeriveAdd stores the sum of the numeric operand columns.
	DeriveAdd DeriveOp = "add"
	// DeriveConcat stores the operand values joined by Separator.
	DeriveConcat DeriveOp = "concat"
)

// DerivationRule computes one derived column from existing columns.
type DerivationRule struct {
	Column    string
	Op        DeriveOp
	Operands  []string
	Separator string // concat only
}

// TransformRules configures the transformer for a run. The same rule set
// applies to every source.
type TransformRules struct {
	Types     map[string]ColumnType
	Required  []string
	DedupKeys []string
	Derived   []DerivationRule
}

// WriteMode governs how a batch is merged into an existing target table.
type WriteMode string

const (
	// WriteAppend inserts rows, keeping existing table contents.
	WriteAppend WriteMode = "append"
	// WriteReplace drops and recreates the table before inserting.
	WriteReplace WriteMode = "replace"
	// WriteFail aborts the load if the table already holds rows.
	WriteFail WriteMode = "fail"
)

// ParseWriteMode validates a configured write mode string.
func ParseWriteMode(s string) (WriteMode, error) {
	switch WriteMode(s) {
	case WriteAppend, WriteReplace, WriteFail:
		return WriteMode(s), nil
	default:
		return "", fmt.Errorf("unknown write mode %q (expected append, replace, or fail)", s)
	}
}

// TargetDriver identifies the relational target engine.
type TargetDriver string

const (
	DriverSQLite   TargetDriver = "sqlite"
	DriverPostgres TargetDriver = "postgres"
)

// Target describes the relational destination for cleaned batches.
// ArchivePath, when set, names a directory that receives one Parquet
// file per committed source.
type Target struct {
	Driver       TargetDriver
	DSN          string
	Table        string
	WriteMode    WriteMode
	IndexColumns []string
	ArchivePath  string
}

// Policy is the run-level error-handling mode, selected once at
// configuration time and applied uniformly for the run.
type Policy string

const (
	// PolicyRollback aborts the run on the first source failure. Sources
	// committed before the failure stay committed.
	PolicyRollback Policy = "rollback"
	// PolicySkip records the failure and proceeds to the next source.
	PolicySkip Policy = "skip"
	// PolicyContinue behaves like skip but emits the full diagnostic
	// chain for the failed source.
	PolicyContinue Policy = "continue"
)

// ParsePolicy validates a configured policy string.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyRollback, PolicySkip, PolicyContinue:
		return Policy(s), nil
	default:
		return "", fmt.Errorf("unknown error-handling policy %q (expected rollback, skip, or continue)", s)
	}
}

// QualityReport counts the per-row outcomes of transforming one batch.
// Per-row drops are quality events, not errors; they never abort a source.
type QualityReport struct {
	RowsRead         int64
	CoercionFailures int64
	MissingRequired  int64
	Duplicates       int64
	RowsOut          int64
}

// Dropped returns the total number of rows removed during transformation.
func (q *QualityReport) Dropped() int64 {
	return q.CoercionFailures + q.MissingRequired + q.Duplicates
}

// Drop reasons as emitted in rows-dropped events.
const (
	DropReasonCoercion = "type_coercion_failure"
	DropReasonRequired = "missing_required_field"
	DropReasonDupe     = "duplicate"
)

// LoadResult reports the outcome of committing one batch.
type LoadResult struct {
	Table      string
	RowsLoaded int64
	// IndexesCreated is true the first time indexes were ensured for the
	// table during this run.
	IndexesCreated bool
	// IndexErr records a non-fatal index creation failure. The batch is
	// already committed when indexes are created, so this never fails a
	// source.
	IndexErr error
}

// SourceStatus tracks a source through the per-source state machine.
type SourceStatus string

const (
	StatusPending      SourceStatus = "pending"
	StatusExtracting   SourceStatus = "extracting"
	StatusTransforming SourceStatus = "transforming"
	StatusLoading      SourceStatus = "loading"
	StatusCommitted    SourceStatus = "committed"
	StatusFailed       SourceStatus = "failed"
)

// Stage identifies where in the per-source sequence an event occurred.
type Stage string

const (
	StageExtract   Stage = "extract"
	StageTransform Stage = "transform"
	StageLoad      Stage = "load"
)

// RunMetrics aggregates counters for one pipeline run. Created at run
// start, finalized at run end, and emitted to the event sink.
type RunMetrics struct {
	RunID            string
	StartedAt        time.Time
	FinishedAt       time.Time
	Elapsed          time.Duration
	SourcesAttempted int
	SourcesSucceeded int
	SourcesFailed    int
	RowsExtracted    int64
	RowsDropped      int64
	RowsLoaded       int64
}
