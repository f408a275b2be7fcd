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

package transform

import (
	"context"
	"fmt"
	"strings"

	"github.com/datapipehq/etlpipe/core"
)

// Package transform cleans, coerces, validates, deduplicates, and
// enriches record batches. The step order is fixed: clean, type-coerce,
// validate required columns, deduplicate, enrich. Each step consumes the
// previous step's output; row order is preserved except for drops.
//
// Per-row drops are quality-report entries, never errors. Only systemic
// failures (a derivation referencing an unknown column) abort a source.

// Transformer applies one rule set to batches. Deterministic: the same
// batch and rules always produce the same clean batch and report, and
// transforming an already-clean batch reports zero drops.
type Transformer struct{}

// New creates a Transformer.
func New() *Transformer {
	return &Transformer{}
}

// Transform runs the fixed step sequence over a batch and returns the
// clean batch plus its quality report.
func (t *Transformer) Transform(ctx context.Context, batch *core.Batch, rules core.TransformRules) (*core.Batch, *core.QualityReport, error) {
	select {
	case <-ctx.Done():
		return nil, nil, &core.TransformationError{Op: "transform", Source: batch.Source, Err: ctx.Err()}
	default:
	}

	report := &core.QualityReport{RowsRead: int64(batch.Len())}

	out := cleanBatch(batch)
	out = coerceTypes(out, rules.Types, report)
	out = validateRequired(out, rules, report)
	out = deduplicate(out, rules.DedupKeys, report)
	out, err := enrich(out, rules.Derived)
	if err != nil {
		return nil, nil, err
	}

	report.RowsOut = int64(out.Len())
	return out, report, nil
}

// normalizeName lowercases a column name and replaces spaces with
// underscores, matching the cleaned-table naming convention.
func normalizeName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// cleanBatch trims whitespace on string values and normalizes column
// names. The input batch is left untouched; every step works on a fresh
// batch, so no rows alias across stages.
func cleanBatch(batch *core.Batch) *core.Batch {
	out := &core.Batch{
		Source:  batch.Source,
		Columns: make([]string, len(batch.Columns)),
		Rows:    make([]core.Record, 0, len(batch.Rows)),
	}
	for i, col := range batch.Columns {
		out.Columns[i] = normalizeName(col)
	}
	for _, row := range batch.Rows {
		cleaned := make(core.Record, len(row))
		for col, val := range row {
			if s, ok := val.(string); ok {
				s = strings.TrimSpace(s)
				if s == "" {
					cleaned[normalizeName(col)] = nil
					continue
				}
				val = s
			}
			cleaned[normalizeName(col)] = val
		}
		out.Rows = append(out.Rows, cleaned)
	}
	return out
}

// coerceTypes converts values to their declared column types. A row with
// any uncoercible value is dropped and counted; nil values pass through.
// Rule keys may use the raw header spelling; they are normalized to match
// the cleaned column names.
func coerceTypes(batch *core.Batch, types map[string]core.ColumnType, report *core.QualityReport) *core.Batch {
	if len(types) == 0 {
		return batch
	}
	normalized := make(map[string]core.ColumnType, len(types))
	for col, typ := range types {
		normalized[normalizeName(col)] = typ
	}
	out := &core.Batch{Source: batch.Source, Columns: batch.Columns, Rows: make([]core.Record, 0, len(batch.Rows))}
	for _, row := range batch.Rows {
		coerced := make(core.Record, len(row))
		for col, val := range row {
			coerced[col] = val
		}
		ok := true
		for col, typ := range normalized {
			val, present := coerced[col]
			if !present || val == nil {
				continue
			}
			conv, err := coerceValue(val, typ)
			if err != nil {
				ok = false
				break
			}
			coerced[col] = conv
		}
		if !ok {
			report.CoercionFailures++
			continue
		}
		out.Rows = append(out.Rows, coerced)
	}
	return out
}

// validateRequired drops rows missing any required column, then unifies
// the column set: every surviving row carries every batch column, with
// nil for absent values.
func validateRequired(batch *core.Batch, rules core.TransformRules, report *core.QualityReport) *core.Batch {
	required := make([]string, len(rules.Required))
	for i, col := range rules.Required {
		required[i] = normalizeName(col)
	}

	out := &core.Batch{Source: batch.Source, Columns: batch.Columns, Rows: make([]core.Record, 0, len(batch.Rows))}
	for _, row := range batch.Rows {
		ok := true
		for _, col := range required {
			if val, present := row[col]; !present || val == nil {
				ok = false
				break
			}
		}
		if !ok {
			report.MissingRequired++
			continue
		}
		unified := make(core.Record, len(batch.Columns))
		for _, col := range batch.Columns {
			unified[col] = row[col]
		}
		out.Rows = append(out.Rows, unified)
	}
	return out
}

// deduplicate collapses rows with identical key-column values to the
// first occurrence in input order. Without declared keys the whole row
// is the key.
func deduplicate(batch *core.Batch, keys []string, report *core.QualityReport) *core.Batch {
	keyCols := make([]string, 0, len(keys))
	for _, col := range keys {
		keyCols = append(keyCols, normalizeName(col))
	}
	if len(keyCols) == 0 {
		keyCols = batch.Columns
	}

	out := &core.Batch{Source: batch.Source, Columns: batch.Columns, Rows: make([]core.Record, 0, len(batch.Rows))}
	seen := make(map[string]bool, len(batch.Rows))
	var sb strings.Builder
	for _, row := range batch.Rows {
		sb.Reset()
		for _, col := range keyCols {
			fmt.Fprintf(&sb, "%v\x1f", row[col])
		}
		key := sb.String()
		if seen[key] {
			report.Duplicates++
			continue
		}
		seen[key] = true
		out.Rows = append(out.Rows, row)
	}
	return out
}

// enrich computes derived columns. A rule referencing a column absent
// from the batch is a systemic failure, not a per-row drop.
func enrich(batch *core.Batch, rules []core.DerivationRule) (*core.Batch, error) {
	if len(rules) == 0 {
		return batch, nil
	}

	columns := append([]string(nil), batch.Columns...)
	colSet := make(map[string]bool, len(columns))
	for _, col := range columns {
		colSet[col] = true
	}

	for _, rule := range rules {
		target := normalizeName(rule.Column)
		operands := make([]string, len(rule.Operands))
		for i, op := range rule.Operands {
			operands[i] = normalizeName(op)
			if !colSet[operands[i]] {
				return nil, &core.TransformationError{
					Op:     "enrich",
					Source: batch.Source,
					Err:    fmt.Errorf("derived column %q references unknown column %q", target, operands[i]),
				}
			}
		}
		for _, row := range batch.Rows {
			val, err := derive(row, rule.Op, operands, rule.Separator)
			if err != nil {
				return nil, &core.TransformationError{Op: "enrich", Source: batch.Source, Err: err}
			}
			row[target] = val
		}
		if !colSet[target] {
			columns = append(columns, target)
			colSet[target] = true
		}
	}

	return &core.Batch{Source: batch.Source, Columns: columns, Rows: batch.Rows}, nil
}

// derive computes one derived value for one row. Any nil operand makes
// the derived value nil for numeric ops.
func derive(row core.Record, op core.DeriveOp, operands []string, sep string) (interface{}, error) {
	switch op {
	case core.DeriveMultiply, core.DeriveAdd:
		acc := 0.0
		if op == core.DeriveMultiply {
			acc = 1.0
		}
		allInt := true
		for _, col := range operands {
			val := row[col]
			if val == nil {
				return nil, nil
			}
			f, isInt, err := asNumber(val)
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", col, err)
			}
			allInt = allInt && isInt
			if op == core.DeriveMultiply {
				acc *= f
			} else {
				acc += f
			}
		}
		if allInt {
			return int64(acc), nil
		}
		return acc, nil
	case core.DeriveConcat:
		parts := make([]string, 0, len(operands))
		for _, col := range operands {
			if row[col] == nil {
				continue
			}
			parts = append(parts, fmt.Sprintf("%v", row[col]))
		}
		return strings.Join(parts, sep), nil
	default:
		return nil, fmt.Errorf("unhandled derivation op %q", op)
	}
}

func asNumber(val interface{}) (f float64, isInt bool, err error) {
	switch v := val.(type) {
	case int64:
		return float64(v), true, nil
	case int:
		return float64(v), true, nil
	case float64:
		return v, false, nil
	default:
		return 0, false, fmt.Errorf("value %v (%T) is not numeric", val, val)
	}
}
