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
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/apache/arrow/go/v12/parquet"
	"github.com/apache/arrow/go/v12/parquet/compress"
	"github.com/apache/arrow/go/v12/parquet/pqarrow"

	"github.com/datapipehq/etlpipe/core"
)

// This file writes committed batches to a Parquet archive for downstream
// analytics. Archiving happens after the database commit and is never
// allowed to fail a source; callers report archive errors as diagnostics.

// WriteArchive writes the batch to a snappy-compressed Parquet file,
// replacing any previous archive at the same path.
func WriteArchive(batch *core.Batch, path string) error {
	if len(batch.Columns) == 0 {
		return nil
	}

	schema, err := archiveSchema(batch)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("archive %s: %w", path, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("archive %s: %w", path, err)
	}
	defer f.Close()

	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	writer, err := pqarrow.NewFileWriter(schema, f, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return fmt.Errorf("archive %s: %w", path, err)
	}

	rec, err := buildArrowRecord(schema, batch)
	if err != nil {
		writer.Close()
		return fmt.Errorf("archive %s: %w", path, err)
	}
	defer rec.Release()

	if err := writer.Write(rec); err != nil {
		writer.Close()
		return fmt.Errorf("archive %s: %w", path, err)
	}
	return writer.Close()
}

// archiveSchema infers an Arrow schema from the first non-nil value per
// column, defaulting to string for all-null columns.
func archiveSchema(batch *core.Batch) (*arrow.Schema, error) {
	fields := make([]arrow.Field, 0, len(batch.Columns))
	for _, col := range batch.Columns {
		fields = append(fields, arrow.Field{
			Name:     col,
			Type:     archiveColumnType(batch, col),
			Nullable: true,
		})
	}
	return arrow.NewSchema(fields, nil), nil
}

func archiveColumnType(batch *core.Batch, col string) arrow.DataType {
	for _, row := range batch.Rows {
		switch row[col].(type) {
		case nil:
			continue
		case int64, int:
			return arrow.PrimitiveTypes.Int64
		case float64:
			return arrow.PrimitiveTypes.Float64
		case time.Time:
			return arrow.FixedWidthTypes.Timestamp_us
		default:
			return arrow.BinaryTypes.String
		}
	}
	return arrow.BinaryTypes.String
}

func buildArrowRecord(schema *arrow.Schema, batch *core.Batch) (arrow.Record, error) {
	builder := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer builder.Release()

	for _, row := range batch.Rows {
		for i, field := range schema.Fields() {
			if err := appendValue(builder.Field(i), row[field.Name]); err != nil {
				return nil, fmt.Errorf("column %q: %w", field.Name, err)
			}
		}
	}
	return builder.NewRecord(), nil
}

func appendValue(b array.Builder, val interface{}) error {
	if val == nil {
		b.AppendNull()
		return nil
	}
	switch builder := b.(type) {
	case *array.Int64Builder:
		switch v := val.(type) {
		case int64:
			builder.Append(v)
		case int:
			builder.Append(int64(v))
		default:
			return fmt.Errorf("value %v (%T) does not fit int64 column", val, val)
		}
	case *array.Float64Builder:
		switch v := val.(type) {
		case float64:
			builder.Append(v)
		case int64:
			builder.Append(float64(v))
		default:
			return fmt.Errorf("value %v (%T) does not fit float64 column", val, val)
		}
	case *array.TimestampBuilder:
		t, ok := val.(time.Time)
		if !ok {
			return fmt.Errorf("value %v (%T) does not fit timestamp column", val, val)
		}
		builder.Append(arrow.Timestamp(t.UnixMicro()))
	case *array.StringBuilder:
		builder.Append(fmt.Sprintf("%v", val))
	default:
		return fmt.Errorf("unsupported builder %T", b)
	}
	return nil
}
