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
	"encoding/json"
	"fmt"
	"io"

	"github.com/datapipehq/etlpipe/core"
)

// extractJSON reads the entire file into a batch. The document must be
// an array of objects or a single object (a one-row batch).
func (e *Extractor) extractJSON(ctx context.Context, src core.Source) (*core.Batch, error) {
	rc, err := e.openLocation(ctx, src.JSON.Path)
	if err != nil {
		return nil, &core.ExtractionError{Op: "open", Source: src.Name, Err: err}
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, &core.ExtractionError{Op: "read", Source: src.Name, Err: err}
	}

	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &core.ExtractionError{Op: "parse", Source: src.Name, Err: err}
	}

	rows, err := rowsFromDocument(doc)
	if err != nil {
		return nil, &core.ExtractionError{Op: "parse", Source: src.Name, Err: err}
	}
	return recordsToBatch(src.Name, rows), nil
}

// rowsFromDocument converts a decoded JSON document into records. Arrays
// yield one record per object element; a bare object yields one record.
func rowsFromDocument(doc interface{}) ([]core.Record, error) {
	switch d := doc.(type) {
	case []interface{}:
		rows := make([]core.Record, 0, len(d))
		for i, item := range d {
			obj, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("element %d is not an object", i)
			}
			rows = append(rows, recordFromObject(obj))
		}
		return rows, nil
	case map[string]interface{}:
		return []core.Record{recordFromObject(d)}, nil
	default:
		return nil, fmt.Errorf("unsupported document structure %T", doc)
	}
}

func recordFromObject(obj map[string]interface{}) core.Record {
	record := make(core.Record, len(obj))
	for k, v := range obj {
		record[k] = normalizeScalar(v)
	}
	return record
}
