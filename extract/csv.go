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
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/datapipehq/etlpipe/core"
)

// extractCSV reads the entire file into a batch. The first row is the
// header; every data row must match its width. A malformed row is an
// extraction failure, never a silent drop.
func (e *Extractor) extractCSV(ctx context.Context, src core.Source) (*core.Batch, error) {
	rc, err := e.openLocation(ctx, src.CSV.Path)
	if err != nil {
		return nil, &core.ExtractionError{Op: "open", Source: src.Name, Err: err}
	}
	defer rc.Close()

	reader := csv.NewReader(rc)
	reader.Comma = src.CSV.Delimiter
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, &core.ExtractionError{Op: "read_header", Source: src.Name, Err: fmt.Errorf("file is empty")}
	}
	if err != nil {
		return nil, &core.ExtractionError{Op: "read_header", Source: src.Name, Err: err}
	}

	batch := &core.Batch{Source: src.Name, Columns: header}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &core.ExtractionError{Op: "read_row", Source: src.Name, Err: err}
		}
		record := make(core.Record, len(header))
		for i, val := range row {
			if strings.TrimSpace(val) == "" {
				record[header[i]] = nil
			} else {
				record[header[i]] = val
			}
		}
		batch.Rows = append(batch.Rows, record)
	}
	return batch, nil
}
