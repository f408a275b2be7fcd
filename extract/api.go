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

	"github.com/go-resty/resty/v2"

	"github.com/datapipehq/etlpipe/core"
)

// extractAPI issues a GET against the configured endpoint. Transient
// failures (timeout, connection error, 5xx) are retried with exponential
// backoff up to the configured attempt cap; exhausting the cap is an
// extraction failure. Retries are synchronous — the only retry loop in
// the pipeline.
func (e *Extractor) extractAPI(ctx context.Context, src core.Source) (*core.Batch, error) {
	p := src.API

	client := resty.New().
		SetTimeout(p.Timeout).
		SetRetryCount(p.RetryAttempts - 1).
		SetRetryWaitTime(p.RetryDelay).
		SetRetryMaxWaitTime(p.RetryDelay * 16).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// A cancelled run must not burn the remaining attempts.
			// Per-request timeouts leave ctx intact and still retry.
			if ctx.Err() != nil {
				return false
			}
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	resp, err := client.R().
		SetContext(ctx).
		SetQueryParams(p.QueryParams).
		SetHeader("Accept", "application/json").
		Get(p.URL())
	if err != nil {
		return nil, &core.ExtractionError{Op: "request", Source: src.Name, Err: err}
	}
	if resp.IsError() {
		return nil, &core.ExtractionError{
			Op:     "request",
			Source: src.Name,
			Err:    fmt.Errorf("%s returned status %d after %d attempts", p.URL(), resp.StatusCode(), p.RetryAttempts),
		}
	}

	var doc interface{}
	if err := json.Unmarshal(resp.Body(), &doc); err != nil {
		return nil, &core.ExtractionError{Op: "parse", Source: src.Name, Err: err}
	}

	rows, err := rowsFromResponse(doc)
	if err != nil {
		return nil, &core.ExtractionError{Op: "parse", Source: src.Name, Err: err}
	}
	return recordsToBatch(src.Name, rows), nil
}

// rowsFromResponse unpacks common API response shapes: a bare array, or
// an envelope object with a "data" or "results" array.
func rowsFromResponse(doc interface{}) ([]core.Record, error) {
	if obj, ok := doc.(map[string]interface{}); ok {
		if inner, ok := obj["data"]; ok {
			return rowsFromDocument(inner)
		}
		if inner, ok := obj["results"]; ok {
			return rowsFromDocument(inner)
		}
	}
	return rowsFromDocument(doc)
}
