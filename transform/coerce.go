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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/datapipehq/etlpipe/core"
)

// dateLayouts are tried in order when coercing strings to dates.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"01/02/2006",
}

// coerceValue converts a scalar to the declared column type. Values
// already of the target type pass through unchanged, which keeps the
// coercion step idempotent.
func coerceValue(val interface{}, typ core.ColumnType) (interface{}, error) {
	switch typ {
	case core.TypeInteger:
		return coerceInt(val)
	case core.TypeFloat:
		return coerceFloat(val)
	case core.TypeDate:
		return coerceDate(val)
	case core.TypeString:
		return coerceString(val), nil
	default:
		return nil, fmt.Errorf("unhandled column type %q", typ)
	}
}

func coerceInt(val interface{}) (interface{}, error) {
	switch v := val.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		if v != float64(int64(v)) {
			return nil, fmt.Errorf("cannot coerce %v to integer", v)
		}
		return int64(v), nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot coerce %q to integer", v)
		}
		return i, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to integer", val)
	}
}

func coerceFloat(val interface{}) (interface{}, error) {
	switch v := val.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot coerce %q to float", v)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to float", val)
	}
}

func coerceDate(val interface{}) (interface{}, error) {
	switch v := val.(type) {
	case time.Time:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return nil, fmt.Errorf("cannot coerce %q to date", v)
	default:
		return nil, fmt.Errorf("cannot coerce %T to date", val)
	}
}

func coerceString(val interface{}) string {
	if s, ok := val.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", val)
}
