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

import "fmt"

// This file contains the pipeline error taxonomy. ConfigurationError is
// fatal and keeps a run from starting; the three stage errors are
// recoverable per the run's error-handling policy.

// ConfigurationError reports bad or missing configuration. It is raised
// eagerly at load time, never lazily at first use.
type ConfigurationError struct {
	Op  string // the option or section being validated
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Op, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// ExtractionError reports an unreachable or unparsable source.
type ExtractionError struct {
	Op     string // operation that failed (e.g. "open", "parse", "request")
	Source string // source name from configuration
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: source %q: %v", e.Op, e.Source, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// TransformationError reports a systemic transform failure, distinct from
// per-row drops (which are quality-report entries, not errors).
type TransformationError struct {
	Op     string
	Source string
	Err    error
}

func (e *TransformationError) Error() string {
	return fmt.Sprintf("transform %s: source %q: %v", e.Op, e.Source, e.Err)
}

func (e *TransformationError) Unwrap() error {
	return e.Err
}

// LoadError reports an unreachable target or a failed transaction.
type LoadError struct {
	Op    string
	Table string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: table %q: %v", e.Op, e.Table, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
