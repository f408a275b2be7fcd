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

// EventSink receives structured events from the pipeline. The pipeline
// makes no file or console writing decisions of its own; the sink is
// supplied by the caller and threaded through the orchestrator explicitly.
// There is no process-wide logging singleton.
type EventSink interface {
	// RunStarted is emitted once, before the first source.
	RunStarted(runID string, sources int, policy Policy)
	// StageStarted is emitted when a source enters a stage.
	StageStarted(source string, stage Stage)
	// RowsDropped is emitted per drop reason after transformation.
	RowsDropped(source, reason string, count int64)
	// SourceCommitted is emitted after a successful load commit.
	SourceCommitted(source string, rowsLoaded int64)
	// SourceFailed is emitted when a stage error fails a source.
	SourceFailed(source string, stage Stage, err error)
	// Diagnostic carries extra detail, e.g. the full error chain under
	// the continue policy or a non-fatal archive/index warning.
	Diagnostic(source, detail string)
	// RunFinished is emitted once with the finalized metrics.
	RunFinished(metrics RunMetrics)
}

// NopSink discards all events. Useful in tests.
type NopSink struct{}

func (NopSink) RunStarted(string, int, Policy)       {}
func (NopSink) StageStarted(string, Stage)           {}
func (NopSink) RowsDropped(string, string, int64)    {}
func (NopSink) SourceCommitted(string, int64)        {}
func (NopSink) SourceFailed(string, Stage, error)    {}
func (NopSink) Diagnostic(string, string)            {}
func (NopSink) RunFinished(RunMetrics)               {}
