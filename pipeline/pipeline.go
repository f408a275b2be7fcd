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

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/datapipehq/etlpipe/core"
	"github.com/datapipehq/etlpipe/load"
)

// Package pipeline orchestrates a run: each configured source moves
// through Pending, Extracting, Transforming, Loading, and ends Committed
// or Failed. Sources are processed strictly in declared order, one at a
// time; the error-handling policy decides what a source failure does to
// the rest of the run.

// Extractor produces one batch from one source descriptor.
type Extractor interface {
	Extract(ctx context.Context, src core.Source) (*core.Batch, error)
}

// Transformer cleans one batch under the run's rule set.
type Transformer interface {
	Transform(ctx context.Context, batch *core.Batch, rules core.TransformRules) (*core.Batch, *core.QualityReport, error)
}

// Loader commits one cleaned batch to the target.
type Loader interface {
	Load(ctx context.Context, batch *core.Batch) (*core.LoadResult, error)
}

// Archiver writes a committed batch to an archive file. Swappable in
// tests; the default writes Parquet.
type Archiver func(batch *core.Batch, path string) error

// SourceResult records the outcome of one source in a run.
type SourceResult struct {
	Name       string
	Status     core.SourceStatus
	FailedAt   core.Stage
	Err        error
	Report     *core.QualityReport
	RowsLoaded int64
}

// Result is the outcome of one full run.
type Result struct {
	Metrics core.RunMetrics
	Sources []SourceResult
	// Aborted is true when the rollback policy stopped the run before all
	// sources were attempted. AbortSource names the source that failed.
	Aborted     bool
	AbortSource string
}

// Failed reports whether any attempted source failed.
func (r *Result) Failed() bool {
	for _, s := range r.Sources {
		if s.Status == core.StatusFailed {
			return true
		}
	}
	return false
}

// Pipeline runs configured sources through the extract, transform, and
// load stages. Build one with the Builder; a Pipeline is immutable after
// Build and safe to Run more than once.
type Pipeline struct {
	sources     []core.Source
	extractor   Extractor
	transformer Transformer
	loader      Loader
	rules       core.TransformRules
	policy      core.Policy
	sink        core.EventSink
	archivePath string
	archiver    Archiver
	only        []string
}

// Builder assembles a Pipeline step by step.
type Builder struct {
	p   *Pipeline
	err error
}

// New creates a Builder with the skip policy, a NopSink, and the Parquet
// archiver as defaults.
func New() *Builder {
	return &Builder{p: &Pipeline{
		policy:   core.PolicySkip,
		sink:     core.NopSink{},
		archiver: load.WriteArchive,
	}}
}

// WithSources sets the sources to process, in run order.
func (b *Builder) WithSources(sources []core.Source) *Builder {
	b.p.sources = sources
	return b
}

// WithExtractor sets the extraction stage.
func (b *Builder) WithExtractor(e Extractor) *Builder {
	b.p.extractor = e
	return b
}

// WithTransformer sets the transformation stage.
func (b *Builder) WithTransformer(t Transformer) *Builder {
	b.p.transformer = t
	return b
}

// WithLoader sets the load stage.
func (b *Builder) WithLoader(l Loader) *Builder {
	b.p.loader = l
	return b
}

// WithRules sets the transformation rule set applied to every source.
func (b *Builder) WithRules(rules core.TransformRules) *Builder {
	b.p.rules = rules
	return b
}

// WithPolicy sets the run-level error-handling policy.
func (b *Builder) WithPolicy(policy core.Policy) *Builder {
	switch policy {
	case core.PolicyRollback, core.PolicySkip, core.PolicyContinue:
		b.p.policy = policy
	default:
		b.err = fmt.Errorf("unknown error-handling policy %q", policy)
	}
	return b
}

// WithSink sets the event sink for the run.
func (b *Builder) WithSink(sink core.EventSink) *Builder {
	if sink != nil {
		b.p.sink = sink
	}
	return b
}

// WithArchivePath enables Parquet archiving of committed batches into
// the given directory.
func (b *Builder) WithArchivePath(dir string) *Builder {
	b.p.archivePath = dir
	return b
}

// WithArchiver overrides the archive writer.
func (b *Builder) WithArchiver(a Archiver) *Builder {
	if a != nil {
		b.p.archiver = a
	}
	return b
}

// WithOnly restricts the run to the named sources, keeping declared
// order. An empty list runs everything.
func (b *Builder) WithOnly(names ...string) *Builder {
	b.p.only = names
	return b
}

// Build validates the assembled pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.p.sources) == 0 {
		return nil, errors.New("pipeline requires at least one source")
	}
	if b.p.extractor == nil {
		return nil, errors.New("pipeline requires an extractor")
	}
	if b.p.transformer == nil {
		return nil, errors.New("pipeline requires a transformer")
	}
	if b.p.loader == nil {
		return nil, errors.New("pipeline requires a loader")
	}
	return b.p, nil
}

// Run processes every selected source in order and returns the
// per-source results plus finalized run metrics. Run itself returns an
// error only for run-level problems, e.g. a source filter matching
// nothing; source failures are reported in the Result per the policy.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	selected, err := p.selectSources()
	if err != nil {
		return nil, err
	}

	result := &Result{
		Metrics: core.RunMetrics{
			RunID:     uuid.NewString(),
			StartedAt: time.Now().UTC(),
		},
	}
	p.sink.RunStarted(result.Metrics.RunID, len(selected), p.policy)

	for _, src := range selected {
		sr := p.runSource(ctx, src, &result.Metrics)
		result.Sources = append(result.Sources, sr)

		if sr.Status == core.StatusFailed && p.policy == core.PolicyRollback {
			result.Aborted = true
			result.AbortSource = src.Name
			break
		}
	}

	result.Metrics.FinishedAt = time.Now().UTC()
	result.Metrics.Elapsed = result.Metrics.FinishedAt.Sub(result.Metrics.StartedAt)
	p.sink.RunFinished(result.Metrics)
	return result, nil
}

// selectSources applies the name filter while keeping declared order.
func (p *Pipeline) selectSources() ([]core.Source, error) {
	if len(p.only) == 0 {
		return p.sources, nil
	}
	wanted := make(map[string]bool, len(p.only))
	for _, name := range p.only {
		wanted[name] = false
	}
	selected := make([]core.Source, 0, len(p.only))
	for _, src := range p.sources {
		if _, ok := wanted[src.Name]; ok {
			wanted[src.Name] = true
			selected = append(selected, src)
		}
	}
	for name, found := range wanted {
		if !found {
			return nil, &core.ConfigurationError{Op: "select_sources", Err: fmt.Errorf("source %q is not configured", name)}
		}
	}
	return selected, nil
}

// runSource drives one source through the stage sequence. Any stage
// error marks the source Failed; the caller applies the policy.
func (p *Pipeline) runSource(ctx context.Context, src core.Source, metrics *core.RunMetrics) SourceResult {
	sr := SourceResult{Name: src.Name, Status: core.StatusPending}
	metrics.SourcesAttempted++

	sr.Status = core.StatusExtracting
	p.sink.StageStarted(src.Name, core.StageExtract)
	batch, err := p.extractor.Extract(ctx, src)
	if err != nil {
		return p.fail(sr, core.StageExtract, err, metrics)
	}
	metrics.RowsExtracted += int64(batch.Len())

	sr.Status = core.StatusTransforming
	p.sink.StageStarted(src.Name, core.StageTransform)
	clean, report, err := p.transformer.Transform(ctx, batch, p.rules)
	if err != nil {
		return p.fail(sr, core.StageTransform, err, metrics)
	}
	sr.Report = report
	p.emitDrops(src.Name, report)
	metrics.RowsDropped += report.Dropped()

	sr.Status = core.StatusLoading
	p.sink.StageStarted(src.Name, core.StageLoad)
	loaded, err := p.loader.Load(ctx, clean)
	if err != nil {
		return p.fail(sr, core.StageLoad, err, metrics)
	}
	sr.RowsLoaded = loaded.RowsLoaded
	metrics.RowsLoaded += loaded.RowsLoaded
	if loaded.IndexErr != nil {
		p.sink.Diagnostic(src.Name, fmt.Sprintf("index creation on %s: %v", loaded.Table, loaded.IndexErr))
	}

	sr.Status = core.StatusCommitted
	metrics.SourcesSucceeded++
	p.sink.SourceCommitted(src.Name, loaded.RowsLoaded)

	p.archive(src.Name, clean)
	return sr
}

// fail finalizes a failed source and emits the policy-appropriate
// diagnostics. Under continue the full error chain goes to the sink;
// under rollback and skip the one-line summary in SourceFailed is all.
func (p *Pipeline) fail(sr SourceResult, stage core.Stage, err error, metrics *core.RunMetrics) SourceResult {
	sr.Status = core.StatusFailed
	sr.FailedAt = stage
	sr.Err = err
	metrics.SourcesFailed++
	p.sink.SourceFailed(sr.Name, stage, err)
	if p.policy == core.PolicyContinue {
		p.sink.Diagnostic(sr.Name, errorChain(err))
	}
	return sr
}

// emitDrops reports each nonzero drop reason from a quality report.
func (p *Pipeline) emitDrops(source string, report *core.QualityReport) {
	if report.CoercionFailures > 0 {
		p.sink.RowsDropped(source, core.DropReasonCoercion, report.CoercionFailures)
	}
	if report.MissingRequired > 0 {
		p.sink.RowsDropped(source, core.DropReasonRequired, report.MissingRequired)
	}
	if report.Duplicates > 0 {
		p.sink.RowsDropped(source, core.DropReasonDupe, report.Duplicates)
	}
}

// archive writes the committed batch to the archive directory. The
// batch is already committed, so archive errors are diagnostics only.
func (p *Pipeline) archive(source string, batch *core.Batch) {
	if p.archivePath == "" {
		return
	}
	path := filepath.Join(p.archivePath, source+".parquet")
	if err := p.archiver(batch, path); err != nil {
		p.sink.Diagnostic(source, fmt.Sprintf("archive %s: %v", path, err))
	}
}

// errorChain renders every level of a wrapped error, outermost first.
func errorChain(err error) string {
	var sb strings.Builder
	for depth := 0; err != nil; depth++ {
		if depth > 0 {
			sb.WriteString(" <- ")
		}
		sb.WriteString(err.Error())
		err = errors.Unwrap(err)
	}
	return sb.String()
}
