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

package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/datapipehq/etlpipe/core"
)

// Package logging provides the logrus-backed core.EventSink. The rest of
// the pipeline never touches logrus; every sink instance owns its own
// logger, so there is no process-wide logging state.

// Config controls the sink's logrus backend.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
	// File enables rotated file output alongside stdout.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultConfig returns the defaults used when configuration leaves the
// output section empty.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 28,
	}
}

// Sink emits pipeline events as structured log lines.
type Sink struct {
	log    *logrus.Logger
	closer io.Closer
}

// NewSink builds a sink from config. Call Close before exit when file
// output is enabled.
func NewSink(cfg Config) *Sink {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "text" {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}

	sink := &Sink{log: log}
	writers := []io.Writer{os.Stdout}
	if cfg.File != "" {
		fileWriter := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		writers = append(writers, fileWriter)
		sink.closer = fileWriter
	}
	log.SetOutput(io.MultiWriter(writers...))
	return sink
}

// Close flushes and closes the rotated log file, if any.
func (s *Sink) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func (s *Sink) RunStarted(runID string, sources int, policy core.Policy) {
	s.log.WithFields(logrus.Fields{
		"run_id":  runID,
		"sources": sources,
		"policy":  string(policy),
	}).Info("pipeline run started")
}

func (s *Sink) StageStarted(source string, stage core.Stage) {
	s.log.WithFields(logrus.Fields{
		"source": source,
		"stage":  string(stage),
	}).Debug("stage started")
}

func (s *Sink) RowsDropped(source, reason string, count int64) {
	s.log.WithFields(logrus.Fields{
		"source": source,
		"reason": reason,
		"count":  count,
	}).Warn("rows dropped during transformation")
}

func (s *Sink) SourceCommitted(source string, rowsLoaded int64) {
	s.log.WithFields(logrus.Fields{
		"source":      source,
		"rows_loaded": rowsLoaded,
	}).Info("source committed")
}

func (s *Sink) SourceFailed(source string, stage core.Stage, err error) {
	s.log.WithFields(logrus.Fields{
		"source": source,
		"stage":  string(stage),
	}).WithError(err).Error("source failed")
}

func (s *Sink) Diagnostic(source, detail string) {
	s.log.WithFields(logrus.Fields{
		"source": source,
		"detail": detail,
	}).Info("diagnostic")
}

func (s *Sink) RunFinished(metrics core.RunMetrics) {
	s.log.WithFields(logrus.Fields{
		"run_id":            metrics.RunID,
		"elapsed":           metrics.Elapsed.String(),
		"sources_attempted": metrics.SourcesAttempted,
		"sources_succeeded": metrics.SourcesSucceeded,
		"sources_failed":    metrics.SourcesFailed,
		"rows_extracted":    metrics.RowsExtracted,
		"rows_dropped":      metrics.RowsDropped,
		"rows_loaded":       metrics.RowsLoaded,
	}).Info("pipeline run finished")
}
