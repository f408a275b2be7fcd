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

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/datapipehq/etlpipe/config"
	"github.com/datapipehq/etlpipe/extract"
	"github.com/datapipehq/etlpipe/load"
	"github.com/datapipehq/etlpipe/logging"
	"github.com/datapipehq/etlpipe/pipeline"
	"github.com/datapipehq/etlpipe/transform"
)

var (
	configPath   string
	onlySources  []string
	validateOnly bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "etlpipe",
		Short: "Run the configured extract-transform-load pipeline",
		Long: "etlpipe reads rows from configured CSV, JSON, and API sources, cleans and\n" +
			"enriches them, and loads them into a relational target under a configurable\n" +
			"error-handling policy.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if validateOnly {
				fmt.Printf("configuration %s is valid (%d sources)\n", configPath, len(cfg.SourceDescriptors()))
				return nil
			}
			return run(cmd, cfg)
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	root.Flags().StringSliceVarP(&onlySources, "source", "s", nil, "run only the named sources (repeatable)")
	root.Flags().BoolVar(&validateOnly, "validate", false, "validate the configuration and exit")

	root.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Printf("configuration %s is valid (%d sources)\n", configPath, len(cfg.SourceDescriptors()))
			return nil
		},
	})

	return root
}

func run(cmd *cobra.Command, cfg *config.Config) error {
	ctx := cmd.Context()

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Pipeline.LogLevel
	logCfg.Format = cfg.Pipeline.LogFormat
	logCfg.File = cfg.Pipeline.LogFile
	sink := logging.NewSink(logCfg)
	defer sink.Close()

	target := cfg.Target()
	loader, err := load.Open(ctx, target)
	if err != nil {
		return err
	}
	defer loader.Close()

	var extractOpts []extract.Option
	if cfg.S3.Region != "" {
		extractOpts = append(extractOpts, extract.WithS3Region(cfg.S3.Region))
	}
	if cfg.S3.AccessKey != "" {
		extractOpts = append(extractOpts, extract.WithS3StaticCredentials(cfg.S3.AccessKey, cfg.S3.SecretKey))
	}

	p, err := pipeline.New().
		WithSources(cfg.SourceDescriptors()).
		WithExtractor(extract.New(extractOpts...)).
		WithTransformer(transform.New()).
		WithLoader(loader).
		WithRules(cfg.Rules()).
		WithPolicy(cfg.Policy()).
		WithSink(sink).
		WithArchivePath(target.ArchivePath).
		WithOnly(onlySources...).
		Build()
	if err != nil {
		return err
	}

	result, err := p.Run(ctx)
	if err != nil {
		return err
	}

	printSummary(result)

	if result.Aborted {
		return fmt.Errorf("run aborted: source %q failed under the rollback policy", result.AbortSource)
	}
	return nil
}

// printSummary writes the per-source table and the run aggregate.
func printSummary(result *pipeline.Result) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tSTATUS\tREAD\tDROPPED\tLOADED\tERROR")
	for _, sr := range result.Sources {
		var read, dropped int64
		if sr.Report != nil {
			read = sr.Report.RowsRead
			dropped = sr.Report.Dropped()
		}
		errText := ""
		if sr.Err != nil {
			errText = sr.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
			sr.Name, sr.Status, read, dropped, sr.RowsLoaded, errText)
	}
	w.Flush()

	m := result.Metrics
	fmt.Printf("\nrun %s: %d attempted, %d succeeded, %d failed; %d rows extracted, %d dropped, %d loaded in %s\n",
		m.RunID, m.SourcesAttempted, m.SourcesSucceeded, m.SourcesFailed,
		m.RowsExtracted, m.RowsDropped, m.RowsLoaded, m.Elapsed.Round(1e6))

	if result.Aborted {
		fmt.Printf("aborted at source %q; sources after it were not attempted\n", result.AbortSource)
	}
}
