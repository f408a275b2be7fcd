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

package config

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/datapipehq/etlpipe/core"
)

// Package config loads and validates the YAML run configuration. Every
// recognized option is enumerated on an explicit struct with a default;
// validation happens eagerly at load time and converts the raw document
// into typed core descriptors. A bad document never reaches the pipeline.

// Config is the full run configuration as read from YAML.
type Config struct {
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Sources   []SourceConfig  `mapstructure:"sources"`
	Transform TransformConfig `mapstructure:"transform"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Output    OutputConfig    `mapstructure:"output"`
	S3        S3Config        `mapstructure:"s3"`

	policy  core.Policy
	sources []core.Source
	rules   core.TransformRules
	target  core.Target
}

// PipelineConfig holds run-level options.
type PipelineConfig struct {
	ErrorHandling string `mapstructure:"error_handling"`
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
}

// SourceConfig describes one input before kind-specific validation.
type SourceConfig struct {
	Name          string            `mapstructure:"name"`
	Kind          string            `mapstructure:"kind"`
	Path          string            `mapstructure:"path"`
	Delimiter     string            `mapstructure:"delimiter"`
	BaseURL       string            `mapstructure:"base_url"`
	Endpoint      string            `mapstructure:"endpoint"`
	QueryParams   map[string]string `mapstructure:"query_params"`
	Timeout       time.Duration     `mapstructure:"timeout"`
	RetryAttempts int               `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration     `mapstructure:"retry_delay"`
}

// TransformConfig holds the transformation rule set.
type TransformConfig struct {
	Types     map[string]string `mapstructure:"types"`
	Required  []string          `mapstructure:"required"`
	DedupKeys []string          `mapstructure:"dedup_keys"`
	Derived   []DerivedConfig   `mapstructure:"derived"`
}

// DerivedConfig configures one derived column.
type DerivedConfig struct {
	Column    string   `mapstructure:"column"`
	Op        string   `mapstructure:"op"`
	Operands  []string `mapstructure:"operands"`
	Separator string   `mapstructure:"separator"`
}

// DatabaseConfig holds target connection settings. For sqlite only Path
// is used; for postgres the host/port/name/user settings build the DSN.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// S3Config holds settings for s3:// source locations. When Region or the
// credential pair is empty the default AWS environment chain applies.
type S3Config struct {
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// OutputConfig holds target table settings.
type OutputConfig struct {
	Table         string   `mapstructure:"table"`
	WriteMode     string   `mapstructure:"write_mode"`
	CreateIndexes bool     `mapstructure:"create_indexes"`
	IndexColumns  []string `mapstructure:"index_columns"`
	ArchivePath   string   `mapstructure:"archive_path"`
}

// envVarPattern matches ${VAR} and ${VAR:default} inside YAML values.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// Load reads, substitutes, and validates the configuration file at path.
// A .env file next to the working directory is loaded first so that
// ${VAR} references and ETL_* overrides resolve against it.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &core.ConfigurationError{Op: "read", Err: err}
	}
	raw = substituteEnv(raw)

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ETL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadConfig(bytes.NewReader(raw)); err != nil {
		return nil, &core.ConfigurationError{Op: "parse", Err: err}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, &core.ConfigurationError{Op: "unmarshal", Err: err}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults enumerates the default for every recognized option.
func setDefaults(v *viper.Viper) {
	v.SetDefault("pipeline.error_handling", string(core.PolicySkip))
	v.SetDefault("pipeline.log_level", "info")
	v.SetDefault("pipeline.log_format", "text")
	v.SetDefault("pipeline.log_file", "")
	v.SetDefault("database.driver", string(core.DriverSQLite))
	v.SetDefault("database.path", "./data/processed/pipeline.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("output.table", "orders")
	v.SetDefault("output.write_mode", string(core.WriteAppend))
	v.SetDefault("output.create_indexes", true)
	v.SetDefault("output.index_columns", []string{"processed_at"})
	v.SetDefault("output.archive_path", "")
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.access_key", "")
	v.SetDefault("s3.secret_key", "")
}

// substituteEnv expands ${VAR} and ${VAR:default} in the raw document.
func substituteEnv(raw []byte) []byte {
	return envVarPattern.ReplaceAllFunc(raw, func(m []byte) []byte {
		groups := envVarPattern.FindSubmatch(m)
		name := string(groups[1])
		if val, ok := os.LookupEnv(name); ok {
			return []byte(val)
		}
		return groups[2]
	})
}

// validate checks every option eagerly and builds the typed descriptors.
func (c *Config) validate() error {
	policy, err := core.ParsePolicy(c.Pipeline.ErrorHandling)
	if err != nil {
		return &core.ConfigurationError{Op: "pipeline.error_handling", Err: err}
	}
	c.policy = policy

	if len(c.Sources) == 0 {
		return &core.ConfigurationError{Op: "sources", Err: fmt.Errorf("at least one source is required")}
	}
	seen := make(map[string]bool, len(c.Sources))
	c.sources = make([]core.Source, 0, len(c.Sources))
	for i, sc := range c.Sources {
		src, err := sc.descriptor()
		if err != nil {
			return &core.ConfigurationError{Op: fmt.Sprintf("sources[%d]", i), Err: err}
		}
		if seen[src.Name] {
			return &core.ConfigurationError{Op: fmt.Sprintf("sources[%d]", i), Err: fmt.Errorf("duplicate source name %q", src.Name)}
		}
		seen[src.Name] = true
		c.sources = append(c.sources, src)
	}

	rules, err := c.Transform.rules()
	if err != nil {
		return &core.ConfigurationError{Op: "transform", Err: err}
	}
	c.rules = rules

	if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
		return &core.ConfigurationError{Op: "s3", Err: fmt.Errorf("access_key and secret_key must be set together")}
	}

	target, err := c.buildTarget()
	if err != nil {
		return err
	}
	c.target = target
	return nil
}

func (sc *SourceConfig) descriptor() (core.Source, error) {
	if sc.Name == "" {
		return core.Source{}, fmt.Errorf("source name is required")
	}
	switch sc.Kind {
	case "csv":
		if sc.Path == "" {
			return core.Source{}, fmt.Errorf("source %q: csv path is required", sc.Name)
		}
		delim := ','
		if sc.Delimiter != "" {
			r := []rune(sc.Delimiter)
			if len(r) != 1 {
				return core.Source{}, fmt.Errorf("source %q: delimiter must be a single character", sc.Name)
			}
			delim = r[0]
		}
		return core.Source{
			Name: sc.Name,
			Kind: core.KindCSV,
			CSV:  &core.CSVParams{Path: sc.Path, Delimiter: delim},
		}, nil
	case "json":
		if sc.Path == "" {
			return core.Source{}, fmt.Errorf("source %q: json path is required", sc.Name)
		}
		return core.Source{
			Name: sc.Name,
			Kind: core.KindJSON,
			JSON: &core.JSONParams{Path: sc.Path},
		}, nil
	case "api":
		if sc.BaseURL == "" {
			return core.Source{}, fmt.Errorf("source %q: api base_url is required", sc.Name)
		}
		params := &core.APIParams{
			BaseURL:       sc.BaseURL,
			Endpoint:      sc.Endpoint,
			QueryParams:   sc.QueryParams,
			Timeout:       sc.Timeout,
			RetryAttempts: sc.RetryAttempts,
			RetryDelay:    sc.RetryDelay,
		}
		if params.Timeout <= 0 {
			params.Timeout = 30 * time.Second
		}
		if params.RetryAttempts <= 0 {
			params.RetryAttempts = 3
		}
		if params.RetryDelay <= 0 {
			params.RetryDelay = time.Second
		}
		return core.Source{Name: sc.Name, Kind: core.KindAPI, API: params}, nil
	default:
		return core.Source{}, fmt.Errorf("source %q: unknown kind %q (expected csv, json, or api)", sc.Name, sc.Kind)
	}
}

func (tc *TransformConfig) rules() (core.TransformRules, error) {
	rules := core.TransformRules{
		Required:  tc.Required,
		DedupKeys: tc.DedupKeys,
	}
	if len(tc.Types) > 0 {
		rules.Types = make(map[string]core.ColumnType, len(tc.Types))
		for col, t := range tc.Types {
			switch core.ColumnType(t) {
			case core.TypeString, core.TypeInteger, core.TypeFloat, core.TypeDate:
				rules.Types[col] = core.ColumnType(t)
			default:
				return rules, fmt.Errorf("column %q: unknown type %q (expected string, integer, float, or date)", col, t)
			}
		}
	}
	for _, dc := range tc.Derived {
		if dc.Column == "" {
			return rules, fmt.Errorf("derived rule: column is required")
		}
		if len(dc.Operands) == 0 {
			return rules, fmt.Errorf("derived column %q: at least one operand is required", dc.Column)
		}
		switch core.DeriveOp(dc.Op) {
		case core.DeriveMultiply, core.DeriveAdd, core.DeriveConcat:
		default:
			return rules, fmt.Errorf("derived column %q: unknown op %q (expected multiply, add, or concat)", dc.Column, dc.Op)
		}
		rules.Derived = append(rules.Derived, core.DerivationRule{
			Column:    dc.Column,
			Op:        core.DeriveOp(dc.Op),
			Operands:  dc.Operands,
			Separator: dc.Separator,
		})
	}
	return rules, nil
}

func (c *Config) buildTarget() (core.Target, error) {
	mode, err := core.ParseWriteMode(c.Output.WriteMode)
	if err != nil {
		return core.Target{}, &core.ConfigurationError{Op: "output.write_mode", Err: err}
	}
	if c.Output.Table == "" {
		return core.Target{}, &core.ConfigurationError{Op: "output.table", Err: fmt.Errorf("table name is required")}
	}

	target := core.Target{
		Table:       c.Output.Table,
		WriteMode:   mode,
		ArchivePath: c.Output.ArchivePath,
	}
	if c.Output.CreateIndexes {
		target.IndexColumns = c.Output.IndexColumns
	}

	switch core.TargetDriver(c.Database.Driver) {
	case core.DriverSQLite:
		if c.Database.Path == "" {
			return core.Target{}, &core.ConfigurationError{Op: "database.path", Err: fmt.Errorf("sqlite path is required")}
		}
		target.Driver = core.DriverSQLite
		target.DSN = c.Database.Path
	case core.DriverPostgres:
		if c.Database.Name == "" || c.Database.User == "" {
			return core.Target{}, &core.ConfigurationError{Op: "database", Err: fmt.Errorf("postgres name and user are required")}
		}
		target.Driver = core.DriverPostgres
		target.DSN = fmt.Sprintf(
			"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
			c.Database.Host, c.Database.Port, c.Database.Name,
			c.Database.User, c.Database.Password, c.Database.SSLMode,
		)
	default:
		return core.Target{}, &core.ConfigurationError{
			Op:  "database.driver",
			Err: fmt.Errorf("unknown driver %q (expected sqlite or postgres)", c.Database.Driver),
		}
	}
	return target, nil
}

// Policy returns the validated error-handling policy.
func (c *Config) Policy() core.Policy { return c.policy }

// SourceDescriptors returns the validated source descriptors in declared order.
func (c *Config) SourceDescriptors() []core.Source { return c.sources }

// Rules returns the validated transformation rule set.
func (c *Config) Rules() core.TransformRules { return c.rules }

// Target returns the validated target descriptor.
func (c *Config) Target() core.Target { return c.target }
