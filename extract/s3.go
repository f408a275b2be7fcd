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
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// This file resolves s3:// source locations. S3 is a location scheme for
// CSV and JSON sources, not a source kind of its own; the fetched object
// body is parsed exactly like a local file.

// objectFetcher fetches one object body by s3:// URI.
type objectFetcher interface {
	Fetch(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// fetchObject parses an s3://bucket/key location and returns the object
// body for reading.
func (e *Extractor) fetchObject(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, err := parseS3URI(uri)
	if err != nil {
		return nil, err
	}
	if e.fetcher == nil {
		fetcher, err := e.newS3Fetcher(ctx)
		if err != nil {
			return nil, err
		}
		e.fetcher = fetcher
	}
	return e.fetcher.Fetch(ctx, bucket, key)
}

func parseS3URI(uri string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(uri, "s3://")
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 location %q (expected s3://bucket/key)", uri)
	}
	return bucket, key, nil
}

// s3Fetcher is the aws-sdk-backed objectFetcher. The client is built once
// per run and reused across sources.
type s3Fetcher struct {
	client *s3.Client
}

func (e *Extractor) newS3Fetcher(ctx context.Context) (*s3Fetcher, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if e.s3Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(e.s3Region))
	}
	if e.s3AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(e.s3AccessKey, e.s3SecretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &s3Fetcher{client: s3.NewFromConfig(cfg)}, nil
}

func (f *s3Fetcher) Fetch(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object s3://%s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}
