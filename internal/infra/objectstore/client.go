// Package objectstore implements the Archive Backfiller's object-store
// contract (spec §6): list(prefix, maxKeys, startAfter) -> []key,
// get(key) -> bytes. No pack repo implements an S3 client; this follows
// aws-sdk-go-v2, the ecosystem-standard choice (SPEC_FULL.md §3).
package objectstore

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config points at the archive bucket.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string // non-empty for S3-compatible stores (MinIO, R2, ...)
}

// Client lists and fetches archive objects.
type Client struct {
	s3     *s3.Client
	bucket string
}

// New builds a Client from Config, resolving credentials the standard AWS
// way (environment, shared config, IMDS).
func New(ctx context.Context, cfg Config) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Client{s3: client, bucket: cfg.Bucket}, nil
}

// List returns up to maxKeys keys under prefix, lexicographically sorted,
// strictly after startAfter (spec §4.2, §6).
func (c *Client) List(ctx context.Context, prefix string, maxKeys int, startAfter string) ([]string, error) {
	out, err := c.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:     aws.String(c.bucket),
		Prefix:     aws.String(prefix),
		MaxKeys:    aws.Int32(int32(maxKeys)),
		StartAfter: aws.String(startAfter),
	})
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}

	keys := make([]string, 0, len(out.Contents))
	for _, obj := range out.Contents {
		keys = append(keys, aws.ToString(obj.Key))
	}
	sort.Strings(keys)
	return keys, nil
}

// Get returns the raw bytes of key — a JSON envelope
// {header, payloadWithOutputs} (spec §6).
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}
