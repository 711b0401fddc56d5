package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config holds configuration for S3 storage.
type S3Config struct {
	// Region is the AWS region for the S3 bucket.
	Region string
	// Endpoint is an optional custom endpoint (for MinIO, LocalStack, etc.).
	Endpoint string
	// UsePathStyle enables path-style addressing (required for MinIO).
	UsePathStyle bool
	// Prefix is prepended to every object key, e.g. "archive/".
	Prefix string
	// MaxAttempts bounds the SDK retryer (default 4).
	MaxAttempts int
}

// S3Storage stores archive objects in an S3 bucket. Retries with backoff are
// left to the SDK's standard retryer.
type S3Storage struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Storage loads the default AWS credential chain and creates a client.
func NewS3Storage(ctx context.Context, bucket string, cfg S3Config) (*S3Storage, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRetryMaxAttempts(cfg.MaxAttempts),
	}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3StorageWithClient(client, bucket, cfg.Prefix), nil
}

// NewS3StorageWithClient wraps an existing client.
func NewS3StorageWithClient(client *s3.Client, bucket, prefix string) *S3Storage {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Storage{client: client, bucket: bucket, prefix: prefix}
}

// Put uploads data as a single PutObject with a SHA-256 checksum the service
// verifies before accepting the object.
func (s *S3Storage) Put(ctx context.Context, objectPath string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(s.key(objectPath)),
		Body:              bytes.NewReader(data),
		ContentLength:     aws.Int64(int64(len(data))),
		ContentType:       aws.String(contentType(objectPath)),
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPutFailed, objectPath, err)
	}
	return nil
}

// Get downloads an object into memory.
func (s *S3Storage) Get(ctx context.Context, objectPath string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(objectPath)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrGetFailed, objectPath, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrGetFailed, objectPath, err)
	}
	return data, nil
}

// Delete removes an object. S3 reports success for missing keys.
func (s *S3Storage) Delete(ctx context.Context, objectPath string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(objectPath)),
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDeleteFailed, objectPath, err)
	}
	return nil
}

// Exists issues a HeadObject.
func (s *S3Storage) Exists(ctx context.Context, objectPath string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(objectPath)),
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, err
}

// ListObjects pages through the keys under prefix and strips the configured
// key prefix from each.
func (s *S3Storage) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	var objects []string
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.key(prefix)),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrListFailed, err)
		}
		for _, obj := range page.Contents {
			rel := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			if strings.HasPrefix(path.Base(rel), ".") {
				continue
			}
			objects = append(objects, rel)
		}
	}

	sort.Strings(objects)
	return objects, nil
}

func (s *S3Storage) key(objectPath string) string {
	return s.prefix + strings.TrimPrefix(objectPath, "/")
}

func contentType(objectPath string) string {
	switch path.Ext(objectPath) {
	case ".jsonl":
		return "application/x-ndjson"
	case ".json":
		return "application/json"
	}
	return "application/octet-stream"
}
