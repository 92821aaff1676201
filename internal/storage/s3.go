// Package storage ships finished dump files to object storage
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrUploadFailed is returned when a dump could not be uploaded
var ErrUploadFailed = errors.New("upload failed")

// S3Config holds configuration for S3 uploads
type S3Config struct {
	// Bucket is the destination bucket
	Bucket string
	// Key is the object key; empty means DefaultKey
	Key string
	// Region is the AWS region of the bucket
	Region string
	// Endpoint is an optional custom endpoint (MinIO, LocalStack)
	Endpoint string
}

// Enabled reports whether an upload was requested
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// objectPutter is the part of *s3.Client the uploader needs
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader uploads dump files to one bucket
type S3Uploader struct {
	client objectPutter
	bucket string
}

// NewS3Uploader creates an uploader from the default AWS credential chain
func NewS3Uploader(ctx context.Context, cfg S3Config) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Uploader{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
	}, nil
}

// Upload uploads the file at localPath to key
func (u *S3Uploader) Upload(ctx context.Context, localPath, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer file.Close()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		return fmt.Errorf("%w: s3://%s/%s: %v", ErrUploadFailed, u.bucket, key, err)
	}
	return nil
}

// DefaultKey places a dump file under a per-run prefix
func DefaultKey(runID, localPath string) string {
	return path.Join(runID, filepath.Base(localPath))
}
