// Package archive stores accepted uploads in S3-compatible object
// storage. Archiving is best effort: analysis results never wait on it
// and a failed put only logs.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Options configures the object storage client. Bucket left empty
// disables archiving entirely.
type Options struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader writes image bytes into the configured bucket. A nil Uploader
// is valid and does nothing.
type Uploader struct {
	client putObjectAPI
	bucket string
}

// New builds an uploader from the given options. Returns nil when no
// bucket is configured.
func New(ctx context.Context, opts Options) (*Uploader, error) {
	if opts.Bucket == "" {
		return nil, nil
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(opts.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			opts.AccessKey,
			opts.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("loading storage config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Uploader{client: client, bucket: opts.Bucket}, nil
}

// Enabled reports whether archiving is configured.
func (u *Uploader) Enabled() bool {
	return u != nil && u.client != nil
}

// storageKey spreads objects by upload date so buckets stay browsable.
func storageKey(now time.Time) string {
	return fmt.Sprintf("uploads/%d/%02d/%02d/%s", now.Year(), now.Month(), now.Day(), uuid.New())
}

// Store writes one image into the bucket and returns its object key.
func (u *Uploader) Store(ctx context.Context, data []byte, contentType string) (string, error) {
	if !u.Enabled() {
		return "", nil
	}

	key := storageKey(time.Now().UTC())
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("archiving upload: %w", err)
	}
	return key, nil
}
