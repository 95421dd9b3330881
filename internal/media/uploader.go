// Package media stores uploaded project images in S3-compatible object storage.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// BucketProjectMedia is the only bucket accepting uploads.
const BucketProjectMedia = "project_media"

// ErrUnknownBucket indicates an upload to a bucket other than BucketProjectMedia.
var ErrUnknownBucket = errors.New("media: unknown bucket")

// ObjectPutter is the subset of the S3 client used for uploads.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config describes the object storage endpoint.
type S3Config struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// NewS3Client builds an S3 client for an S3-compatible endpoint.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("media: load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// Uploader writes objects and returns their public URL.
type Uploader struct {
	client    ObjectPutter
	publicURL string
	newKey    func() string
}

// NewUploader constructs an Uploader. publicURL is the base objects are
// served from; the bucket and key are appended to it.
func NewUploader(client ObjectPutter, publicURL string) *Uploader {
	return &Uploader{
		client:    client,
		publicURL: strings.TrimRight(publicURL, "/"),
		newKey:    uuid.NewString,
	}
}

// Upload stores body under a random key that keeps the original extension.
func (u *Uploader) Upload(ctx context.Context, bucket, filename, contentType string, size int64, body io.Reader) (string, error) {
	if bucket != BucketProjectMedia {
		return "", ErrUnknownBucket
	}
	key := u.newKey() + strings.ToLower(path.Ext(filename))
	in := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if size >= 0 {
		in.ContentLength = aws.Int64(size)
	}
	if _, err := u.client.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("media: put %s/%s: %w", bucket, key, err)
	}
	return u.publicURL + "/" + bucket + "/" + key, nil
}
