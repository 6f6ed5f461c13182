package client

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// BlobUploader stores a photo blob somewhere reachable and returns its URL.
type BlobUploader interface {
	Upload(ctx context.Context, req UploadRequest) (string, error)
}

// HTTPUploader sends blobs to the API's multipart upload endpoint.
type HTTPUploader struct {
	c Client
}

func NewHTTPUploader(c Client) *HTTPUploader {
	return &HTTPUploader{c: c}
}

func (u *HTTPUploader) Upload(ctx context.Context, req UploadRequest) (string, error) {
	return u.c.UploadPhoto(ctx, req)
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) putObjectAPI {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config configures an S3-compatible bucket (AWS or MinIO).
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// S3Uploader puts blobs at photos/<yyyy>/<mm>/<dd>/<photoID>.
type S3Uploader struct {
	api    putObjectAPI
	bucket string
	base   string
}

func NewS3Uploader(ctx context.Context, cfg S3Config) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is not configured")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	api := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Uploader{api: api, bucket: cfg.Bucket, base: objectBaseURL(cfg)}, nil
}

func objectBaseURL(cfg S3Config) string {
	if cfg.Endpoint != "" {
		return strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
}

// ObjectKey returns the bucket key for a photo taken at ts.
func ObjectKey(photoID string, ts time.Time) string {
	ts = ts.UTC()
	return fmt.Sprintf("photos/%04d/%02d/%02d/%s", ts.Year(), ts.Month(), ts.Day(), photoID)
}

func (u *S3Uploader) Upload(ctx context.Context, req UploadRequest) (string, error) {
	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	key := ObjectKey(req.PhotoID, ts)

	meta := map[string]string{"photo-id": req.PhotoID}
	if req.Location != "" {
		meta["location"] = url.QueryEscape(req.Location)
	}

	_, err := u.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(req.Blob),
		ContentLength: aws.Int64(int64(len(req.Blob))),
		ContentType:   aws.String("image/jpeg"),
		Metadata:      meta,
	})
	if err != nil {
		return "", fmt.Errorf("%w: s3 put %s: %v", ErrUnavailable, key, err)
	}
	return u.base + "/" + key, nil
}
