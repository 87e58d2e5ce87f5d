package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig describes the S3-compatible bucket uploads are mirrored to.
type MinioConfig struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	PublicBase string // browser-accessible base URL, e.g. "http://localhost:9000/uploads"
	UseSSL     bool
}

// MinioMirror implements Mirror using a MinIO (or any S3-compatible) backend.
type MinioMirror struct {
	client     *minio.Client
	bucket     string
	publicBase string
	logger     *slog.Logger
}

// NewMinioMirror creates a MinIO client, ensures the bucket exists with a
// public-read policy, and returns a ready-to-use mirror.
func NewMinioMirror(ctx context.Context, cfg MinioConfig, logger *slog.Logger) (*MinioMirror, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	if err := ensurePublicBucket(ctx, client, cfg.Bucket, logger); err != nil {
		return nil, err
	}

	return &MinioMirror{
		client:     client,
		bucket:     cfg.Bucket,
		publicBase: strings.TrimRight(cfg.PublicBase, "/"),
		logger:     logger,
	}, nil
}

// Mirror uploads the file at path to the bucket under key and returns its
// public URL. The object size is taken from the file, so nothing is buffered
// in memory.
func (m *MinioMirror) Mirror(ctx context.Context, key, path string) (string, error) {
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	info, err := m.client.FPutObject(ctx, m.bucket, key, path, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %q: %w", key, err)
	}
	m.logger.Debug("mirrored object", "key", key, "size", info.Size, "etag", info.ETag)
	return m.PublicURL(key), nil
}

// ensurePublicBucket creates bucket when missing and makes its objects
// anonymously readable, so mirrored URLs work without signing.
func ensurePublicBucket(ctx context.Context, client *minio.Client, bucket string, logger *slog.Logger) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %q: %w", bucket, err)
		}
		logger.Info("created mirror bucket", "bucket", bucket)
	}
	if err := client.SetBucketPolicy(ctx, bucket, publicReadPolicy(bucket)); err != nil {
		return fmt.Errorf("set policy on bucket %q: %w", bucket, err)
	}
	return nil
}

// PublicURL returns the browser-accessible URL of a mirrored key.
func (m *MinioMirror) PublicURL(key string) string {
	return m.publicBase + "/" + strings.TrimLeft(key, "/")
}

type policyStatement struct {
	Effect    string `json:"Effect"`
	Principal string `json:"Principal"`
	Action    string `json:"Action"`
	Resource  string `json:"Resource"`
}

type bucketPolicy struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

// publicReadPolicy allows anonymous GetObject on every key in bucket.
func publicReadPolicy(bucket string) string {
	b, _ := json.Marshal(bucketPolicy{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Effect:    "Allow",
			Principal: "*",
			Action:    "s3:GetObject",
			Resource:  "arn:aws:s3:::" + bucket + "/*",
		}},
	})
	return string(b)
}
