// Package storage persists rendered export artifacts.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	exportapp "github.com/compliancesync/backend/internal/application/export"
	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/compliancesync/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

const s3Scheme = "s3://"

var (
	_ exportapp.ArtifactStore = (*S3ArtifactStore)(nil)
	_ exportapp.URLPresigner  = (*S3ArtifactStore)(nil)
)

// S3ArtifactStore stores artifacts in an S3-compatible bucket (AWS S3,
// MinIO, RustFS). Handles have the form s3://bucket/key.
type S3ArtifactStore struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	bucket        string
	presignTTL    time.Duration
	logger        *zap.Logger
}

// S3Option is a functional option for configuring S3ArtifactStore
type S3Option func(*S3ArtifactStore)

// WithLogger sets a custom logger
func WithLogger(logger *zap.Logger) S3Option {
	return func(s *S3ArtifactStore) {
		s.logger = logger
	}
}

// WithPresignTTL sets the default lifetime of download links
func WithPresignTTL(d time.Duration) S3Option {
	return func(s *S3ArtifactStore) {
		s.presignTTL = d
	}
}

// NewS3ArtifactStore creates a store from configuration
func NewS3ArtifactStore(ctx context.Context, cfg *config.StorageConfig, opts ...S3Option) (*S3ArtifactStore, error) {
	if cfg == nil {
		return nil, errors.New("storage configuration is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	// static keys win; otherwise the default chain (env, IRSA, instance role)
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			return nil, errors.New("storage access key and secret key must be set together")
		}
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	var endpoint string
	if cfg.Endpoint != "" {
		endpoint = cfg.Endpoint
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			endpoint = "https://" + endpoint
		}
		if _, err := url.Parse(endpoint); err != nil {
			return nil, fmt.Errorf("invalid storage endpoint: %w", err)
		}
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	store := &S3ArtifactStore{
		client:        client,
		presignClient: s3.NewPresignClient(client),
		bucket:        cfg.Bucket,
		presignTTL:    15 * time.Minute,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *S3ArtifactStore) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	s.logger.Info("Creating storage bucket", zap.String("bucket", s.bucket))
	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &alreadyOwned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Put uploads body under key and returns its handle
func (s *S3ArtifactStore) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	if key == "" {
		return "", shared.ErrInvalidInput.WithMessage("Storage key is required")
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return "", shared.Transient(fmt.Errorf("upload %s: %w", key, err))
	}

	s.logger.Debug("Artifact stored", zap.String("key", key), zap.Int("bytes", len(body)))
	return s.handle(key), nil
}

// Open streams the artifact behind handle
func (s *S3ArtifactStore) Open(ctx context.Context, handle string) (io.ReadCloser, error) {
	key, err := s.keyOf(handle)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, shared.ErrNotFound.WithMessage("Artifact not found")
		}
		return nil, shared.Transient(fmt.Errorf("download %s: %w", key, err))
	}
	return out.Body, nil
}

// PresignURL returns a time-limited GET link for handle. ttl <= 0 uses the
// configured default.
func (s *S3ArtifactStore) PresignURL(ctx context.Context, handle string, ttl time.Duration) (string, error) {
	key, err := s.keyOf(handle)
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = s.presignTTL
	}

	req, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("failed to generate download URL: %w", err)
	}
	return req.URL, nil
}

// Delete removes the artifact behind handle
func (s *S3ArtifactStore) Delete(ctx context.Context, handle string) error {
	key, err := s.keyOf(handle)
	if err != nil {
		return err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// Bucket returns the bucket name
func (s *S3ArtifactStore) Bucket() string {
	return s.bucket
}

func (s *S3ArtifactStore) handle(key string) string {
	return s3Scheme + s.bucket + "/" + key
}

// keyOf validates that handle points into this store's bucket
func (s *S3ArtifactStore) keyOf(handle string) (string, error) {
	prefix := s3Scheme + s.bucket + "/"
	if !strings.HasPrefix(handle, prefix) || len(handle) == len(prefix) {
		return "", shared.ErrInvalidInput.WithMessage("Artifact handle does not belong to this store")
	}
	return strings.TrimPrefix(handle, prefix), nil
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}
	// some S3-compatible services only set the code
	return strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "NoSuchKey")
}
