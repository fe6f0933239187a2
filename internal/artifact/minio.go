package artifact

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const defaultBucket = "applyflow-artifacts"

// Config configures the object store.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Store uploads rendered documents to an S3-compatible bucket.
type Store struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewStore connects to the object store and makes sure the bucket exists.
func NewStore(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("artifact store endpoint is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		bucket = defaultBucket
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		logger.Info("Artifact bucket created", slog.String("bucket", bucket))
	}

	return &Store{client: client, bucket: bucket, logger: logger}, nil
}

// Put stores data under jobID/name and returns an s3:// URI.
func (s *Store) Put(ctx context.Context, jobID, name, contentType string, data []byte) (string, error) {
	objectName := fmt.Sprintf("%s/%s", jobID, name)

	info, err := s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", objectName, err)
	}

	s.logger.Info("Artifact uploaded",
		slog.String("job_id", jobID),
		slog.String("object", objectName),
		slog.Int64("size", info.Size),
	)

	return fmt.Sprintf("s3://%s/%s", s.bucket, objectName), nil
}
