package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tomibot/ragserver/internal/log"
)

// MinioConfig holds connection settings for the object store.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Minio implements Store on a MinIO (or any S3-compatible) bucket.
type Minio struct {
	client *minio.Client
	bucket string
	logger log.Logger
	now    func() time.Time
}

// NewMinio connects to the object store and ensures the bucket exists.
// logger may be nil.
func NewMinio(ctx context.Context, cfg MinioConfig, logger log.Logger) (*Minio, error) {
	if logger == nil {
		logger = log.NewNop()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("creating bucket %q: %w", cfg.Bucket, err)
		}
		logger.Info("bucket created", "bucket", cfg.Bucket)
	}

	return &Minio{
		client: client,
		bucket: cfg.Bucket,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Save stores data and returns its object key.
func (m *Minio) Save(ctx context.Context, tenantID, agentID, fileName string, data []byte) (string, error) {
	key := buildObjectKey(tenantID, agentID, fileName, m.now())

	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", fmt.Errorf("storing object %q: %w", key, err)
	}

	m.logger.Debug("object stored", "key", key, "bytes", len(data))
	return key, nil
}

// Get fetches the object stored under key. Returns ErrNotFound when no
// such object exists.
func (m *Minio) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("opening object %q: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return nil, fmt.Errorf("object %q: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("reading object %q: %w", key, err)
	}
	return data, nil
}
