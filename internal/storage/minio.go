// Package storage keeps receipt images and voice notes in MinIO / S3 compatible storage.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/finguru/finguru-service/internal/common"
	"github.com/finguru/finguru-service/internal/models"
)

// Media kinds, used as the first segment of the object key
const (
	KindReceipt = "receipts"
	KindAudio   = "audio"
)

// PresignExpiry is how long a media URL stays valid
const PresignExpiry = 24 * time.Hour

// ObjectStore uploads and serves source media
type ObjectStore struct {
	client *minio.Client
	bucket string
	log    *slog.Logger
}

// NewObjectStore connects and makes sure the bucket exists
func NewObjectStore(ctx context.Context, cfg models.StorageConfig, logger *slog.Logger) (*ObjectStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: storage endpoint is empty", common.ErrInvalidConfig)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
	}

	log := common.OrDefault(logger)
	log.Info("storage.ready", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)
	return &ObjectStore{client: client, bucket: cfg.Bucket, log: log}, nil
}

// Upload stores data under a new key of the given kind and returns the key.
// Key format: {kind}/YYYY/MM/DD/{uuid}{ext}
func (s *ObjectStore) Upload(ctx context.Context, kind string, data []byte, contentType string) (string, error) {
	key := ObjectKey(kind, time.Now().UTC(), FileExtension(contentType))

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", kind, err)
	}
	s.log.Debug("storage.uploaded", "key", key, "bytes", len(data))
	return key, nil
}

// PresignedURL generates a temporary URL for viewing an object
func (s *ObjectStore) PresignedURL(ctx context.Context, key string) (string, error) {
	url, err := s.client.PresignedGetObject(ctx, s.bucket, s.objectName(key), PresignExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return url.String(), nil
}

// Open streams an object and reports its content type
func (s *ObjectStore) Open(ctx context.Context, key string) (io.ReadCloser, string, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.objectName(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("failed to get object: %w", err)
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, "", fmt.Errorf("failed to stat object: %w", err)
	}
	return obj, info.ContentType, nil
}

// Delete removes an object
func (s *ObjectStore) Delete(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.bucket, s.objectName(key), minio.RemoveObjectOptions{})
}

// objectName removes the bucket prefix if present
func (s *ObjectStore) objectName(key string) string {
	return strings.TrimPrefix(key, s.bucket+"/")
}

// ObjectKey builds {kind}/YYYY/MM/DD/{uuid}{ext}
func ObjectKey(kind string, at time.Time, ext string) string {
	return path.Join(kind,
		fmt.Sprintf("%04d", at.Year()),
		fmt.Sprintf("%02d", at.Month()),
		fmt.Sprintf("%02d", at.Day()),
		uuid.NewString()+ext,
	)
}

// FileExtension extracts file extension from content type
func FileExtension(contentType string) string {
	mediaType, _, _ := strings.Cut(strings.ToLower(contentType), ";")
	switch strings.TrimSpace(mediaType) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	default:
		return ".bin"
	}
}
