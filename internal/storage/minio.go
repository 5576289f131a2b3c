// Package storage holds the MinIO-backed artifact store for finished call
// recordings.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/domain"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/config"
	apperrors "github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/errors"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/logger"
)

// RecordingStore uploads recording artifacts to a MinIO bucket
type RecordingStore struct {
	client *minio.Client
	bucket string
}

func NewRecordingStore(cfg config.MinIOConfig) (*RecordingStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return &RecordingStore{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket if it does not exist yet
func (s *RecordingStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return apperrors.StorageError(err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return apperrors.StorageError(err)
	}
	logger.Info("created recording bucket", zap.String("bucket", s.bucket))
	return nil
}

// Finalize writes the recording manifest under recordings/<callId>/<recordingId>
// and returns the object path. The media segments themselves are uploaded by
// the capture pipeline during the call; the manifest marks the set complete.
func (s *RecordingStore) Finalize(ctx context.Context, rec *domain.Recording) (string, error) {
	manifest, err := json.Marshal(rec)
	if err != nil {
		return "", apperrors.StorageError(err)
	}

	objectName := fmt.Sprintf("recordings/%s/%s/manifest.json", rec.CallID, rec.RecordingID)
	_, err = s.client.PutObject(ctx, s.bucket, objectName,
		bytes.NewReader(manifest), int64(len(manifest)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", apperrors.StorageError(err)
	}

	logger.Info("recording finalized",
		zap.String("recording_id", rec.RecordingID.String()),
		zap.String("object", objectName))
	return objectName, nil
}
