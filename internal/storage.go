package internal

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"camera-peer/configs"
)

// RecordingStore keeps finished recordings of the remote stream in object
// storage.
type RecordingStore struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

func NewRecordingStore(envs *configs.MinioEnvs, logger *slog.Logger) (*RecordingStore, error) {
	endpoint := envs.Endpoint + ":" + envs.Port

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(envs.AccessKey, envs.SecretKey, ""),
		Secure: envs.SSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object storage: %w", err)
	}

	return &RecordingStore{
		client: client,
		bucket: envs.Bucket,
		logger: logger,
	}, nil
}

// CreateBucket makes sure the recordings bucket exists. Called once at boot.
func (s *RecordingStore) CreateBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", s.bucket, err)
	}
	if exists {
		return nil
	}

	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %q: %w", s.bucket, err)
	}

	s.logger.Info("recordings bucket created", "bucket", s.bucket)
	return nil
}

func (s *RecordingStore) Upload(ctx context.Context, name string, r io.Reader, size int64) error {
	info, err := s.client.PutObject(ctx, s.bucket, name, r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("upload recording %q: %w", name, err)
	}

	s.logger.Info("recording uploaded", "name", info.Key, "size", info.Size)
	return nil
}

func (s *RecordingStore) List(ctx context.Context) ([]string, error) {
	var names []string
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{}) {
		if object.Err != nil {
			return nil, fmt.Errorf("list recordings: %w", object.Err)
		}
		names = append(names, object.Key)
	}
	return names, nil
}
