package backup

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/storyweave/lorekeeper/internal/infrastructure/logging"
	"github.com/storyweave/lorekeeper/pkg/errors"
)

// MinIOConfig holds object-storage connection parameters.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// objectPutter abstracts the minio client's upload call for testing.
type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

// MinIOStore ships snapshot backups to an S3-compatible bucket.
type MinIOStore struct {
	client objectPutter
	bucket string
	logger logging.Logger
}

// NewMinIOStore connects to object storage and ensures the bucket exists.
func NewMinIOStore(ctx context.Context, cfg MinIOConfig, logger logging.Logger) (*MinIOStore, error) {
	if cfg.Endpoint == "" {
		return nil, errors.InvalidParam("backup: minio endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.InvalidParam("backup: minio bucket is required")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeBackupError, "backup: minio client init failed")
	}

	s := &MinIOStore{client: client, bucket: cfg.Bucket, logger: logger.Named("backup")}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MinIOStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return errors.Wrap(err, errors.CodeBackupError, "backup: bucket check failed")
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return errors.Wrap(err, errors.CodeBackupError, "backup: bucket creation failed")
	}
	return nil
}

// Save uploads the payload under the given object name.
func (s *MinIOStore) Save(name string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.client.PutObject(ctx, s.bucket, name,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return errors.Wrap(err, errors.CodeBackupError, "backup: upload failed")
	}
	s.logger.Info("snapshot uploaded",
		logging.String("bucket", s.bucket),
		logging.String("object", name),
		logging.Int("bytes", len(data)))
	return nil
}
