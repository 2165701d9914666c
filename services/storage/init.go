package storage

import (
	"github.com/pkg/errors"

	"github.com/mailvault/mailvault/config"
	"github.com/mailvault/mailvault/interfaces"
)

// NewBlobStorage builds the configured blob store backend.
func NewBlobStorage(appConfig *config.AppConfig, storageConfig *config.StorageConfig) (interfaces.BlobStorage, error) {
	switch storageConfig.Backend {
	case "", "local":
		return NewLocalStorage(appConfig.DownloadDir), nil
	case "s3":
		if storageConfig.S3Bucket == "" {
			return nil, errors.New("STORAGE_S3_BUCKET is required for the s3 backend")
		}
		return NewS3Storage(
			storageConfig.S3Region,
			storageConfig.AccessKeyID,
			storageConfig.AccessKeySecret,
			storageConfig.S3Bucket,
		), nil
	default:
		return nil, errors.Errorf("unknown storage backend %q", storageConfig.Backend)
	}
}
