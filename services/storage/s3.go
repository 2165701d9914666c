package storage

import (
	"bytes"
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/opentracing/opentracing-go"

	"github.com/mailvault/mailvault/interfaces"
	"github.com/mailvault/mailvault/internal/tracing"
	"github.com/mailvault/mailvault/services/storage/aws_client"
)

// S3Storage implements BlobStorage on an S3 bucket.
type S3Storage struct {
	client     aws_client.S3Client
	bucketName string
}

// NewS3Storage creates a BlobStorage backed by AWS S3
func NewS3Storage(awsRegion, accessKeyID, accessKeySecret, bucketName string) interfaces.BlobStorage {
	s3Client := aws_client.NewS3Client(&aws.Config{
		Region:      aws.String(awsRegion),
		Credentials: credentials.NewStaticCredentials(accessKeyID, accessKeySecret, ""),
	})

	return &S3Storage{
		client:     s3Client,
		bucketName: bucketName,
	}
}

func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	return s.client.Exists(ctx, s.bucketName, key)
}

func (s *S3Storage) Write(ctx context.Context, key string, data []byte) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "S3Storage.Write")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("key", key)
	span.SetTag("bytes", len(data))

	uploadInput := s3manager.UploadInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("message/rfc822"),
	}

	return s.client.Upload(ctx, uploadInput)
}
