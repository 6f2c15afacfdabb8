package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/servly/servly-platform/pkg/logging"
)

// ErrStorageDisabled is returned when no bucket is configured.
var ErrStorageDisabled = errors.New("storage: blob storage is not configured")

// S3API is the subset of the S3 client used by BlobStore.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

var allowedContentTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// BlobStore uploads user media (avatars, message attachments) to S3 and
// hands back public URLs.
type BlobStore struct {
	bucket   string
	baseURL  string
	s3Client S3API
	logger   *logging.Logger
}

// NewBlobStore creates a BlobStore. If bucket is empty, uploads return
// ErrStorageDisabled.
func NewBlobStore(s3Client S3API, bucket, baseURL string, logger *logging.Logger) *BlobStore {
	if logger == nil {
		logger = logging.Default()
	}
	return &BlobStore{
		bucket:   bucket,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		s3Client: s3Client,
		logger:   logger,
	}
}

// Enabled returns true if a bucket is configured.
func (b *BlobStore) Enabled() bool {
	return b != nil && b.bucket != "" && b.s3Client != nil
}

// Upload stores data under a dated key in the given folder and returns the
// public URL. The content type must be an allowed image type.
func (b *BlobStore) Upload(ctx context.Context, folder, contentType string, data []byte) (string, error) {
	if !b.Enabled() {
		return "", ErrStorageDisabled
	}
	ext, ok := allowedContentTypes[contentType]
	if !ok {
		return "", fmt.Errorf("storage: unsupported content type %q", contentType)
	}
	if len(data) == 0 {
		return "", errors.New("storage: empty upload")
	}

	now := time.Now().UTC()
	key := path.Join(folder, fmt.Sprintf("%d/%02d", now.Year(), now.Month()), uuid.NewString()+ext)

	_, err := b.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("storage: s3 put %s: %w", key, err)
	}

	b.logger.Info("uploaded blob", "key", key, "bytes", len(data))
	return b.urlFor(key), nil
}

// Delete removes a previously uploaded blob by its public URL. Unknown URLs
// are ignored.
func (b *BlobStore) Delete(ctx context.Context, url string) error {
	if !b.Enabled() {
		return nil
	}
	key, ok := strings.CutPrefix(url, b.baseURL+"/")
	if !ok {
		return nil
	}
	_, err := b.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("storage: s3 delete %s: %w", key, err)
	}
	return nil
}

func (b *BlobStore) urlFor(key string) string {
	if b.baseURL != "" {
		return b.baseURL + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", b.bucket, key)
}
