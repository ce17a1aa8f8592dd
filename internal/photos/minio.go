package photos

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	mclient "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const objectPrefix = "photos"

// MinioConfig locates the bucket photos are written to.
type MinioConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	PublicBaseURL string
}

// MinioStorage writes photos to an S3 compatible bucket.
type MinioStorage struct {
	client        *mclient.Client
	bucket        string
	publicBaseURL string
}

// NewMinioStorage connects to the endpoint and fails when the bucket does not exist.
// The endpoint may carry an http or https scheme, which selects transport security.
func NewMinioStorage(ctx context.Context, cfg MinioConfig) (*MinioStorage, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("photos: minio endpoint and bucket are required")
	}

	endpoint := cfg.Endpoint
	secure := false
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Scheme != "" && parsed.Host != "" {
		endpoint = parsed.Host
		secure = parsed.Scheme == "https"
	}

	client, err := mclient.New(endpoint, &mclient.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("photos: minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("photos: check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		return nil, fmt.Errorf("photos: bucket %q does not exist", cfg.Bucket)
	}

	return &MinioStorage{
		client:        client,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

func (s *MinioStorage) Save(ctx context.Context, object Object) (string, error) {
	key := path.Join(objectPrefix, object.Name)
	_, err := s.client.PutObject(ctx, s.bucket, key, object.Body, object.Size, mclient.PutObjectOptions{
		ContentType: object.ContentType,
	})
	if err != nil {
		return "", fmt.Errorf("photos: put %s: %w", key, err)
	}
	if s.publicBaseURL == "" {
		return key, nil
	}
	return s.publicBaseURL + "/" + key, nil
}

func (s *MinioStorage) Delete(ctx context.Context, reference string) error {
	key := s.objectKey(reference)
	if !strings.HasPrefix(key, objectPrefix+"/") {
		return fmt.Errorf("photos: reference %q is not a stored photo", reference)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, mclient.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("photos: remove %s: %w", key, err)
	}
	return nil
}

func (s *MinioStorage) objectKey(reference string) string {
	if s.publicBaseURL != "" {
		reference = strings.TrimPrefix(reference, s.publicBaseURL)
	}
	return strings.TrimPrefix(reference, "/")
}
