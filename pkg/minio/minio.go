package minio

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"payhuk-core/pkg/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("minio",
	fx.Provide(
		NewClient,
		NewSigner,
	),
)

func NewClient(c *config.Config) (*minio.Client, error) {
	client, err := minio.New(c.Minio.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.Minio.AccessKey, c.Minio.SecretKey, ""),
		Secure: c.Minio.Secure,
		Region: c.Minio.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	zap.L().Info("[Minio] client initialized",
		zap.String("endpoint", c.Minio.Endpoint),
		zap.String("bucket", c.Minio.BucketName),
	)
	return client, nil
}

// Signer presigns GET requests for objects in the assets bucket. Signing is
// local; no request reaches the object store.
type Signer struct {
	client *minio.Client
	bucket string
}

func NewSigner(client *minio.Client, c *config.Config) *Signer {
	return &Signer{client: client, bucket: c.Minio.BucketName}
}

// PresignDownload returns a URL valid for ttl that serves objectKey as an
// attachment named filename.
func (s *Signer) PresignDownload(ctx context.Context, objectKey, filename string, ttl time.Duration) (string, error) {
	params := url.Values{}
	if filename != "" {
		params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", filename))
	}

	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey, ttl, params)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", objectKey, err)
	}
	return u.String(), nil
}

// BucketExists is used by the readiness probe.
func (s *Signer) BucketExists(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}
