package minio

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"incentive-controlplane/pkg/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Client provides a bucket-scoped Archive for uploaded sheets. Both are nil
// when MINIO.ENABLED is false.
var Client = fx.Module("minio.client", fx.Provide(registerClient, NewArchive))

func registerClient(c *config.Config) (*minio.Client, error) {
	if !c.Minio.Enabled {
		return nil, nil
	}

	client, err := minio.New(c.Minio.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.Minio.AccessKey, c.Minio.SecretKey, ""),
		Secure: c.Minio.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, c.Minio.BucketName)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", c.Minio.BucketName, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, c.Minio.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", c.Minio.BucketName, err)
		}
	}

	zap.L().Info("MinIO client initialized",
		zap.String("endpoint", c.Minio.Endpoint),
		zap.String("bucket", c.Minio.BucketName),
		zap.Bool("bucket_existed", exists))
	return client, nil
}

// Archive stores uploaded files in one bucket.
type Archive struct {
	client *minio.Client
	bucket string
}

func NewArchive(client *minio.Client, c *config.Config) *Archive {
	if client == nil {
		return nil
	}
	return &Archive{client: client, bucket: c.Minio.BucketName}
}

func (a *Archive) Put(ctx context.Context, key string, content []byte, contentType string) error {
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", a.bucket, key, err)
	}
	return nil
}
