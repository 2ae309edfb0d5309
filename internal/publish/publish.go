// Package publish uploads finished videos and their timeline artifacts to
// an S3-compatible bucket.
package publish

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/web1havv/edsurf/internal/config"
	"github.com/web1havv/edsurf/internal/failure"
)

// objectStore is the part of *minio.Client the publisher uses.
type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type Publisher struct {
	store   objectStore
	bucket  string
	prefix  string
	retries int
	log     *zap.Logger

	// newBackOff is replaced in tests
	newBackOff func() backoff.BackOff

	bucketOnce sync.Once
	bucketErr  error
}

// New connects to the configured endpoint. The bucket is created on the
// first upload if it does not exist.
func New(cfg config.StorageConfig, log *zap.Logger) (*Publisher, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, failure.Wrap(failure.ConfigError, "publish.New", err, "storage client for %s", cfg.Endpoint)
	}
	return newPublisher(client, cfg, log), nil
}

func newPublisher(store objectStore, cfg config.StorageConfig, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{
		store:      store,
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
		retries:    cfg.Retries,
		log:        log,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
}

// Publish uploads every path under <prefix>/<jobID>/<base name>.
func (p *Publisher) Publish(ctx context.Context, jobID string, paths ...string) error {
	if err := p.ensureBucket(ctx); err != nil {
		return err
	}
	for _, fp := range paths {
		if _, err := os.Stat(fp); err != nil {
			return failure.Wrap(failure.AssetMissing, "publish.Publish", err, "upload %s", fp)
		}
		key := ObjectKey(p.prefix, jobID, fp)
		if err := p.upload(ctx, key, fp); err != nil {
			return err
		}
		p.log.Info("файл загружен", zap.String("bucket", p.bucket), zap.String("key", key))
	}
	return nil
}

func (p *Publisher) ensureBucket(ctx context.Context) error {
	p.bucketOnce.Do(func() {
		exists, err := p.store.BucketExists(ctx, p.bucket)
		if err != nil {
			p.bucketErr = fmt.Errorf("check bucket %s: %w", p.bucket, err)
			return
		}
		if !exists {
			if err := p.store.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{}); err != nil {
				p.bucketErr = fmt.Errorf("create bucket %s: %w", p.bucket, err)
			}
		}
	})
	return p.bucketErr
}

func (p *Publisher) upload(ctx context.Context, key, fp string) error {
	attempt := 0
	op := func() error {
		attempt++
		_, err := p.store.FPutObject(ctx, p.bucket, key, fp, minio.PutObjectOptions{
			ContentType: contentType(fp),
		})
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err != nil {
			p.log.Warn("повтор загрузки", zap.String("key", key), zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(p.newBackOff(), uint64(p.retries)), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		if ctx.Err() != nil {
			return failure.Wrap(failure.Cancelled, "publish.Publish", ctx.Err(), "upload %s", key)
		}
		return fmt.Errorf("upload %s after %d attempts: %w", key, attempt, err)
	}
	return nil
}

// ObjectKey is the bucket key of a published file.
func ObjectKey(prefix, jobID, fp string) string {
	return path.Join(strings.Trim(prefix, "/"), jobID, filepath.Base(fp))
}

func contentType(fp string) string {
	switch strings.ToLower(filepath.Ext(fp)) {
	case ".mp4":
		return "video/mp4"
	case ".json":
		return "application/json"
	case ".yaml", ".yml":
		return "application/yaml"
	default:
		return "application/octet-stream"
	}
}
