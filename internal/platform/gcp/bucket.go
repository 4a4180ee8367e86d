package gcp

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/spoolhq/content-service/internal/platform/logger"
)

// BucketService is the blob-store collaborator: uploaded PDFs live here
// and the extractor reads them back by key.
type BucketService interface {
	UploadObject(ctx context.Context, key string, contentType string, r io.Reader) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	OpenObject(ctx context.Context, key string) (io.ReadCloser, error)
	DeleteObject(ctx context.Context, key string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

type bucketService struct {
	log    *logger.Logger
	client *storage.Client
	bucket string
}

func NewBucketService(log *logger.Logger) (BucketService, error) {
	if log == nil {
		return nil, fmt.Errorf("gcp: logger required")
	}
	bucket := strings.TrimSpace(os.Getenv("CONTENT_GCS_BUCKET_NAME"))
	if bucket == "" {
		return nil, fmt.Errorf("gcp: missing env var CONTENT_GCS_BUCKET_NAME")
	}

	client, err := storage.NewClient(context.Background(), ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("gcp: storage client: %w", err)
	}

	slog := log.With("service", "BucketService")
	slog.Info("Object storage initialized", "bucket", bucket)

	return &bucketService{log: slog, client: client, bucket: bucket}, nil
}

func (s *bucketService) UploadObject(ctx context.Context, key string, contentType string, r io.Reader) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("gcp: object key required")
	}
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcp: upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcp: finalize upload %s: %w", key, err)
	}
	return nil
}

func (s *bucketService) GetObject(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.OpenObject(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("gcp: read %s: %w", key, err)
	}
	return data, nil
}

func (s *bucketService) OpenObject(ctx context.Context, key string) (io.ReadCloser, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("gcp: object key required")
	}
	rc, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcp: open %s: %w", key, err)
	}
	return rc, nil
}

func (s *bucketService) DeleteObject(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	if err := s.client.Bucket(s.bucket).Object(key).Delete(ctx); err != nil {
		if err == storage.ErrObjectNotExist {
			return nil
		}
		return fmt.Errorf("gcp: delete %s: %w", key, err)
	}
	return nil
}

func (s *bucketService) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcp: list %q: %w", prefix, err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}
