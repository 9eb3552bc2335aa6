package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/your-org/neuraflow/internal/config"
)

// MinIOStore keeps entry snapshots.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

func NewMinIOStore(cfg config.MinIOConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinIOStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *MinIOStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

// PutObject uploads data under key.
func (s *MinIOStore) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// GetObject retrieves data by key.
func (s *MinIOStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

// ObjectInfo is the part of a listing used for retention.
type ObjectInfo struct {
	Key          string
	LastModified time.Time
}

// ListObjects returns every object under prefix.
func (s *MinIOStore) ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objs []ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects %s: %w", prefix, obj.Err)
		}
		objs = append(objs, ObjectInfo{Key: obj.Key, LastModified: obj.LastModified})
	}
	return objs, nil
}

// DeleteObjects removes multiple objects in a single batch request.
func (s *MinIOStore) DeleteObjects(ctx context.Context, keys []string) error {
	objectsCh := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		objectsCh <- minio.ObjectInfo{Key: key}
	}
	close(objectsCh)
	for result := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if result.Err != nil {
			return fmt.Errorf("delete object %s: %w", result.ObjectName, result.Err)
		}
	}
	return nil
}

// Prune keeps the newest keep snapshots under prefix and deletes the rest.
// keep <= 0 disables pruning.
func (s *MinIOStore) Prune(ctx context.Context, prefix string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	objs, err := s.ListObjects(ctx, prefix)
	if err != nil {
		return 0, err
	}
	stale := staleKeys(objs, keep)
	if len(stale) == 0 {
		return 0, nil
	}
	if err := s.DeleteObjects(ctx, stale); err != nil {
		return 0, err
	}
	slog.Info("pruned snapshots", "prefix", prefix, "deleted", len(stale), "kept", keep)
	return len(stale), nil
}

// staleKeys returns the keys beyond the newest keep objects.
func staleKeys(objs []ObjectInfo, keep int) []string {
	if len(objs) <= keep {
		return nil
	}
	sorted := append([]ObjectInfo(nil), objs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].LastModified.Equal(sorted[j].LastModified) {
			return sorted[i].LastModified.After(sorted[j].LastModified)
		}
		return sorted[i].Key > sorted[j].Key
	})
	keys := make([]string, 0, len(sorted)-keep)
	for _, o := range sorted[keep:] {
		keys = append(keys, o.Key)
	}
	return keys
}

// Ping checks MinIO connectivity.
func (s *MinIOStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}
