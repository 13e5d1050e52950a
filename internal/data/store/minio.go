package store

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"golang.org/x/time/rate"

	"github.com/atlasapprox/server/internal/data/zarr"
)

// MinioBackend serves containers stored as <prefix>/<name>.zarr/ object
// trees in MinIO or any S3-compatible service.
type MinioBackend struct {
	client  *minio.Client
	bucket  string
	prefix  string
	limiter *rate.Limiter
}

// NewMinioBackend creates a backend on bucket. When rps > 0 object requests
// are throttled to that rate.
func NewMinioBackend(client *minio.Client, bucket, prefix string, rps float64) *MinioBackend {
	b := &MinioBackend{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
	if rps > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
	}
	return b
}

func (b *MinioBackend) wait(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	return b.limiter.Wait(ctx)
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (b *MinioBackend) Open(ctx context.Context, name string) (zarr.Store, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	root := path.Join(b.prefix, name+dirSuffix)
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	if _, err := b.client.StatObject(ctx, b.bucket, path.Join(root, "zarr.json"), minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("container %q: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to stat container %q: %w", name, err)
	}
	return &minioStore{backend: b, root: root}, nil
}

func (b *MinioBackend) Names(ctx context.Context) ([]string, error) {
	prefix := ""
	if b.prefix != "" {
		prefix = b.prefix + "/"
	}
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	var names []string
	for obj := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		name := strings.TrimSuffix(strings.TrimPrefix(obj.Key, prefix), "/")
		if strings.HasSuffix(name, dirSuffix) {
			names = append(names, strings.TrimSuffix(name, dirSuffix))
		}
	}
	sort.Strings(names)
	return names, nil
}

type minioStore struct {
	backend *MinioBackend
	root    string
}

func (s *minioStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.backend.wait(ctx); err != nil {
		return nil, err
	}
	objKey := path.Join(s.root, key)
	obj, err := s.backend.client.GetObject(ctx, s.backend.bucket, objKey, minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", objKey, ErrNotFound)
		}
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", objKey, ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}

func (s *minioStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := s.backend.wait(ctx); err != nil {
		return nil, err
	}
	full := path.Join(s.root, prefix) + "/"
	var names []string
	for obj := range s.backend.client.ListObjects(ctx, s.backend.bucket, minio.ListObjectsOptions{Prefix: full}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		name := strings.TrimSuffix(strings.TrimPrefix(obj.Key, full), "/")
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *minioStore) ID() string {
	return "s3:" + s.backend.bucket + "/" + s.root
}

func (s *minioStore) Close() error { return nil }
