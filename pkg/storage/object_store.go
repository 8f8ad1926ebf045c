package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrObjectNotFound is returned by Get when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Object is an opened stored object.
type Object struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
}

// ObjectStore provides access to object storage.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (Object, error)
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every object whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// MinioStore implements ObjectStore for MinIO/S3 compatible storage.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to MinIO and ensures the bucket exists.
func NewMinioStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: bucket}, nil
}

// Put uploads an object.
func (m *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// Get opens an object for reading.
func (m *MinioStore) Get(ctx context.Context, key string) (Object, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return Object{}, fmt.Errorf("get object: %w", err)
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return Object{}, ErrObjectNotFound
		}
		return Object{}, fmt.Errorf("stat object: %w", err)
	}
	return Object{Body: obj, Size: info.Size, ContentType: info.ContentType}, nil
}

// Delete removes an object. Removing a missing key succeeds.
func (m *MinioStore) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// DeletePrefix removes all objects under prefix. A listing error fails the
// call so a partial delete is never reported as success.
func (m *MinioStore) DeletePrefix(ctx context.Context, prefix string) error {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return errors.New("delete prefix: empty prefix")
	}
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	listed := m.client.ListObjects(listCtx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true})
	toRemove, listErr := filterListing(listCtx, listed)

	var firstErr error
	for removeErr := range m.client.RemoveObjects(listCtx, m.bucket, toRemove, minio.RemoveObjectsOptions{}) {
		if removeErr.Err != nil && firstErr == nil {
			firstErr = fmt.Errorf("delete object %s: %w", removeErr.ObjectName, removeErr.Err)
		}
	}
	cancel()
	if err := <-listErr; err != nil && ctx.Err() == nil {
		return fmt.Errorf("list objects %s: %w", prefix, err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("delete prefix %s: %w", prefix, err)
	}
	return firstErr
}

// filterListing forwards listed objects until the first entry carrying an
// error. That error, or nil, is sent on the second channel once forwarding
// stops.
func filterListing(ctx context.Context, listed <-chan minio.ObjectInfo) (<-chan minio.ObjectInfo, <-chan error) {
	out := make(chan minio.ObjectInfo)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		for obj := range listed {
			if obj.Err != nil {
				errc <- obj.Err
				return
			}
			select {
			case out <- obj:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
		errc <- nil
	}()
	return out, errc
}
