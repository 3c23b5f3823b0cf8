package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// compile-time check that MinioStore satisfies Store.
var _ Store = (*MinioStore)(nil)

// MinioStore implements Store against any S3-compatible endpoint through the
// MinIO SDK. Used for local development stacks.
type MinioStore struct {
	client *minio.Client
}

// NewMinioStore creates a MinIO-backed store.
func NewMinioStore(endpoint, accessKey, secretKey string, useSSL bool) (*MinioStore, error) {
	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio new client: %w", err)
	}
	return &MinioStore{client: mc}, nil
}

// Get reads the whole object.
func (m *MinioStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, m.wrap("get", bucket, key, err)
	}
	defer obj.Close()

	// GetObject is lazy; a missing key surfaces on the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, m.wrap("read", bucket, key, err)
	}
	return data, nil
}

// Put writes the object. Public visibility is requested with the canned ACL
// header, which MinIO ignores but S3-compatible gateways honour.
func (m *MinioStore) Put(ctx context.Context, in PutInput) error {
	opts := minio.PutObjectOptions{
		ContentType: in.ContentType,
		UserTags:    parseTagging(in.Tagging),
	}
	if in.Public {
		opts.UserMetadata = map[string]string{"x-amz-acl": "public-read"}
	}

	_, err := m.client.PutObject(ctx, in.Bucket, in.Key, bytes.NewReader(in.Body), int64(len(in.Body)), opts)
	if err != nil {
		return m.wrap("put", in.Bucket, in.Key, err)
	}
	return nil
}

func (m *MinioStore) wrap(op, bucket, key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%s object %s/%s: %w", op, bucket, key, ErrNotFound)
	}
	return fmt.Errorf("%s object %s/%s: %w", op, bucket, key, err)
}
