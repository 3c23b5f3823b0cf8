package objectstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// compile-time check that FilesystemStore satisfies Store.
var _ Store = (*FilesystemStore)(nil)

// FilesystemStore maps bucket/key onto <root>/<bucket>/<key>.
// Content type, visibility and tags are not persisted.
type FilesystemStore struct {
	root string
}

// NewFilesystemStore creates the root directory if needed.
func NewFilesystemStore(root string) (*FilesystemStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store root: %w", err)
	}
	return &FilesystemStore{root: filepath.Clean(root)}, nil
}

// Root returns the directory objects are stored under.
func (fs *FilesystemStore) Root() string {
	return fs.root
}

func (fs *FilesystemStore) path(bucket, key string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", fmt.Errorf("invalid bucket name %q", bucket)
	}
	p := filepath.Join(fs.root, bucket, filepath.FromSlash(key))
	bucketDir := filepath.Join(fs.root, bucket)
	if p == bucketDir || !strings.HasPrefix(p, bucketDir+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid key %q: path traversal detected", key)
	}
	return p, nil
}

// Get reads <root>/<bucket>/<key>.
func (fs *FilesystemStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	p, err := fs.path(bucket, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("read %s/%s: %w", bucket, key, ErrNotFound)
		}
		return nil, fmt.Errorf("read %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// Put writes <root>/<bucket>/<key>, creating parent directories.
func (fs *FilesystemStore) Put(ctx context.Context, in PutInput) error {
	p, err := fs.path(in.Bucket, in.Key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("create directory for %s/%s: %w", in.Bucket, in.Key, err)
	}
	if err := os.WriteFile(p, in.Body, 0644); err != nil {
		return fmt.Errorf("write %s/%s: %w", in.Bucket, in.Key, err)
	}
	return nil
}
