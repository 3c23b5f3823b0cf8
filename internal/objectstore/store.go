// Package objectstore is the narrow object-storage surface the resize
// pipeline consumes: read one object, write one object.
//
// Three backends implement Store: S3 (Lambda), MinIO (local S3-compatible
// endpoints) and a plain directory tree (CLI runs and tests).
package objectstore

import (
	"context"
	"errors"
	"net/url"
)

// ErrNotFound is wrapped by every backend when the requested object does not exist.
var ErrNotFound = errors.New("object not found")

// PutInput describes one object write.
type PutInput struct {
	Bucket      string
	Key         string
	Body        []byte
	ContentType string
	Public      bool   // public-read visibility
	Tagging     string // URL-encoded "k=v&k2=v2"; empty for none
}

// Store reads and writes whole objects.
type Store interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, in PutInput) error
}

// parseTagging turns an S3 tagging query string into a map. Malformed input
// yields no tags rather than failing the write.
func parseTagging(tagging string) map[string]string {
	if tagging == "" {
		return nil
	}
	values, err := url.ParseQuery(tagging)
	if err != nil {
		return nil
	}
	tags := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			tags[k] = v[0]
		}
	}
	return tags
}
