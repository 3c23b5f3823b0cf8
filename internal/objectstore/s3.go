package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

// S3API is the subset of *s3.Client used by S3Store.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// compile-time check that S3Store satisfies Store.
var _ Store = (*S3Store)(nil)

// S3Store implements Store on top of the AWS SDK v2 S3 client.
type S3Store struct {
	client S3API
}

// NewS3Store wraps an S3 client (normally *s3.Client).
func NewS3Store(client S3API) *S3Store {
	return &S3Store{client: client}
}

// Get downloads the whole object into memory.
func (s *S3Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	log.Debug().Str("bucket", bucket).Str("key", key).Msg("Downloading from S3")
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("S3 GetObject %s/%s: %w", bucket, key, ErrNotFound)
		}
		return nil, fmt.Errorf("S3 GetObject %s/%s: %w", bucket, key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("read S3 object %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// Put uploads the body with the requested content type, visibility and tags.
func (s *S3Store) Put(ctx context.Context, in PutInput) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(in.Bucket),
		Key:           aws.String(in.Key),
		Body:          bytes.NewReader(in.Body),
		ContentLength: aws.Int64(int64(len(in.Body))),
	}
	if in.ContentType != "" {
		input.ContentType = aws.String(in.ContentType)
	}
	if in.Public {
		input.ACL = s3types.ObjectCannedACLPublicRead
	}
	if in.Tagging != "" {
		input.Tagging = aws.String(in.Tagging)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("S3 PutObject %s/%s: %w", in.Bucket, in.Key, err)
	}
	return nil
}
