// Package resizer implements the fan-out resize pipeline triggered by an
// object-created notification:
//
//  1. Fetch the original image from the object store
//  2. Resize it once per Size Catalog entry, concurrently
//  3. Upload every successful variant to its derived destination
//
// Every stage is best-effort. Failures are logged and reported through typed
// results (Outcome, UploadSummary), never returned to the Lambda runtime, so
// a bad upload is not redelivered forever.
package resizer

import (
	"context"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fpang/image-resizer/internal/catalog"
	"github.com/fpang/image-resizer/internal/naming"
	"github.com/fpang/image-resizer/internal/objectstore"
	"github.com/fpang/image-resizer/internal/resample"
)

// Options configures a Service.
type Options struct {
	Sizes  catalog.Catalog
	Naming naming.Policy

	// Concurrency caps in-flight resizes and uploads; 0 runs every catalog
	// entry at once.
	Concurrency int
	// Tagging is applied to every uploaded variant (URL-encoded k=v pairs).
	Tagging string
	// SkipGenerated ignores notifications for our own output keys when
	// writing back into the trigger bucket.
	SkipGenerated bool
}

// Service runs the pipeline. It holds no per-invocation state and is safe
// for concurrent use.
type Service struct {
	store     objectstore.Store
	resampler resample.Resampler
	opts      Options
}

// New creates a Service. An empty catalog falls back to catalog.Default().
func New(store objectstore.Store, resampler resample.Resampler, opts Options) *Service {
	if opts.Sizes.Len() == 0 {
		opts.Sizes = catalog.Default()
	}
	return &Service{store: store, resampler: resampler, opts: opts}
}

// Sizes returns the catalog the service fans out over.
func (s *Service) Sizes() catalog.Catalog {
	return s.opts.Sizes
}

// runID returns the Lambda request id when running inside Lambda, else a
// fresh UUID.
func runID(ctx context.Context) string {
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		return lc.AwsRequestID
	}
	return uuid.NewString()
}

// loggerFrom returns the invocation logger stored in ctx, or the global logger
// when a stage is called on its own.
func loggerFrom(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}
