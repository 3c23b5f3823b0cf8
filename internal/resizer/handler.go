package resizer

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/fpang/image-resizer/internal/metrics"
	"github.com/fpang/image-resizer/internal/naming"
)

// Status names how an invocation ended.
type Status string

const (
	StatusNoRecords    Status = "no-records"
	StatusInvalidKey   Status = "invalid-key"
	StatusUnsupported  Status = "unsupported"
	StatusSkipped      Status = "skipped"
	StatusFetchFailed  Status = "fetch-failed"
	StatusResizeFailed Status = "resize-failed"
	StatusCompleted    Status = "completed"
)

// Outcome describes one invocation. Only StatusCompleted reached the upload
// stage; every other status is an early abort that wrote nothing.
type Outcome struct {
	RunID     string
	Status    Status
	Reason    string
	SrcBucket string
	SrcKey    string
	DstBucket string
	ImageType string
	Variants  int // successfully resized
	Upload    UploadSummary
}

// HandleLambda is the lambda.Start entry point. It never returns an error:
// a failed resize must not make S3 redeliver the same notification.
func (s *Service) HandleLambda(ctx context.Context, event events.S3Event) error {
	s.Handle(ctx, event)
	return nil
}

// Handle runs the pipeline for the first record of event.
func (s *Service) Handle(ctx context.Context, event events.S3Event) (outcome Outcome) {
	start := time.Now()
	outcome.RunID = runID(ctx)
	logger := loggerFrom(ctx).With().Str("runId", outcome.RunID).Logger()
	ctx = logger.WithContext(ctx)

	var sourceBytes int
	defer func() {
		emitMetrics(outcome, sourceBytes, time.Since(start))
	}()

	if len(event.Records) == 0 {
		logger.Error().Msg("Event has no records")
		return abort(outcome, StatusNoRecords, "event has no records")
	}
	if len(event.Records) > 1 {
		logger.Warn().Int("records", len(event.Records)).Msg("Event has multiple records; only the first is processed")
	}

	record := event.Records[0]
	outcome.SrcBucket = record.S3.Bucket.Name
	if outcome.SrcBucket == "" || record.S3.Object.Key == "" {
		logger.Error().Str("srcBucket", outcome.SrcBucket).Str("rawKey", record.S3.Object.Key).Msg("Record is missing bucket or key")
		return abort(outcome, StatusNoRecords, "record is missing bucket or key")
	}

	key, err := naming.DecodeKey(record.S3.Object.Key)
	if err != nil {
		logger.Error().Err(err).Str("srcBucket", outcome.SrcBucket).Msg("Could not decode object key")
		return abort(outcome, StatusInvalidKey, err.Error())
	}
	outcome.SrcKey = key
	outcome.DstBucket = s.opts.Naming.DestinationBucket(outcome.SrcBucket)
	logger = logger.With().Str("srcBucket", outcome.SrcBucket).Str("srcKey", key).Logger()
	ctx = logger.WithContext(ctx)
	logger.Info().Str("dstBucket", outcome.DstBucket).Msg("Processing object")

	if s.opts.SkipGenerated && outcome.DstBucket == outcome.SrcBucket &&
		s.opts.Naming.IsGenerated(key, s.opts.Sizes.Labels()) {
		logger.Info().Msg("Skipping key: generated variant")
		return abort(outcome, StatusSkipped, "key is a generated variant")
	}

	src, err := naming.ParseSource(key)
	if err != nil {
		logger.Warn().Err(err).Msg("Could not determine the image type")
		return abort(outcome, StatusInvalidKey, err.Error())
	}
	imageType, err := naming.ImageType(src.Ext)
	if err != nil {
		logger.Warn().Err(err).Str("ext", src.Ext).Msg("Unsupported image type")
		return abort(outcome, StatusUnsupported, err.Error())
	}
	outcome.ImageType = imageType

	orig, ok := s.Fetch(ctx, outcome.SrcBucket, key)
	if !ok {
		return abort(outcome, StatusFetchFailed, "could not fetch original image")
	}
	sourceBytes = len(orig.Data)

	variants, ok := s.Resize(ctx, orig)
	if !ok {
		logger.Error().Int("sizes", len(variants)).Msg("Every resize failed")
		return abort(outcome, StatusResizeFailed, "no variant could be resized")
	}
	for _, v := range variants {
		if v.OK() {
			outcome.Variants++
		}
	}

	outcome.Upload = s.Upload(ctx, variants, src, outcome.SrcBucket)
	outcome.Status = StatusCompleted

	logger.Info().
		Str("imageType", imageType).
		Int("uploaded", outcome.Upload.Uploaded).
		Dur("duration", time.Since(start)).
		Msg("Object processed")
	return outcome
}

func abort(o Outcome, status Status, reason string) Outcome {
	o.Status = status
	o.Reason = reason
	return o
}

func emitMetrics(o Outcome, sourceBytes int, elapsed time.Duration) {
	rec := metrics.New(metrics.Namespace).
		Dimension("Outcome", string(o.Status)).
		Metric("InvocationMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Count("Invocations", 1).
		Property("runId", o.RunID).
		Property("srcBucket", o.SrcBucket).
		Property("srcKey", o.SrcKey)
	if o.Status == StatusCompleted {
		rec.Count("VariantsResized", o.Variants).
			Count("VariantsUploaded", o.Upload.Uploaded).
			Count("VariantFailures", o.Upload.Failed+o.Upload.Skipped).
			Metric("SourceBytes", float64(sourceBytes), metrics.UnitBytes)
	}
	rec.Flush()
}
