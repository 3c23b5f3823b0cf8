package resizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fpang/image-resizer/internal/naming"
	"github.com/fpang/image-resizer/internal/objectstore"
	"github.com/fpang/image-resizer/internal/resample"
)

// Original is the fetched source image.
type Original struct {
	Bucket string
	Key    string
	Data   []byte
}

// Variant is the result of resizing for one catalog entry. Err is set and
// Output is empty when that entry failed.
type Variant struct {
	Label     string
	Dimension int
	Output    resample.Output
	Err       error
}

// OK reports whether the variant holds uploadable bytes.
func (v Variant) OK() bool {
	return v.Err == nil && len(v.Output.Data) > 0
}

// UploadResult is the outcome of writing one variant.
type UploadResult struct {
	Label   string
	Bucket  string
	Key     string
	Skipped bool // the variant failed to resize, nothing was written
	Err     error
}

// UploadSummary reports every per-variant upload in catalog order.
type UploadSummary struct {
	Results  []UploadResult
	Uploaded int
	Failed   int
	Skipped  int
}

// Keys returns the destination keys that were written successfully.
func (s UploadSummary) Keys() []string {
	var keys []string
	for _, r := range s.Results {
		if !r.Skipped && r.Err == nil {
			keys = append(keys, r.Key)
		}
	}
	return keys
}

// Fetch reads the original image. Any store error is logged and reported as
// ok=false; there is no retry.
func (s *Service) Fetch(ctx context.Context, bucket, key string) (*Original, bool) {
	logger := loggerFrom(ctx)
	start := time.Now()

	data, err := s.store.Get(ctx, bucket, key)
	if err != nil {
		evt := logger.Error().Err(err)
		if errors.Is(err, objectstore.ErrNotFound) {
			evt = logger.Warn().Err(err)
		}
		evt.Str("srcBucket", bucket).Str("srcKey", key).Msg("Failed to fetch original image")
		return nil, false
	}

	logger.Debug().
		Int("size", len(data)).
		Dur("elapsed", time.Since(start)).
		Msg("Original image fetched")
	return &Original{Bucket: bucket, Key: key, Data: data}, true
}

// Resize produces one variant per catalog entry. Entries run concurrently and
// each result is stored at its catalog index, so variants[i] always belongs
// to Sizes().At(i) whatever order the goroutines finish in. A failing entry
// only affects its own slot; ok is false only when every entry failed.
func (s *Service) Resize(ctx context.Context, orig *Original) ([]Variant, bool) {
	logger := loggerFrom(ctx)
	entries := s.opts.Sizes.Entries()
	variants := make([]Variant, len(entries))

	var g errgroup.Group
	if s.opts.Concurrency > 0 {
		g.SetLimit(s.opts.Concurrency)
	}
	for i, entry := range entries {
		i, entry := i, entry
		g.Go(func() error {
			out, err := s.resizeOne(ctx, orig.Data, entry.Dimension)
			variants[i] = Variant{Label: entry.Label, Dimension: entry.Dimension, Output: out, Err: err}
			if err != nil {
				logger.Warn().Err(err).
					Str("label", entry.Label).
					Int("dimension", entry.Dimension).
					Msg("Failed to resize variant")
			}
			return nil
		})
	}
	_ = g.Wait()

	resized := 0
	for _, v := range variants {
		if v.OK() {
			resized++
		}
	}
	logger.Debug().Int("resized", resized).Int("total", len(variants)).Msg("Resize stage complete")
	return variants, resized > 0
}

// resizeOne isolates a single resample call, including a panicking decoder.
func (s *Service) resizeOne(ctx context.Context, data []byte, width int) (out resample.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = resample.Output{}, fmt.Errorf("resampler panic: %v", r)
		}
	}()
	out, err = s.resampler.Resize(ctx, data, width)
	if err == nil && len(out.Data) == 0 {
		err = errors.New("resampler returned an empty image")
	}
	return out, err
}

// Upload writes every successful variant to its destination. variants must
// come from Resize on the same Service: the label of each destination key is
// taken from the catalog entry at the same index. Per-variant failures are
// logged and counted; siblings keep going.
func (s *Service) Upload(ctx context.Context, variants []Variant, src naming.Source, srcBucket string) UploadSummary {
	logger := loggerFrom(ctx)
	if len(variants) != s.opts.Sizes.Len() {
		panic(fmt.Sprintf("resizer: %d variants for a catalog of %d sizes", len(variants), s.opts.Sizes.Len()))
	}

	results := make([]UploadResult, len(variants))
	var g errgroup.Group
	if s.opts.Concurrency > 0 {
		g.SetLimit(s.opts.Concurrency)
	}
	for i, v := range variants {
		i, v := i, v
		label := s.opts.Sizes.At(i).Label
		if v.Label != "" && v.Label != label {
			panic(fmt.Sprintf("resizer: variant %d is %q but catalog entry is %q", i, v.Label, label))
		}
		dest := s.opts.Naming.Destination(src, srcBucket, label, v.Output.MIMEType)
		results[i] = UploadResult{Label: label, Bucket: dest.Bucket, Key: dest.Key}
		if !v.OK() {
			results[i].Skipped = true
			continue
		}

		g.Go(func() error {
			err := s.store.Put(ctx, objectstore.PutInput{
				Bucket:      dest.Bucket,
				Key:         dest.Key,
				Body:        v.Output.Data,
				ContentType: dest.ContentType,
				Public:      dest.Public,
				Tagging:     s.opts.Tagging,
			})
			if err != nil {
				results[i].Err = err
				logger.Error().Err(err).
					Str("label", label).
					Str("dstBucket", dest.Bucket).
					Str("dstKey", dest.Key).
					Msg("Failed to upload resized variant")
				return nil
			}
			logger.Debug().
				Str("label", label).
				Str("dstKey", dest.Key).
				Int("size", len(v.Output.Data)).
				Msg("Variant uploaded")
			return nil
		})
	}
	_ = g.Wait()

	summary := UploadSummary{Results: results}
	for _, r := range results {
		switch {
		case r.Skipped:
			summary.Skipped++
		case r.Err != nil:
			summary.Failed++
		default:
			summary.Uploaded++
		}
	}

	evt := logger.Info()
	if summary.Failed > 0 || summary.Skipped > 0 {
		evt = logger.Warn()
	}
	evt.Str("srcBucket", srcBucket).
		Str("srcKey", src.Key).
		Str("dstBucket", s.opts.Naming.DestinationBucket(srcBucket)).
		Strs("dstKeys", summary.Keys()).
		Int("uploaded", summary.Uploaded).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Msg("Resized variants uploaded")
	return summary
}
