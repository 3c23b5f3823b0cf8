// Package resample scales encoded images to a target width.
//
// Decoding, EXIF orientation and encoding go through disintegration/imaging;
// the scaling kernel is one of golang.org/x/image/draw's interpolators. Only
// the width is specified, height follows the source aspect ratio.
package resample

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

// Output is one encoded, resized image.
type Output struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
}

// Resampler produces a resized copy of an encoded image.
type Resampler interface {
	Resize(ctx context.Context, data []byte, width int) (Output, error)
}

// OutputFormat selects the encoding of resized images.
type OutputFormat string

const (
	// FormatSource re-encodes in the format the source was decoded from.
	FormatSource OutputFormat = "source"
	FormatPNG    OutputFormat = "png"
	FormatJPEG   OutputFormat = "jpeg"
)

// ParseOutputFormat validates an output format name.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case FormatSource:
		return FormatSource, nil
	case FormatPNG:
		return FormatPNG, nil
	case FormatJPEG, "jpg":
		return FormatJPEG, nil
	}
	return "", fmt.Errorf("unknown output format %q (want source, png or jpeg)", s)
}

// filters maps configuration names to draw interpolators.
var filters = map[string]draw.Interpolator{
	"nearest":        draw.NearestNeighbor,
	"approxbilinear": draw.ApproxBiLinear,
	"bilinear":       draw.BiLinear,
	"catmullrom":     draw.CatmullRom,
}

// DefaultFilter is the kernel used when none is configured.
const DefaultFilter = "catmullrom"

// ValidFilter reports whether name is a known scaling kernel.
func ValidFilter(name string) bool {
	_, ok := filters[strings.ToLower(name)]
	return ok
}

// Options configures an Imaging resampler.
type Options struct {
	Format      OutputFormat
	Filter      string
	JPEGQuality int
	Enlarge     bool // scale up sources narrower than the target width
}

// DefaultOptions re-encodes in the source format with CatmullRom and allows
// enlarging small sources up to the target width.
func DefaultOptions() Options {
	return Options{
		Format:      FormatSource,
		Filter:      DefaultFilter,
		JPEGQuality: 85,
		Enlarge:     true,
	}
}

// Imaging is the production Resampler.
type Imaging struct {
	opts   Options
	kernel draw.Interpolator
}

// compile-time check that Imaging satisfies Resampler.
var _ Resampler = (*Imaging)(nil)

// New validates opts and returns a resampler.
func New(opts Options) (*Imaging, error) {
	if opts.Filter == "" {
		opts.Filter = DefaultFilter
	}
	kernel, ok := filters[strings.ToLower(opts.Filter)]
	if !ok {
		return nil, fmt.Errorf("unknown resize filter %q", opts.Filter)
	}
	if opts.Format == "" {
		opts.Format = FormatSource
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		return nil, fmt.Errorf("JPEG quality must be within 1-100 (got %d)", opts.JPEGQuality)
	}
	return &Imaging{opts: opts, kernel: kernel}, nil
}

// Resize decodes data, scales it to width and re-encodes it.
func (r *Imaging) Resize(ctx context.Context, data []byte, width int) (Output, error) {
	if width <= 0 {
		return Output{}, fmt.Errorf("target width must be positive (got %d)", width)
	}
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	_, srcFormat, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Output{}, fmt.Errorf("failed to detect image format: %w", err)
	}
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return Output{}, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := src.Bounds()
	newWidth, newHeight := scaledDimensions(bounds.Dx(), bounds.Dy(), width, r.opts.Enlarge)

	var scaled image.Image = src
	if newWidth != bounds.Dx() || newHeight != bounds.Dy() {
		dst := image.NewNRGBA(image.Rect(0, 0, newWidth, newHeight))
		r.kernel.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)
		scaled = dst
	}

	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	format, mimeType, err := r.encoding(srcFormat)
	if err != nil {
		return Output{}, err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, scaled, format, imaging.JPEGQuality(r.opts.JPEGQuality)); err != nil {
		return Output{}, fmt.Errorf("failed to encode resized image: %w", err)
	}

	log.Debug().
		Int("orig_width", bounds.Dx()).
		Int("orig_height", bounds.Dy()).
		Int("new_width", newWidth).
		Int("new_height", newHeight).
		Str("mime_type", mimeType).
		Int("output_size", buf.Len()).
		Msg("Image resized")

	return Output{Data: buf.Bytes(), MIMEType: mimeType, Width: newWidth, Height: newHeight}, nil
}

func (r *Imaging) encoding(srcFormat string) (imaging.Format, string, error) {
	name := string(r.opts.Format)
	if r.opts.Format == FormatSource {
		name = srcFormat
	}
	format, err := imaging.FormatFromExtension(name)
	if err != nil {
		return 0, "", fmt.Errorf("cannot encode %q: %w", name, err)
	}
	switch format {
	case imaging.JPEG:
		return format, "image/jpeg", nil
	case imaging.PNG:
		return format, "image/png", nil
	case imaging.GIF:
		return format, "image/gif", nil
	case imaging.TIFF:
		return format, "image/tiff", nil
	case imaging.BMP:
		return format, "image/bmp", nil
	}
	return 0, "", fmt.Errorf("unsupported output format %q", name)
}

// scaledDimensions fits width to target and derives height from the aspect
// ratio. Height is at least 1px.
func scaledDimensions(width, height, target int, enlarge bool) (int, int) {
	if width <= 0 || height <= 0 {
		return width, height
	}
	if width == target || (width < target && !enlarge) {
		return width, height
	}
	newHeight := int(float64(height)*float64(target)/float64(width) + 0.5)
	if newHeight < 1 {
		newHeight = 1
	}
	return target, newHeight
}
