// Package naming derives every address the resize pipeline touches: the
// decoded source key, the display filename, the image type, and the
// destination bucket/key for each catalog label.
package naming

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Sentinel errors returned while validating a source key.
var (
	ErrNoExtension     = errors.New("could not determine the image type")
	ErrEmptyFilename   = errors.New("source key has no filename")
	ErrUnsupportedType = errors.New("unsupported image type")
)

// supportedTypes is the allow-list of source image types.
var supportedTypes = map[string]bool{
	"jpg":  true,
	"jpeg": true,
	"png":  true,
}

// variantExt is the extension every destination key carries, regardless of
// the bytes actually written.
const variantExt = ".png"

// Source is a decoded source object key split into the parts naming needs.
type Source struct {
	Key      string // fully decoded key, used for the store read
	Dir      string // path.Dir(Key); "." for top-level keys
	Filename string // last path segment without its extension
	Ext      string // extension as written, without the dot
}

// DecodeKey turns an S3 notification key into the real object key. S3 encodes
// spaces as '+' and everything else with percent-escapes.
func DecodeKey(raw string) (string, error) {
	key, err := url.QueryUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("decode object key %q: %w", raw, err)
	}
	return key, nil
}

// ParseSource splits an already-decoded key. It fails with ErrNoExtension
// when the last path segment has no '.' and ErrEmptyFilename when nothing
// precedes it.
func ParseSource(key string) (Source, error) {
	base := path.Base(key)
	dot := strings.LastIndex(base, ".")
	if dot < 0 {
		return Source{}, fmt.Errorf("%w: %s", ErrNoExtension, key)
	}
	src := Source{
		Key:      key,
		Dir:      path.Dir(key),
		Filename: base[:dot],
		Ext:      base[dot+1:],
	}
	if src.Filename == "" {
		return Source{}, fmt.Errorf("%w: %s", ErrEmptyFilename, key)
	}
	return src, nil
}

// ImageType lowercases ext and checks it against the allow-list.
func ImageType(ext string) (string, error) {
	t := strings.ToLower(ext)
	if !supportedTypes[t] {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, t)
	}
	return t, nil
}

// Layout selects how destination keys are built.
type Layout string

const (
	// LayoutFlat writes "<label>/<filename>-<label>.png".
	LayoutFlat Layout = "flat"
	// LayoutNested writes "<prefix>/compressed/<label>/<filename>-<label>.png",
	// where prefix is the source directory with a trailing "raw" segment dropped.
	LayoutNested Layout = "nested"
)

// ParseLayout validates a layout name.
func ParseLayout(s string) (Layout, error) {
	switch Layout(strings.ToLower(s)) {
	case LayoutFlat:
		return LayoutFlat, nil
	case LayoutNested:
		return LayoutNested, nil
	}
	return "", fmt.Errorf("unknown key layout %q (want flat or nested)", s)
}

// BucketPolicy selects the destination bucket.
type BucketPolicy string

const (
	BucketSuffix BucketPolicy = "suffix"
	BucketSame   BucketPolicy = "same"
)

// ParseBucketPolicy validates a bucket policy name.
func ParseBucketPolicy(s string) (BucketPolicy, error) {
	switch BucketPolicy(strings.ToLower(s)) {
	case BucketSuffix:
		return BucketSuffix, nil
	case BucketSame:
		return BucketSame, nil
	}
	return "", fmt.Errorf("unknown bucket policy %q (want suffix or same)", s)
}

// ContentTypeMode selects what Content-Type a variant is written with.
type ContentTypeMode string

const (
	// ContentTypeGeneric always writes Policy.GenericContentType.
	ContentTypeGeneric ContentTypeMode = "generic"
	// ContentTypeExact writes the MIME type of the encoded variant.
	ContentTypeExact ContentTypeMode = "exact"
)

// ParseContentTypeMode validates a content-type mode name.
func ParseContentTypeMode(s string) (ContentTypeMode, error) {
	switch ContentTypeMode(strings.ToLower(s)) {
	case ContentTypeGeneric:
		return ContentTypeGeneric, nil
	case ContentTypeExact:
		return ContentTypeExact, nil
	}
	return "", fmt.Errorf("unknown content type mode %q (want generic or exact)", s)
}

// Destination is where one resized variant is written.
type Destination struct {
	Bucket      string
	Key         string
	ContentType string
	Public      bool
}

// Policy holds the per-deployment naming choices.
type Policy struct {
	Layout             Layout
	Buckets            BucketPolicy
	BucketSuffix       string
	BucketOverride     string // when set, wins over Buckets
	PublicRead         bool
	ContentType        ContentTypeMode
	GenericContentType string
}

// DefaultPolicy matches the production deployment: flat keys in "<bucket>-test",
// private objects, Content-Type "image".
func DefaultPolicy() Policy {
	return Policy{
		Layout:             LayoutFlat,
		Buckets:            BucketSuffix,
		BucketSuffix:       "-test",
		ContentType:        ContentTypeGeneric,
		GenericContentType: "image",
	}
}

// DestinationBucket returns the bucket variants of srcBucket are written to.
func (p Policy) DestinationBucket(srcBucket string) string {
	if p.BucketOverride != "" {
		return p.BucketOverride
	}
	if p.Buckets == BucketSame {
		return srcBucket
	}
	return srcBucket + p.BucketSuffix
}

// Key returns the destination key for one label.
func (p Policy) Key(src Source, label string) string {
	name := fmt.Sprintf("%s-%s%s", src.Filename, label, variantExt)
	if p.Layout != LayoutNested {
		return path.Join(label, name)
	}
	prefix := src.Dir
	if path.Base(prefix) == "raw" {
		prefix = path.Dir(prefix)
	}
	if prefix == "." || prefix == "/" {
		return path.Join("compressed", label, name)
	}
	return path.Join(prefix, "compressed", label, name)
}

// Destination builds the full descriptor for one label. encodedMIME is the
// type of the resized bytes and only matters in ContentTypeExact mode.
func (p Policy) Destination(src Source, srcBucket, label, encodedMIME string) Destination {
	ct := p.GenericContentType
	if p.ContentType == ContentTypeExact && encodedMIME != "" {
		ct = encodedMIME
	}
	return Destination{
		Bucket:      p.DestinationBucket(srcBucket),
		Key:         p.Key(src, label),
		ContentType: ct,
		Public:      p.PublicRead,
	}
}

// IsGenerated reports whether key has the shape of a variant this policy
// writes for one of labels. Used to ignore our own uploads when the
// destination bucket is also the trigger bucket.
func (p Policy) IsGenerated(key string, labels []string) bool {
	isLabel := make(map[string]bool, len(labels))
	for _, l := range labels {
		isLabel[l] = true
	}
	segs := strings.Split(key, "/")
	base := segs[len(segs)-1]

	if p.Layout == LayoutNested {
		for i := 0; i+2 < len(segs); i++ {
			if segs[i] == "compressed" && isLabel[segs[i+1]] &&
				strings.HasSuffix(base, "-"+segs[i+1]+variantExt) {
				return true
			}
		}
		return false
	}

	if len(segs) != 2 || !isLabel[segs[0]] {
		return false
	}
	return strings.HasSuffix(base, "-"+segs[0]+variantExt)
}
