// Package config reads the resizer's deployment settings from environment
// variables. Everything has a default, so an empty environment yields a
// working flat-layout, "-test" bucket setup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/fpang/image-resizer/internal/catalog"
	"github.com/fpang/image-resizer/internal/naming"
	"github.com/fpang/image-resizer/internal/resample"
)

// Store backends.
const (
	StoreS3         = "s3"
	StoreMinio      = "minio"
	StoreFilesystem = "filesystem"
)

// StoreConfig selects and configures the object store backend.
type StoreConfig struct {
	Kind string

	FSRoot string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool
}

// Config is the full resizer configuration.
type Config struct {
	Sizes    catalog.Catalog
	Naming   naming.Policy
	Resample resample.Options
	Store    StoreConfig

	// Concurrency caps in-flight resizes and uploads per invocation; 0 means
	// one goroutine per catalog entry.
	Concurrency int
	Tagging     string

	// SkipGenerated ignores trigger keys shaped like our own output when the
	// destination bucket is the source bucket.
	SkipGenerated bool
}

// LoadDotEnv loads .env files into the process environment, ignoring missing
// files. Used by the CLI only; Lambda configuration comes from the function.
func LoadDotEnv(paths ...string) {
	for _, p := range paths {
		_ = godotenv.Load(p)
	}
	if len(paths) == 0 {
		_ = godotenv.Load()
	}
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Naming:   naming.DefaultPolicy(),
		Resample: resample.DefaultOptions(),
	}

	sizes, err := catalog.Parse(getEnv("RESIZER_SIZES", catalog.Default().String()))
	if err != nil {
		return nil, fmt.Errorf("parse RESIZER_SIZES: %w", err)
	}
	cfg.Sizes = sizes

	if cfg.Naming.Layout, err = naming.ParseLayout(getEnv("RESIZER_KEY_LAYOUT", string(naming.LayoutFlat))); err != nil {
		return nil, fmt.Errorf("parse RESIZER_KEY_LAYOUT: %w", err)
	}
	if cfg.Naming.Buckets, err = naming.ParseBucketPolicy(getEnv("RESIZER_BUCKET_POLICY", string(naming.BucketSuffix))); err != nil {
		return nil, fmt.Errorf("parse RESIZER_BUCKET_POLICY: %w", err)
	}
	cfg.Naming.BucketSuffix = getEnv("RESIZER_BUCKET_SUFFIX", cfg.Naming.BucketSuffix)
	cfg.Naming.BucketOverride = getEnv("RESIZER_DEST_BUCKET", "")
	if cfg.Naming.PublicRead, err = parseBool("RESIZER_PUBLIC_READ", false); err != nil {
		return nil, err
	}
	if cfg.Naming.ContentType, err = naming.ParseContentTypeMode(getEnv("RESIZER_CONTENT_TYPE", string(naming.ContentTypeGeneric))); err != nil {
		return nil, fmt.Errorf("parse RESIZER_CONTENT_TYPE: %w", err)
	}
	cfg.Naming.GenericContentType = getEnv("RESIZER_GENERIC_CONTENT_TYPE", cfg.Naming.GenericContentType)

	if cfg.Resample.Format, err = resample.ParseOutputFormat(getEnv("RESIZER_OUTPUT_FORMAT", string(resample.FormatSource))); err != nil {
		return nil, fmt.Errorf("parse RESIZER_OUTPUT_FORMAT: %w", err)
	}
	cfg.Resample.Filter = strings.ToLower(getEnv("RESIZER_FILTER", resample.DefaultFilter))
	if !resample.ValidFilter(cfg.Resample.Filter) {
		return nil, fmt.Errorf("unknown RESIZER_FILTER %q", cfg.Resample.Filter)
	}
	if cfg.Resample.JPEGQuality, err = parseInt("RESIZER_JPEG_QUALITY", cfg.Resample.JPEGQuality, 1, 100); err != nil {
		return nil, err
	}
	if cfg.Resample.Enlarge, err = parseBool("RESIZER_ENLARGE", cfg.Resample.Enlarge); err != nil {
		return nil, err
	}

	if cfg.Concurrency, err = parseInt("RESIZER_CONCURRENCY", 0, 0, 64); err != nil {
		return nil, err
	}
	cfg.Tagging = getEnv("RESIZER_TAGGING", "")
	if cfg.SkipGenerated, err = parseBool("RESIZER_SKIP_GENERATED", true); err != nil {
		return nil, err
	}

	if cfg.Store, err = loadStore(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadStore() (StoreConfig, error) {
	sc := StoreConfig{
		Kind:           strings.ToLower(getEnv("RESIZER_STORE", StoreS3)),
		FSRoot:         getEnv("RESIZER_FS_ROOT", "./data"),
		MinioEndpoint:  getEnv("RESIZER_MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey: getEnv("RESIZER_MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey: getEnv("RESIZER_MINIO_SECRET_KEY", "minioadmin"),
	}
	switch sc.Kind {
	case StoreS3, StoreMinio, StoreFilesystem:
	default:
		return StoreConfig{}, fmt.Errorf("unknown RESIZER_STORE %q (want s3, minio or filesystem)", sc.Kind)
	}
	useSSL, err := parseBool("RESIZER_MINIO_USE_SSL", false)
	if err != nil {
		return StoreConfig{}, err
	}
	sc.MinioUseSSL = useSSL
	return sc, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func parseBool(key string, fallback bool) (bool, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func parseInt(key string, fallback, lo, hi int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%s must be within %d-%d (got %d)", key, lo, hi, v)
	}
	return v, nil
}
