// Package lambdaboot provides the shared cold-start bootstrap for the resizer
// entry points: configuration, AWS config, the object store backend and the
// startup log. Each entry point's init() is a short composition of helpers.
package lambdaboot

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/fpang/image-resizer/internal/config"
	"github.com/fpang/image-resizer/internal/logging"
	"github.com/fpang/image-resizer/internal/naming"
	"github.com/fpang/image-resizer/internal/objectstore"
	"github.com/fpang/image-resizer/internal/resample"
	"github.com/fpang/image-resizer/internal/resizer"
)

// LoadConfig reads the resizer configuration. Fatals on invalid values.
func LoadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid resizer configuration")
	}
	return cfg
}

// InitAWS loads the default AWS config. Fatals on error.
func InitAWS(ctx context.Context) aws.Config {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return cfg
}

// NewStore builds the configured object store backend. The AWS config is only
// loaded for the s3 backend.
func NewStore(ctx context.Context, sc config.StoreConfig) (objectstore.Store, error) {
	switch sc.Kind {
	case config.StoreMinio:
		store, err := objectstore.NewMinioStore(sc.MinioEndpoint, sc.MinioAccessKey, sc.MinioSecretKey, sc.MinioUseSSL)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoreFilesystem:
		store, err := objectstore.NewFilesystemStore(sc.FSRoot)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return objectstore.NewS3Store(s3.NewFromConfig(InitAWS(ctx))), nil
	}
}

// InitService wires config, store and resampler into a resizer.Service.
// Fatals if any piece cannot be built.
func InitService(ctx context.Context, cfg *config.Config) *resizer.Service {
	store, err := NewStore(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Str("store", cfg.Store.Kind).Msg("Failed to initialise object store")
	}
	rs, err := resample.New(cfg.Resample)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise resampler")
	}
	return resizer.New(store, rs, resizer.Options{
		Sizes:         cfg.Sizes,
		Naming:        cfg.Naming,
		Concurrency:   cfg.Concurrency,
		Tagging:       cfg.Tagging,
		SkipGenerated: cfg.SkipGenerated,
	})
}

// StartupLog returns a startup logger pre-filled with the resizer settings.
func StartupLog(name string, cfg *config.Config, initStart time.Time) *logging.StartupLogger {
	sl := logging.NewStartupLogger(name).
		InitDuration(time.Since(initStart)).
		Bucket("policy", string(cfg.Naming.Buckets)).
		Config("sizes", cfg.Sizes.String()).
		Config("layout", string(cfg.Naming.Layout)).
		Config("contentType", string(cfg.Naming.ContentType)).
		Config("outputFormat", string(cfg.Resample.Format)).
		Config("filter", cfg.Resample.Filter).
		Config("concurrency", strconv.Itoa(cfg.Concurrency)).
		Config("store", cfg.Store.Kind).
		Feature("publicRead", cfg.Naming.PublicRead).
		Feature("enlarge", cfg.Resample.Enlarge).
		Feature("skipGenerated", cfg.SkipGenerated).
		Feature("tagging", cfg.Tagging != "")
	switch {
	case cfg.Naming.BucketOverride != "":
		sl.Bucket("destination", cfg.Naming.BucketOverride)
	case cfg.Naming.Buckets == naming.BucketSuffix:
		sl.Bucket("suffix", cfg.Naming.BucketSuffix)
	}
	if cfg.Store.Kind == config.StoreFilesystem {
		sl.Config("fsRoot", cfg.Store.FSRoot)
	}
	return sl
}
