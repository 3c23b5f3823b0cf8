package logging

import (
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StartupLogger collects identity, buckets, configuration and feature flags,
// then emits one structured event summarising the cold-start state.
type StartupLogger struct {
	name         string
	initDuration time.Duration

	buckets  map[string]string
	config   map[string]string
	features map[string]bool
}

// NewStartupLogger creates a StartupLogger for the named entry point
// (e.g. "resize-lambda").
func NewStartupLogger(name string) *StartupLogger {
	return &StartupLogger{
		name:     name,
		buckets:  make(map[string]string),
		config:   make(map[string]string),
		features: make(map[string]bool),
	}
}

// Bucket registers a bucket (or bucket policy description) used by this process.
func (s *StartupLogger) Bucket(label, name string) *StartupLogger {
	s.buckets[label] = name
	return s
}

// Feature registers a boolean feature flag (e.g. "publicRead").
func (s *StartupLogger) Feature(name string, enabled bool) *StartupLogger {
	s.features[name] = enabled
	return s
}

// Config registers a non-sensitive configuration key-value pair.
func (s *StartupLogger) Config(key, value string) *StartupLogger {
	s.config[key] = value
	return s
}

// InitDuration records how long initialisation took.
func (s *StartupLogger) InitDuration(d time.Duration) *StartupLogger {
	s.initDuration = d
	return s
}

// Log emits a single INFO event with everything collected.
func (s *StartupLogger) Log() {
	evt := log.Info()

	identity := zerolog.Dict().
		Str("name", s.name).
		Str("functionName", os.Getenv("AWS_LAMBDA_FUNCTION_NAME")).
		Str("version", os.Getenv("AWS_LAMBDA_FUNCTION_VERSION")).
		Str("region", os.Getenv("AWS_REGION")).
		Str("memoryMB", os.Getenv("AWS_LAMBDA_FUNCTION_MEMORY_SIZE")).
		Str("goVersion", runtime.Version()).
		Str("arch", runtime.GOARCH).
		Str("logLevel", ParseLevel(os.Getenv(LevelEnvVar)).String())
	evt = evt.Dict("process", identity)

	if len(s.buckets) > 0 {
		evt = evt.Dict("buckets", dictFromMap(s.buckets))
	}
	if len(s.features) > 0 {
		d := zerolog.Dict()
		for k, v := range s.features {
			d = d.Bool(k, v)
		}
		evt = evt.Dict("features", d)
	}
	if len(s.config) > 0 {
		evt = evt.Dict("config", dictFromMap(s.config))
	}
	if s.initDuration > 0 {
		evt = evt.Dur("initDuration", s.initDuration)
	}

	evt.Msg("Cold start complete")
}

func dictFromMap(m map[string]string) *zerolog.Event {
	d := zerolog.Dict()
	for k, v := range m {
		d = d.Str(k, v)
	}
	return d
}
