// Package logging configures the global zerolog logger and provides the
// cold-start summary logger used by every entry point.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LevelEnvVar controls the log level: debug, info, warn, error (default: info).
const LevelEnvVar = "RESIZER_LOG_LEVEL"

// Init sets the global level from RESIZER_LOG_LEVEL and picks an output:
// JSON lines inside Lambda (CloudWatch parses them), a console writer elsewhere.
func Init() {
	zerolog.SetGlobalLevel(ParseLevel(os.Getenv(LevelEnvVar)))

	if InLambda() {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// InitWriter points the global logger at w with JSON output. Used by the CLI's
// --json-logs flag and by tests that assert on log lines.
func InitWriter(w io.Writer, level string) {
	zerolog.SetGlobalLevel(ParseLevel(level))
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// InLambda reports whether the process runs inside the Lambda runtime.
func InLambda() bool {
	return os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
}
