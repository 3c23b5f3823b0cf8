// Package main is a local driver for the image resizer.
//
// It runs the same resizer.Service the Lambda uses, against whichever store
// RESIZER_STORE selects (a directory tree by default here, MinIO or S3), so a
// notification can be replayed without deploying anything.
//
// Examples:
//
//	resize-cli event --bucket photos --key "holiday/beach.jpg" > event.json
//	resize-cli invoke --event event.json
//	resize-cli invoke --bucket photos --key "holiday/beach.jpg"
//	resize-cli catalog
package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/image-resizer/internal/config"
	"github.com/fpang/image-resizer/internal/logging"
	"github.com/fpang/image-resizer/internal/metrics"
)

var (
	envFileFlag string
	jsonLogFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "resize-cli",
	Short: "Run the image resizer locally",
	Long: `resize-cli replays S3 object-created notifications through the image
resizer pipeline. Settings come from RESIZER_* environment variables, loaded
from a .env file when present. RESIZER_STORE defaults to "filesystem" here, with
buckets as directories under RESIZER_FS_ROOT.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if envFileFlag != "" {
			config.LoadDotEnv(envFileFlag)
		} else {
			config.LoadDotEnv()
		}
		// stdout carries command output; keep EMF lines off it.
		metrics.SetOutput(os.Stderr)
		if os.Getenv("RESIZER_STORE") == "" {
			os.Setenv("RESIZER_STORE", config.StoreFilesystem)
		}
		if jsonLogFlag {
			logging.InitWriter(os.Stderr, os.Getenv(logging.LevelEnvVar))
			return
		}
		logging.Init()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFileFlag, "env-file", "", "Path to a .env file (default ./.env)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogFlag, "json-logs", false, "Write logs as JSON lines to stderr")
	rootCmd.AddCommand(invokeCmd(), eventCmd(), catalogCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
