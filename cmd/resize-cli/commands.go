package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/spf13/cobra"

	"github.com/fpang/image-resizer/internal/config"
	"github.com/fpang/image-resizer/internal/lambdaboot"
	"github.com/fpang/image-resizer/internal/resizer"
)

func invokeCmd() *cobra.Command {
	var eventPath, bucket, key string
	cmd := &cobra.Command{
		Use:   "invoke",
		Short: "Run the resizer for one S3 event",
		Long: `Run the resizer for one S3 event, read from --event (a file, or "-" for
stdin) or synthesised from --bucket and --key. Prints the outcome as JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var event events.S3Event
			switch {
			case eventPath != "":
				ev, err := readEventFile(eventPath, cmd.InOrStdin())
				if err != nil {
					return err
				}
				event = ev
			case bucket != "" && key != "":
				event = newEvent(bucket, key)
			default:
				return errors.New("either --event or both --bucket and --key are required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			svc := lambdaboot.InitService(ctx, cfg)
			outcome := svc.Handle(ctx, event)
			return writeJSON(cmd.OutOrStdout(), newReport(outcome))
		},
	}
	cmd.Flags().StringVarP(&eventPath, "event", "e", "", `S3 event JSON file, or "-" for stdin`)
	cmd.Flags().StringVarP(&bucket, "bucket", "b", "", "Source bucket for a synthetic event")
	cmd.Flags().StringVarP(&key, "key", "k", "", "Source key for a synthetic event (raw, not URL-encoded)")
	return cmd
}

func eventCmd() *cobra.Command {
	var bucket, key string
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Print a synthetic S3 object-created event",
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeJSON(cmd.OutOrStdout(), newEvent(bucket, key))
		},
	}
	cmd.Flags().StringVarP(&bucket, "bucket", "b", "", "Source bucket")
	cmd.Flags().StringVarP(&key, "key", "k", "", "Source key (raw, not URL-encoded)")
	_ = cmd.MarkFlagRequired("bucket")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func catalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Print the active size catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range cfg.Sizes.Entries() {
				fmt.Fprintf(out, "%-8s %5dpx\n", e.Label, e.Dimension)
			}
			return nil
		},
	}
}

// readEventFile decodes an S3 event from path, or from stdin when path is "-".
func readEventFile(path string, stdin io.Reader) (events.S3Event, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return events.S3Event{}, fmt.Errorf("open event file: %w", err)
		}
		defer f.Close()
		r = f
	}
	var event events.S3Event
	if err := json.NewDecoder(r).Decode(&event); err != nil {
		return events.S3Event{}, fmt.Errorf("decode event: %w", err)
	}
	return event, nil
}

// newEvent builds a single-record ObjectCreated:Put event. The key is
// encoded the way S3 encodes notification keys.
func newEvent(bucket, key string) events.S3Event {
	return events.S3Event{Records: []events.S3EventRecord{{
		EventVersion: "2.1",
		EventSource:  "aws:s3",
		EventName:    "ObjectCreated:Put",
		S3: events.S3Entity{
			SchemaVersion: "1.0",
			Bucket: events.S3Bucket{
				Name: bucket,
				Arn:  "arn:aws:s3:::" + bucket,
			},
			Object: events.S3Object{
				Key:           encodeKey(key),
				URLDecodedKey: key,
			},
		},
	}}}
}

// encodeKey form-encodes each path segment, so spaces become '+' and the
// slashes survive.
func encodeKey(key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.QueryEscape(s)
	}
	return strings.Join(segs, "/")
}

// report is the printable form of resizer.Outcome.
type report struct {
	RunID     string         `json:"runId"`
	Status    string         `json:"status"`
	Reason    string         `json:"reason,omitempty"`
	SrcBucket string         `json:"srcBucket,omitempty"`
	SrcKey    string         `json:"srcKey,omitempty"`
	DstBucket string         `json:"dstBucket,omitempty"`
	Variants  []variantEntry `json:"variants,omitempty"`
}

type variantEntry struct {
	Label   string `json:"label"`
	Key     string `json:"key"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

func newReport(o resizer.Outcome) report {
	r := report{
		RunID:     o.RunID,
		Status:    string(o.Status),
		Reason:    o.Reason,
		SrcBucket: o.SrcBucket,
		SrcKey:    o.SrcKey,
		DstBucket: o.DstBucket,
	}
	for _, res := range o.Upload.Results {
		v := variantEntry{Label: res.Label, Key: res.Key, Skipped: res.Skipped}
		if res.Err != nil {
			v.Error = res.Err.Error()
		}
		r.Variants = append(r.Variants, v)
	}
	return r
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
