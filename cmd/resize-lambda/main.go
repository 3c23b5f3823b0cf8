// Package main is the Lambda entry point for the image resizer.
//
// The function is subscribed to s3:ObjectCreated:* notifications on the
// source bucket. Each invocation fetches the new object, resizes it once per
// Size Catalog entry and writes the variants to the destination bucket.
//
// Configuration comes from RESIZER_* environment variables (see
// internal/config). The handler never returns an error, so a bad image is
// logged and dropped instead of being redelivered.
package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/fpang/image-resizer/internal/lambdaboot"
	"github.com/fpang/image-resizer/internal/logging"
	"github.com/fpang/image-resizer/internal/resizer"
)

var svc *resizer.Service

func init() {
	initStart := time.Now()
	logging.Init()

	cfg := lambdaboot.LoadConfig()
	svc = lambdaboot.InitService(context.Background(), cfg)

	lambdaboot.StartupLog("resize-lambda", cfg, initStart).Log()
}

func main() {
	lambda.Start(svc.HandleLambda)
}
