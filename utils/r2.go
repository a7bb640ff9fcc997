// utils/r2.go
package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	appconfig "club-ladder/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var r2Client *s3.Client
var r2Bucket string

// InitR2 prepares the S3-compatible client for the Cloudflare R2 bucket that
// keeps the sweep reports.
func InitR2(ctx context.Context, r2 appconfig.R2Config) error {
	if !r2.Enabled() {
		return fmt.Errorf("R2 is not configured")
	}
	r2Bucket = r2.Bucket

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			r2.AccessKeyID, r2.AccessKeySecret, "",
		)),
	)
	if err != nil {
		return fmt.Errorf("failed to load R2 config: %w", err)
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", r2.AccountID)
	r2Client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	return nil
}

// R2Ready reports whether InitR2 succeeded.
func R2Ready() bool {
	return r2Client != nil
}

// UploadJSONToR2 stores v as a JSON object under key (e.g. "sweeps/decay/2025-01-31/030000.json").
func UploadJSONToR2(ctx context.Context, key string, v interface{}) error {
	if r2Client == nil {
		return fmt.Errorf("R2 client not initialized")
	}
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	_, err = r2Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r2Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to R2: %w", err)
	}
	return nil
}
