package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"buildforge/internal/logging"
	"buildforge/internal/model"
)

// Archiver uploads a copy of each aggregate build report to object storage,
// independent of the report store's own database. Optional: only active
// when BUILDFORGE_REPORT_BUCKET is configured.
type Archiver struct {
	uploader *manager.Uploader
	bucket   string
}

// NewArchiverFromEnv builds an archiver from BUILDFORGE_REPORT_BUCKET and the
// ambient AWS credential chain, or returns nil if archival isn't configured.
func NewArchiverFromEnv(ctx context.Context) (*Archiver, error) {
	bucket := os.Getenv("BUILDFORGE_REPORT_BUCKET")
	if bucket == "" {
		return nil, nil
	}
	var opts []func(*awsconfig.LoadOptions) error
	if key, secret := os.Getenv("BUILDFORGE_S3_ACCESS_KEY_ID"), os.Getenv("BUILDFORGE_S3_SECRET_ACCESS_KEY"); key != "" && secret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(key, secret, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archiver: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &Archiver{uploader: manager.NewUploader(client), bucket: bucket}, nil
}

// Archive uploads the aggregate report as a JSON object keyed by build ID.
// Failure is logged, not fatal — archival is best-effort supplementary storage.
func (a *Archiver) Archive(ctx context.Context, report model.BuildReport) {
	if a == nil {
		return
	}
	payload, err := json.Marshal(report)
	if err != nil {
		logging.S().Warnw("archiver: failed to marshal report", "build", report.BuildID, "err", err)
		return
	}
	key := fmt.Sprintf("reports/%s.json", report.BuildID)
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      &a.bucket,
		Key:         &key,
		Body:        bytes.NewReader(payload),
		ContentType: strPtr("application/json"),
	})
	if err != nil {
		logging.S().Warnw("archiver: upload failed", "build", report.BuildID, "bucket", a.bucket, "err", err)
	}
}

func strPtr(s string) *string { return &s }
