package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"nestsync/internal/config"
	"nestsync/internal/models"
)

// Archiver writes purged terminal job rows to S3 as JSON lines so failed-job
// history survives queue housekeeping.
type Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewArchiver returns nil when no bucket is configured; housekeeping then
// deletes without archiving.
func NewArchiver(ctx context.Context, cfg config.Config) (*Archiver, error) {
	if cfg.ArchiveBucket == "" {
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Archiver{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.ArchiveBucket,
		prefix: cfg.ArchivePrefix,
	}, nil
}

// Archive uploads one JSON-lines object holding the given jobs.
func (a *Archiver) Archive(ctx context.Context, now time.Time, jobs []models.SyncJob) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, job := range jobs {
		if err := enc.Encode(job); err != nil {
			return fmt.Errorf("encode job %s: %w", job.ID, err)
		}
	}

	key := fmt.Sprintf("%s/%s/%s.jsonl", a.prefix, now.Format("2006-01-02"), uuid.New().String())
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("put archive object: %w", err)
	}
	return nil
}
