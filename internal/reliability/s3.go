package reliability

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/aristath/marketd/internal/config"
)

// S3Client talks to an S3-compatible object store (R2, MinIO, AWS) holding
// backup archives.
type S3Client struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	log      zerolog.Logger
}

// RemoteBackup is one archive stored in the bucket.
type RemoteBackup struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
}

// NewS3Client builds a client from the backup configuration. A custom
// endpoint switches the client to path-style addressing, which R2 and
// MinIO require.
func NewS3Client(ctx context.Context, cfg *config.BackupConfig, log zerolog.Logger) (*S3Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load s3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Client{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		log:      log.With().Str("component", "s3_client").Logger(),
	}, nil
}

// Upload streams one archive into the bucket.
func (c *S3Client) Upload(ctx context.Context, key string, body io.Reader) error {
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	c.log.Info().Str("key", key).Msg("Backup archive uploaded")
	return nil
}

// List returns the archives under prefix whose names carry a parseable
// timestamp, newest first.
func (c *S3Client) List(ctx context.Context, prefix string) ([]RemoteBackup, error) {
	var backups []RemoteBackup

	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list backups: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			ts, ok := timestampFromKey(*obj.Key, prefix)
			if !ok {
				c.log.Warn().Str("key", *obj.Key).Msg("Skipping object without a backup timestamp")
				continue
			}
			backup := RemoteBackup{Key: *obj.Key, Timestamp: ts}
			if obj.Size != nil {
				backup.SizeBytes = *obj.Size
			}
			backups = append(backups, backup)
		}
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// Delete removes one archive from the bucket.
func (c *S3Client) Delete(ctx context.Context, key string) error {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Prune deletes everything beyond the keep newest archives.
func (c *S3Client) Prune(ctx context.Context, prefix string, keep int) error {
	if keep <= 0 {
		return nil
	}
	backups, err := c.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, backup := range backups[min(keep, len(backups)):] {
		if err := c.Delete(ctx, backup.Key); err != nil {
			c.log.Error().Err(err).Str("key", backup.Key).Msg("Failed to delete old backup")
			continue
		}
		c.log.Info().Str("key", backup.Key).Time("timestamp", backup.Timestamp).Msg("Deleted old backup")
	}
	return nil
}

// timestampFromKey parses "<prefix><2006-01-02-150405>.tar.gz".
func timestampFromKey(key, prefix string) (time.Time, bool) {
	if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, ".tar.gz") {
		return time.Time{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(key, prefix), ".tar.gz")
	ts, err := time.Parse(archiveTimeLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
