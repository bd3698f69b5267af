package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3SinkConfig configures an S3Sink
type S3SinkConfig struct {
	Bucket       string
	Prefix       string // default "audit"
	Region       string
	Endpoint     string // for MinIO and other S3-compatible stores
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink writes one NDJSON object per batch under
// prefix/YYYY/MM/DD/<commit id>/<first entry id>.ndjson
type S3Sink struct {
	client objectPutter
	bucket string
	prefix string
}

// NewS3Sink creates an S3 sink
func NewS3Sink(ctx context.Context, cfg S3SinkConfig) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	var awsConfig aws.Config
	var err error
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsConfig, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKey,
				cfg.SecretKey,
				"",
			)),
		)
	} else {
		awsConfig, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})
	return newS3Sink(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3Sink(client objectPutter, bucket, prefix string) *S3Sink {
	if prefix == "" {
		prefix = "audit"
	}
	return &S3Sink{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Sink) Name() string { return "s3" }

func (s *S3Sink) Mode() DeliveryMode { return Detached }

// objectKey names the object for a batch by its first entry
func (s *S3Sink) objectKey(first *Entry) string {
	ts := first.Timestamp.UTC()
	return path.Join(s.prefix, ts.Format("2006/01/02"), first.CommitID, first.ID+".ndjson")
}

// Deliver uploads the batch as one object. Archive batches may span commits.
func (s *S3Sink) Deliver(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := encoder.Encode(e); err != nil {
			return fmt.Errorf("failed to encode audit entry %s: %w", e.ID, err)
		}
	}

	key := s.objectKey(entries[0])
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
		Metadata: map[string]string{
			"commit-id": entries[0].CommitID,
			"entries":   fmt.Sprint(len(entries)),
			"written":   time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

func (s *S3Sink) Close() error { return nil }
