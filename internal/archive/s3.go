// Package archive writes raw inbound messages to S3-compatible storage.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"labflow/internal/config"
	"labflow/pkg/models"
)

const contentType = "application/hl7-v2"

type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store falls back to the default credential chain unless static keys
// are configured. optFns are applied after the endpoint settings.
func NewS3Store(ctx context.Context, cfg config.S3Config, optFns ...func(*s3.Options)) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		for _, fn := range optFns {
			fn(o)
		}
	})

	return &S3Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// RawMessageKey lays objects out by receive date:
// <prefix>/raw/2024/05/01/<escaped message id>.hl7
func RawMessageKey(prefix string, raw models.RawMessage) string {
	day := raw.ReceivedAt.UTC().Format("2006/01/02")
	return path.Join(prefix, "raw", day, url.PathEscape(raw.MessageID)+".hl7")
}

func (s *S3Store) Archive(ctx context.Context, raw models.RawMessage) error {
	key := RawMessageKey(s.prefix, raw)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader([]byte(raw.RawText)),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"message-id": raw.MessageID,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to archive message %s: %w", raw.MessageID, err)
	}
	return nil
}

// Fetch reads back an archived message for replay.
func (s *S3Store) Fetch(ctx context.Context, raw models.RawMessage) (string, error) {
	key := RawMessageKey(s.prefix, raw)

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to fetch archived message %s: %w", raw.MessageID, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read archived message %s: %w", raw.MessageID, err)
	}
	return string(body), nil
}
