package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	defaultS3ConnAttempts = 5
	defaultS3ConnTimeout  = time.Second
	defaultS3Region       = "us-east-1"
)

// S3Store keeps blobs in an S3 compatible bucket.
type S3Store struct {
	client *s3.Client
	bucket string
}

func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	region := cfg.Region
	if region == "" {
		region = defaultS3Region
	}
	attempts := cfg.ConnAttempts
	if attempts <= 0 {
		attempts = defaultS3ConnAttempts
	}

	var (
		client *s3.Client
		err    error
	)
	for attempts > 0 {
		client, err = connectS3(ctx, cfg, region)
		if err == nil {
			break
		}
		attempts--
		slog.Warn("s3 store: connection failed, retrying", "endpoint", cfg.Endpoint, "attempts_left", attempts, "error", err)
		if attempts > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("gave up connecting to s3 endpoint %s: %w", cfg.Endpoint, ctx.Err())
			case <-time.After(defaultS3ConnTimeout):
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to s3 endpoint %s: %w", cfg.Endpoint, err)
	}

	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

func connectS3(ctx context.Context, cfg S3Config, region string) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("failed to reach bucket %s: %w", cfg.Bucket, err)
	}
	return client, nil
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if !validKey(key) {
		return fmt.Errorf("invalid blob key %q", key)
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
		}
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer func() {
		_ = result.Body.Close()
	}()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}
