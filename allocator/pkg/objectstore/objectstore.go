package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/malbeclabs/bounty/utils/pkg/retry"
)

const Scheme = "s3"

var ErrNotObjectURL = errors.New("not an s3 url")

// Store reads and writes whole objects.
type Store interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, body []byte, contentType string) error
}

// API is the subset of the S3 client used by S3Store.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Config struct {
	Region string
	// Endpoint overrides the service endpoint, e.g. for MinIO.
	Endpoint     string
	UsePathStyle bool
	Retry        retry.Config
}

func (cfg *S3Config) Validate() error {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.Endpoint != "" {
		if _, err := url.Parse(cfg.Endpoint); err != nil {
			return fmt.Errorf("invalid endpoint %q: %w", cfg.Endpoint, err)
		}
	}
	return nil
}

type S3Store struct {
	log    *slog.Logger
	client API
	retry  retry.Config
}

// NewS3 builds a store from the default AWS credential chain.
func NewS3(ctx context.Context, log *slog.Logger, cfg S3Config) (*S3Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate s3 config: %w", err)
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3WithClient(log, client, cfg.Retry), nil
}

func NewS3WithClient(log *slog.Logger, client API, retryCfg retry.Config) *S3Store {
	if retryCfg.MaxAttempts <= 0 {
		retryCfg = retry.DefaultConfig()
	}
	return &S3Store{log: log, client: client, retry: retryCfg}
}

func (s *S3Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	var body []byte
	err := retry.Do(ctx, s.retry, func() error {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		defer out.Body.Close()
		body, err = io.ReadAll(out.Body)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", bucket, key, err)
	}
	s.log.Debug("objectstore: fetched object", "bucket", bucket, "key", key, "bytes", len(body))
	return body, nil
}

func (s *S3Store) Put(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	err := retry.Do(ctx, s.retry, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(body),
			ContentType: aws.String(contentType),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to put s3://%s/%s: %w", bucket, key, err)
	}
	s.log.Debug("objectstore: uploaded object", "bucket", bucket, "key", key, "bytes", len(body))
	return nil
}

// ParseURL splits an s3://bucket/key URL. It returns ErrNotObjectURL for
// anything that is not an s3 URL so callers can fall back to local paths.
func ParseURL(raw string) (bucket, key string, err error) {
	if !strings.HasPrefix(raw, Scheme+"://") {
		return "", "", ErrNotObjectURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid s3 url %q: %w", raw, err)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 url %q: bucket and key are required", raw)
	}
	return u.Host, key, nil
}

// JoinKey joins a prefix and a name with a single slash.
func JoinKey(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
