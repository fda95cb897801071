package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xitongsys/parquet-go-source/local"

	appconfig "cryptostream/config"
)

// ObjectStore persists an encoded object under a slash separated key.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Name() string
}

// NewObjectStore returns an S3 store when S3 is enabled and a local
// directory store otherwise.
func NewObjectStore(ctx context.Context, cfg appconfig.StorageConfig) (ObjectStore, error) {
	if cfg.S3.Enabled {
		return NewS3Store(ctx, cfg.S3)
	}
	dir := cfg.LocalDir
	if dir == "" {
		dir = "data"
	}
	return &LocalStore{Dir: dir}, nil
}

// S3Store uploads objects with PutObject.
type S3Store struct {
	client *s3.Client
	bucket string
}

func NewS3Store(ctx context.Context, cfg appconfig.S3Config) (*S3Store, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				"",
			)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

func (s *S3Store) Name() string { return "s3" }

// LocalStore writes objects below Dir, creating directories as needed.
type LocalStore struct {
	Dir string
}

func (l *LocalStore) Put(_ context.Context, key string, data []byte) error {
	path := filepath.Join(l.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := fw.Write(data); err != nil {
		_ = fw.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return fw.Close()
}

func (l *LocalStore) Name() string { return "local" }
