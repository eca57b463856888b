package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/oklog/ulid/v2"
)

// S3Config holds configuration for the S3 storage backend.
type S3Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string `yaml:"bucket"`
	// Prefix is the key prefix within the bucket (optional).
	Prefix string `yaml:"prefix,omitempty"`
	// Region is the AWS region (optional, uses default chain if empty).
	Region string `yaml:"region,omitempty"`
	// Endpoint is a custom endpoint URL for S3-compatible providers
	// (MinIO, R2). Empty uses the default AWS endpoint.
	Endpoint string `yaml:"endpoint,omitempty"`
	// UsePathStyle forces path-style addressing, required by most
	// S3-compatible providers.
	UsePathStyle bool `yaml:"use_path_style,omitempty"`
}

// Validate checks that required S3 configuration is present.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("s3 bucket is required")
	}
	return nil
}

// s3API is the slice of the S3 client the store uses.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store keeps artifacts as S3 objects under <prefix>/<id>, with the
// declared name and stored-at timestamp carried as object metadata.
type S3Store struct {
	client s3API
	bucket string
	prefix string
}

// NewS3Store builds a store using the AWS SDK default credential chain
// (env vars, shared config, IAM role).
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &S3Store{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// NewS3StoreWithClient injects a client, for tests.
func NewS3StoreWithClient(client s3API, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Store) Save(ctx context.Context, data []byte, name, declaredType string) (FileMeta, error) {
	meta := FileMeta{
		ID:       ulid.Make().String(),
		Name:     name,
		MimeType: normalizeMimeType(declaredType, name),
		Size:     int64(len(data)),
		StoredAt: time.Now().UTC(),
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         s.key(meta.ID),
		Body:        bytes.NewReader(data),
		ContentType: &meta.MimeType,
		Metadata: map[string]string{
			"name":      meta.Name,
			"stored-at": meta.StoredAt.Format(time.RFC3339),
		},
	})
	if err != nil {
		return FileMeta{}, fmt.Errorf("s3 put %s: %w", meta.ID, err)
	}
	return meta, nil
}

func (s *S3Store) Open(ctx context.Context, id string) (io.ReadCloser, FileMeta, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    s.key(id),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, FileMeta{}, ErrFileNotFound
		}
		return nil, FileMeta{}, fmt.Errorf("s3 get %s: %w", id, err)
	}

	meta := FileMeta{ID: id}
	if out.ContentType != nil {
		meta.MimeType = *out.ContentType
	}
	if out.ContentLength != nil {
		meta.Size = *out.ContentLength
	}
	meta.Name = out.Metadata["name"]
	if raw, ok := out.Metadata["stored-at"]; ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			meta.StoredAt = t
		}
	}
	return out.Body, meta, nil
}

func (s *S3Store) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    s.key(id),
	})
	if err != nil {
		return fmt.Errorf("s3 delete %s: %w", id, err)
	}
	return nil
}

func (s *S3Store) key(id string) *string {
	k := path.Join(s.prefix, id)
	return &k
}
