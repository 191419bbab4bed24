package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// MinioConfig configures an S3-compatible bucket.
type MinioConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	PublicBaseURL string
}

// Minio stores objects in an S3-compatible bucket.
type Minio struct {
	client     *minio.Client
	bucket     string
	publicBase string
	logger     zerolog.Logger
}

// NewMinio connects to the endpoint and makes sure the bucket exists.
func NewMinio(ctx context.Context, cfg MinioConfig, logger zerolog.Logger) (*Minio, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio endpoint and bucket must be provided")
	}

	client, secure, err := newMinioClient(cfg.Endpoint, cfg.AccessKey, cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	publicBase := cfg.PublicBaseURL
	if publicBase == "" {
		scheme := "http"
		if secure {
			scheme = "https"
		}
		publicBase = scheme + "://" + client.EndpointURL().Host + "/" + cfg.Bucket
	}

	return &Minio{
		client:     client,
		bucket:     cfg.Bucket,
		publicBase: publicBase,
		logger:     logger.With().Str("component", "storage_minio").Logger(),
	}, nil
}

func newMinioClient(address, accessKey, secretKey string) (*minio.Client, bool, error) {
	endpoint := address
	secure := false

	if strings.HasPrefix(address, "http://") || strings.HasPrefix(address, "https://") {
		u, err := url.Parse(address)
		if err != nil {
			return nil, false, err
		}
		if u.Path != "" && u.Path != "/" {
			return nil, false, errors.New("endpoint url cannot have fully qualified paths")
		}
		endpoint = u.Host
		secure = u.Scheme == "https"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
		Region: "us-east-1",
	})
	return client, secure, err
}

// Put streams the object into the bucket.
func (s *Minio) Put(ctx context.Context, obj Object, reader io.Reader) (string, error) {
	size := obj.Size
	if size <= 0 {
		size = -1
	}
	info, err := s.client.PutObject(ctx, s.bucket, obj.Key, reader, size, minio.PutObjectOptions{
		ContentType: obj.ContentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", obj.Key, err)
	}

	s.logger.Debug().Str("key", info.Key).Int64("size", info.Size).Msg("file uploaded to bucket")
	return joinURL(s.publicBase, obj.Key), nil
}
