package storage

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// GCSConfig configures a Google Cloud Storage bucket.
type GCSConfig struct {
	Bucket          string
	CredentialsFile string
	PublicBaseURL   string
}

// GCS stores objects in a Google Cloud Storage bucket.
type GCS struct {
	client     *storage.Client
	bucket     string
	publicBase string
	logger     zerolog.Logger
}

// NewGCS builds a client using the credentials file, or application default credentials when empty.
func NewGCS(ctx context.Context, cfg GCSConfig, logger zerolog.Logger) (*GCS, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket must be provided")
	}

	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	publicBase := cfg.PublicBaseURL
	if publicBase == "" {
		publicBase = "https://storage.googleapis.com/" + cfg.Bucket
	}

	return &GCS{
		client:     client,
		bucket:     cfg.Bucket,
		publicBase: publicBase,
		logger:     logger.With().Str("component", "storage_gcs").Logger(),
	}, nil
}

// Put writes the object to the bucket.
func (s *GCS) Put(ctx context.Context, obj Object, reader io.Reader) (string, error) {
	writer := s.client.Bucket(s.bucket).Object(obj.Key).NewWriter(ctx)
	writer.ContentType = obj.ContentType

	if _, err := io.Copy(writer, reader); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("write object %s: %w", obj.Key, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close object %s: %w", obj.Key, err)
	}

	s.logger.Debug().Str("key", obj.Key).Msg("file uploaded to gcs")
	return joinURL(s.publicBase, obj.Key), nil
}

// Close releases the underlying client.
func (s *GCS) Close() error {
	return s.client.Close()
}
