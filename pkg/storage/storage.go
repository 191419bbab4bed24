// Package storage stores uploaded images in object storage and returns their public URLs.
package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Drivers understood by New.
const (
	DriverCloudinary = "cloudinary"
	DriverMinio      = "minio"
	DriverGCS        = "gcs"
	DriverMemory     = "memory"
)

// Object describes a file to store.
type Object struct {
	Key         string
	Size        int64
	ContentType string
}

// Storage uploads objects and returns a URL the clients can fetch.
type Storage interface {
	Put(ctx context.Context, obj Object, reader io.Reader) (string, error)
}

// Config selects a driver and carries its credentials.
type Config struct {
	Driver        string
	PublicBaseURL string

	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	CloudinaryFolder    string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string

	GCSBucket          string
	GCSCredentialsFile string
}

// New builds the storage driver named in cfg.Driver.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (Storage, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverCloudinary, "":
		return NewCloudinary(CloudinaryConfig{
			CloudName: cfg.CloudinaryCloudName,
			APIKey:    cfg.CloudinaryAPIKey,
			APISecret: cfg.CloudinaryAPISecret,
			Folder:    cfg.CloudinaryFolder,
		}, logger)
	case DriverMinio:
		return NewMinio(ctx, MinioConfig{
			Endpoint:      cfg.MinioEndpoint,
			AccessKey:     cfg.MinioAccessKey,
			SecretKey:     cfg.MinioSecretKey,
			Bucket:        cfg.MinioBucket,
			PublicBaseURL: cfg.PublicBaseURL,
		}, logger)
	case DriverGCS:
		return NewGCS(ctx, GCSConfig{
			Bucket:          cfg.GCSBucket,
			CredentialsFile: cfg.GCSCredentialsFile,
			PublicBaseURL:   cfg.PublicBaseURL,
		}, logger)
	case DriverMemory:
		return NewMemory(cfg.PublicBaseURL), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// SubmissionKey builds the object key for a submission image:
// {problemId}/{userId}/{submissionId}/{timestamp}-{name}.
func SubmissionKey(problemID, userID, submissionID uint, name string, at time.Time) string {
	return fmt.Sprintf("%d/%d/%d/%d-%s", problemID, userID, submissionID, at.UnixMilli(), SanitizeName(name))
}

// UploadKey builds the object key for a standalone upload owned by userID.
func UploadKey(userID uint, name string, at time.Time) string {
	return fmt.Sprintf("uploads/%d/%d-%s", userID, at.UnixMilli(), SanitizeName(name))
}

// SanitizeName keeps a file name safe for use inside an object key.
func SanitizeName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	ext := strings.ToLower(filepath.Ext(name))
	base := strings.TrimSuffix(name, filepath.Ext(name))
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, base)
	base = strings.Trim(base, "-")
	if base == "" || base == "." {
		base = "file"
	}
	if len(base) > 80 {
		base = base[:80]
	}
	ext = strings.Map(func(r rune) rune {
		if r == '.' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, ext)
	return base + ext
}

func joinURL(base string, parts ...string) string {
	out := strings.TrimRight(base, "/")
	for _, part := range parts {
		part = strings.Trim(part, "/")
		if part == "" {
			continue
		}
		out += "/" + part
	}
	return out
}
