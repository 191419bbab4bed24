package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/rs/zerolog"
)

// CloudinaryConfig contains credentials required to talk to Cloudinary.
type CloudinaryConfig struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// Cloudinary stores objects as Cloudinary assets. The object key becomes the asset folder and public id.
type Cloudinary struct {
	client *cloudinary.Cloudinary
	folder string
	logger zerolog.Logger
}

// NewCloudinary constructs a Cloudinary-backed storage.
func NewCloudinary(cfg CloudinaryConfig, logger zerolog.Logger) (*Cloudinary, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("cloudinary credentials must be provided")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}

	return &Cloudinary{
		client: cld,
		folder: strings.Trim(cfg.Folder, "/"),
		logger: logger.With().Str("component", "storage_cloudinary").Logger(),
	}, nil
}

// Put uploads the object and returns its secure URL.
func (s *Cloudinary) Put(ctx context.Context, obj Object, reader io.Reader) (string, error) {
	folder, publicID := cloudinaryLocation(s.folder, obj.Key)

	result, err := s.client.Upload.Upload(ctx, reader, uploader.UploadParams{
		Folder:       folder,
		PublicID:     publicID,
		ResourceType: "auto",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload asset: %w", err)
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("cloudinary rejected upload: %s", result.Error.Message)
	}

	s.logger.Debug().Str("public_id", result.PublicID).Msg("file uploaded to cloudinary")

	return result.SecureURL, nil
}

// cloudinaryLocation splits an object key into a folder and an extension-less public id.
func cloudinaryLocation(root, key string) (string, string) {
	dir, file := path.Split(strings.Trim(key, "/"))
	folder := strings.Trim(path.Join(root, dir), "/")
	publicID := strings.TrimSuffix(file, path.Ext(file))
	return folder, publicID
}
