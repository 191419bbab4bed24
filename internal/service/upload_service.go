package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"mime/multipart"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/souffle-edu/souffle-api/internal/dto"
	"github.com/souffle-edu/souffle-api/internal/models"
	"github.com/souffle-edu/souffle-api/internal/observability"
	"github.com/souffle-edu/souffle-api/internal/repository"
	"github.com/souffle-edu/souffle-api/pkg/storage"
)

var (
	// ErrUploadMissing indicates the request carried no file.
	ErrUploadMissing = errors.New("file is required")
	// ErrUploadTooLarge indicates the payload exceeded the configured limit.
	ErrUploadTooLarge = errors.New("file exceeds maximum allowed size")
	// ErrUploadTypeNotAllowed indicates the MIME type is not permitted.
	ErrUploadTypeNotAllowed = errors.New("file type not allowed")
)

// UploadService handles validation and persistence of standalone uploads.
type UploadService interface {
	Upload(ctx context.Context, file *multipart.FileHeader, userID uint) (dto.UploadResponse, error)
}

type uploadService struct {
	storage storage.Storage
	repo    repository.UploadRepository
	logger  zerolog.Logger
	maxSize int64
	tracer  trace.Tracer
	now     func() time.Time
}

// NewUploadService constructs an upload service.
func NewUploadService(store storage.Storage, repo repository.UploadRepository, maxSizeMB int, logger zerolog.Logger) UploadService {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	return &uploadService{
		storage: store,
		repo:    repo,
		logger:  logger.With().Str("component", "upload_service").Logger(),
		maxSize: int64(maxSizeMB) * 1024 * 1024,
		tracer:  observability.Tracer("service/upload"),
		now:     time.Now,
	}
}

// Upload stores the file unless the same user already uploaded identical bytes, in
// which case the earlier object is returned.
func (s *uploadService) Upload(ctx context.Context, file *multipart.FileHeader, userID uint) (dto.UploadResponse, error) {
	ctx, span := s.tracer.Start(ctx, "upload.store")
	defer span.End()

	span.SetAttributes(attribute.Int64("upload.max_bytes", s.maxSize))
	if file != nil {
		span.SetAttributes(
			attribute.String("upload.original_name", strings.TrimSpace(file.Filename)),
			attribute.Int64("upload.request_size", file.Size),
		)
	}

	start := time.Now()
	defer func() {
		observability.UploadLatency().Observe(time.Since(start).Seconds())
	}()

	if file == nil {
		span.RecordError(ErrUploadMissing)
		span.SetStatus(codes.Error, "validation failed")
		return dto.UploadResponse{}, ErrUploadMissing
	}

	if file.Size > s.maxSize {
		observability.UploadRejected().WithLabelValues("size").Inc()
		span.RecordError(ErrUploadTooLarge)
		span.SetStatus(codes.Error, "payload too large")
		return dto.UploadResponse{}, ErrUploadTooLarge
	}

	handle, err := file.Open()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open failed")
		return dto.UploadResponse{}, err
	}
	defer handle.Close()

	buf := bytes.NewBuffer(nil)
	if _, err := io.Copy(buf, io.LimitReader(handle, s.maxSize+1)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return dto.UploadResponse{}, err
	}
	if int64(buf.Len()) > s.maxSize {
		observability.UploadRejected().WithLabelValues("size").Inc()
		span.RecordError(ErrUploadTooLarge)
		span.SetStatus(codes.Error, "payload too large")
		return dto.UploadResponse{}, ErrUploadTooLarge
	}

	mime := mimetype.Detect(buf.Bytes())
	fileType := normalizeMime(mime.String())
	span.SetAttributes(attribute.String("upload.detected_mime", fileType))
	if !isAllowedType(fileType) {
		observability.UploadRejected().WithLabelValues("type").Inc()
		span.RecordError(ErrUploadTypeNotAllowed)
		span.SetStatus(codes.Error, "type not allowed")
		return dto.UploadResponse{}, ErrUploadTypeNotAllowed
	}

	sum := sha256.Sum256(buf.Bytes())
	checksum := hex.EncodeToString(sum[:])
	owner := &userID

	existing, err := s.repo.FindByChecksum(ctx, owner, checksum)
	switch {
	case err == nil:
		span.SetAttributes(attribute.Bool("upload.deduplicated", true))
		return newUploadResponse(existing), nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		return dto.UploadResponse{}, err
	}

	name := storage.SanitizeName(file.Filename)
	key := storage.UploadKey(userID, name, s.now())
	span.SetAttributes(
		attribute.String("upload.key", key),
		attribute.Int64("upload.size_bytes", int64(buf.Len())),
	)

	url, err := s.storage.Put(ctx, storage.Object{
		Key:         key,
		Size:        int64(buf.Len()),
		ContentType: mime.String(),
	}, bytes.NewReader(buf.Bytes()))
	if err != nil {
		observability.UploadRejected().WithLabelValues("storage").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "storage failed")
		return dto.UploadResponse{}, err
	}

	record := models.UploadRecord{
		UserID:    owner,
		FileName:  name,
		ObjectKey: key,
		URL:       url,
		MimeType:  mime.String(),
		SizeBytes: int64(buf.Len()),
		Checksum:  checksum,
	}
	if err := s.repo.Create(ctx, &record); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persistence failed")
		return dto.UploadResponse{}, err
	}

	s.logger.Info().Uint("user_id", userID).Str("key", key).Str("mime", record.MimeType).Msg("file uploaded")
	span.SetStatus(codes.Ok, "stored")
	return newUploadResponse(record), nil
}

func newUploadResponse(record models.UploadRecord) dto.UploadResponse {
	return dto.UploadResponse{
		URL:       record.URL,
		Key:       record.ObjectKey,
		FileName:  record.FileName,
		MimeType:  record.MimeType,
		SizeBytes: record.SizeBytes,
		Checksum:  record.Checksum,
	}
}

func normalizeMime(m string) string {
	lower := strings.ToLower(strings.TrimSpace(m))
	if idx := strings.Index(lower, ";"); idx >= 0 {
		lower = strings.TrimSpace(lower[:idx])
	}
	if strings.HasPrefix(lower, "image/") {
		return "image"
	}
	return lower
}

func isAllowedType(m string) bool {
	return m == "image" || m == "application/pdf"
}
