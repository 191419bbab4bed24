package service

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/souffle-edu/souffle-api/internal/models"
	"github.com/souffle-edu/souffle-api/pkg/storage"
)

type uploadRepoStub struct {
	records []models.UploadRecord
}

func (u *uploadRepoStub) Create(ctx context.Context, record *models.UploadRecord) error {
	record.ID = uint(len(u.records) + 1)
	u.records = append(u.records, *record)
	return nil
}

func (u *uploadRepoStub) FindByChecksum(ctx context.Context, userID *uint, checksum string) (models.UploadRecord, error) {
	for _, record := range u.records {
		if record.Checksum == checksum && record.UserID != nil && userID != nil && *record.UserID == *userID {
			return record, nil
		}
	}
	return models.UploadRecord{}, gorm.ErrRecordNotFound
}

func TestUploadServiceRejectsSize(t *testing.T) {
	store := storage.NewMemory("")
	svc := NewUploadService(store, &uploadRepoStub{}, 1, testLogger())

	file := buildFileHeader(t, "file.pdf", bytes.Repeat([]byte("a"), 2*1024*1024))

	_, err := svc.Upload(context.Background(), file, 1)
	require.ErrorIs(t, err, ErrUploadTooLarge)
	require.Empty(t, store.Keys())
}

func TestUploadServiceTypeValidation(t *testing.T) {
	svc := NewUploadService(storage.NewMemory(""), &uploadRepoStub{}, 5, testLogger())

	file := buildFileHeader(t, "file.txt", []byte("plain text"))
	_, err := svc.Upload(context.Background(), file, 1)
	require.ErrorIs(t, err, ErrUploadTypeNotAllowed)

	_, err = svc.Upload(context.Background(), nil, 1)
	require.ErrorIs(t, err, ErrUploadMissing)
}

func TestUploadServiceStoresAndDeduplicates(t *testing.T) {
	store := storage.NewMemory("https://cdn.example.com")
	repo := &uploadRepoStub{}
	svc := NewUploadService(store, repo, 5, testLogger())

	resp, err := svc.Upload(context.Background(), buildFileHeader(t, "my image.png", pngHeader), 7)
	require.NoError(t, err)
	require.Contains(t, resp.URL, "https://cdn.example.com/uploads/7/")
	require.Contains(t, resp.Key, "my-image.png")
	require.Equal(t, "image/png", resp.MimeType)
	require.Len(t, resp.Checksum, 64)

	stored, ok := store.Get(resp.Key)
	require.True(t, ok)
	require.Equal(t, pngHeader, stored)

	again, err := svc.Upload(context.Background(), buildFileHeader(t, "copy.png", pngHeader), 7)
	require.NoError(t, err)
	require.Equal(t, resp.Key, again.Key)
	require.Len(t, repo.records, 1)
	require.Len(t, store.Keys(), 1)

	// A different owner gets a separate object.
	_, err = svc.Upload(context.Background(), buildFileHeader(t, "copy.png", pngHeader), 8)
	require.NoError(t, err)
	require.Len(t, repo.records, 2)
}

func TestUploadServiceSurfacesStorageErrors(t *testing.T) {
	store := storage.NewMemory("")
	store.FailWith(errors.New("bucket offline"))
	repo := &uploadRepoStub{}
	svc := NewUploadService(store, repo, 5, testLogger())

	_, err := svc.Upload(context.Background(), buildFileHeader(t, "image.png", pngHeader), 1)
	require.EqualError(t, err, "bucket offline")
	require.Empty(t, repo.records)
}
