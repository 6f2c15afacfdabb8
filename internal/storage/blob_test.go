package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type mockS3 struct {
	putInput    *s3.PutObjectInput
	deleteInput *s3.DeleteObjectInput
	putErr      error
}

func (m *mockS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.putInput = params
	if m.putErr != nil {
		return nil, m.putErr
	}
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) DeleteObject(_ context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.deleteInput = params
	return &s3.DeleteObjectOutput{}, nil
}

func TestUploadReturnsPublicURL(t *testing.T) {
	mock := &mockS3{}
	store := NewBlobStore(mock, "servly-media", "https://media.servly.example", nil)

	url, err := store.Upload(context.Background(), "avatars", "image/png", []byte("fake-png"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !strings.HasPrefix(url, "https://media.servly.example/avatars/") {
		t.Errorf("unexpected url %q", url)
	}
	if !strings.HasSuffix(url, ".png") {
		t.Errorf("expected .png suffix, got %q", url)
	}
	if mock.putInput == nil || *mock.putInput.Bucket != "servly-media" {
		t.Error("expected PutObject against the configured bucket")
	}
	if *mock.putInput.ContentType != "image/png" {
		t.Errorf("content type = %q", *mock.putInput.ContentType)
	}
}

func TestUploadRejectsUnknownContentType(t *testing.T) {
	store := NewBlobStore(&mockS3{}, "servly-media", "", nil)
	if _, err := store.Upload(context.Background(), "avatars", "application/pdf", []byte("x")); err == nil {
		t.Fatal("expected error for unsupported content type")
	}
}

func TestUploadDisabledWithoutBucket(t *testing.T) {
	store := NewBlobStore(&mockS3{}, "", "", nil)
	if store.Enabled() {
		t.Error("store with no bucket should be disabled")
	}
	if _, err := store.Upload(context.Background(), "avatars", "image/png", []byte("x")); err != ErrStorageDisabled {
		t.Fatalf("expected ErrStorageDisabled, got %v", err)
	}
}

func TestDeleteStripsBaseURL(t *testing.T) {
	mock := &mockS3{}
	store := NewBlobStore(mock, "servly-media", "https://media.servly.example", nil)

	if err := store.Delete(context.Background(), "https://media.servly.example/avatars/2024/06/x.png"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if mock.deleteInput == nil || *mock.deleteInput.Key != "avatars/2024/06/x.png" {
		t.Error("expected delete for the stripped key")
	}
}

func TestDeleteIgnoresForeignURL(t *testing.T) {
	mock := &mockS3{}
	store := NewBlobStore(mock, "servly-media", "https://media.servly.example", nil)

	if err := store.Delete(context.Background(), "https://elsewhere.example/x.png"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if mock.deleteInput != nil {
		t.Error("foreign URLs must not trigger S3 deletes")
	}
}
